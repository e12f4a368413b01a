package discovery

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Summary aggregates the outcome of one reconciliation scan.
type Summary struct {
	TotalScanned  int `json:"totalScanned"`
	NewDiscovered int `json:"newDiscovered"`
	NewRaw        int `json:"newRaw"`
	Updated       int `json:"updated"`
}

// ScanUpdate refreshes the observed fields of a record the registry
// already knows. User-owned fields and the lifecycle stage are left
// alone.
type ScanUpdate struct {
	Name          string
	RunState      string
	LastScannedAt time.Time
}

// ScanCreate inserts a newly observed unit into the registry.
type ScanCreate struct {
	Name          string
	Description   string
	Port          int
	Stage         Stage
	RunState      string
	LastScannedAt time.Time
}

// ScanBatch is the full set of writes produced by one scan. The
// registry applies it in a single transaction.
type ScanBatch struct {
	Updates []ScanUpdate
	Creates []ScanCreate
}

// registry defines the store operations consumed by Scanner.
type registry interface {
	ServiceNames(ctx context.Context) (map[string]bool, error)
	ApplyScan(ctx context.Context, batch ScanBatch) error
}

// Scanner reconciles live host observations into the persisted
// registry. Scans are serialized: a scan requested while another is
// running fails with ErrKindScanBusy instead of interleaving writes.
type Scanner struct {
	units    UnitSource
	ports    PortSource
	registry registry
	nowFn    func() time.Time

	mu sync.Mutex
}

func NewScanner(units UnitSource, ports PortSource, reg registry) *Scanner {
	return &Scanner{
		units:    units,
		ports:    ports,
		registry: reg,
		nowFn:    time.Now,
	}
}

// Scan enumerates all service units and the host's listening sockets,
// then merges the observations into the registry. The unit listing and
// the port map are each fetched exactly once per scan; per-unit work is
// pure lookup against the shared port map. Known records only get their
// run state and scan timestamp refreshed. Unknown units are classified
// and created, copying the unit description only for detected web
// services. All writes land in one transaction.
func (s *Scanner) Scan(ctx context.Context) (Summary, error) {
	if !s.mu.TryLock() {
		return Summary{}, &Error{Kind: ErrKindScanBusy, Msg: "a scan is already running"}
	}
	defer s.mu.Unlock()

	units, err := s.units.ListUnits(ctx)
	if err != nil {
		return Summary{}, err
	}
	bindings, err := s.ports.ListListeningPorts(ctx)
	if err != nil {
		return Summary{}, err
	}
	known, err := s.registry.ServiceNames(ctx)
	if err != nil {
		return Summary{}, err
	}

	now := s.nowFn().UTC()
	summary := Summary{TotalScanned: len(units)}
	var batch ScanBatch

	for _, unit := range units {
		if known[unit.Name] {
			batch.Updates = append(batch.Updates, ScanUpdate{
				Name:          unit.Name,
				RunState:      unit.RunState,
				LastScannedAt: now,
			})
			summary.Updated++
			continue
		}

		pid, err := s.units.MainPID(ctx, unit.Name)
		if err != nil {
			// A failed PID lookup means "not running" for this unit,
			// not a failed scan.
			slog.Warn("main pid lookup failed", "unit", unit.Name, "err", err)
			pid = 0
		}

		c := Classify(pid, bindings)
		create := ScanCreate{
			Name:          unit.Name,
			Port:          c.Port,
			Stage:         c.Stage,
			RunState:      unit.RunState,
			LastScannedAt: now,
		}
		if c.Stage == StageDiscovered {
			create.Description = unit.Description
			summary.NewDiscovered++
		} else {
			summary.NewRaw++
		}
		batch.Creates = append(batch.Creates, create)
	}

	if err := s.registry.ApplyScan(ctx, batch); err != nil {
		return Summary{}, err
	}
	return summary, nil
}
