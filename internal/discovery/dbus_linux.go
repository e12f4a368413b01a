//go:build linux

package discovery

import (
	"context"
	"strings"

	"github.com/coreos/go-systemd/v22/dbus"
)

// dbusUnitSource queries systemd over its D-Bus API instead of shelling
// out to systemctl. Enabled with `source = "dbus"` in the discovery
// config section.
type dbusUnitSource struct {
	conn *dbus.Conn
}

// NewDBusUnitSource connects to the system bus. The connection lives
// for the lifetime of the process; Close releases it.
func NewDBusUnitSource(ctx context.Context) (UnitSource, error) {
	conn, err := dbus.NewSystemConnectionContext(ctx)
	if err != nil {
		return nil, &Error{Kind: ErrKindToolFailed, Msg: "connect to systemd: " + err.Error(), Err: err}
	}
	return &dbusUnitSource{conn: conn}, nil
}

func (s *dbusUnitSource) ListUnits(ctx context.Context) ([]ObservedUnit, error) {
	units, err := s.conn.ListUnitsContext(ctx)
	if err != nil {
		return nil, &Error{Kind: ErrKindToolFailed, Msg: "list units: " + err.Error(), Err: err}
	}
	out := make([]ObservedUnit, 0, len(units))
	for _, u := range units {
		if !strings.HasSuffix(u.Name, ".service") {
			continue
		}
		out = append(out, ObservedUnit{
			Name:        u.Name,
			RunState:    u.ActiveState,
			Description: u.Description,
		})
	}
	return out, nil
}

func (s *dbusUnitSource) MainPID(ctx context.Context, unit string) (int, error) {
	prop, err := s.conn.GetServicePropertyContext(ctx, unit, "MainPID")
	if err != nil {
		return 0, &Error{Kind: ErrKindToolFailed, Msg: "main pid for " + unit + ": " + err.Error(), Err: err}
	}
	pid, ok := prop.Value.Value().(uint32)
	if !ok {
		return 0, nil
	}
	return int(pid), nil
}

func (s *dbusUnitSource) Close() error {
	s.conn.Close()
	return nil
}
