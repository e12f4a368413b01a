package store

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/portside-dev/portside/internal/discovery"
)

// ServiceRecord is one row of the registry. Timestamps are stored as
// RFC3339 text; LastScannedAt is empty for services created by hand
// that no scan has touched yet.
type ServiceRecord struct {
	Name           string          `json:"name"`
	Description    string          `json:"description"`
	Port           int             `json:"port"`
	HealthEndpoint string          `json:"healthEndpoint"`
	BaseURL        string          `json:"baseUrl"`
	Stage          discovery.Stage `json:"stage"`
	RunState       string          `json:"runState"`
	LastScannedAt  string          `json:"lastScannedAt"`
	CreatedAt      string          `json:"createdAt"`
	UpdatedAt      string          `json:"updatedAt"`
}

// ServiceWrite carries the user-supplied fields for creating a
// configured service by hand.
type ServiceWrite struct {
	Name           string
	Description    string
	Port           int
	HealthEndpoint string
	BaseURL        string
}

// ServicePatch carries the optional fields of a configure request. Nil
// means "leave unchanged".
type ServicePatch struct {
	Description    *string
	Port           *int
	HealthEndpoint *string
	BaseURL        *string
}

const serviceColumns = `name, description, port, health_endpoint, base_url,
	stage, run_state, last_scanned_at, created_at, updated_at`

func scanServiceRow(scan func(dest ...any) error) (ServiceRecord, error) {
	var rec ServiceRecord
	err := scan(
		&rec.Name, &rec.Description, &rec.Port, &rec.HealthEndpoint, &rec.BaseURL,
		&rec.Stage, &rec.RunState, &rec.LastScannedAt, &rec.CreatedAt, &rec.UpdatedAt,
	)
	return rec, err
}

// ListServices returns all services ordered by name. A non-empty stage
// narrows the listing to that lifecycle stage.
func (s *Store) ListServices(ctx context.Context, stage discovery.Stage) ([]ServiceRecord, error) {
	query := "SELECT " + serviceColumns + " FROM services"
	var args []any
	if stage != "" {
		query += " WHERE stage = ?"
		args = append(args, string(stage))
	}
	query += " ORDER BY name ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make([]ServiceRecord, 0, 16)
	for rows.Next() {
		rec, err := scanServiceRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// GetService returns one service by name, or sql.ErrNoRows.
func (s *Store) GetService(ctx context.Context, name string) (ServiceRecord, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+serviceColumns+" FROM services WHERE name = ?", name)
	return scanServiceRow(row.Scan)
}

// ServiceNames returns the set of all registered service names,
// regardless of stage.
func (s *Store) ServiceNames(ctx context.Context) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT name FROM services")
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	names := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names[name] = true
	}
	return names, rows.Err()
}

// CreateConfigured inserts a hand-registered service directly in the
// configured stage. A name collision surfaces as a store conflict.
func (s *Store) CreateConfigured(ctx context.Context, w ServiceWrite) (ServiceRecord, error) {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.ExecContext(ctx, `INSERT INTO services (
		name, description, port, health_endpoint, base_url,
		stage, run_state, last_scanned_at, created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, '', '', ?, ?)`,
		w.Name, w.Description, w.Port, w.HealthEndpoint, w.BaseURL,
		string(discovery.StageConfigured), now, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ServiceRecord{}, &discovery.Error{
				Kind: discovery.ErrKindStoreConflict,
				Msg:  "service " + w.Name + " already exists",
				Err:  err,
			}
		}
		return ServiceRecord{}, err
	}
	return s.GetService(ctx, w.Name)
}

// ConfigureService applies a patch to an existing service and promotes
// it to the configured stage. Returns sql.ErrNoRows for unknown names.
func (s *Store) ConfigureService(ctx context.Context, name string, p ServicePatch) (ServiceRecord, error) {
	sets := []string{"stage = ?", "updated_at = ?"}
	args := []any{string(discovery.StageConfigured), time.Now().UTC().Format(time.RFC3339)}
	if p.Description != nil {
		sets = append(sets, "description = ?")
		args = append(args, *p.Description)
	}
	if p.Port != nil {
		sets = append(sets, "port = ?")
		args = append(args, *p.Port)
	}
	if p.HealthEndpoint != nil {
		sets = append(sets, "health_endpoint = ?")
		args = append(args, *p.HealthEndpoint)
	}
	if p.BaseURL != nil {
		sets = append(sets, "base_url = ?")
		args = append(args, *p.BaseURL)
	}
	args = append(args, name)

	result, err := s.db.ExecContext(ctx,
		"UPDATE services SET "+strings.Join(sets, ", ")+" WHERE name = ?", args...)
	if err != nil {
		return ServiceRecord{}, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return ServiceRecord{}, err
	}
	if affected == 0 {
		return ServiceRecord{}, sql.ErrNoRows
	}
	return s.GetService(ctx, name)
}

// DeleteService removes a service by name. Returns sql.ErrNoRows when
// nothing matched.
func (s *Store) DeleteService(ctx context.Context, name string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM services WHERE name = ?", name)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ApplyScan commits the writes of one reconciliation scan in a single
// transaction. Updates touch only the observed run state and scan
// timestamp. Creates use a plain INSERT: the scanner preloaded the name
// set, so a unique violation here means the batch is inconsistent with
// the registry and the whole transaction rolls back.
func (s *Store) ApplyScan(ctx context.Context, batch discovery.ScanBatch) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, u := range batch.Updates {
		if _, err := tx.ExecContext(ctx,
			`UPDATE services SET run_state = ?, last_scanned_at = ?, updated_at = ?
			 WHERE name = ?`,
			u.RunState, u.LastScannedAt.Format(time.RFC3339),
			u.LastScannedAt.Format(time.RFC3339), u.Name,
		); err != nil {
			return err
		}
	}
	for _, c := range batch.Creates {
		scannedAt := c.LastScannedAt.Format(time.RFC3339)
		if _, err := tx.ExecContext(ctx, `INSERT INTO services (
			name, description, port, health_endpoint, base_url,
			stage, run_state, last_scanned_at, created_at, updated_at
		) VALUES (?, ?, ?, '', '', ?, ?, ?, ?, ?)`,
			c.Name, c.Description, c.Port,
			string(c.Stage), c.RunState, scannedAt, scannedAt, scannedAt,
		); err != nil {
			if isUniqueViolation(err) {
				return &discovery.Error{
					Kind: discovery.ErrKindStoreConflict,
					Msg:  "scan create collided on " + c.Name,
					Err:  err,
				}
			}
			return err
		}
	}
	return tx.Commit()
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint")
}
