package store

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/portside-dev/portside/internal/discovery"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "portside.db"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func strPtr(v string) *string { return &v }
func intPtr(v int) *int       { return &v }

func TestApplyScanCreatesAndUpdates(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	first := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)
	err := s.ApplyScan(ctx, discovery.ScanBatch{
		Creates: []discovery.ScanCreate{
			{
				Name: "web.service", Description: "A web app", Port: 8080,
				Stage: discovery.StageDiscovered, RunState: "active", LastScannedAt: first,
			},
			{
				Name: "worker.service",
				Stage: discovery.StageRaw, RunState: "active", LastScannedAt: first,
			},
		},
	})
	if err != nil {
		t.Fatalf("ApplyScan (creates): %v", err)
	}

	// A later scan sees both units again and only refreshes observed
	// fields.
	second := first.Add(time.Hour)
	err = s.ApplyScan(ctx, discovery.ScanBatch{
		Updates: []discovery.ScanUpdate{
			{Name: "web.service", RunState: "failed", LastScannedAt: second},
			{Name: "worker.service", RunState: "active", LastScannedAt: second},
		},
	})
	if err != nil {
		t.Fatalf("ApplyScan (updates): %v", err)
	}

	web, err := s.GetService(ctx, "web.service")
	if err != nil {
		t.Fatalf("GetService: %v", err)
	}
	if web.Stage != discovery.StageDiscovered || web.Port != 8080 || web.Description != "A web app" {
		t.Fatalf("update clobbered discovery fields: %+v", web)
	}
	if web.RunState != "failed" || web.LastScannedAt != second.Format(time.RFC3339) {
		t.Fatalf("observed fields not refreshed: %+v", web)
	}

	worker, err := s.GetService(ctx, "worker.service")
	if err != nil {
		t.Fatalf("GetService: %v", err)
	}
	if worker.Stage != discovery.StageRaw || worker.Port != 0 || worker.Description != "" {
		t.Fatalf("raw record = %+v", worker)
	}
}

func TestApplyScanUpdateKeepsConfiguredStage(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.CreateConfigured(ctx, ServiceWrite{
		Name: "dash.service", Description: "Dashboard", Port: 3000,
		BaseURL: "http://localhost:3000", HealthEndpoint: "/healthz",
	}); err != nil {
		t.Fatalf("CreateConfigured: %v", err)
	}

	now := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)
	err := s.ApplyScan(ctx, discovery.ScanBatch{
		Updates: []discovery.ScanUpdate{{Name: "dash.service", RunState: "active", LastScannedAt: now}},
	})
	if err != nil {
		t.Fatalf("ApplyScan: %v", err)
	}

	rec, err := s.GetService(ctx, "dash.service")
	if err != nil {
		t.Fatalf("GetService: %v", err)
	}
	if rec.Stage != discovery.StageConfigured {
		t.Fatalf("stage = %s, want %s", rec.Stage, discovery.StageConfigured)
	}
	if rec.HealthEndpoint != "/healthz" || rec.BaseURL != "http://localhost:3000" {
		t.Fatalf("user fields clobbered: %+v", rec)
	}
	if rec.RunState != "active" || rec.LastScannedAt != now.Format(time.RFC3339) {
		t.Fatalf("observed fields not refreshed: %+v", rec)
	}
}

func TestApplyScanConflictRollsBack(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	now := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)
	seed := discovery.ScanCreate{
		Name: "dup.service", Stage: discovery.StageRaw, RunState: "active", LastScannedAt: now,
	}
	if err := s.ApplyScan(ctx, discovery.ScanBatch{Creates: []discovery.ScanCreate{seed}}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	fresh := discovery.ScanCreate{
		Name: "fresh.service", Stage: discovery.StageRaw, RunState: "active", LastScannedAt: now,
	}
	err := s.ApplyScan(ctx, discovery.ScanBatch{Creates: []discovery.ScanCreate{fresh, seed}})
	if !discovery.IsKind(err, discovery.ErrKindStoreConflict) {
		t.Fatalf("err = %v, want kind %s", err, discovery.ErrKindStoreConflict)
	}

	// The whole batch must roll back, including the non-colliding row.
	if _, err := s.GetService(ctx, "fresh.service"); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("fresh.service survived a rolled back batch: %v", err)
	}
}

func TestListServicesFilterAndOrder(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	err := s.ApplyScan(ctx, discovery.ScanBatch{Creates: []discovery.ScanCreate{
		{Name: "b.service", Stage: discovery.StageRaw, RunState: "active", LastScannedAt: now},
		{Name: "a.service", Stage: discovery.StageDiscovered, Port: 8080, RunState: "active", LastScannedAt: now},
		{Name: "c.service", Stage: discovery.StageDiscovered, Port: 3000, RunState: "active", LastScannedAt: now},
	}})
	if err != nil {
		t.Fatalf("ApplyScan: %v", err)
	}

	all, err := s.ListServices(ctx, "")
	if err != nil {
		t.Fatalf("ListServices: %v", err)
	}
	if len(all) != 3 || all[0].Name != "a.service" || all[2].Name != "c.service" {
		t.Fatalf("all = %+v, want 3 rows ordered by name", all)
	}

	disc, err := s.ListServices(ctx, discovery.StageDiscovered)
	if err != nil {
		t.Fatalf("ListServices(discovered): %v", err)
	}
	if len(disc) != 2 || disc[0].Name != "a.service" || disc[1].Name != "c.service" {
		t.Fatalf("discovered = %+v", disc)
	}
}

func TestServiceNames(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	names, err := s.ServiceNames(ctx)
	if err != nil {
		t.Fatalf("ServiceNames: %v", err)
	}
	if len(names) != 0 {
		t.Fatalf("names = %v, want empty", names)
	}

	if _, err := s.CreateConfigured(ctx, ServiceWrite{Name: "x.service", BaseURL: "http://localhost:80"}); err != nil {
		t.Fatalf("CreateConfigured: %v", err)
	}
	names, err = s.ServiceNames(ctx)
	if err != nil {
		t.Fatalf("ServiceNames: %v", err)
	}
	if !names["x.service"] {
		t.Fatalf("names = %v, want x.service", names)
	}
}

func TestCreateConfiguredConflict(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	w := ServiceWrite{Name: "dup.service", BaseURL: "http://localhost:80"}
	if _, err := s.CreateConfigured(ctx, w); err != nil {
		t.Fatalf("CreateConfigured: %v", err)
	}
	_, err := s.CreateConfigured(ctx, w)
	if !discovery.IsKind(err, discovery.ErrKindStoreConflict) {
		t.Fatalf("err = %v, want kind %s", err, discovery.ErrKindStoreConflict)
	}
}

func TestConfigureService(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	err := s.ApplyScan(ctx, discovery.ScanBatch{Creates: []discovery.ScanCreate{
		{Name: "web.service", Description: "Scanned", Port: 8080, Stage: discovery.StageDiscovered, RunState: "active", LastScannedAt: now},
	}})
	if err != nil {
		t.Fatalf("ApplyScan: %v", err)
	}

	rec, err := s.ConfigureService(ctx, "web.service", ServicePatch{
		Description: strPtr("My web app"),
		BaseURL:     strPtr("http://localhost:8080"),
	})
	if err != nil {
		t.Fatalf("ConfigureService: %v", err)
	}
	if rec.Stage != discovery.StageConfigured {
		t.Fatalf("stage = %s, want %s", rec.Stage, discovery.StageConfigured)
	}
	if rec.Description != "My web app" || rec.BaseURL != "http://localhost:8080" {
		t.Fatalf("patch not applied: %+v", rec)
	}
	// Unpatched fields survive.
	if rec.Port != 8080 {
		t.Fatalf("port = %d, want 8080", rec.Port)
	}

	rec, err = s.ConfigureService(ctx, "web.service", ServicePatch{Port: intPtr(8081)})
	if err != nil {
		t.Fatalf("ConfigureService (port): %v", err)
	}
	if rec.Port != 8081 || rec.Description != "My web app" {
		t.Fatalf("second patch = %+v", rec)
	}

	if _, err := s.ConfigureService(ctx, "ghost.service", ServicePatch{}); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("err = %v, want sql.ErrNoRows", err)
	}
}

func TestDeleteService(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.CreateConfigured(ctx, ServiceWrite{Name: "gone.service", BaseURL: "http://localhost:80"}); err != nil {
		t.Fatalf("CreateConfigured: %v", err)
	}
	if err := s.DeleteService(ctx, "gone.service"); err != nil {
		t.Fatalf("DeleteService: %v", err)
	}
	if err := s.DeleteService(ctx, "gone.service"); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("err = %v, want sql.ErrNoRows", err)
	}
}
