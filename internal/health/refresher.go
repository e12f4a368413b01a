package health

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/portside-dev/portside/internal/discovery"
	"github.com/portside-dev/portside/internal/store"
)

// configuredLister is the store slice the refresher needs.
type configuredLister interface {
	ListServices(ctx context.Context, stage discovery.Stage) ([]store.ServiceRecord, error)
}

// Refresher warms the probe cache for configured services on a cron
// schedule, so the dashboard shows reasonably fresh health without
// probing on every page load.
type Refresher struct {
	cron     *cron.Cron
	prober   *Prober
	registry configuredLister
}

func NewRefresher(schedule string, prober *Prober, registry configuredLister) (*Refresher, error) {
	r := &Refresher{
		cron:     cron.New(),
		prober:   prober,
		registry: registry,
	}
	if _, err := r.cron.AddFunc(schedule, r.refresh); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Refresher) Start() {
	r.cron.Start()
}

// Stop halts the schedule and waits for an in-flight refresh to finish.
func (r *Refresher) Stop() {
	<-r.cron.Stop().Done()
}

func (r *Refresher) refresh() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	services, err := r.registry.ListServices(ctx, discovery.StageConfigured)
	if err != nil {
		slog.Warn("health refresh: list services failed", "error", err)
		return
	}
	for _, svc := range services {
		if svc.BaseURL == "" {
			continue
		}
		url := BuildURL(svc.BaseURL, svc.HealthEndpoint)
		status := r.prober.Refresh(ctx, url)
		if status.Error != "" {
			slog.Debug("health refresh: probe failed", "service", svc.Name, "error", status.Error)
		}
	}
}
