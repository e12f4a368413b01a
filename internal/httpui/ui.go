package httpui

import (
	"context"
	"embed"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"github.com/portside-dev/portside/internal/discovery"
	"github.com/portside-dev/portside/internal/health"
	"github.com/portside-dev/portside/internal/store"
)

//go:embed templates/*.html
var templateFS embed.FS

type scanService interface {
	Scan(ctx context.Context) (discovery.Summary, error)
}

type serviceRegistry interface {
	ListServices(ctx context.Context, stage discovery.Stage) ([]store.ServiceRecord, error)
}

type Handler struct {
	registry  serviceRegistry
	scanner   scanService
	prober    *health.Prober
	templates *template.Template
}

func Register(mux *http.ServeMux, registry serviceRegistry, scanner scanService, prober *health.Prober) error {
	templates, err := template.ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return err
	}
	h := &Handler{
		registry:  registry,
		scanner:   scanner,
		prober:    prober,
		templates: templates,
	}
	mux.HandleFunc("GET /{$}", h.indexPage)
	mux.HandleFunc("GET /scan", h.scanPage)
	return nil
}

// dashboardService pairs a configured service with its probed health
// for the index page.
type dashboardService struct {
	Service store.ServiceRecord
	Health  *health.Status
}

func (h *Handler) indexPage(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()

	services, err := h.registry.ListServices(ctx, discovery.StageConfigured)
	if err != nil {
		slog.Warn("list configured services failed", "err", err)
		http.Error(w, "failed to load services", http.StatusInternalServerError)
		return
	}

	rows := make([]dashboardService, 0, len(services))
	for _, svc := range services {
		row := dashboardService{Service: svc}
		if svc.BaseURL != "" {
			status := h.prober.Check(ctx, health.BuildURL(svc.BaseURL, svc.HealthEndpoint))
			row.Health = &status
		}
		rows = append(rows, row)
	}

	h.render(w, "index.html", map[string]any{"Services": rows})
}

func (h *Handler) scanPage(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	var summary *discovery.Summary
	var scanErr string
	if sum, err := h.scanner.Scan(ctx); err != nil {
		if discovery.IsKind(err, discovery.ErrKindScanBusy) {
			scanErr = "a scan is already running"
		} else {
			slog.Warn("scan failed", "err", err)
			scanErr = "scan failed: " + err.Error()
		}
	} else {
		summary = &sum
	}

	discovered, err := h.registry.ListServices(ctx, discovery.StageDiscovered)
	if err != nil {
		slog.Warn("list discovered services failed", "err", err)
		http.Error(w, "failed to load services", http.StatusInternalServerError)
		return
	}
	all, err := h.registry.ListServices(ctx, "")
	if err != nil {
		slog.Warn("list services failed", "err", err)
		http.Error(w, "failed to load services", http.StatusInternalServerError)
		return
	}

	h.render(w, "scan.html", map[string]any{
		"Summary":    summary,
		"ScanError":  scanErr,
		"Discovered": discovered,
		"All":        all,
	})
}

func (h *Handler) render(w http.ResponseWriter, name string, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := h.templates.ExecuteTemplate(w, name, data); err != nil {
		slog.Error("template render failed", "template", name, "err", err)
	}
}
