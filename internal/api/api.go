package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/portside-dev/portside/internal/discovery"
	"github.com/portside-dev/portside/internal/health"
	"github.com/portside-dev/portside/internal/store"
	"github.com/portside-dev/portside/internal/validate"
)

// scanService is the scan trigger consumed by the handler.
type scanService interface {
	Scan(ctx context.Context) (discovery.Summary, error)
}

// serviceRegistry defines the store operations consumed by the handler.
type serviceRegistry interface {
	ListServices(ctx context.Context, stage discovery.Stage) ([]store.ServiceRecord, error)
	GetService(ctx context.Context, name string) (store.ServiceRecord, error)
	CreateConfigured(ctx context.Context, w store.ServiceWrite) (store.ServiceRecord, error)
	ConfigureService(ctx context.Context, name string, p store.ServicePatch) (store.ServiceRecord, error)
	DeleteService(ctx context.Context, name string) error
}

type Handler struct {
	registry serviceRegistry
	scanner  scanService
	prober   *health.Prober
}

func Register(mux *http.ServeMux, registry serviceRegistry, scanner scanService, prober *health.Prober) {
	h := &Handler{
		registry: registry,
		scanner:  scanner,
		prober:   prober,
	}
	mux.HandleFunc("GET /api/healthz", h.healthz)
	mux.HandleFunc("POST /api/scan", h.runScan)
	mux.HandleFunc("GET /api/services", h.listServices)
	mux.HandleFunc("POST /api/services", h.createService)
	mux.HandleFunc("GET /api/services/{service}", h.getService)
	mux.HandleFunc("PATCH /api/services/{service}", h.configureService)
	mux.HandleFunc("DELETE /api/services/{service}", h.deleteService)
	mux.HandleFunc("GET /api/services/{service}/health", h.serviceHealth)
}

func (h *Handler) healthz(w http.ResponseWriter, _ *http.Request) {
	writeData(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (h *Handler) runScan(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	summary, err := h.scanner.Scan(ctx)
	if err != nil {
		switch {
		case discovery.IsKind(err, discovery.ErrKindScanBusy):
			writeError(w, http.StatusConflict, "SCAN_IN_PROGRESS", "a scan is already running", nil)
		case discovery.IsKind(err, discovery.ErrKindToolFailed):
			writeError(w, http.StatusInternalServerError, "TOOL_FAILED", err.Error(), nil)
		default:
			slog.Error("scan failed", "err", err)
			writeError(w, http.StatusInternalServerError, "SCAN_FAILED", "scan failed", nil)
		}
		return
	}
	writeData(w, http.StatusOK, map[string]any{"summary": summary})
}

func (h *Handler) listServices(w http.ResponseWriter, r *http.Request) {
	stage := discovery.Stage(strings.TrimSpace(r.URL.Query().Get("stage")))
	if stage != "" && !discovery.ValidStage(stage) {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "stage must be raw, discovered, or configured", nil)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	services, err := h.registry.ListServices(ctx, stage)
	if err != nil {
		slog.Warn("list services failed", "err", err)
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", "failed to list services", nil)
		return
	}
	writeData(w, http.StatusOK, map[string]any{"services": services})
}

func (h *Handler) getService(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSpace(r.PathValue("service"))
	if !validate.ServiceName(name) {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid service name", nil)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	rec, err := h.registry.GetService(ctx, name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusNotFound, "SERVICE_NOT_FOUND", "service "+name+" is not registered", nil)
			return
		}
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", "failed to load service", nil)
		return
	}
	writeData(w, http.StatusOK, map[string]any{"service": rec})
}

func (h *Handler) createService(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name           string `json:"name"`
		Description    string `json:"description"`
		Port           int    `json:"port"`
		HealthEndpoint string `json:"healthEndpoint"`
		BaseURL        string `json:"baseUrl"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
		return
	}

	req.Name = strings.TrimSpace(req.Name)
	req.Description = strings.TrimSpace(req.Description)
	req.BaseURL = strings.TrimSpace(req.BaseURL)
	if !validate.ServiceName(req.Name) {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid service name", nil)
		return
	}
	if req.Description == "" {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "description is required", nil)
		return
	}
	if !validate.BaseURL(req.BaseURL) {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "baseUrl must be an absolute http(s) URL", nil)
		return
	}
	if req.Port != 0 && !validate.Port(req.Port) {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "port must be between 1 and 65535", nil)
		return
	}
	if !validate.HealthEndpoint(req.HealthEndpoint) {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "healthEndpoint must start with /", nil)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	rec, err := h.registry.CreateConfigured(ctx, store.ServiceWrite{
		Name:           req.Name,
		Description:    req.Description,
		Port:           req.Port,
		HealthEndpoint: req.HealthEndpoint,
		BaseURL:        req.BaseURL,
	})
	if err != nil {
		if discovery.IsKind(err, discovery.ErrKindStoreConflict) {
			writeError(w, http.StatusConflict, "SERVICE_EXISTS", "service "+req.Name+" already exists", nil)
			return
		}
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", "failed to create service", nil)
		return
	}
	writeData(w, http.StatusCreated, map[string]any{"service": rec})
}

func (h *Handler) configureService(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSpace(r.PathValue("service"))
	if !validate.ServiceName(name) {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid service name", nil)
		return
	}

	var req struct {
		Description    *string `json:"description"`
		Port           *int    `json:"port"`
		HealthEndpoint *string `json:"healthEndpoint"`
		BaseURL        *string `json:"baseUrl"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
		return
	}
	if req.Port != nil && !validate.Port(*req.Port) {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "port must be between 1 and 65535", nil)
		return
	}
	if req.HealthEndpoint != nil && !validate.HealthEndpoint(*req.HealthEndpoint) {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "healthEndpoint must start with /", nil)
		return
	}
	if req.BaseURL != nil && !validate.BaseURL(*req.BaseURL) {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "baseUrl must be an absolute http(s) URL", nil)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	rec, err := h.registry.ConfigureService(ctx, name, store.ServicePatch{
		Description:    req.Description,
		Port:           req.Port,
		HealthEndpoint: req.HealthEndpoint,
		BaseURL:        req.BaseURL,
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusNotFound, "SERVICE_NOT_FOUND", "service "+name+" is not registered", nil)
			return
		}
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", "failed to configure service", nil)
		return
	}
	// URL config may have changed; drop the stale probe result.
	if h.prober != nil && rec.BaseURL != "" {
		h.prober.Forget(health.BuildURL(rec.BaseURL, rec.HealthEndpoint))
	}
	writeData(w, http.StatusOK, map[string]any{"service": rec})
}

func (h *Handler) deleteService(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSpace(r.PathValue("service"))
	if !validate.ServiceName(name) {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid service name", nil)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if err := h.registry.DeleteService(ctx, name); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusNotFound, "SERVICE_NOT_FOUND", "service "+name+" is not registered", nil)
			return
		}
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", "failed to delete service", nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) serviceHealth(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSpace(r.PathValue("service"))
	if !validate.ServiceName(name) {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid service name", nil)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	rec, err := h.registry.GetService(ctx, name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusNotFound, "SERVICE_NOT_FOUND", "service "+name+" is not registered", nil)
			return
		}
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", "failed to load service", nil)
		return
	}
	if rec.BaseURL == "" {
		writeError(w, http.StatusConflict, "NO_BASE_URL", "service "+name+" has no base URL configured", nil)
		return
	}

	status := h.prober.Check(ctx, health.BuildURL(rec.BaseURL, rec.HealthEndpoint))
	writeData(w, http.StatusOK, map[string]any{"health": status})
}

func decodeJSON(r *http.Request, dst any) error {
	defer func() { _ = r.Body.Close() }()
	decoder := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return fmt.Errorf("invalid json body: %w", err)
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return errors.New("invalid json body: multiple json values")
	}
	return nil
}

func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, map[string]any{"data": data})
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	errObj := map[string]any{
		"code":    code,
		"message": message,
	}
	if details != nil {
		errObj["details"] = details
	}
	writeJSON(w, status, map[string]any{"error": errObj})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(true)
	if err := enc.Encode(payload); err != nil {
		slog.Error("json encode error", "err", err)
	}
}
