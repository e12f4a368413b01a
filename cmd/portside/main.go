package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/portside-dev/portside/internal/api"
	"github.com/portside-dev/portside/internal/config"
	"github.com/portside-dev/portside/internal/discovery"
	"github.com/portside-dev/portside/internal/health"
	"github.com/portside-dev/portside/internal/httpui"
	"github.com/portside-dev/portside/internal/store"
	"github.com/portside-dev/portside/internal/validate"
)

func main() {
	os.Exit(runCLI(os.Args[1:], os.Stdout, os.Stderr))
}

func serve() int {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		return 1
	}
	initLogger(cfg.LogLevel)

	st, err := store.New(filepath.Join(cfg.DataDir, "portside.db"))
	if err != nil {
		slog.Error("store init failed", "err", err)
		return 1
	}
	defer func() { _ = st.Close() }()

	units, closeUnits, err := newUnitSource(cfg.Discovery)
	if err != nil {
		slog.Error("discovery source init failed", "source", cfg.Discovery.Source, "err", err)
		return 1
	}
	defer closeUnits()

	scanner := discovery.NewScanner(units, discovery.NewExecPortSource(cfg.Discovery.PortsCommand), st)
	prober := health.NewProber(
		time.Duration(cfg.Health.TimeoutSeconds)*time.Second,
		time.Duration(cfg.Health.CacheTTLSeconds)*time.Second,
	)

	var refresher *health.Refresher
	if cfg.Health.RefreshEnabled {
		if !validate.CronSchedule(cfg.Health.RefreshSchedule) {
			slog.Error("invalid health refresh schedule", "schedule", cfg.Health.RefreshSchedule)
			return 1
		}
		refresher, err = health.NewRefresher(cfg.Health.RefreshSchedule, prober, st)
		if err != nil {
			slog.Error("health refresher init failed", "err", err)
			return 1
		}
		refresher.Start()
		defer refresher.Stop()
	}

	mux := http.NewServeMux()
	if err := httpui.Register(mux, st, scanner, prober); err != nil {
		slog.Error("ui init failed", "err", err)
		return 1
	}
	api.Register(mux, st, scanner, prober)

	return run(cfg, mux)
}

// newUnitSource builds the configured unit source. The returned close
// function releases the dbus connection; it is a no-op for exec.
func newUnitSource(cfg config.Discovery) (discovery.UnitSource, func(), error) {
	if cfg.Source == "dbus" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		src, err := discovery.NewDBusUnitSource(ctx)
		if err != nil {
			return nil, nil, err
		}
		closeFn := func() {}
		if closer, ok := src.(io.Closer); ok {
			closeFn = func() { _ = closer.Close() }
		}
		return src, closeFn, nil
	}
	return discovery.NewExecUnitSource(cfg.ListUnitsCommand, cfg.MainPIDCommand), func() {}, nil
}

type commandContext struct {
	stdout io.Writer
	stderr io.Writer
}

func run(cfg config.Config, mux *http.ServeMux) int {
	server := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      requestLog(mux),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-shutdownCh
		slog.Info("shutting down...")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			slog.Error("shutdown error", "err", err)
		}
	}()

	slog.Info("portside started",
		"listen", cfg.ListenAddr,
		"data_dir", cfg.DataDir,
		"log_level", cfg.LogLevel,
		"discovery_source", cfg.Discovery.Source,
		"health_refresh_enabled", cfg.Health.RefreshEnabled,
	)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server error", "err", err)
		return 1
	}
	slog.Info("portside stopped")
	return 0
}

func requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		slog.Debug("request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start).Truncate(time.Millisecond))
	})
}

func initLogger(level string) {
	var lv slog.Level
	switch level {
	case "debug":
		lv = slog.LevelDebug
	case "warn":
		lv = slog.LevelWarn
	case "error":
		lv = slog.LevelError
	default:
		lv = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lv})))
}
