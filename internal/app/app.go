// Package app wires up all subsystems and owns the application lifecycle.
//
// Startup order:
//  1. initStore    — config repository + history backend (Supabase/Redis/memory)
//  2. initProbes   — vendor probers + the probe runner
//  3. initStatus   — official status-page poller
//  4. initServices — snapshot service, background poller, aggregator
//  5. initServer   — HTTP surface
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/nulpointcorp/check-cx/internal/config"
	"github.com/nulpointcorp/check-cx/internal/dashboard"
	"github.com/nulpointcorp/check-cx/internal/logger"
	"github.com/nulpointcorp/check-cx/internal/metrics"
	"github.com/nulpointcorp/check-cx/internal/probe"
	"github.com/nulpointcorp/check-cx/internal/ratelimit"
	"github.com/nulpointcorp/check-cx/internal/server"
	"github.com/nulpointcorp/check-cx/internal/snapshot"
	"github.com/nulpointcorp/check-cx/internal/status"
	"github.com/nulpointcorp/check-cx/internal/store"
)

// App owns all long-lived resources and exposes Run / Close.
type App struct {
	version string
	cfg     *config.Config
	baseCtx context.Context
	log     *slog.Logger

	configs store.ConfigRepository
	history store.HistoryStore
	// historyCloser is non-nil when the history backend holds a connection
	// pool that must be released (Redis).
	historyCloser io.Closer

	access  *logger.Logger
	prom    *metrics.Registry
	limiter *ratelimit.RPMLimiter

	runner   *probe.Runner
	official *status.Poller
	svc      *snapshot.Service
	poller   *snapshot.Poller
	agg      *dashboard.Aggregator
	srv      *server.Server
}

// New initialises all subsystems and returns a ready-to-run App.
// All resources allocated here are released by Close.
func New(ctx context.Context, cfg *config.Config, log *slog.Logger, version string) (*App, error) {
	if ctx == nil {
		return nil, fmt.Errorf("app: context must not be nil")
	}

	a := &App{cfg: cfg, version: version, baseCtx: ctx, log: log}

	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"store", a.initStore},
		{"probes", a.initProbes},
		{"status", a.initStatus},
		{"services", a.initServices},
		{"server", a.initServer},
	}

	for _, s := range steps {
		if err := s.fn(ctx); err != nil {
			a.Close()
			return nil, fmt.Errorf("app: init %s: %w", s.name, err)
		}
	}

	return a, nil
}

// Run starts the pollers and the HTTP server, and blocks until ctx is
// cancelled or the server fails. It closes the app gracefully when returning.
func (a *App) Run(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", a.cfg.Port)

	a.log.Info("starting monitor",
		slog.String("version", a.version),
		slog.String("addr", addr),
		slog.String("store_mode", a.cfg.Store.Mode),
		slog.String("poll_interval", a.cfg.PollInterval.String()),
	)

	a.official.EnsureRunning(ctx)
	a.poller.EnsureRunning(ctx)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.srv.Start(addr)
	})

	g.Go(func() error {
		<-gctx.Done()
		if err := a.srv.Shutdown(); err != nil {
			a.log.Error("server shutdown error", slog.String("error", err.Error()))
		}
		a.Close()
		return nil
	})

	return g.Wait()
}

// Close releases all resources in reverse-init order. Safe to call multiple
// times and from multiple goroutines.
func (a *App) Close() {
	if a.poller != nil {
		_ = a.poller.Close()
		a.poller = nil
	}
	if a.official != nil {
		_ = a.official.Close()
		a.official = nil
	}
	if a.access != nil {
		if err := a.access.Close(); err != nil {
			a.log.Error("access logger close error", slog.String("error", err.Error()))
		}
		a.access = nil
	}
	if a.historyCloser != nil {
		if err := a.historyCloser.Close(); err != nil {
			a.log.Error("history store close error", slog.String("error", err.Error()))
		}
		a.historyCloser = nil
	}
}
