package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nulpointcorp/check-cx/internal/dashboard"
	"github.com/nulpointcorp/check-cx/internal/logger"
	"github.com/nulpointcorp/check-cx/internal/metrics"
	"github.com/nulpointcorp/check-cx/internal/probe"
	anthropicprobe "github.com/nulpointcorp/check-cx/internal/probe/anthropic"
	geminiprobe "github.com/nulpointcorp/check-cx/internal/probe/gemini"
	openaiprobe "github.com/nulpointcorp/check-cx/internal/probe/openai"
	"github.com/nulpointcorp/check-cx/internal/ratelimit"
	"github.com/nulpointcorp/check-cx/internal/server"
	"github.com/nulpointcorp/check-cx/internal/snapshot"
	"github.com/nulpointcorp/check-cx/internal/status"
	"github.com/nulpointcorp/check-cx/internal/store"
)

// initStore selects the config repository and history backend.
//
// In supabase mode one client serves both roles; otherwise targets come from
// config.yaml and history lives in Redis or memory.
func (a *App) initStore(ctx context.Context) error {
	a.prom = metrics.New()
	a.prom.SetBuildInfo(a.version)

	switch a.cfg.Store.Mode {
	case "supabase":
		sb := store.NewSupabaseStore(a.cfg.Supabase.URL, a.cfg.Supabase.AnonKey, a.log)
		a.configs = sb
		a.history = sb
		a.log.Info("store backend: supabase", slog.String("url", a.cfg.Supabase.URL))

	case "redis":
		a.log.Info("connecting to redis", slog.String("url", redactURL(a.cfg.Redis.URL)))
		rs, err := store.NewRedisStoreFromURL(ctx, a.cfg.Redis.URL, a.log)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		a.configs = store.NewStaticConfigs(a.cfg.EnabledTargets())
		a.history = rs
		a.historyCloser = rs
		a.log.Info("store backend: redis")

		// Rate limiting shares the store's connection — only available here.
		if a.cfg.RateLimitRPM > 0 {
			a.limiter = ratelimit.NewRPMLimiter(rs.Client(), a.cfg.RateLimitRPM)
			a.log.Info("rate limiting enabled", slog.Int("rpm_limit", a.cfg.RateLimitRPM))
		}

	case "memory":
		a.configs = store.NewStaticConfigs(a.cfg.EnabledTargets())
		a.history = store.NewMemoryStore()
		a.log.Info("store backend: memory (in-process)")

	default:
		return fmt.Errorf("unknown store mode: %s", a.cfg.Store.Mode)
	}

	return nil
}

// initProbes builds one prober per supported vendor and the shared runner.
func (a *App) initProbes(_ context.Context) error {
	probers := []probe.Prober{
		openaiprobe.New(),
		geminiprobe.New(),
		anthropicprobe.New(),
	}

	a.runner = probe.NewRunner(probers, probe.RunnerOptions{
		CheckTimeout: a.cfg.CheckTimeout,
		PingTimeout:  a.cfg.PingTimeout,
		Logger:       a.log,
		Metrics:      a.prom,
	})

	a.log.Info("probes loaded", slog.Int("vendors", len(probers)))
	return nil
}

// initStatus creates the official status-page poller. It is started by Run.
func (a *App) initStatus(_ context.Context) error {
	a.official = status.NewPoller(a.cfg.OfficialPollInterval, a.log, a.prom)
	return nil
}

// initServices wires the snapshot service, the background poller, the access
// logger, and the dashboard aggregator.
func (a *App) initServices(ctx context.Context) error {
	access, err := logger.New(a.baseCtx, a.log)
	if err != nil {
		return fmt.Errorf("access logger: %w", err)
	}
	a.access = access

	a.svc = snapshot.NewService(a.baseCtx, a.runner, a.history, snapshot.ServiceOptions{
		PollInterval: a.cfg.PollInterval,
		Logger:       a.log,
		Metrics:      a.prom,
	})

	a.poller = snapshot.NewPoller(a.svc, a.configs, a.cfg.PollInterval, a.log)

	a.agg = dashboard.NewAggregator(
		a.configs,
		a.svc,
		a.official.Lookup,
		a.cfg.PollIntervalMs(),
		a.cfg.PollIntervalLabel(),
		a.log,
	)

	return nil
}

// initServer builds the HTTP surface.
func (a *App) initServer(_ context.Context) error {
	a.srv = server.New(a.agg, server.Options{
		Version:     a.version,
		StoreMode:   a.cfg.Store.Mode,
		CORSOrigins: a.cfg.CORSOrigins,
		Logger:      a.log,
		Metrics:     a.prom,
		AccessLog:   a.access,
		RateLimiter: a.limiter,
		OfficialAge: a.official.LastPoll,
	})
	return nil
}

// redactURL replaces the userinfo portion of a URL with "***" for safe logging.
// e.g. "redis://:secret@localhost:6379" → "redis://***@localhost:6379"
func redactURL(raw string) string {
	for i, c := range raw {
		if c == '@' {
			// Find the scheme end ("://") and keep only scheme + "***" + @host.
			for j := i - 1; j >= 0; j-- {
				if j+2 < len(raw) && raw[j:j+3] == "://" {
					return raw[:j+3] + "***" + raw[i:]
				}
			}
			return "***" + raw[i:]
		}
	}
	return raw
}
