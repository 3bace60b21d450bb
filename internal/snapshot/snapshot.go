// Package snapshot orchestrates reads over the history store and the probe
// engine. A Service answers "give me the current history for this scope",
// refreshing on demand while coalescing concurrent callers, and a Poller
// drives the same path on a timer.
package snapshot

import (
	"context"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/nulpointcorp/check-cx/internal/check"
	"github.com/nulpointcorp/check-cx/internal/metrics"
	"github.com/nulpointcorp/check-cx/internal/probe"
	"github.com/nulpointcorp/check-cx/internal/store"
)

// RefreshMode selects how Load treats stale or missing history.
type RefreshMode int

const (
	// RefreshAlways enters the refresh path unconditionally (subject to the
	// freshness window and coalescing).
	RefreshAlways RefreshMode = iota
	// RefreshMissing refreshes only when the scope has active targets but no
	// stored history at all.
	RefreshMissing
	// RefreshNever reads stored history without touching the probes.
	RefreshNever
)

// Scope is one cacheable view: a key plus the configs it covers.
type Scope struct {
	Key     string
	Configs []check.ProviderConfig
}

// DashboardScope builds the scope covering every target.
func DashboardScope(pollIntervalMs int64, configs []check.ProviderConfig) Scope {
	return Scope{Key: scopeKey("dashboard", "", pollIntervalMs, configs), Configs: configs}
}

// GroupScope builds the scope for one dashboard group.
func GroupScope(groupName string, pollIntervalMs int64, configs []check.ProviderConfig) Scope {
	return Scope{Key: scopeKey("group", groupName, pollIntervalMs, configs), Configs: configs}
}

func scopeKey(kind, name string, pollIntervalMs int64, configs []check.ProviderConfig) string {
	ids := make([]string, 0, len(configs))
	for _, c := range configs {
		ids = append(ids, c.ID)
	}
	sort.Strings(ids)

	idPart := "__empty__"
	if len(ids) > 0 {
		idPart = strings.Join(ids, "|")
	}

	var sb strings.Builder
	sb.WriteString(kind)
	sb.WriteByte(':')
	if name != "" {
		sb.WriteString(name)
		sb.WriteByte(':')
	}
	sb.WriteString(strconv.FormatInt(pollIntervalMs, 10))
	sb.WriteByte(':')
	sb.WriteString(idPart)
	return sb.String()
}

// ActiveIDs returns the ids of the scope's non-maintenance targets.
func (s Scope) ActiveIDs() []string {
	ids := make([]string, 0, len(s.Configs))
	for _, c := range s.Configs {
		if !c.IsMaintenance {
			ids = append(ids, c.ID)
		}
	}
	return ids
}

// ActiveConfigs returns the scope's non-maintenance targets.
func (s Scope) ActiveConfigs() []check.ProviderConfig {
	out := make([]check.ProviderConfig, 0, len(s.Configs))
	for _, c := range s.Configs {
		if !c.IsMaintenance {
			out = append(out, c)
		}
	}
	return out
}

// MaintenanceConfigs returns the scope's targets in maintenance mode.
func (s Scope) MaintenanceConfigs() []check.ProviderConfig {
	out := make([]check.ProviderConfig, 0)
	for _, c := range s.Configs {
		if c.IsMaintenance {
			out = append(out, c)
		}
	}
	return out
}

// scopeEntry is the per-scope cache: the last snapshot and when its probes ran.
type scopeEntry struct {
	history    check.HistorySnapshot
	lastPingAt time.Time
}

// ServiceOptions configures a Service.
type ServiceOptions struct {
	// PollInterval is the freshness window: a snapshot younger than this is
	// served without probing.
	PollInterval time.Duration

	Logger  *slog.Logger
	Metrics *metrics.Registry
}

// Service coordinates refreshes per scope. Concurrent callers of the same
// scope share one probe batch; a fresh snapshot short-circuits probing
// entirely.
type Service struct {
	runner  *probe.Runner
	history store.HistoryStore
	window  time.Duration
	log     *slog.Logger
	metrics *metrics.Registry

	// Refreshes run on this context, not the caller's: a canceled request
	// must not abort a probe batch other callers are waiting on.
	baseCtx context.Context

	mu      sync.Mutex
	entries map[string]*scopeEntry
	flight  singleflight.Group
}

func NewService(baseCtx context.Context, runner *probe.Runner, history store.HistoryStore, opts ServiceOptions) *Service {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	window := opts.PollInterval
	if window <= 0 {
		window = time.Minute
	}
	return &Service{
		runner:  runner,
		history: history,
		window:  window,
		log:     log,
		metrics: opts.Metrics,
		baseCtx: baseCtx,
		entries: make(map[string]*scopeEntry),
	}
}

// Load returns the history snapshot for a scope, refreshing per mode. It
// never returns an error; a broken backend or failed probes degrade to
// whatever history is available.
func (s *Service) Load(ctx context.Context, scope Scope, mode RefreshMode) check.HistorySnapshot {
	ids := scope.ActiveIDs()
	if len(ids) == 0 {
		return check.HistorySnapshot{}
	}

	switch mode {
	case RefreshNever:
		return s.stored(ctx, scope, ids)
	case RefreshMissing:
		if hist := s.stored(ctx, scope, ids); len(hist) > 0 {
			return hist
		}
	}

	if hist, ok := s.freshEntry(scope.Key); ok {
		return hist
	}

	v, _, shared := s.flight.Do(scope.Key, func() (any, error) {
		return s.refresh(scope, ids), nil
	})
	if shared && s.metrics != nil {
		s.metrics.RecordCoalescedLoad()
	}
	return v.(check.HistorySnapshot)
}

// stored reads without probing: the cached entry if present, otherwise the
// store. Read-only, so the entry is not updated.
func (s *Service) stored(ctx context.Context, scope Scope, ids []string) check.HistorySnapshot {
	s.mu.Lock()
	ent := s.entries[scope.Key]
	s.mu.Unlock()

	if ent != nil && ent.history != nil {
		return ent.history
	}
	return s.history.Fetch(ctx, ids)
}

// freshEntry returns the cached snapshot when its probes ran within the
// freshness window.
func (s *Service) freshEntry(key string) (check.HistorySnapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ent := s.entries[key]
	if ent == nil || ent.history == nil {
		return nil, false
	}
	if time.Since(ent.lastPingAt) >= s.window {
		return nil, false
	}
	return ent.history, true
}

// refresh probes every active target concurrently, appends the batch, re-reads
// the scoped history, and caches the result.
func (s *Service) refresh(scope Scope, ids []string) check.HistorySnapshot {
	start := time.Now()
	configs := scope.ActiveConfigs()
	results := make([]check.Result, len(configs))

	g, gctx := errgroup.WithContext(s.baseCtx)
	for i, cfg := range configs {
		g.Go(func() error {
			results[i] = s.runner.Run(gctx, cfg)
			return nil
		})
	}
	_ = g.Wait() // probes never error

	s.history.Append(s.baseCtx, results)
	hist := s.history.Fetch(s.baseCtx, ids)

	now := time.Now()
	s.mu.Lock()
	s.entries[scope.Key] = &scopeEntry{history: hist, lastPingAt: now}
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.RecordRefresh(scopeLabel(scope.Key), "ok")
	}
	s.log.Debug("snapshot_refreshed",
		slog.String("scope", scopeLabel(scope.Key)),
		slog.Int("targets", len(configs)),
		slog.Duration("elapsed", time.Since(start)),
	)
	return hist
}

// scopeLabel keeps metric cardinality down: "dashboard" or "group", never the
// full key.
func scopeLabel(key string) string {
	if i := strings.IndexByte(key, ':'); i > 0 {
		return key[:i]
	}
	return key
}
