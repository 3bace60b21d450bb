// Package status polls public vendor status pages and caches one result per
// provider type. Poll failures never propagate: every outcome, including a
// broken fetch, becomes an OfficialStatusResult readers can render.
package status

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nulpointcorp/check-cx/internal/check"
	"github.com/nulpointcorp/check-cx/internal/metrics"
	"github.com/nulpointcorp/check-cx/internal/probe"
)

const (
	fetchTimeout = 15 * time.Second
	maxBodySize  = 4 << 20
)

// vendorSource describes one status page: where to fetch and how to parse.
type vendorSource struct {
	provider check.ProviderType
	url      string
	parse    func(raw []byte, now time.Time) (check.OfficialStatusResult, error)
}

func defaultSources() []vendorSource {
	return []vendorSource{
		{check.ProviderAnthropic, "https://status.anthropic.com/api/v2/summary.json", ParseStatuspageSummary},
		{check.ProviderOpenAI, "https://status.openai.com/api/v2/summary.json", ParseStatuspageSummary},
		{check.ProviderGemini, "https://status.cloud.google.com/incidents.json", ParseGoogleIncidents},
	}
}

// Poller fetches every vendor source on a fixed interval and keeps the most
// recent result per provider in memory. One writer, many readers.
type Poller struct {
	interval time.Duration
	sources  []vendorSource
	http     *http.Client
	log      *slog.Logger
	metrics  *metrics.Registry

	startOnce sync.Once
	stopOnce  sync.Once
	started   atomic.Bool
	running   atomic.Bool
	done      chan struct{}
	stopped   chan struct{}

	mu    sync.RWMutex
	cache map[check.ProviderType]check.OfficialStatusResult
}

type PollerOption func(*Poller)

// WithSources overrides the vendor source list, for tests.
func WithSources(sources []vendorSource) PollerOption {
	return func(p *Poller) { p.sources = sources }
}

// WithHTTPClient overrides the HTTP client used for status fetches.
func WithHTTPClient(c *http.Client) PollerOption {
	return func(p *Poller) { p.http = c }
}

func NewPoller(interval time.Duration, log *slog.Logger, m *metrics.Registry, opts ...PollerOption) *Poller {
	if log == nil {
		log = slog.Default()
	}
	p := &Poller{
		interval: interval,
		sources:  defaultSources(),
		http:     &http.Client{},
		log:      log,
		metrics:  m,
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
		cache:    make(map[check.ProviderType]check.OfficialStatusResult),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Source builds a vendorSource; exported for tests that point the poller at a
// local server.
func Source(provider check.ProviderType, url string, parse func([]byte, time.Time) (check.OfficialStatusResult, error)) vendorSource {
	return vendorSource{provider: provider, url: url, parse: parse}
}

// EnsureRunning starts the poll loop exactly once. The first run fires
// immediately in the background; later calls are no-ops.
func (p *Poller) EnsureRunning(ctx context.Context) {
	p.startOnce.Do(func() {
		p.started.Store(true)
		go p.loop(ctx)
	})
}

func (p *Poller) loop(ctx context.Context) {
	defer close(p.stopped)

	p.pollOnce(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.done:
			return
		case <-ticker.C:
			p.pollOnce(ctx)
		}
	}
}

// pollOnce fetches all sources sequentially. The overlap guard skips the tick
// when a previous run is still executing.
func (p *Poller) pollOnce(ctx context.Context) {
	if !p.running.CompareAndSwap(false, true) {
		p.log.Debug("official_poll_skipped_overlap")
		return
	}
	defer p.running.Store(false)

	for _, src := range p.sources {
		res := p.fetchVendor(ctx, src)

		p.mu.Lock()
		p.cache[src.provider] = res
		p.mu.Unlock()

		if p.metrics != nil {
			p.metrics.SetOfficialStatus(string(src.provider), string(res.Status))
		}
		p.log.Debug("official_status_updated",
			slog.String("provider", string(src.provider)),
			slog.String("status", string(res.Status)),
		)
	}
}

func (p *Poller) fetchVendor(ctx context.Context, src vendorSource) check.OfficialStatusResult {
	now := time.Now().UTC()

	raw, err := p.fetch(ctx, src.url)
	if err != nil {
		return unknownResult(err, now)
	}

	res, err := src.parse(raw, now)
	if err != nil {
		p.log.Warn("official_status_parse_error",
			slog.String("provider", string(src.provider)),
			slog.String("error", err.Error()),
		)
		return check.OfficialStatusResult{
			Status:    check.OfficialUnknown,
			Message:   check.MsgCheckFailed,
			CheckedAt: now,
		}
	}
	return res
}

// httpStatusError marks a non-2xx response so the caller can render the code.
type httpStatusError struct {
	code int
}

func (e *httpStatusError) Error() string { return check.MsgHTTPStatus(e.code) }

func (p *Poller) fetch(ctx context.Context, url string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", probe.UserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := p.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &httpStatusError{code: resp.StatusCode}
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
}

// unknownResult classifies a fetch failure: non-2xx keeps the code, deadline
// becomes 检查超时, everything else 检查失败.
func unknownResult(err error, now time.Time) check.OfficialStatusResult {
	res := check.OfficialStatusResult{Status: check.OfficialUnknown, CheckedAt: now}

	var se *httpStatusError
	switch {
	case errors.As(err, &se):
		res.Message = se.Error()
	case errors.Is(err, context.DeadlineExceeded):
		res.Message = check.MsgCheckTimeout
	default:
		res.Message = check.MsgCheckFailed
	}
	return res
}

// Lookup returns the cached result for a provider, or ok=false before the
// first successful poll of that vendor.
func (p *Poller) Lookup(provider check.ProviderType) (check.OfficialStatusResult, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	res, ok := p.cache[provider]
	return res, ok
}

// LastPoll reports the newest CheckedAt across the cache, for health checks.
func (p *Poller) LastPoll() (time.Time, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var latest time.Time
	for _, res := range p.cache {
		if res.CheckedAt.After(latest) {
			latest = res.CheckedAt
		}
	}
	return latest, !latest.IsZero()
}

// Close stops the poll loop and waits for it to exit. Safe to call more than
// once and before EnsureRunning.
func (p *Poller) Close() error {
	p.stopOnce.Do(func() { close(p.done) })
	if p.started.Load() {
		<-p.stopped
	}
	return nil
}
