package snapshot

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nulpointcorp/check-cx/internal/store"
)

// Poller drives the dashboard scope through the Service on a fixed interval,
// keeping the history warm independent of HTTP traffic. Reentrancy needs no
// guard here: the Service coalesces per scope.
type Poller struct {
	service  *Service
	configs  store.ConfigRepository
	interval time.Duration
	log      *slog.Logger

	startOnce sync.Once
	stopOnce  sync.Once
	started   atomic.Bool
	done      chan struct{}
	stopped   chan struct{}
}

func NewPoller(service *Service, configs store.ConfigRepository, interval time.Duration, log *slog.Logger) *Poller {
	if log == nil {
		log = slog.Default()
	}
	return &Poller{
		service:  service,
		configs:  configs,
		interval: interval,
		log:      log,
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
}

// EnsureRunning starts the poll loop exactly once, with an immediate first
// run. Later calls are no-ops.
func (p *Poller) EnsureRunning(ctx context.Context) {
	p.startOnce.Do(func() {
		p.started.Store(true)
		go p.loop(ctx)
	})
}

func (p *Poller) loop(ctx context.Context) {
	defer close(p.stopped)

	p.tick(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.done:
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

// tick reloads the target list and refreshes the full dashboard scope. The
// config set can change between ticks, so the scope is rebuilt every time.
func (p *Poller) tick(ctx context.Context) {
	configs := p.configs.LoadEnabledConfigs(ctx)
	scope := DashboardScope(p.interval.Milliseconds(), configs)

	if len(scope.ActiveIDs()) == 0 {
		p.log.Debug("poll_skipped_no_targets")
		return
	}
	p.service.Load(ctx, scope, RefreshAlways)
}

// Close stops the loop and waits for it to exit. Safe to call more than once
// and before EnsureRunning.
func (p *Poller) Close() error {
	p.stopOnce.Do(func() { close(p.done) })
	if p.started.Load() {
		<-p.stopped
	}
	return nil
}
