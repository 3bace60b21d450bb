package snapshot

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nulpointcorp/check-cx/internal/check"
	"github.com/nulpointcorp/check-cx/internal/probe"
	"github.com/nulpointcorp/check-cx/internal/store"
)

// countingProber succeeds instantly and counts its invocations.
type countingProber struct {
	typ   check.ProviderType
	delay time.Duration
	runs  atomic.Int64
}

func (p *countingProber) Type() check.ProviderType { return p.typ }

func (p *countingProber) Stream(ctx context.Context, _ check.ProviderConfig) error {
	p.runs.Add(1)
	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// testTarget builds a config whose endpoint cannot be pinged, so probes finish
// without network round-trips.
func testTarget(id string) check.ProviderConfig {
	return check.ProviderConfig{
		ID:       id,
		Name:     "target-" + id,
		Type:     check.ProviderOpenAI,
		Endpoint: "://unpingable",
		Model:    "gpt-4o",
	}
}

func newTestService(t *testing.T, prober *countingProber, window time.Duration) (*Service, *store.MemoryStore) {
	t.Helper()
	runner := probe.NewRunner([]probe.Prober{prober}, probe.RunnerOptions{
		CheckTimeout: 5 * time.Second,
		PingTimeout:  50 * time.Millisecond,
	})
	hist := store.NewMemoryStore()
	svc := NewService(context.Background(), runner, hist, ServiceOptions{PollInterval: window})
	return svc, hist
}

func TestScopeKey(t *testing.T) {
	cfgs := []check.ProviderConfig{testTarget("b"), testTarget("a")}

	dash := DashboardScope(60000, cfgs)
	if dash.Key != "dashboard:60000:a|b" {
		t.Errorf("unexpected dashboard key %q", dash.Key)
	}

	grp := GroupScope("生产", 60000, cfgs)
	if grp.Key != "group:生产:60000:a|b" {
		t.Errorf("unexpected group key %q", grp.Key)
	}

	empty := DashboardScope(60000, nil)
	if empty.Key != "dashboard:60000:__empty__" {
		t.Errorf("unexpected empty key %q", empty.Key)
	}
}

func TestScope_ActiveSplit(t *testing.T) {
	maint := testTarget("m")
	maint.IsMaintenance = true
	scope := DashboardScope(60000, []check.ProviderConfig{testTarget("a"), maint})

	if ids := scope.ActiveIDs(); len(ids) != 1 || ids[0] != "a" {
		t.Errorf("unexpected active ids: %v", ids)
	}
	if m := scope.MaintenanceConfigs(); len(m) != 1 || m[0].ID != "m" {
		t.Errorf("unexpected maintenance configs: %v", m)
	}
}

func TestService_LoadEmptyScope(t *testing.T) {
	prober := &countingProber{typ: check.ProviderOpenAI}
	svc, _ := newTestService(t, prober, time.Minute)

	snap := svc.Load(context.Background(), DashboardScope(60000, nil), RefreshAlways)
	if len(snap) != 0 {
		t.Errorf("expected empty snapshot, got %d rings", len(snap))
	}
	if prober.runs.Load() != 0 {
		t.Error("an empty scope must not probe")
	}

	// All-maintenance scopes are empty too.
	maint := testTarget("m")
	maint.IsMaintenance = true
	snap = svc.Load(context.Background(), DashboardScope(60000, []check.ProviderConfig{maint}), RefreshAlways)
	if len(snap) != 0 || prober.runs.Load() != 0 {
		t.Error("a maintenance-only scope must not probe")
	}
}

func TestService_RefreshAlwaysProbesAndPersists(t *testing.T) {
	prober := &countingProber{typ: check.ProviderOpenAI}
	svc, hist := newTestService(t, prober, time.Minute)

	scope := DashboardScope(60000, []check.ProviderConfig{testTarget("a"), testTarget("b")})
	snap := svc.Load(context.Background(), scope, RefreshAlways)

	if prober.runs.Load() != 2 {
		t.Fatalf("expected one probe per target, got %d", prober.runs.Load())
	}
	if len(snap) != 2 {
		t.Fatalf("expected 2 rings, got %d", len(snap))
	}
	if snap["a"][0].Status != check.StatusOperational {
		t.Errorf("expected operational result, got %s", snap["a"][0].Status)
	}
	if persisted := hist.Fetch(context.Background(), nil); len(persisted) != 2 {
		t.Errorf("expected results persisted, got %d rings", len(persisted))
	}
}

func TestService_FreshnessWindowShortCircuits(t *testing.T) {
	prober := &countingProber{typ: check.ProviderOpenAI}
	svc, _ := newTestService(t, prober, time.Minute)
	scope := DashboardScope(60000, []check.ProviderConfig{testTarget("a")})

	svc.Load(context.Background(), scope, RefreshAlways)
	svc.Load(context.Background(), scope, RefreshAlways)

	if got := prober.runs.Load(); got != 1 {
		t.Errorf("expected the second load served from the fresh entry, got %d probes", got)
	}
}

func TestService_ExpiredWindowProbesAgain(t *testing.T) {
	prober := &countingProber{typ: check.ProviderOpenAI}
	svc, _ := newTestService(t, prober, 30*time.Millisecond)
	scope := DashboardScope(60000, []check.ProviderConfig{testTarget("a")})

	svc.Load(context.Background(), scope, RefreshAlways)
	time.Sleep(50 * time.Millisecond)
	svc.Load(context.Background(), scope, RefreshAlways)

	if got := prober.runs.Load(); got != 2 {
		t.Errorf("expected a new probe after the window expired, got %d", got)
	}
}

func TestService_ConcurrentLoadsCoalesce(t *testing.T) {
	prober := &countingProber{typ: check.ProviderOpenAI, delay: 50 * time.Millisecond}
	svc, _ := newTestService(t, prober, time.Minute)
	scope := DashboardScope(60000, []check.ProviderConfig{testTarget("a")})

	const callers = 8
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			snap := svc.Load(context.Background(), scope, RefreshAlways)
			if len(snap) != 1 {
				t.Errorf("expected 1 ring, got %d", len(snap))
			}
		}()
	}
	wg.Wait()

	if got := prober.runs.Load(); got != 1 {
		t.Errorf("expected concurrent callers to share one probe batch, got %d", got)
	}
}

func TestService_RefreshNeverReadsStoreOnly(t *testing.T) {
	prober := &countingProber{typ: check.ProviderOpenAI}
	svc, hist := newTestService(t, prober, time.Minute)
	scope := DashboardScope(60000, []check.ProviderConfig{testTarget("a")})

	hist.Append(context.Background(), []check.Result{{
		ID:        "a",
		Name:      "target-a",
		Type:      check.ProviderOpenAI,
		Status:    check.StatusFailed,
		CheckedAt: time.Now().UTC(),
		Message:   check.MsgTimeout,
	}})

	snap := svc.Load(context.Background(), scope, RefreshNever)
	if prober.runs.Load() != 0 {
		t.Error("RefreshNever must not probe")
	}
	if len(snap["a"]) != 1 || snap["a"][0].Status != check.StatusFailed {
		t.Errorf("expected the stored history, got %+v", snap)
	}
}

func TestService_RefreshMissingProbesOnlyWhenEmpty(t *testing.T) {
	prober := &countingProber{typ: check.ProviderOpenAI}
	svc, hist := newTestService(t, prober, time.Minute)
	scope := DashboardScope(60000, []check.ProviderConfig{testTarget("a")})

	// No stored history: RefreshMissing probes.
	snap := svc.Load(context.Background(), scope, RefreshMissing)
	if prober.runs.Load() != 1 {
		t.Fatalf("expected a probe for a cold scope, got %d", prober.runs.Load())
	}
	if len(snap) != 1 {
		t.Fatalf("expected 1 ring, got %d", len(snap))
	}

	// Stored history present: a new service (cold cache) still skips the
	// probe. The nil runner would panic if RefreshMissing probed anyway.
	svc2 := NewService(context.Background(), nil, hist, ServiceOptions{PollInterval: time.Minute})
	snap = svc2.Load(context.Background(), scope, RefreshMissing)
	if len(snap) != 1 {
		t.Errorf("expected the stored history without probing, got %d rings", len(snap))
	}
}
