package store

import (
	"context"
	"sync"

	"github.com/nulpointcorp/check-cx/internal/check"
)

// MemoryStore keeps the history rings in process memory.
//
// It is safe for concurrent use. History does not survive restarts, which is
// acceptable for single-instance deployments without a persistent backend and
// for tests.
type MemoryStore struct {
	mu    sync.RWMutex
	rings map[string][]check.Result
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rings: make(map[string][]check.Result)}
}

func (m *MemoryStore) Fetch(_ context.Context, allowedIDs []string) check.HistorySnapshot {
	if allowedIDs != nil && len(allowedIDs) == 0 {
		return check.HistorySnapshot{}
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := make(check.HistorySnapshot)
	if allowedIDs == nil {
		for id, ring := range m.rings {
			if len(ring) > 0 {
				snap[id] = append([]check.Result(nil), ring...)
			}
		}
		return snap
	}

	for _, id := range allowedIDs {
		if ring := m.rings[id]; len(ring) > 0 {
			snap[id] = append([]check.Result(nil), ring...)
		}
	}
	return snap
}

func (m *MemoryStore) Append(ctx context.Context, results []check.Result) {
	rows := persistable(results)
	if len(rows) == 0 {
		return
	}

	m.mu.Lock()
	for _, r := range rows {
		ring := append(m.rings[r.ID], r)
		SortNewestFirst(ring)
		m.rings[r.ID] = ring
	}
	m.mu.Unlock()

	m.Prune(ctx, check.HistoryLimit)
}

func (m *MemoryStore) Prune(_ context.Context, limit int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, ring := range m.rings {
		m.rings[id] = capRing(ring, limit)
	}
}
