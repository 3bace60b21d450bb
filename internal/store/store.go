// Package store provides the config repository and the bounded history store.
//
// Three history backends are available:
//   - SupabaseStore — PostgREST-backed, the production store.
//   - RedisStore    — ZSET rings, one per target; history survives restarts.
//   - MemoryStore   — in-process; for tests and storeless deployments.
//
// All backends degrade instead of failing: a broken backend yields empty
// fetches and dropped appends, never an error on the read path.
package store

import (
	"context"
	"sort"

	"github.com/nulpointcorp/check-cx/internal/check"
)

// ConfigRepository loads the monitored targets. On any backend failure it
// returns an empty slice — upstream components treat empty as "nothing to do".
type ConfigRepository interface {
	LoadEnabledConfigs(ctx context.Context) []check.ProviderConfig
}

// HistoryStore is the bounded per-target history ring.
//
// Fetch semantics for allowedIDs:
//   - nil        — unscoped, return all targets with history
//   - empty      — short-circuit to an empty snapshot, no backend round-trip
//   - non-empty  — only the listed target ids
//
// Append inserts the batch and then prunes to check.HistoryLimit in the same
// logical action; an insert failure is logged and skips the prune.
type HistoryStore interface {
	Fetch(ctx context.Context, allowedIDs []string) check.HistorySnapshot
	Append(ctx context.Context, results []check.Result)
	Prune(ctx context.Context, limit int)
}

// StaticConfigs is a ConfigRepository over a fixed target list (config.yaml).
type StaticConfigs struct {
	configs []check.ProviderConfig
}

func NewStaticConfigs(cfgs []check.ProviderConfig) *StaticConfigs {
	return &StaticConfigs{configs: cfgs}
}

func (s *StaticConfigs) LoadEnabledConfigs(_ context.Context) []check.ProviderConfig {
	out := make([]check.ProviderConfig, len(s.configs))
	copy(out, s.configs)
	return out
}

// SortNewestFirst orders results strictly descending by CheckedAt.
func SortNewestFirst(items []check.Result) {
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].CheckedAt.After(items[j].CheckedAt)
	})
}

// persistable filters out records that must never reach the store.
// Maintenance placeholders are synthesized at read time only.
func persistable(results []check.Result) []check.Result {
	out := make([]check.Result, 0, len(results))
	for _, r := range results {
		if r.Status == check.StatusMaintenance {
			continue
		}
		out = append(out, r)
	}
	return out
}

// capRing slices a newest-first ring to limit entries.
func capRing(items []check.Result, limit int) []check.Result {
	if limit > 0 && len(items) > limit {
		return items[:limit]
	}
	return items
}
