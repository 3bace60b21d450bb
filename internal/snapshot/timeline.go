package snapshot

import (
	"sort"
	"time"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/nulpointcorp/check-cx/internal/check"
	"github.com/nulpointcorp/check-cx/internal/store"
)

// OfficialLookup resolves the cached vendor status for a provider type.
type OfficialLookup func(check.ProviderType) (check.OfficialStatusResult, bool)

// BuildTimelines turns a history snapshot into the per-target dashboard view.
//
// Targets with history get their ring plus a latest copy carrying the official
// vendor status; targets in maintenance get a synthesized placeholder with no
// items. Timelines are ordered by latest.name, locale-aware and
// case-insensitive.
func BuildTimelines(history check.HistorySnapshot, maintenance []check.ProviderConfig, lookup OfficialLookup) []check.ProviderTimeline {
	inMaintenance := make(map[string]bool, len(maintenance))
	for _, cfg := range maintenance {
		inMaintenance[cfg.ID] = true
	}

	timelines := make([]check.ProviderTimeline, 0, len(history)+len(maintenance))

	for id, ring := range history {
		if len(ring) == 0 || inMaintenance[id] {
			continue
		}
		items := append([]check.Result(nil), ring...)
		store.SortNewestFirst(items)

		latest := items[0]
		if lookup != nil {
			if official, ok := lookup(latest.Type); ok {
				latest.Official = &official
			}
		}

		timelines = append(timelines, check.ProviderTimeline{
			ID:     id,
			Items:  items,
			Latest: &latest,
		})
	}

	now := time.Now().UTC()
	for _, cfg := range maintenance {
		placeholder := check.MaintenanceResult(cfg, now)
		timelines = append(timelines, check.ProviderTimeline{
			ID:     cfg.ID,
			Items:  []check.Result{},
			Latest: &placeholder,
		})
	}

	// collate.Collator is not safe for concurrent use, so build one per call.
	c := collate.New(language.Und, collate.IgnoreCase)
	sort.SliceStable(timelines, func(i, j int) bool {
		return c.CompareString(timelines[i].Latest.Name, timelines[j].Latest.Name) < 0
	})
	return timelines
}
