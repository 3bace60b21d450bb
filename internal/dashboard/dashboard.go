// Package dashboard aggregates snapshots into the JSON payloads the HTTP
// surface serves.
package dashboard

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/nulpointcorp/check-cx/internal/check"
	"github.com/nulpointcorp/check-cx/internal/snapshot"
	"github.com/nulpointcorp/check-cx/internal/store"
)

// DashboardData is the full-dashboard response body.
type DashboardData struct {
	ProviderTimelines []check.ProviderTimeline         `json:"providerTimelines"`
	GroupedTimelines  []check.GroupedProviderTimelines `json:"groupedTimelines"`
	LastUpdated       *time.Time                       `json:"lastUpdated"`
	Total             int                              `json:"total"`
	PollIntervalLabel string                           `json:"pollIntervalLabel"`
	PollIntervalMs    int64                            `json:"pollIntervalMs"`
	GeneratedAt       time.Time                        `json:"generatedAt"`
}

// GroupDashboardData is the single-group response body.
type GroupDashboardData struct {
	GroupName         string                  `json:"groupName"`
	DisplayName       string                  `json:"displayName"`
	ProviderTimelines []check.ProviderTimeline `json:"providerTimelines"`
	LastUpdated       *time.Time              `json:"lastUpdated"`
	Total             int                     `json:"total"`
	PollIntervalLabel string                  `json:"pollIntervalLabel"`
	PollIntervalMs    int64                   `json:"pollIntervalMs"`
	GeneratedAt       time.Time               `json:"generatedAt"`
}

// Aggregator joins configs, snapshots, and official status into dashboards.
type Aggregator struct {
	configs        store.ConfigRepository
	service        *snapshot.Service
	official       snapshot.OfficialLookup
	pollIntervalMs int64
	pollLabel      string
	log            *slog.Logger
}

func NewAggregator(configs store.ConfigRepository, service *snapshot.Service, official snapshot.OfficialLookup, pollIntervalMs int64, pollLabel string, log *slog.Logger) *Aggregator {
	if log == nil {
		log = slog.Default()
	}
	return &Aggregator{
		configs:        configs,
		service:        service,
		official:       official,
		pollIntervalMs: pollIntervalMs,
		pollLabel:      pollLabel,
		log:            log,
	}
}

// LoadDashboard builds the full dashboard. A config load failure degrades to
// an empty dashboard with total 0, never an error.
func (a *Aggregator) LoadDashboard(ctx context.Context, mode snapshot.RefreshMode) DashboardData {
	configs := a.configs.LoadEnabledConfigs(ctx)
	scope := snapshot.DashboardScope(a.pollIntervalMs, configs)

	hist := a.service.Load(ctx, scope, mode)
	timelines := snapshot.BuildTimelines(hist, scope.MaintenanceConfigs(), a.official)

	return DashboardData{
		ProviderTimelines: timelines,
		GroupedTimelines:  groupTimelines(timelines, configs),
		LastUpdated:       lastUpdated(timelines),
		Total:             len(timelines),
		PollIntervalLabel: a.pollLabel,
		PollIntervalMs:    a.pollIntervalMs,
		GeneratedAt:       time.Now().UTC(),
	}
}

// LoadGroup builds the dashboard for one group. The sentinel
// check.UngroupedSentinel selects targets without a group name. Returns nil
// when no enabled config matches.
func (a *Aggregator) LoadGroup(ctx context.Context, groupName string, mode snapshot.RefreshMode) *GroupDashboardData {
	configs := a.configs.LoadEnabledConfigs(ctx)

	matched := make([]check.ProviderConfig, 0, len(configs))
	for _, cfg := range configs {
		if matchesGroup(cfg, groupName) {
			matched = append(matched, cfg)
		}
	}
	if len(matched) == 0 {
		return nil
	}

	scope := snapshot.GroupScope(groupName, a.pollIntervalMs, matched)
	hist := a.service.Load(ctx, scope, mode)
	timelines := snapshot.BuildTimelines(hist, scope.MaintenanceConfigs(), a.official)

	displayName := groupName
	if groupName == check.UngroupedSentinel {
		displayName = check.UngroupedDisplayName
	}

	return &GroupDashboardData{
		GroupName:         groupName,
		DisplayName:       displayName,
		ProviderTimelines: timelines,
		LastUpdated:       lastUpdated(timelines),
		Total:             len(timelines),
		PollIntervalLabel: a.pollLabel,
		PollIntervalMs:    a.pollIntervalMs,
		GeneratedAt:       time.Now().UTC(),
	}
}

func matchesGroup(cfg check.ProviderConfig, groupName string) bool {
	if groupName == check.UngroupedSentinel {
		return cfg.GroupName == ""
	}
	return cfg.GroupName == groupName
}

// groupTimelines buckets timelines by the owning config's group: named groups
// in lexicographic order, then a single ungrouped bucket last. Timeline order
// inside each bucket follows the already-sorted input.
func groupTimelines(timelines []check.ProviderTimeline, configs []check.ProviderConfig) []check.GroupedProviderTimelines {
	groupOf := make(map[string]string, len(configs))
	for _, cfg := range configs {
		groupOf[cfg.ID] = cfg.GroupName
	}

	buckets := make(map[string][]check.ProviderTimeline)
	for _, tl := range timelines {
		buckets[groupOf[tl.ID]] = append(buckets[groupOf[tl.ID]], tl)
	}

	names := make([]string, 0, len(buckets))
	for name := range buckets {
		if name != "" {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	out := make([]check.GroupedProviderTimelines, 0, len(buckets))
	for _, name := range names {
		out = append(out, check.GroupedProviderTimelines{
			GroupName:   name,
			DisplayName: name,
			Timelines:   buckets[name],
		})
	}
	if ungrouped := buckets[""]; len(ungrouped) > 0 {
		out = append(out, check.GroupedProviderTimelines{
			GroupName:   check.UngroupedSentinel,
			DisplayName: check.UngroupedDisplayName,
			Timelines:   ungrouped,
		})
	}
	return out
}

// lastUpdated is the newest checkedAt across all real records. Maintenance
// placeholders are synthesized at read time and do not count.
func lastUpdated(timelines []check.ProviderTimeline) *time.Time {
	var newest time.Time
	for _, tl := range timelines {
		if tl.Latest != nil && tl.Latest.Status != check.StatusMaintenance && tl.Latest.CheckedAt.After(newest) {
			newest = tl.Latest.CheckedAt
		}
		for _, item := range tl.Items {
			if item.CheckedAt.After(newest) {
				newest = item.CheckedAt
			}
		}
	}
	if newest.IsZero() {
		return nil
	}
	return &newest
}
