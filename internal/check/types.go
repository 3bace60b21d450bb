// Package check defines the core domain types shared by the probe engine,
// the history store, and the dashboard aggregation layer.
//
// A Result is both the outcome of a single probe and the record persisted in
// the history ring. Rings are per-target, newest first, and capped at
// HistoryLimit entries.
package check

import "time"

// ProviderType identifies the wire protocol a target speaks.
type ProviderType string

const (
	ProviderOpenAI    ProviderType = "openai"
	ProviderGemini    ProviderType = "gemini"
	ProviderAnthropic ProviderType = "anthropic"
)

// HealthStatus is the probe-derived health of a target.
type HealthStatus string

const (
	StatusOperational HealthStatus = "operational"
	StatusDegraded    HealthStatus = "degraded"
	StatusFailed      HealthStatus = "failed"
	StatusMaintenance HealthStatus = "maintenance"
)

// OfficialHealthStatus is the vendor-reported health from a public status page.
type OfficialHealthStatus string

const (
	OfficialOperational OfficialHealthStatus = "operational"
	OfficialDegraded    OfficialHealthStatus = "degraded"
	OfficialDown        OfficialHealthStatus = "down"
	OfficialUnknown     OfficialHealthStatus = "unknown"
)

const (
	// HistoryLimit caps the per-target history ring.
	HistoryLimit = 60

	// DegradedThresholdMs is the inclusive upper bound for an operational
	// probe; anything slower is degraded.
	DegradedThresholdMs = 6000

	// UngroupedSentinel selects targets without a group name on the group
	// dashboard route.
	UngroupedSentinel = "__ungrouped__"

	// UngroupedDisplayName labels the bucket of targets without a group.
	UngroupedDisplayName = "未分组"
)

// User-visible outcome messages. The dashboard renders these verbatim.
const (
	MsgTimeout      = "请求超时"
	MsgMaintenance  = "配置处于维护模式"
	MsgUnknownError = "未知错误"
	MsgCheckTimeout = "检查超时"
	MsgCheckFailed  = "检查失败"
)

// ProviderConfig is one monitored target, loaded from the config repository.
// Configs are read-only to the monitor; mutation happens externally.
type ProviderConfig struct {
	ID             string            `json:"id"`
	Name           string            `json:"name"`
	Type           ProviderType      `json:"type"`
	Endpoint       string            `json:"endpoint"` // empty → per-type default
	Model          string            `json:"model"`
	APIKey         string            `json:"-"`
	IsMaintenance  bool              `json:"isMaintenance"`
	RequestHeaders map[string]string `json:"requestHeaders,omitempty"`
	Metadata       map[string]any    `json:"metadata,omitempty"`
	GroupName      string            `json:"groupName,omitempty"` // empty → ungrouped
}

// Result is one probe outcome. Once appended to the store it is immutable.
type Result struct {
	ID            string                `json:"id"`
	Name          string                `json:"name"`
	Type          ProviderType          `json:"type"`
	Endpoint      string                `json:"endpoint"`
	Model         string                `json:"model"`
	Status        HealthStatus          `json:"status"`
	LatencyMs     *int64                `json:"latencyMs"`
	PingLatencyMs *int64                `json:"pingLatencyMs"`
	CheckedAt     time.Time             `json:"checkedAt"`
	Message       string                `json:"message"`
	GroupName     *string               `json:"groupName"`
	Official      *OfficialStatusResult `json:"officialStatus"`
}

// OfficialStatusResult is the cached outcome of one vendor status-page poll.
type OfficialStatusResult struct {
	Status             OfficialHealthStatus `json:"status"`
	Message            string               `json:"message"`
	CheckedAt          time.Time            `json:"checkedAt"`
	AffectedComponents []string             `json:"affectedComponents,omitempty"`
}

// HistorySnapshot maps config id → results, newest first, ≤ HistoryLimit each.
type HistorySnapshot map[string][]Result

// ProviderTimeline is the aggregated dashboard view for one target.
type ProviderTimeline struct {
	ID     string   `json:"id"`
	Items  []Result `json:"items"`
	Latest *Result  `json:"latest"`
}

// GroupedProviderTimelines is one named group (or the ungrouped bucket).
type GroupedProviderTimelines struct {
	GroupName   string             `json:"groupName"`
	DisplayName string             `json:"displayName"`
	Timelines   []ProviderTimeline `json:"timelines"`
}

// Int64Ptr returns a pointer to v. Used for the nullable latency fields.
func Int64Ptr(v int64) *int64 { return &v }

// StringPtr returns a pointer to s, or nil when s is empty.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// MaintenanceResult synthesizes the placeholder "latest" record for a target
// in maintenance mode. Placeholders are never persisted.
func MaintenanceResult(cfg ProviderConfig, now time.Time) Result {
	return Result{
		ID:        cfg.ID,
		Name:      cfg.Name,
		Type:      cfg.Type,
		Endpoint:  cfg.Endpoint,
		Model:     cfg.Model,
		Status:    StatusMaintenance,
		CheckedAt: now.UTC(),
		Message:   MsgMaintenance,
		GroupName: StringPtr(cfg.GroupName),
	}
}
