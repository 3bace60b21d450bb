// Package probe implements the per-target health checks.
//
// Each vendor protocol lives in its own sub-package and implements the Prober
// interface: issue the smallest possible streaming completion and return as
// soon as the first stream event arrives. The shared Runner owns everything
// vendor-independent — the overall deadline, latency classification, the
// concurrent endpoint ping, and the encoding of failures into records.
//
// A probe never retries and never reports an error to its caller: every
// outcome, including a timeout, becomes exactly one check.Result.
package probe

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"net/url"
	"os"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/nulpointcorp/check-cx/internal/check"
	"github.com/nulpointcorp/check-cx/internal/metrics"
)

// UserAgent identifies the monitor on every outbound request. Config-supplied
// headers may override it.
const UserAgent = "check-cx/0.1.0"

// Default probe endpoints, used when a config has no explicit endpoint.
const (
	DefaultOpenAIEndpoint    = "https://api.openai.com/v1/chat/completions"
	DefaultGeminiEndpoint    = "https://generativelanguage.googleapis.com/v1beta"
	DefaultAnthropicEndpoint = "https://api.anthropic.com/v1/messages"
)

const (
	defaultCheckTimeout = 45 * time.Second
	defaultPingTimeout  = 8 * time.Second
)

// abortedRe matches the abort phrasing some SDK transports use instead of a
// context deadline error.
var abortedRe = regexp.MustCompile(`(?i)request was aborted`)

// Prober performs the vendor-specific minimal streaming request. Stream
// returns nil once the first stream event has arrived; the stream is closed
// best-effort without draining.
type Prober interface {
	Type() check.ProviderType
	Stream(ctx context.Context, cfg check.ProviderConfig) error
}

// EndpointFor resolves the probe endpoint for a config, falling back to the
// per-type default.
func EndpointFor(cfg check.ProviderConfig) string {
	if cfg.Endpoint != "" {
		return cfg.Endpoint
	}
	switch cfg.Type {
	case check.ProviderOpenAI:
		return DefaultOpenAIEndpoint
	case check.ProviderGemini:
		return DefaultGeminiEndpoint
	case check.ProviderAnthropic:
		return DefaultAnthropicEndpoint
	default:
		return ""
	}
}

// ClientKey derives the cache key for vendor client reuse: one client per
// (baseURL, apiKey, canonical header set) tuple.
func ClientKey(baseURL, apiKey string, headers map[string]string) string {
	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteString(baseURL)
	sb.WriteByte(0)
	sb.WriteString(apiKey)
	for _, k := range keys {
		sb.WriteByte(0)
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(headers[k])
	}

	sum := sha256.Sum256([]byte(sb.String()))
	return hex.EncodeToString(sum[:])
}

// RunnerOptions holds optional tuning parameters for a Runner.
type RunnerOptions struct {
	// CheckTimeout is the overall probe deadline. Default: 45s.
	CheckTimeout time.Duration

	// PingTimeout is the endpoint-ping deadline. Default: 8s.
	PingTimeout time.Duration

	// Logger defaults to slog.Default.
	Logger *slog.Logger

	// Metrics enables Prometheus collection. Nil disables it.
	Metrics *metrics.Registry
}

// Runner dispatches configs to the matching Prober and classifies outcomes.
type Runner struct {
	probers      map[check.ProviderType]Prober
	checkTimeout time.Duration
	pingTimeout  time.Duration
	log          *slog.Logger
	metrics      *metrics.Registry
}

// NewRunner builds a Runner from the given vendor probers.
func NewRunner(probers []Prober, opts RunnerOptions) *Runner {
	m := make(map[check.ProviderType]Prober, len(probers))
	for _, p := range probers {
		m[p.Type()] = p
	}

	checkTimeout := opts.CheckTimeout
	if checkTimeout <= 0 {
		checkTimeout = defaultCheckTimeout
	}
	pingTimeout := opts.PingTimeout
	if pingTimeout <= 0 {
		pingTimeout = defaultPingTimeout
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	return &Runner{
		probers:      m,
		checkTimeout: checkTimeout,
		pingTimeout:  pingTimeout,
		log:          log,
		metrics:      opts.Metrics,
	}
}

// Run probes one target. It always returns a result; errors and timeouts are
// encoded into the record, never propagated.
func (r *Runner) Run(ctx context.Context, cfg check.ProviderConfig) check.Result {
	endpoint := EndpointFor(cfg)

	res := check.Result{
		ID:        cfg.ID,
		Name:      cfg.Name,
		Type:      cfg.Type,
		Endpoint:  endpoint,
		Model:     cfg.Model,
		GroupName: check.StringPtr(cfg.GroupName),
	}

	// Ping runs regardless of the main probe outcome.
	pingCh := make(chan *int64, 1)
	go func() {
		pingCh <- MeasureEndpointPing(ctx, endpoint, r.pingTimeout)
	}()

	prober, ok := r.probers[cfg.Type]

	var streamErr error
	start := time.Now()
	if !ok {
		streamErr = errors.New("no prober registered for type " + string(cfg.Type))
	} else {
		probeCtx, cancel := context.WithTimeout(ctx, r.checkTimeout)
		streamErr = prober.Stream(probeCtx, cfg)
		cancel()
	}
	elapsed := time.Since(start)

	res.PingLatencyMs = <-pingCh
	res.CheckedAt = time.Now().UTC()
	res.Status, res.LatencyMs, res.Message = classify(streamErr, elapsed)

	if streamErr != nil {
		r.log.Warn("probe failed",
			slog.String("id", cfg.ID),
			slog.String("type", string(cfg.Type)),
			slog.String("model", cfg.Model),
			slog.String("error", streamErr.Error()),
		)
	}

	if r.metrics != nil {
		r.metrics.ObserveCheck(string(cfg.Type), string(res.Status), elapsed)
		if res.PingLatencyMs != nil {
			r.metrics.ObservePing(string(cfg.Type), time.Duration(*res.PingLatencyMs)*time.Millisecond)
		}
	}

	return res
}

// classify maps a stream outcome to a status, nullable latency, and message.
// The degraded threshold is inclusive: exactly check.DegradedThresholdMs is
// still operational. Failures carry no latency.
func classify(streamErr error, elapsed time.Duration) (check.HealthStatus, *int64, string) {
	elapsedMs := elapsed.Milliseconds()

	switch {
	case streamErr == nil && elapsedMs <= check.DegradedThresholdMs:
		return check.StatusOperational, check.Int64Ptr(elapsedMs), check.MsgOperational(elapsedMs)

	case streamErr == nil:
		return check.StatusDegraded, check.Int64Ptr(elapsedMs), check.MsgDegraded(elapsedMs)

	case isTimeout(streamErr):
		return check.StatusFailed, nil, check.MsgTimeout

	default:
		return check.StatusFailed, nil, check.TruncateMessage(streamErr.Error())
	}
}

// isTimeout reports whether err represents the probe deadline expiring, either
// as a context error or as a transport-level abort message.
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || os.IsTimeout(err) {
		return true
	}
	return abortedRe.MatchString(err.Error())
}

// originOf reduces a URL to scheme://host[:port]. Returns "" when the URL
// does not parse or has no host.
func originOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}
