// Package anthropic probes Anthropic Messages API endpoints using the
// official SDK.
package anthropic

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/nulpointcorp/check-cx/internal/check"
	"github.com/nulpointcorp/check-cx/internal/probe"
)

const defaultBaseURL = "https://api.anthropic.com"

// Prober implements probe.Prober for the Anthropic Messages API.
type Prober struct {
	mu      sync.Mutex
	clients map[string]anthropic.Client
}

func New() *Prober {
	return &Prober{clients: make(map[string]anthropic.Client)}
}

func (p *Prober) Type() check.ProviderType { return check.ProviderAnthropic }

// Stream issues a one-token streaming message and returns once the first
// stream event arrives. The stream is closed without draining.
func (p *Prober) Stream(ctx context.Context, cfg check.ProviderConfig) error {
	baseURL := BaseURLFromEndpoint(probe.EndpointFor(cfg))
	client := p.clientFor(baseURL, cfg.APIKey, cfg.RequestHeaders)

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(cfg.Model),
		MaxTokens: 1,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock("hi")),
		},
	}

	var opts []option.RequestOption
	for _, k := range sortedKeys(cfg.Metadata) {
		opts = append(opts, option.WithJSONSet(k, cfg.Metadata[k]))
	}

	stream := client.Messages.NewStreaming(ctx, params, opts...)
	defer stream.Close()

	if stream.Next() {
		return nil
	}
	if err := stream.Err(); err != nil {
		return fmt.Errorf("anthropic: stream: %w", err)
	}
	return fmt.Errorf("anthropic: stream closed before first event")
}

func (p *Prober) clientFor(baseURL, apiKey string, headers map[string]string) anthropic.Client {
	key := probe.ClientKey(baseURL, apiKey, headers)

	p.mu.Lock()
	defer p.mu.Unlock()

	if c, ok := p.clients[key]; ok {
		return c
	}

	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithBaseURL(baseURL),
		option.WithMaxRetries(0),
		option.WithHeader("User-Agent", probe.UserAgent),
	}
	for _, k := range sortedKeys(headers) {
		opts = append(opts, option.WithHeader(k, headers[k]))
	}

	c := anthropic.NewClient(opts...)
	p.clients[key] = c
	return c
}

// BaseURLFromEndpoint strips a trailing "/v1/messages" from the configured
// endpoint; the SDK appends the Messages path itself.
func BaseURLFromEndpoint(endpoint string) string {
	if endpoint == "" {
		return defaultBaseURL
	}
	base := strings.TrimSuffix(strings.TrimRight(endpoint, "/"), "/v1/messages")
	if base == "" {
		return defaultBaseURL
	}
	return base
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
