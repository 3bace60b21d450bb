// Package openai probes OpenAI and OpenAI-compatible chat-completion
// endpoints using the official SDK.
package openai

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"

	openaiSDK "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/nulpointcorp/check-cx/internal/check"
	"github.com/nulpointcorp/check-cx/internal/probe"
)

const defaultBaseURL = "https://api.openai.com/v1"

// Prober implements probe.Prober for the OpenAI wire protocol.
//
// Clients are reused per (baseURL, apiKey, headers) tuple so repeated probes
// against the same gateway share one connection pool.
type Prober struct {
	mu      sync.Mutex
	clients map[string]openaiSDK.Client
}

func New() *Prober {
	return &Prober{clients: make(map[string]openaiSDK.Client)}
}

func (p *Prober) Type() check.ProviderType { return check.ProviderOpenAI }

// Stream issues a one-token streaming completion and returns once the first
// chunk arrives. The stream is closed without draining.
func (p *Prober) Stream(ctx context.Context, cfg check.ProviderConfig) error {
	baseURL := BaseURLFromEndpoint(probe.EndpointFor(cfg))
	client := p.clientFor(baseURL, cfg.APIKey, cfg.RequestHeaders)

	model, effort := ResolveReasoningEffort(cfg.Model)

	params := openaiSDK.ChatCompletionNewParams{
		Model:       model,
		Messages:    []openaiSDK.ChatCompletionMessageParamUnion{openaiSDK.UserMessage("hi")},
		MaxTokens:   openaiSDK.Int(1),
		Temperature: openaiSDK.Float(0),
	}

	var opts []option.RequestOption
	if effort != "" {
		opts = append(opts, option.WithJSONSet("reasoning_effort", effort))
	}
	opts = append(opts, metadataOptions(cfg.Metadata)...)

	stream := client.Chat.Completions.NewStreaming(ctx, params, opts...)
	defer stream.Close()

	if stream.Next() {
		return nil
	}
	if err := stream.Err(); err != nil {
		return fmt.Errorf("openai: stream: %w", err)
	}
	return fmt.Errorf("openai: stream closed before first event")
}

func (p *Prober) clientFor(baseURL, apiKey string, headers map[string]string) openaiSDK.Client {
	key := probe.ClientKey(baseURL, apiKey, headers)

	p.mu.Lock()
	defer p.mu.Unlock()

	if c, ok := p.clients[key]; ok {
		return c
	}

	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithBaseURL(baseURL),
		option.WithMaxRetries(0), // failures surface as single failed records
		option.WithHeader("User-Agent", probe.UserAgent),
	}
	opts = append(opts, headerOptions(headers)...)

	c := openaiSDK.NewClient(opts...)
	p.clients[key] = c
	return c
}

// headerOptions converts config headers to request options in a stable order.
// Config headers overlay the defaults, so a config-supplied User-Agent wins.
func headerOptions(headers map[string]string) []option.RequestOption {
	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	opts := make([]option.RequestOption, 0, len(keys))
	for _, k := range keys {
		opts = append(opts, option.WithHeader(k, headers[k]))
	}
	return opts
}

// metadataOptions merges config metadata into the request body, shallow,
// after the required fields.
func metadataOptions(metadata map[string]any) []option.RequestOption {
	keys := make([]string, 0, len(metadata))
	for k := range metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	opts := make([]option.RequestOption, 0, len(keys))
	for _, k := range keys {
		opts = append(opts, option.WithJSONSet(k, metadata[k]))
	}
	return opts
}

// BaseURLFromEndpoint derives the SDK base URL from a configured endpoint:
// the "/chat/completions" suffix is trimmed, and the official host is
// normalized to its /v1 root.
func BaseURLFromEndpoint(endpoint string) string {
	if endpoint == "" {
		return defaultBaseURL
	}

	base := strings.TrimSuffix(strings.TrimRight(endpoint, "/"), "/chat/completions")

	u, err := url.Parse(base)
	if err != nil {
		return base
	}
	if u.Host == "api.openai.com" {
		return defaultBaseURL
	}
	return base
}
