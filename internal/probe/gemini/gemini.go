// Package gemini probes Google Gemini endpoints using the official GenAI SDK.
package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"google.golang.org/genai"

	"github.com/nulpointcorp/check-cx/internal/check"
	"github.com/nulpointcorp/check-cx/internal/probe"
)

// Prober implements probe.Prober for the Gemini streaming generate API.
type Prober struct {
	mu      sync.Mutex
	clients map[string]*genai.Client
}

func New() *Prober {
	return &Prober{clients: make(map[string]*genai.Client)}
}

func (p *Prober) Type() check.ProviderType { return check.ProviderGemini }

// Stream issues a one-token streaming generate request and returns once the
// first stream chunk arrives.
func (p *Prober) Stream(ctx context.Context, cfg check.ProviderConfig) error {
	client, err := p.clientFor(ctx, probe.EndpointFor(cfg), cfg.APIKey, cfg.RequestHeaders)
	if err != nil {
		return err
	}

	genCfg := &genai.GenerateContentConfig{
		MaxOutputTokens: 1,
		Temperature:     genai.Ptr[float32](0),
	}
	mergeMetadata(genCfg, cfg.Metadata)

	contents := []*genai.Content{genai.NewContentFromText("hi", genai.RoleUser)}

	for resp, err := range client.Models.GenerateContentStream(ctx, cfg.Model, contents, genCfg) {
		if err != nil {
			return fmt.Errorf("gemini: stream: %w", err)
		}
		_ = resp
		return nil
	}
	return fmt.Errorf("gemini: stream closed before first event")
}

func (p *Prober) clientFor(ctx context.Context, endpoint, apiKey string, headers map[string]string) (*genai.Client, error) {
	base, ver := splitBaseURLAndVersion(endpoint)
	key := probe.ClientKey(base+"|"+ver, apiKey, headers)

	p.mu.Lock()
	defer p.mu.Unlock()

	if c, ok := p.clients[key]; ok {
		return c, nil
	}

	hdr := http.Header{}
	hdr.Set("User-Agent", probe.UserAgent)
	for k, v := range headers {
		hdr.Set(k, v)
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{
			BaseURL:    base,
			APIVersion: ver,
			Headers:    hdr,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: client: %w", err)
	}

	p.clients[key] = client
	return client, nil
}

// mergeMetadata folds config metadata into the generation config via a JSON
// round-trip: known generationConfig keys apply, unknown keys are ignored.
func mergeMetadata(cfg *genai.GenerateContentConfig, metadata map[string]any) {
	if len(metadata) == 0 {
		return
	}
	raw, err := json.Marshal(metadata)
	if err != nil {
		return
	}
	_ = json.Unmarshal(raw, cfg)
}

// splitBaseURLAndVersion separates "…/v1beta" style endpoints into the SDK's
// base URL and API version parts.
func splitBaseURLAndVersion(raw string) (baseURL string, apiVersion string) {
	u, err := url.Parse(raw)
	if err != nil {
		return raw, ""
	}

	path := strings.Trim(u.Path, "/")
	if path == "" {
		base := u.String()
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		return base, ""
	}

	parts := strings.Split(path, "/")
	last := parts[len(parts)-1]

	if looksLikeAPIVersion(last) {
		apiVersion = last
		parts = parts[:len(parts)-1]
	}

	u.Path = "/" + strings.Join(parts, "/")
	if u.Path == "/" {
		u.Path = ""
	}

	baseURL = u.String()
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	return baseURL, apiVersion
}

func looksLikeAPIVersion(s string) bool {
	if !strings.HasPrefix(s, "v") || len(s) < 2 {
		return false
	}
	return s[1] >= '0' && s[1] <= '9'
}
