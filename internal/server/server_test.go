package server

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"

	"github.com/nulpointcorp/check-cx/internal/check"
	"github.com/nulpointcorp/check-cx/internal/dashboard"
	"github.com/nulpointcorp/check-cx/internal/probe"
	"github.com/nulpointcorp/check-cx/internal/snapshot"
	"github.com/nulpointcorp/check-cx/internal/store"
)

// okProber succeeds instantly for every target.
type okProber struct{ typ check.ProviderType }

func (p okProber) Type() check.ProviderType                          { return p.typ }
func (p okProber) Stream(context.Context, check.ProviderConfig) error { return nil }

func testConfigs() []check.ProviderConfig {
	return []check.ProviderConfig{
		{ID: "1", Name: "OpenAI", Type: check.ProviderOpenAI, Endpoint: "://unpingable", Model: "gpt-4o", GroupName: "生产"},
		{ID: "2", Name: "Gemini", Type: check.ProviderGemini, Endpoint: "://unpingable", Model: "gemini-2.0-flash"},
	}
}

func newTestServer(t *testing.T, opts Options) *Server {
	t.Helper()
	runner := probe.NewRunner([]probe.Prober{
		okProber{check.ProviderOpenAI},
		okProber{check.ProviderGemini},
		okProber{check.ProviderAnthropic},
	}, probe.RunnerOptions{
		CheckTimeout: 5 * time.Second,
		PingTimeout:  50 * time.Millisecond,
	})
	svc := snapshot.NewService(context.Background(), runner, store.NewMemoryStore(), snapshot.ServiceOptions{
		PollInterval: time.Minute,
	})
	agg := dashboard.NewAggregator(store.NewStaticConfigs(testConfigs()), svc, nil, 60000, "1 分钟", nil)
	return New(agg, opts)
}

// serveAPI starts the routed handler on an in-memory listener and returns an
// HTTP client + cleanup.
func serveAPI(t *testing.T, s *Server) (*http.Client, func()) {
	t.Helper()
	ln := fasthttputil.NewInmemoryListener()

	go func() {
		_ = fasthttp.Serve(ln, s.Handler())
	}()

	client := &http.Client{
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
				return ln.Dial()
			},
		},
	}
	return client, func() { ln.Close() }
}

func getJSON(t *testing.T, client *http.Client, url string, out any) *http.Response {
	t.Helper()
	resp, err := client.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			t.Fatalf("decode %s: %v (body %q)", url, err, body)
		}
	}
	return resp
}

func TestDashboardEndpoint(t *testing.T) {
	s := newTestServer(t, Options{Version: "test", StoreMode: "memory"})
	client, cleanup := serveAPI(t, s)
	defer cleanup()

	var data map[string]any
	resp := getJSON(t, client, "http://server/api/dashboard", &data)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected application/json, got %q", ct)
	}

	if data["total"] != float64(2) {
		t.Errorf("expected total 2, got %v", data["total"])
	}
	timelines, ok := data["providerTimelines"].([]any)
	if !ok || len(timelines) != 2 {
		t.Fatalf("expected 2 provider timelines, got %v", data["providerTimelines"])
	}
	if data["pollIntervalMs"] != float64(60000) || data["pollIntervalLabel"] != "1 分钟" {
		t.Errorf("unexpected poll interval fields: %v %v", data["pollIntervalMs"], data["pollIntervalLabel"])
	}
	if _, ok := data["groupedTimelines"].([]any); !ok {
		t.Error("expected groupedTimelines in the payload")
	}
}

func TestGroupEndpoint(t *testing.T) {
	s := newTestServer(t, Options{Version: "test", StoreMode: "memory"})
	client, cleanup := serveAPI(t, s)
	defer cleanup()

	var data map[string]any
	resp := getJSON(t, client, "http://server/api/group/"+url.PathEscape("生产"), &data)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if data["groupName"] != "生产" || data["displayName"] != "生产" {
		t.Errorf("unexpected group fields: %v %v", data["groupName"], data["displayName"])
	}
	if data["total"] != float64(1) {
		t.Errorf("expected total 1, got %v", data["total"])
	}
}

func TestGroupEndpoint_UngroupedSentinel(t *testing.T) {
	s := newTestServer(t, Options{Version: "test", StoreMode: "memory"})
	client, cleanup := serveAPI(t, s)
	defer cleanup()

	var data map[string]any
	resp := getJSON(t, client, "http://server/api/group/"+check.UngroupedSentinel, &data)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if data["displayName"] != check.UngroupedDisplayName {
		t.Errorf("expected display name %q, got %v", check.UngroupedDisplayName, data["displayName"])
	}
}

func TestGroupEndpoint_UnknownGroup404(t *testing.T) {
	s := newTestServer(t, Options{Version: "test", StoreMode: "memory"})
	client, cleanup := serveAPI(t, s)
	defer cleanup()

	var body map[string]any
	resp := getJSON(t, client, "http://server/api/group/"+url.PathEscape("没有这个组"), &body)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
	if body["error"] != MsgGroupNotFound {
		t.Errorf("expected error %q, got %v", MsgGroupNotFound, body["error"])
	}
}

func TestHealthEndpoint(t *testing.T) {
	lastPoll := time.Now().Add(-30 * time.Second)
	s := newTestServer(t, Options{
		Version:   "1.2.3",
		StoreMode: "memory",
		OfficialAge: func() (time.Time, bool) {
			return lastPoll, true
		},
	})
	client, cleanup := serveAPI(t, s)
	defer cleanup()

	var data map[string]any
	resp := getJSON(t, client, "http://server/health", &data)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if data["status"] != "ok" || data["version"] != "1.2.3" {
		t.Errorf("unexpected health payload: %v", data)
	}
	components, ok := data["components"].(map[string]any)
	if !ok {
		t.Fatalf("expected components object, got %v", data["components"])
	}
	if components["store"] != "memory" {
		t.Errorf("expected store mode in components, got %v", components["store"])
	}
	if age, ok := components["officialStatusAgeSeconds"].(float64); !ok || age < 29 {
		t.Errorf("unexpected official status age: %v", components["officialStatusAgeSeconds"])
	}
}

func TestResponseHeaders(t *testing.T) {
	s := newTestServer(t, Options{Version: "test", StoreMode: "memory"})
	client, cleanup := serveAPI(t, s)
	defer cleanup()

	resp := getJSON(t, client, "http://server/health", nil)
	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("expected a generated X-Request-ID")
	}
	if resp.Header.Get("X-Response-Time") == "" {
		t.Error("expected an X-Response-Time header")
	}
	if resp.Header.Get("Access-Control-Allow-Origin") != "*" {
		t.Errorf("expected open CORS by default, got %q", resp.Header.Get("Access-Control-Allow-Origin"))
	}
	if resp.Header.Get("X-Content-Type-Options") != "nosniff" {
		t.Error("expected security headers on every response")
	}
}

func TestRequestIDEchoed(t *testing.T) {
	s := newTestServer(t, Options{Version: "test", StoreMode: "memory"})
	client, cleanup := serveAPI(t, s)
	defer cleanup()

	req, _ := http.NewRequest(http.MethodGet, "http://server/health", nil)
	req.Header.Set("X-Request-ID", "req-42")
	resp, err := client.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if got := resp.Header.Get("X-Request-ID"); got != "req-42" {
		t.Errorf("expected the client id echoed, got %q", got)
	}
}

func TestRouteLabel(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/api/dashboard", "/api/dashboard"},
		{"/api/group/prod", "/api/group/{groupName}"},
		{"/health", "/health"},
		{"/metrics", "/metrics"},
		{"/favicon.ico", "other"},
	}
	for _, tc := range tests {
		if got := routeLabel(tc.path); got != tc.want {
			t.Errorf("routeLabel(%q) = %q, want %q", tc.path, got, tc.want)
		}
	}
}
