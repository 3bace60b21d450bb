package store

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/nulpointcorp/check-cx/internal/check"
)

func TestSupabaseStore_LoadEnabledConfigs(t *testing.T) {
	var gotQuery string
	var gotAPIKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rest/v1/check_configs" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		gotQuery = r.URL.RawQuery
		gotAPIKey = r.Header.Get("apikey")
		fmt.Fprint(w, `[
			{"id":"1","name":"OpenAI 主站","type":"openai","model":"gpt-4o","endpoint":null,
			 "api_key":"sk-1","is_maintenance":false,"request_header":{"X-Ray":"on"},
			 "metadata":null,"group_name":"生产"},
			{"id":"2","name":"Gemini","type":"gemini","model":"gemini-2.0-flash","endpoint":"https://gw.example.com/v1beta",
			 "api_key":"gk-2","is_maintenance":true,"request_header":null,"metadata":{"topK":5},"group_name":null}
		]`)
	}))
	defer srv.Close()

	s := NewSupabaseStore(srv.URL, "anon-key", nil)
	cfgs := s.LoadEnabledConfigs(context.Background())
	if len(cfgs) != 2 {
		t.Fatalf("expected 2 configs, got %d", len(cfgs))
	}
	if gotAPIKey != "anon-key" {
		t.Errorf("expected apikey header, got %q", gotAPIKey)
	}
	if !strings.Contains(gotQuery, "enabled=eq.true") {
		t.Errorf("expected enabled filter in query, got %q", gotQuery)
	}

	if cfgs[0].GroupName != "生产" || cfgs[0].RequestHeaders["X-Ray"] != "on" {
		t.Errorf("unexpected first config: %+v", cfgs[0])
	}
	if cfgs[1].Endpoint != "https://gw.example.com/v1beta" || !cfgs[1].IsMaintenance {
		t.Errorf("unexpected second config: %+v", cfgs[1])
	}
	if cfgs[1].GroupName != "" {
		t.Errorf("null group_name must map to empty, got %q", cfgs[1].GroupName)
	}
}

func TestSupabaseStore_LoadEnabledConfigs_BackendErrorDegrades(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"message":"boom"}`)
	}))
	defer srv.Close()

	s := NewSupabaseStore(srv.URL, "anon-key", nil)
	if cfgs := s.LoadEnabledConfigs(context.Background()); len(cfgs) != 0 {
		t.Errorf("expected empty config list on backend failure, got %d", len(cfgs))
	}
}

func TestSupabaseStore_FetchViaProcedure(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rest/v1/rpc/fetch_check_history" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		fmt.Fprint(w, `[
			{"config_id":"1","status":"operational","latency_ms":850,"ping_latency_ms":40,
			 "checked_at":"2026-08-24T12:01:00Z","message":"流式响应正常 (850ms)",
			 "name":"OpenAI","type":"openai","model":"gpt-4o","endpoint":null,"group_name":null},
			{"config_id":"1","status":"failed","latency_ms":null,"ping_latency_ms":null,
			 "checked_at":"2026-08-24T12:00:00Z","message":"请求超时",
			 "name":"OpenAI","type":"openai","model":"gpt-4o","endpoint":null,"group_name":null}
		]`)
	}))
	defer srv.Close()

	s := NewSupabaseStore(srv.URL, "anon-key", nil)
	snap := s.Fetch(context.Background(), []string{"1"})

	if gotBody["row_limit"] != float64(check.HistoryLimit) {
		t.Errorf("expected row_limit %d, got %v", check.HistoryLimit, gotBody["row_limit"])
	}
	ring := snap["1"]
	if len(ring) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(ring))
	}
	if ring[0].Status != check.StatusOperational || ring[1].Status != check.StatusFailed {
		t.Errorf("expected newest-first ordering, got %s then %s", ring[0].Status, ring[1].Status)
	}
	if ring[0].LatencyMs == nil || *ring[0].LatencyMs != 850 {
		t.Errorf("unexpected latency: %v", ring[0].LatencyMs)
	}
	if ring[1].LatencyMs != nil {
		t.Error("expected null latency to stay nil")
	}
}

func TestSupabaseStore_FetchFallsBackWhenProcedureMissing(t *testing.T) {
	var rawQueried bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/rest/v1/rpc/fetch_check_history":
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `{"message":"Could not find the function public.fetch_check_history"}`)
		case "/rest/v1/check_history":
			rawQueried = true
			if got := r.URL.Query().Get("config_id"); got != "in.(1)" {
				t.Errorf("expected id filter in raw query, got %q", got)
			}
			fmt.Fprint(w, `[
				{"config_id":"1","status":"degraded","latency_ms":7000,"ping_latency_ms":55,
				 "checked_at":"2026-08-24T12:00:00Z","message":"响应成功但耗时 7000ms",
				 "check_configs":{"name":"OpenAI","type":"openai","model":"gpt-4o","endpoint":null,"group_name":"生产"}}
			]`)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	s := NewSupabaseStore(srv.URL, "anon-key", nil)
	snap := s.Fetch(context.Background(), []string{"1"})

	if !rawQueried {
		t.Fatal("expected fallback to the raw history query")
	}
	ring := snap["1"]
	if len(ring) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(ring))
	}
	if ring[0].Name != "OpenAI" || ring[0].GroupName == nil || *ring[0].GroupName != "生产" {
		t.Errorf("expected joined config fields, got %+v", ring[0])
	}
}

func TestSupabaseStore_FetchOtherErrorDegrades(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, `{"message":"database unavailable"}`)
	}))
	defer srv.Close()

	s := NewSupabaseStore(srv.URL, "anon-key", nil)
	// The 503 body does not name the procedure, so no fallback runs.
	if snap := s.Fetch(context.Background(), []string{"1"}); len(snap) != 0 {
		t.Errorf("expected empty snapshot, got %d rings", len(snap))
	}
}

func TestSupabaseStore_AppendInsertsThenPrunes(t *testing.T) {
	var insertPrefer string
	var inserted []map[string]any
	var pruned bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/rest/v1/check_history" && r.Method == http.MethodPost:
			insertPrefer = r.Header.Get("Prefer")
			_ = json.NewDecoder(r.Body).Decode(&inserted)
			w.WriteHeader(http.StatusCreated)
		case r.URL.Path == "/rest/v1/rpc/prune_check_history":
			pruned = true
			fmt.Fprint(w, `null`)
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))
	defer srv.Close()

	s := NewSupabaseStore(srv.URL, "anon-key", nil)
	s.Append(context.Background(), []check.Result{
		resultAt("1", time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC), check.StatusOperational),
		check.MaintenanceResult(check.ProviderConfig{ID: "2"}, time.Now()),
	})

	if insertPrefer != "return=minimal" {
		t.Errorf("expected Prefer: return=minimal, got %q", insertPrefer)
	}
	if len(inserted) != 1 {
		t.Fatalf("expected the maintenance placeholder filtered out, got %d rows", len(inserted))
	}
	if inserted[0]["config_id"] != "1" || inserted[0]["status"] != "operational" {
		t.Errorf("unexpected insert row: %+v", inserted[0])
	}
	if !pruned {
		t.Error("expected a prune after a successful insert")
	}
}

func TestSupabaseStore_AppendFailureSkipsPrune(t *testing.T) {
	var pruned bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/rest/v1/rpc/") {
			pruned = true
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"message":"insert failed"}`)
	}))
	defer srv.Close()

	s := NewSupabaseStore(srv.URL, "anon-key", nil)
	s.Append(context.Background(), []check.Result{resultAt("1", time.Now().UTC(), check.StatusOperational)})

	if pruned {
		t.Error("a failed insert must skip the prune")
	}
}

func TestSupabaseStore_PruneRawFallback(t *testing.T) {
	// 3 rows for one target with limit 2: the oldest row is deleted.
	var deletedFilter string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/rest/v1/rpc/prune_check_history":
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `{"message":"Could not find the function public.prune_check_history"}`)
		case r.URL.Path == "/rest/v1/check_history" && r.Method == http.MethodGet:
			// Ordered config_id.asc, checked_at.desc; numeric ids arrive unquoted.
			fmt.Fprint(w, `[
				{"id":103,"config_id":"1"},
				{"id":102,"config_id":"1"},
				{"id":101,"config_id":"1"}
			]`)
		case r.URL.Path == "/rest/v1/check_history" && r.Method == http.MethodDelete:
			deletedFilter = r.URL.Query().Get("id")
			w.WriteHeader(http.StatusNoContent)
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))
	defer srv.Close()

	s := NewSupabaseStore(srv.URL, "anon-key", nil)
	s.Prune(context.Background(), 2)

	if deletedFilter != "in.(101)" {
		t.Errorf("expected the row past the limit deleted, got filter %q", deletedFilter)
	}
}

func TestMissingProcedure(t *testing.T) {
	err := &restError{status: 404, body: `Could not find the function public.fetch_check_history`}
	if !missingProcedure(err, "fetch_check_history") {
		t.Error("expected a body naming the procedure to match")
	}
	if missingProcedure(err, "prune_check_history") {
		t.Error("expected a different procedure name not to match")
	}
	if missingProcedure(fmt.Errorf("plain error"), "fetch_check_history") {
		t.Error("expected non-rest errors not to match")
	}
}
