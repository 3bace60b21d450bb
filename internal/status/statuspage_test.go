package status

import (
	"strings"
	"testing"
	"time"

	"github.com/nulpointcorp/check-cx/internal/check"
)

var testNow = time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

func TestParseStatuspageSummary_Indicators(t *testing.T) {
	tests := []struct {
		indicator string
		want      check.OfficialHealthStatus
	}{
		{"none", check.OfficialOperational},
		{"minor", check.OfficialDegraded},
		{"major", check.OfficialDown},
		{"critical", check.OfficialDown},
		{"weird", check.OfficialUnknown},
	}
	for _, tc := range tests {
		raw := []byte(`{"status":{"indicator":"` + tc.indicator + `","description":"desc"},"components":[]}`)
		res, err := ParseStatuspageSummary(raw, testNow)
		if err != nil {
			t.Fatalf("indicator %q: %v", tc.indicator, err)
		}
		if res.Status != tc.want {
			t.Errorf("indicator %q: got %s, want %s", tc.indicator, res.Status, tc.want)
		}
		if res.Message != "desc" {
			t.Errorf("indicator %q: expected page description, got %q", tc.indicator, res.Message)
		}
		if !res.CheckedAt.Equal(testNow) {
			t.Errorf("indicator %q: CheckedAt not stamped", tc.indicator)
		}
	}
}

func TestParseStatuspageSummary_ComponentsWorsenStatus(t *testing.T) {
	raw := []byte(`{
		"status":{"indicator":"none","description":"All Systems Operational"},
		"components":[
			{"name":"API","status":"operational"},
			{"name":"Claude API","status":"degraded_performance"}
		]}`)
	res, err := ParseStatuspageSummary(raw, testNow)
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != check.OfficialDegraded {
		t.Errorf("expected a degraded component to worsen the page status, got %s", res.Status)
	}
	if len(res.AffectedComponents) != 1 || res.AffectedComponents[0] != "Claude API" {
		t.Errorf("unexpected affected list: %v", res.AffectedComponents)
	}
	if res.Message != "Claude API 受影响" {
		t.Errorf("unexpected message: %q", res.Message)
	}

	raw = []byte(`{
		"status":{"indicator":"minor","description":"Partially degraded"},
		"components":[{"name":"API","status":"major_outage"}]}`)
	res, err = ParseStatuspageSummary(raw, testNow)
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != check.OfficialDown {
		t.Errorf("expected an outage component to force down, got %s", res.Status)
	}
}

func TestParseStatuspageSummary_ManyComponentsCollapse(t *testing.T) {
	raw := []byte(`{
		"status":{"indicator":"minor","description":"Degraded"},
		"components":[
			{"name":"A","status":"degraded_performance"},
			{"name":"B","status":"degraded_performance"},
			{"name":"C","status":"partial_outage"},
			{"name":"D","status":"degraded_performance"},
			{"name":"E","status":"degraded_performance"}
		]}`)
	res, err := ParseStatuspageSummary(raw, testNow)
	if err != nil {
		t.Fatal(err)
	}
	want := "A, B, C 等 5 个组件 受影响"
	if res.Message != want {
		t.Errorf("expected %q, got %q", want, res.Message)
	}
	if len(res.AffectedComponents) != 5 {
		t.Errorf("expected all 5 components listed, got %d", len(res.AffectedComponents))
	}
}

func TestParseStatuspageSummary_InvalidJSON(t *testing.T) {
	if _, err := ParseStatuspageSummary([]byte("not json"), testNow); err == nil {
		t.Fatal("expected a decode error")
	}
}

func TestParseGoogleIncidents_OngoingAIIncident(t *testing.T) {
	raw := []byte(`[
		{"end":"2026-08-20T00:00:00Z","severity":"high","external_desc":"resolved",
		 "affected_products":[{"title":"Gemini API"}]},
		{"end":null,"severity":"medium","external_desc":"Elevated error rates",
		 "affected_products":[{"title":"Vertex AI Online Prediction"}]},
		{"end":null,"severity":"high","external_desc":"Networking outage",
		 "affected_products":[{"title":"Cloud Networking"}]}
	]`)
	res, err := ParseGoogleIncidents(raw, testNow)
	if err != nil {
		t.Fatal(err)
	}
	// Only the ongoing Vertex incident counts; the networking one is not AI,
	// the Gemini one has ended.
	if res.Status != check.OfficialDegraded {
		t.Errorf("expected degraded, got %s", res.Status)
	}
	if len(res.AffectedComponents) != 1 || res.AffectedComponents[0] != "Vertex AI Online Prediction" {
		t.Errorf("unexpected affected list: %v", res.AffectedComponents)
	}
	if !strings.HasSuffix(res.Message, "受影响") {
		t.Errorf("unexpected message: %q", res.Message)
	}
}

func TestParseGoogleIncidents_HighSeverityIsDown(t *testing.T) {
	raw := []byte(`[
		{"end":null,"severity":"high","external_desc":"Gemini API outage",
		 "affected_products":[{"title":"Gemini API"},{"title":"AI Studio"}]}
	]`)
	res, err := ParseGoogleIncidents(raw, testNow)
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != check.OfficialDown {
		t.Errorf("expected down for a high-severity incident, got %s", res.Status)
	}
	if len(res.AffectedComponents) != 2 {
		t.Errorf("expected both products listed, got %v", res.AffectedComponents)
	}
}

func TestParseGoogleIncidents_NoRelevantIncidents(t *testing.T) {
	raw := []byte(`[
		{"end":null,"severity":"high","external_desc":"GKE outage",
		 "affected_products":[{"title":"Google Kubernetes Engine"}]}
	]`)
	res, err := ParseGoogleIncidents(raw, testNow)
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != check.OfficialOperational {
		t.Errorf("expected operational when no AI product is affected, got %s", res.Status)
	}
	if len(res.AffectedComponents) != 0 {
		t.Errorf("expected no affected components, got %v", res.AffectedComponents)
	}
}

func TestFormatAffected(t *testing.T) {
	tests := []struct {
		in   []string
		want string
	}{
		{[]string{"A"}, "A 受影响"},
		{[]string{"A", "B"}, "A, B 受影响"},
		{[]string{"A", "B", "C"}, "A, B, C 受影响"},
		{[]string{"A", "B", "C", "D"}, "A, B, C 等 4 个组件 受影响"},
	}
	for _, tc := range tests {
		if got := formatAffected(tc.in); got != tc.want {
			t.Errorf("formatAffected(%v) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
