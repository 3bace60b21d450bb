package main

import (
	"net/http"
	"time"
)

// newStatuspageHandler simulates a Statuspage.io summary endpoint plus the
// Google Cloud incident feed, so the official-status poller can be exercised
// locally. MOCK_STATUS_INDICATOR controls the reported page indicator.
func newStatuspageHandler(cfg Config) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/v2/summary.json", func(w http.ResponseWriter, r *http.Request) {
		componentStatus := "operational"
		description := "All Systems Operational"
		switch cfg.StatusIndicator {
		case "minor":
			componentStatus = "degraded_performance"
			description = "Partially Degraded Service"
		case "major", "critical":
			componentStatus = "major_outage"
			description = "Major Service Outage"
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"status": map[string]string{
				"indicator":   cfg.StatusIndicator,
				"description": description,
			},
			"components": []map[string]string{
				{"name": "API", "status": componentStatus},
				{"name": "Console", "status": "operational"},
			},
		})
	})

	mux.HandleFunc("/incidents.json", func(w http.ResponseWriter, r *http.Request) {
		if cfg.StatusIndicator == "none" {
			writeJSON(w, http.StatusOK, []any{})
			return
		}
		severity := "medium"
		if cfg.StatusIndicator == "major" || cfg.StatusIndicator == "critical" {
			severity = "high"
		}
		writeJSON(w, http.StatusOK, []map[string]any{
			{
				"begin":         time.Now().Add(-time.Hour).UTC().Format(time.RFC3339),
				"end":           nil,
				"severity":      severity,
				"external_desc": "Mock incident affecting the Gemini API",
				"affected_products": []map[string]string{
					{"title": "Gemini API"},
				},
			},
		})
	})

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return mux
}
