package status

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nulpointcorp/check-cx/internal/check"
)

// statuspageSummary is the subset of the Statuspage.io /api/v2/summary.json
// payload the poller cares about (Anthropic and OpenAI both publish it).
type statuspageSummary struct {
	Status struct {
		Indicator   string `json:"indicator"`
		Description string `json:"description"`
	} `json:"status"`
	Components []struct {
		Name   string `json:"name"`
		Status string `json:"status"`
	} `json:"components"`
}

// ParseStatuspageSummary maps a Statuspage summary to an OfficialStatusResult.
//
// The page-level indicator gives the baseline: none → operational, minor →
// degraded, major/critical → down. Per-component statuses can only worsen it:
// an "outage" component forces down, a "degraded" component forces at least
// degraded.
func ParseStatuspageSummary(raw []byte, now time.Time) (check.OfficialStatusResult, error) {
	var sum statuspageSummary
	if err := json.Unmarshal(raw, &sum); err != nil {
		return check.OfficialStatusResult{}, fmt.Errorf("status: decode summary: %w", err)
	}

	var st check.OfficialHealthStatus
	switch sum.Status.Indicator {
	case "none":
		st = check.OfficialOperational
	case "minor":
		st = check.OfficialDegraded
	case "major", "critical":
		st = check.OfficialDown
	default:
		st = check.OfficialUnknown
	}

	var affected []string
	for _, c := range sum.Components {
		cs := strings.ToLower(c.Status)
		if cs == "" || cs == "operational" {
			continue
		}
		affected = append(affected, c.Name)
		if strings.Contains(cs, "outage") || cs == "major_outage" {
			st = check.OfficialDown
		} else if strings.Contains(cs, "degraded") && st != check.OfficialDown {
			st = check.OfficialDegraded
		}
	}

	msg := sum.Status.Description
	if len(affected) > 0 {
		msg = formatAffected(affected)
	}

	return check.OfficialStatusResult{
		Status:             st,
		Message:            msg,
		CheckedAt:          now,
		AffectedComponents: affected,
	}, nil
}

// googleIncident is one entry of the Google Cloud incidents.json feed.
type googleIncident struct {
	End              *time.Time `json:"end"`
	Severity         string     `json:"severity"`
	ExternalDesc     string     `json:"external_desc"`
	AffectedProducts []struct {
		Title string `json:"title"`
	} `json:"affected_products"`
}

// aiProductMarkers selects the incidents relevant to the Gemini API out of the
// all-of-Google-Cloud feed.
var aiProductMarkers = []string{"gemini", "vertex", "ai studio", "generative"}

// ParseGoogleIncidents maps the Google Cloud incident feed to an
// OfficialStatusResult, considering only ongoing incidents that touch an AI
// product. No matching incident means operational.
func ParseGoogleIncidents(raw []byte, now time.Time) (check.OfficialStatusResult, error) {
	var incidents []googleIncident
	if err := json.Unmarshal(raw, &incidents); err != nil {
		return check.OfficialStatusResult{}, fmt.Errorf("status: decode incidents: %w", err)
	}

	st := check.OfficialOperational
	var affected []string
	var desc string
	seen := make(map[string]bool)

	for _, inc := range incidents {
		if inc.End != nil {
			continue
		}
		relevant := false
		var names []string
		for _, p := range inc.AffectedProducts {
			if isAIProduct(p.Title) {
				relevant = true
			}
			names = append(names, p.Title)
		}
		if !relevant {
			continue
		}

		if strings.EqualFold(inc.Severity, "high") {
			st = check.OfficialDown
		} else if st != check.OfficialDown {
			st = check.OfficialDegraded
		}
		if desc == "" {
			desc = inc.ExternalDesc
		}
		for _, n := range names {
			if !seen[n] {
				seen[n] = true
				affected = append(affected, n)
			}
		}
	}

	msg := desc
	if len(affected) > 0 {
		msg = formatAffected(affected)
	}

	return check.OfficialStatusResult{
		Status:             st,
		Message:            msg,
		CheckedAt:          now,
		AffectedComponents: affected,
	}, nil
}

func isAIProduct(title string) bool {
	t := strings.ToLower(title)
	for _, marker := range aiProductMarkers {
		if strings.Contains(t, marker) {
			return true
		}
	}
	return false
}

// formatAffected renders the affected-component list; more than three names
// collapse into a count.
func formatAffected(components []string) string {
	if len(components) > 3 {
		return fmt.Sprintf("%s, %s, %s 等 %d 个组件 受影响",
			components[0], components[1], components[2], len(components))
	}
	return strings.Join(components, ", ") + " 受影响"
}
