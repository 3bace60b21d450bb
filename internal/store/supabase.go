package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/nulpointcorp/check-cx/internal/check"
)

const (
	fetchProcName = "fetch_check_history"
	pruneProcName = "prune_check_history"

	supabaseTimeout  = 15 * time.Second
	deleteBatchSize  = 100
	maxErrorBodySize = 2048
)

// SupabaseStore talks PostgREST: check_configs for targets, check_history for
// the rings. The primary fetch/prune paths call server-side procedures via
// /rest/v1/rpc; when a procedure is missing (the error body names it) the
// equivalent raw queries run instead. Any other failure degrades.
//
// It implements both ConfigRepository and HistoryStore.
type SupabaseStore struct {
	baseURL string
	anonKey string
	http    *http.Client
	log     *slog.Logger
}

func NewSupabaseStore(baseURL, anonKey string, log *slog.Logger) *SupabaseStore {
	if log == nil {
		log = slog.Default()
	}
	return &SupabaseStore{
		baseURL: strings.TrimRight(baseURL, "/"),
		anonKey: anonKey,
		http:    &http.Client{},
		log:     log,
	}
}

// ── ConfigRepository ─────────────────────────────────────────────────────────

type configRow struct {
	ID            string            `json:"id"`
	Name          string            `json:"name"`
	Type          string            `json:"type"`
	Model         string            `json:"model"`
	Endpoint      *string           `json:"endpoint"`
	APIKey        string            `json:"api_key"`
	IsMaintenance bool              `json:"is_maintenance"`
	RequestHeader map[string]string `json:"request_header"`
	Metadata      map[string]any    `json:"metadata"`
	GroupName     *string           `json:"group_name"`
}

func (s *SupabaseStore) LoadEnabledConfigs(ctx context.Context) []check.ProviderConfig {
	q := url.Values{}
	q.Set("select", "*")
	q.Set("enabled", "eq.true")
	q.Set("order", "id.asc")

	var rows []configRow
	if err := s.do(ctx, http.MethodGet, "/rest/v1/check_configs", q, nil, &rows, ""); err != nil {
		s.log.Warn("config_load_error", slog.String("error", err.Error()))
		return nil
	}

	out := make([]check.ProviderConfig, 0, len(rows))
	for _, r := range rows {
		out = append(out, check.ProviderConfig{
			ID:             r.ID,
			Name:           r.Name,
			Type:           check.ProviderType(r.Type),
			Endpoint:       deref(r.Endpoint),
			Model:          r.Model,
			APIKey:         r.APIKey,
			IsMaintenance:  r.IsMaintenance,
			RequestHeaders: r.RequestHeader,
			Metadata:       r.Metadata,
			GroupName:      deref(r.GroupName),
		})
	}
	return out
}

// ── HistoryStore ─────────────────────────────────────────────────────────────

// historyRow is the flattened shape the fetch procedure returns.
type historyRow struct {
	ConfigID      string    `json:"config_id"`
	Status        string    `json:"status"`
	LatencyMs     *int64    `json:"latency_ms"`
	PingLatencyMs *int64    `json:"ping_latency_ms"`
	CheckedAt     time.Time `json:"checked_at"`
	Message       string    `json:"message"`
	Name          string    `json:"name"`
	Type          string    `json:"type"`
	Model         string    `json:"model"`
	Endpoint      *string   `json:"endpoint"`
	GroupName     *string   `json:"group_name"`
}

func (s *SupabaseStore) Fetch(ctx context.Context, allowedIDs []string) check.HistorySnapshot {
	if allowedIDs != nil && len(allowedIDs) == 0 {
		return check.HistorySnapshot{}
	}

	body := map[string]any{
		"config_ids": allowedIDs,
		"row_limit":  check.HistoryLimit,
	}

	var rows []historyRow
	err := s.do(ctx, http.MethodPost, "/rest/v1/rpc/"+fetchProcName, nil, body, &rows, "")
	if err != nil {
		if !missingProcedure(err, fetchProcName) {
			s.log.Warn("history_fetch_error", slog.String("error", err.Error()))
			return check.HistorySnapshot{}
		}
		rows, err = s.fetchRaw(ctx, allowedIDs)
		if err != nil {
			s.log.Warn("history_fetch_error", slog.String("error", err.Error()))
			return check.HistorySnapshot{}
		}
	}

	snap := make(check.HistorySnapshot)
	for _, r := range rows {
		snap[r.ConfigID] = append(snap[r.ConfigID], check.Result{
			ID:            r.ConfigID,
			Name:          r.Name,
			Type:          check.ProviderType(r.Type),
			Endpoint:      deref(r.Endpoint),
			Model:         r.Model,
			Status:        check.HealthStatus(r.Status),
			LatencyMs:     r.LatencyMs,
			PingLatencyMs: r.PingLatencyMs,
			CheckedAt:     r.CheckedAt.UTC(),
			Message:       r.Message,
			GroupName:     r.GroupName,
		})
	}
	for id, ring := range snap {
		SortNewestFirst(ring)
		snap[id] = capRing(ring, check.HistoryLimit)
	}
	return snap
}

// fetchRaw is the no-procedure path: one embedded-join query, grouped and
// capped client-side.
func (s *SupabaseStore) fetchRaw(ctx context.Context, allowedIDs []string) ([]historyRow, error) {
	q := url.Values{}
	q.Set("select", "config_id,status,latency_ms,ping_latency_ms,checked_at,message,check_configs(name,type,model,endpoint,group_name)")
	q.Set("order", "checked_at.desc")
	if allowedIDs != nil {
		q.Set("config_id", "in.("+strings.Join(allowedIDs, ",")+")")
	}

	type rawRow struct {
		ConfigID      string    `json:"config_id"`
		Status        string    `json:"status"`
		LatencyMs     *int64    `json:"latency_ms"`
		PingLatencyMs *int64    `json:"ping_latency_ms"`
		CheckedAt     time.Time `json:"checked_at"`
		Message       string    `json:"message"`
		Config        struct {
			Name      string  `json:"name"`
			Type      string  `json:"type"`
			Model     string  `json:"model"`
			Endpoint  *string `json:"endpoint"`
			GroupName *string `json:"group_name"`
		} `json:"check_configs"`
	}

	var raw []rawRow
	if err := s.do(ctx, http.MethodGet, "/rest/v1/check_history", q, nil, &raw, ""); err != nil {
		return nil, err
	}

	rows := make([]historyRow, 0, len(raw))
	for _, r := range raw {
		rows = append(rows, historyRow{
			ConfigID:      r.ConfigID,
			Status:        r.Status,
			LatencyMs:     r.LatencyMs,
			PingLatencyMs: r.PingLatencyMs,
			CheckedAt:     r.CheckedAt,
			Message:       r.Message,
			Name:          r.Config.Name,
			Type:          r.Config.Type,
			Model:         r.Config.Model,
			Endpoint:      r.Config.Endpoint,
			GroupName:     r.Config.GroupName,
		})
	}
	return rows, nil
}

type insertRow struct {
	ConfigID      string    `json:"config_id"`
	Status        string    `json:"status"`
	LatencyMs     *int64    `json:"latency_ms"`
	PingLatencyMs *int64    `json:"ping_latency_ms"`
	CheckedAt     time.Time `json:"checked_at"`
	Message       string    `json:"message"`
}

func (s *SupabaseStore) Append(ctx context.Context, results []check.Result) {
	rows := persistable(results)
	if len(rows) == 0 {
		return
	}

	batch := make([]insertRow, 0, len(rows))
	for _, r := range rows {
		batch = append(batch, insertRow{
			ConfigID:      r.ID,
			Status:        string(r.Status),
			LatencyMs:     r.LatencyMs,
			PingLatencyMs: r.PingLatencyMs,
			CheckedAt:     r.CheckedAt.UTC(),
			Message:       r.Message,
		})
	}

	if err := s.do(ctx, http.MethodPost, "/rest/v1/check_history", nil, batch, nil, "return=minimal"); err != nil {
		// Insert failed: skip the prune, the ring may transiently exceed the cap.
		s.log.Warn("history_append_error", slog.String("error", err.Error()))
		return
	}

	s.Prune(ctx, check.HistoryLimit)
}

func (s *SupabaseStore) Prune(ctx context.Context, limit int) {
	body := map[string]any{"row_limit": limit}

	err := s.do(ctx, http.MethodPost, "/rest/v1/rpc/"+pruneProcName, nil, body, nil, "")
	if err == nil {
		return
	}
	if !missingProcedure(err, pruneProcName) {
		s.log.Warn("history_prune_error", slog.String("error", err.Error()))
		return
	}
	if err := s.pruneRaw(ctx, limit); err != nil {
		s.log.Warn("history_prune_error", slog.String("error", err.Error()))
	}
}

// pruneRaw lists row ids newest-first per target and deletes everything past
// the limit in batches.
func (s *SupabaseStore) pruneRaw(ctx context.Context, limit int) error {
	q := url.Values{}
	q.Set("select", "id,config_id")
	q.Set("order", "config_id.asc,checked_at.desc")

	type idRow struct {
		ID       flexID `json:"id"`
		ConfigID string `json:"config_id"`
	}

	var rows []idRow
	if err := s.do(ctx, http.MethodGet, "/rest/v1/check_history", q, nil, &rows, ""); err != nil {
		return err
	}

	var victims []string
	seen := make(map[string]int)
	for _, r := range rows {
		seen[r.ConfigID]++
		if seen[r.ConfigID] > limit {
			victims = append(victims, string(r.ID))
		}
	}

	for start := 0; start < len(victims); start += deleteBatchSize {
		end := start + deleteBatchSize
		if end > len(victims) {
			end = len(victims)
		}
		dq := url.Values{}
		dq.Set("id", "in.("+strings.Join(victims[start:end], ",")+")")
		if err := s.do(ctx, http.MethodDelete, "/rest/v1/check_history", dq, nil, nil, "return=minimal"); err != nil {
			return err
		}
	}
	return nil
}

// ── PostgREST plumbing ───────────────────────────────────────────────────────

// restError carries the HTTP status and response body of a failed request.
// Missing-procedure detection matches against the body text.
type restError struct {
	status int
	body   string
}

func (e *restError) Error() string {
	return fmt.Sprintf("supabase: HTTP %d: %s", e.status, e.body)
}

func missingProcedure(err error, procName string) bool {
	re, ok := err.(*restError)
	return ok && strings.Contains(re.body, procName)
}

func (s *SupabaseStore) do(ctx context.Context, method, path string, query url.Values, body, out any, prefer string) error {
	ctx, cancel := context.WithTimeout(ctx, supabaseTimeout)
	defer cancel()

	endpoint := s.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("supabase: encode body: %w", err)
		}
		reqBody = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return fmt.Errorf("supabase: build request: %w", err)
	}
	req.Header.Set("apikey", s.anonKey)
	req.Header.Set("Authorization", "Bearer "+s.anonKey)
	req.Header.Set("User-Agent", "check-cx/0.1.0")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if prefer != "" {
		req.Header.Set("Prefer", prefer)
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("supabase: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		return &restError{status: resp.StatusCode, body: string(raw)}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("supabase: decode %s: %w", path, err)
		}
	}
	return nil
}

// flexID accepts both string (uuid) and numeric (identity) primary keys.
type flexID string

func (f *flexID) UnmarshalJSON(b []byte) error {
	*f = flexID(strings.Trim(string(b), `"`))
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
