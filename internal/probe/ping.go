package probe

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/nulpointcorp/check-cx/internal/check"
)

// pingClient is shared across all pings. Redirects are not followed — the
// first response from the origin is the round-trip we measure.
var pingClient = &http.Client{
	CheckRedirect: func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	},
}

// MeasureEndpointPing measures the transport-level round-trip to the origin
// of rawURL. It tries HEAD first and falls back to GET; any completed HTTP
// response counts, whatever its status code. Returns nil when the URL does
// not parse or both attempts fail. Never panics, never blocks past timeout
// per attempt.
func MeasureEndpointPing(ctx context.Context, rawURL string, timeout time.Duration) *int64 {
	origin := originOf(rawURL)
	if origin == "" {
		return nil
	}
	if timeout <= 0 {
		timeout = defaultPingTimeout
	}

	if ms, ok := pingOnce(ctx, http.MethodHead, origin, timeout); ok {
		return check.Int64Ptr(ms)
	}
	if ms, ok := pingOnce(ctx, http.MethodGet, origin, timeout); ok {
		return check.Int64Ptr(ms)
	}
	return nil
}

func pingOnce(ctx context.Context, method, origin string, timeout time.Duration) (int64, bool) {
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, method, origin, nil)
	if err != nil {
		return 0, false
	}
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("Cache-Control", "no-store")

	start := time.Now()
	resp, err := pingClient.Do(req)
	if err != nil {
		return 0, false
	}
	elapsed := time.Since(start).Milliseconds()

	// Body is irrelevant; drain a little so the connection can be reused.
	_, _ = io.CopyN(io.Discard, resp.Body, 4096)
	_ = resp.Body.Close()

	return elapsed, true
}
