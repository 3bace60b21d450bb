// Package server exposes the dashboard HTTP API over fasthttp.
package server

import (
	"encoding/json"
	"log/slog"
	"net/url"
	"time"

	"github.com/fasthttp/router"
	"github.com/valyala/fasthttp"

	"github.com/nulpointcorp/check-cx/internal/dashboard"
	"github.com/nulpointcorp/check-cx/internal/logger"
	"github.com/nulpointcorp/check-cx/internal/metrics"
	"github.com/nulpointcorp/check-cx/internal/ratelimit"
	"github.com/nulpointcorp/check-cx/internal/snapshot"
	"github.com/nulpointcorp/check-cx/pkg/apierr"
)

// MsgGroupNotFound is the 404 body message for an unknown dashboard group.
const MsgGroupNotFound = "分组不存在或没有配置"

// Options configures a Server.
type Options struct {
	Version     string
	StoreMode   string
	CORSOrigins []string
	Logger      *slog.Logger
	Metrics     *metrics.Registry
	AccessLog   *logger.Logger
	RateLimiter *ratelimit.RPMLimiter

	// OfficialAge reports when the official-status poller last completed,
	// surfaced by /health. Nil disables the component.
	OfficialAge func() (time.Time, bool)
}

// Server serves the dashboard read API plus /health and /metrics.
type Server struct {
	agg       *dashboard.Aggregator
	version   string
	storeMode string
	cors      []string
	log       *slog.Logger
	metrics   *metrics.Registry
	access    *logger.Logger
	limiter   *ratelimit.RPMLimiter
	officials func() (time.Time, bool)
	startedAt time.Time

	srv *fasthttp.Server
}

func New(agg *dashboard.Aggregator, opts Options) *Server {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		agg:       agg,
		version:   opts.Version,
		storeMode: opts.StoreMode,
		cors:      opts.CORSOrigins,
		log:       log,
		metrics:   opts.Metrics,
		access:    opts.AccessLog,
		limiter:   opts.RateLimiter,
		officials: opts.OfficialAge,
		startedAt: time.Now(),
	}
}

// Handler builds the routed handler with the full middleware chain applied.
func (s *Server) Handler() fasthttp.RequestHandler {
	r := router.New()

	r.GET("/api/dashboard", s.handleDashboard)
	r.GET("/api/group/{groupName}", s.handleGroup)
	r.GET("/health", s.handleHealth)
	if s.metrics != nil {
		r.GET("/metrics", s.metrics.Handler())
	}

	return applyMiddleware(r.Handler,
		recovery,
		requestID,
		timing,
		accessLog(s.access),
		observe(s.metrics),
		rateLimit(s.limiter),
		corsHandler(s.cors),
		securityHeaders,
	)
}

// Start serves on addr (e.g. ":3000") and blocks until Shutdown.
func (s *Server) Start(addr string) error {
	s.srv = &fasthttp.Server{
		Handler:      s.Handler(),
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
	}
	return s.srv.ListenAndServe(addr)
}

// Shutdown gracefully stops the server. No-op before Start.
func (s *Server) Shutdown() error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown()
}

func (s *Server) handleDashboard(ctx *fasthttp.RequestCtx) {
	data := s.agg.LoadDashboard(ctx, snapshot.RefreshAlways)
	writeJSON(ctx, data)
}

func (s *Server) handleGroup(ctx *fasthttp.RequestCtx) {
	raw, _ := ctx.UserValue("groupName").(string)
	groupName, err := url.PathUnescape(raw)
	if err != nil {
		groupName = raw
	}

	data := s.agg.LoadGroup(ctx, groupName, snapshot.RefreshAlways)
	if data == nil {
		apierr.WriteNotFound(ctx, MsgGroupNotFound)
		return
	}
	writeJSON(ctx, data)
}

func (s *Server) handleHealth(ctx *fasthttp.RequestCtx) {
	components := map[string]any{
		"store": s.storeMode,
	}
	if s.officials != nil {
		if last, ok := s.officials(); ok {
			components["officialStatusAgeSeconds"] = int64(time.Since(last).Seconds())
		} else {
			components["officialStatusAgeSeconds"] = nil
		}
	}

	writeJSON(ctx, map[string]any{
		"status":        "ok",
		"version":       s.version,
		"uptimeSeconds": int64(time.Since(s.startedAt).Seconds()),
		"components":    components,
	})
}

func writeJSON(ctx *fasthttp.RequestCtx, v any) {
	ctx.SetContentType("application/json")
	data, err := json.Marshal(v)
	if err != nil {
		apierr.WriteInternal(ctx, "encoding failure")
		return
	}
	ctx.SetBody(data)
}
