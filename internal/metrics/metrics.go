// Package metrics provides a Prometheus metrics registry for the monitor.
//
// All metrics are scoped to a private registry (not the global default) so
// they don't interfere with host-level metrics when embedded in other
// applications. The /metrics HTTP handler is exposed via Handler().
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

// Registry holds all exported metrics.
type Registry struct {
	reg *prometheus.Registry

	// checkcx_checks_total{provider,status}
	checksTotal *prometheus.CounterVec

	// checkcx_check_duration_seconds{provider}
	checkDuration *prometheus.HistogramVec

	// checkcx_ping_duration_seconds{provider}
	pingDuration *prometheus.HistogramVec

	// checkcx_refresh_total{scope,result}
	refreshTotal *prometheus.CounterVec

	// checkcx_coalesced_loads_total
	coalescedLoads prometheus.Counter

	// checkcx_official_status{provider} — 0=operational,1=degraded,2=down,3=unknown
	officialStatus *prometheus.GaugeVec

	// checkcx_http_requests_total{route,status}
	httpRequestsTotal *prometheus.CounterVec

	// checkcx_http_request_duration_seconds{route}
	httpDuration *prometheus.HistogramVec

	// checkcx_inflight_requests
	inFlight prometheus.Gauge

	// checkcx_build_info{version}
	buildInfo *prometheus.GaugeVec

	metricsHandler fasthttp.RequestHandler
}

func New() *Registry {
	reg := prometheus.NewRegistry()

	// Baseline runtime metrics even with a private registry.
	reg.MustRegister(prometheus.NewGoCollector())
	reg.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	r := &Registry{
		reg: reg,

		checksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "checkcx_checks_total",
				Help: "Total probe outcomes by provider type and status",
			},
			[]string{"provider", "status"},
		),

		checkDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "checkcx_check_duration_seconds",
				Help:    "End-to-end probe duration in seconds",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 4, 6, 10, 15, 30, 45},
			},
			[]string{"provider"},
		),

		pingDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "checkcx_ping_duration_seconds",
				Help:    "Endpoint ping round-trip in seconds",
				Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8},
			},
			[]string{"provider"},
		),

		refreshTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "checkcx_refresh_total",
				Help: "Snapshot refresh runs by scope kind and result",
			},
			[]string{"scope", "result"},
		),

		coalescedLoads: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "checkcx_coalesced_loads_total",
			Help: "Snapshot loads that joined an already-inflight refresh",
		}),

		officialStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "checkcx_official_status",
				Help: "Vendor-reported status (0=operational,1=degraded,2=down,3=unknown)",
			},
			[]string{"provider"},
		),

		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "checkcx_http_requests_total",
				Help: "Total number of HTTP requests handled",
			},
			[]string{"route", "status"},
		),

		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "checkcx_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 15, 45, 60},
			},
			[]string{"route"},
		),

		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "checkcx_inflight_requests",
			Help: "Current number of in-flight HTTP requests",
		}),

		buildInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "checkcx_build_info",
				Help: "Build information",
			},
			[]string{"version"},
		),
	}

	reg.MustRegister(
		r.checksTotal,
		r.checkDuration,
		r.pingDuration,
		r.refreshTotal,
		r.coalescedLoads,
		r.officialStatus,
		r.httpRequestsTotal,
		r.httpDuration,
		r.inFlight,
		r.buildInfo,
	)

	h := promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	r.metricsHandler = fasthttpadaptor.NewFastHTTPHandler(h)

	return r
}

// ObserveCheck records one probe outcome.
func (r *Registry) ObserveCheck(provider, status string, dur time.Duration) {
	r.checksTotal.WithLabelValues(provider, status).Inc()
	r.checkDuration.WithLabelValues(provider).Observe(dur.Seconds())
}

// ObservePing records one endpoint ping round-trip.
func (r *Registry) ObservePing(provider string, dur time.Duration) {
	r.pingDuration.WithLabelValues(provider).Observe(dur.Seconds())
}

// RecordRefresh records one refresh run for a scope kind ("dashboard"/"group").
func (r *Registry) RecordRefresh(scope, result string) {
	r.refreshTotal.WithLabelValues(scope, result).Inc()
}

// RecordCoalescedLoad counts a load that shared an inflight refresh.
func (r *Registry) RecordCoalescedLoad() {
	r.coalescedLoads.Inc()
}

// SetOfficialStatus exports the latest vendor-reported status as a gauge.
func (r *Registry) SetOfficialStatus(provider string, status string) {
	var v float64
	switch status {
	case "operational":
		v = 0
	case "degraded":
		v = 1
	case "down":
		v = 2
	default:
		v = 3
	}
	r.officialStatus.WithLabelValues(provider).Set(v)
}

// ObserveHTTP records end-to-end HTTP metrics.
func (r *Registry) ObserveHTTP(route string, statusCode int, dur time.Duration) {
	r.httpRequestsTotal.WithLabelValues(route, strconv.Itoa(statusCode)).Inc()
	r.httpDuration.WithLabelValues(route).Observe(dur.Seconds())
}

func (r *Registry) IncInFlight() { r.inFlight.Inc() }
func (r *Registry) DecInFlight() { r.inFlight.Dec() }

func (r *Registry) SetBuildInfo(version string) {
	// Gauge is used so the time series always exists.
	r.buildInfo.WithLabelValues(version).Set(1)
}

func (r *Registry) Handler() fasthttp.RequestHandler {
	return r.metricsHandler
}

func (r *Registry) PromRegistry() *prometheus.Registry { return r.reg }
