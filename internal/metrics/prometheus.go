// Package metrics provides a Prometheus metrics registry for the router.
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

var durationBuckets = []float64{0.001, 0.002, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30, 60, 120, 300}

// Registry holds all exported metrics.
type Registry struct {
	reg *prometheus.Registry

	// router_inflight_requests
	inFlight prometheus.Gauge

	// router_http_requests_total{route,status}
	httpRequestsTotal *prometheus.CounterVec

	// router_http_request_duration_seconds{route}
	httpDuration *prometheus.HistogramVec

	// router_http_request_size_bytes{route}
	httpReqSize *prometheus.HistogramVec

	// router_http_response_size_bytes{route,status}
	httpRespSize *prometheus.HistogramVec

	// router_requests_total{dialect,status}
	requestsTotal *prometheus.CounterVec

	// router_upstream_attempts_total{dialect,route,outcome}
	upstreamAttempts *prometheus.CounterVec

	// router_upstream_duration_seconds{dialect,route,outcome}
	upstreamDuration *prometheus.HistogramVec

	// router_auth_denials_total{reason}
	authDenials *prometheus.CounterVec

	// router_model_unsupported_total
	modelUnsupported prometheus.Counter

	// router_ratelimit_total{result}
	rateLimitTotal *prometheus.CounterVec

	// router_stream_frames_total{dialect}
	streamFrames *prometheus.CounterVec

	// router_translation_anomalies_total{dialect}
	translationAnomalies *prometheus.CounterVec

	// router_store_up
	storeUp prometheus.Gauge

	// router_provider_health{provider}
	providerHealth *prometheus.GaugeVec

	// router_build_info{version}
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

		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "router_inflight_requests",
			Help: "Current number of in-flight proxied requests",
		}),

		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "router_http_requests_total",
				Help: "Total number of HTTP requests handled by the router",
			},
			[]string{"route", "status"},
		),

		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "router_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds (end-to-end, until the stream drains)",
				Buckets: durationBuckets,
			},
			[]string{"route"},
		),

		httpReqSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "router_http_request_size_bytes",
				Help:    "HTTP request body size in bytes",
				Buckets: prometheus.ExponentialBuckets(256, 2, 12), // 256B .. ~512KB
			},
			[]string{"route"},
		),

		httpRespSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "router_http_response_size_bytes",
				Help:    "HTTP response body size in bytes",
				Buckets: prometheus.ExponentialBuckets(256, 2, 14), // 256B .. ~2MB
			},
			[]string{"route", "status"},
		),

		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "router_requests_total",
				Help: "Total number of proxied requests by upstream dialect",
			},
			[]string{"dialect", "status"},
		),

		upstreamAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "router_upstream_attempts_total",
				Help: "Total upstream calls by outcome",
			},
			[]string{"dialect", "route", "outcome"},
		),

		upstreamDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "router_upstream_duration_seconds",
				Help:    "Time until upstream response headers, in seconds",
				Buckets: durationBuckets,
			},
			[]string{"dialect", "route", "outcome"},
		),

		authDenials: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "router_auth_denials_total",
				Help: "Requests rejected by the token gate",
			},
			[]string{"reason"},
		),

		modelUnsupported: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "router_model_unsupported_total",
			Help: "Requests for a model with no provider record",
		}),

		rateLimitTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "router_ratelimit_total",
				Help: "Rate limit decisions",
			},
			[]string{"result"},
		),

		streamFrames: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "router_stream_frames_total",
				Help: "Re-framed stream chunks emitted to callers",
			},
			[]string{"dialect"},
		),

		translationAnomalies: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "router_translation_anomalies_total",
				Help: "Upstream stream lines dropped because they could not be parsed",
			},
			[]string{"dialect"},
		),

		storeUp: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "router_store_up",
			Help: "Provider/token store reachability (1=ok, 0=down)",
		}),

		providerHealth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "router_provider_health",
				Help: "Result of the last provider probe (1=ok, 0=degraded)",
			},
			[]string{"provider"},
		),

		buildInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "router_build_info",
				Help: "Build information",
			},
			[]string{"version"},
		),
	}

	reg.MustRegister(
		r.inFlight,
		r.httpRequestsTotal,
		r.httpDuration,
		r.httpReqSize,
		r.httpRespSize,
		r.requestsTotal,
		r.upstreamAttempts,
		r.upstreamDuration,
		r.authDenials,
		r.modelUnsupported,
		r.rateLimitTotal,
		r.streamFrames,
		r.translationAnomalies,
		r.storeUp,
		r.providerHealth,
		r.buildInfo,
	)

	h := promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	r.metricsHandler = fasthttpadaptor.NewFastHTTPHandler(h)

	return r
}

func (r *Registry) IncInFlight() { r.inFlight.Inc() }
func (r *Registry) DecInFlight() { r.inFlight.Dec() }

// ObserveHTTP records end-to-end HTTP metrics. Negative sizes are skipped.
func (r *Registry) ObserveHTTP(route string, statusCode int, dur time.Duration, reqBytes, respBytes int) {
	status := strconv.Itoa(statusCode)
	r.httpRequestsTotal.WithLabelValues(route, status).Inc()
	r.httpDuration.WithLabelValues(route).Observe(dur.Seconds())
	if reqBytes >= 0 {
		r.httpReqSize.WithLabelValues(route).Observe(float64(reqBytes))
	}
	if respBytes >= 0 {
		r.httpRespSize.WithLabelValues(route, status).Observe(float64(respBytes))
	}
}

func (r *Registry) RecordRequest(dialect string, statusCode int) {
	r.requestsTotal.WithLabelValues(dialect, strconv.Itoa(statusCode)).Inc()
}

// ObserveUpstreamAttempt records one upstream call.
func (r *Registry) ObserveUpstreamAttempt(dialect, route, outcome string, dur time.Duration) {
	r.upstreamAttempts.WithLabelValues(dialect, route, outcome).Inc()
	r.upstreamDuration.WithLabelValues(dialect, route, outcome).Observe(dur.Seconds())
}

func (r *Registry) RecordAuthDenial(reason string) {
	r.authDenials.WithLabelValues(reason).Inc()
}

func (r *Registry) RecordModelUnsupported() { r.modelUnsupported.Inc() }

func (r *Registry) RecordRateLimit(result string) {
	r.rateLimitTotal.WithLabelValues(result).Inc()
}

// StreamFrame implements providers.StreamObserver.
func (r *Registry) StreamFrame(dialect string) {
	r.streamFrames.WithLabelValues(dialect).Inc()
}

// TranslationAnomaly implements providers.StreamObserver.
func (r *Registry) TranslationAnomaly(dialect string) {
	r.translationAnomalies.WithLabelValues(dialect).Inc()
}

func (r *Registry) SetStoreUp(ok bool) {
	if ok {
		r.storeUp.Set(1)
		return
	}
	r.storeUp.Set(0)
}

func (r *Registry) SetProviderHealth(provider string, ok bool) {
	if ok {
		r.providerHealth.WithLabelValues(provider).Set(1)
		return
	}
	r.providerHealth.WithLabelValues(provider).Set(0)
}

// DeleteProviderHealth drops the gauge of a removed provider record.
func (r *Registry) DeleteProviderHealth(provider string) {
	r.providerHealth.DeleteLabelValues(provider)
}

func (r *Registry) SetBuildInfo(version string) {
	// Gauge is used so the time series always exists.
	r.buildInfo.WithLabelValues(version).Set(1)
}

func (r *Registry) Handler() fasthttp.RequestHandler {
	return r.metricsHandler
}
func (r *Registry) PromRegistry() *prometheus.Registry { return r.reg }
