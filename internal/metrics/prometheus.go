// Package metrics provides a Prometheus metrics registry for the consensus
// service.
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

	// consensus_inflight_requests
	inFlight prometheus.Gauge

	// consensus_http_requests_total{route,status}
	httpRequestsTotal *prometheus.CounterVec

	// consensus_http_request_duration_seconds{route}
	httpDuration *prometheus.HistogramVec

	// consensus_score{method}
	scoreHist *prometheus.HistogramVec

	// consensus_request_duration_seconds{method,cache}
	consensusDuration *prometheus.HistogramVec

	// consensus_requests_total{method,outcome}
	consensusTotal *prometheus.CounterVec

	// consensus_provider_calls_total{model,outcome}
	providerCalls *prometheus.CounterVec

	// consensus_provider_call_duration_seconds{model}
	providerDuration *prometheus.HistogramVec

	// consensus_provider_errors_total{model,error_kind}
	providerErrors *prometheus.CounterVec

	// consensus_chain_rounds_total{accepted}
	chainRounds *prometheus.CounterVec

	// cache_hits_total / cache_misses_total
	cacheHits   prometheus.Counter
	cacheMisses prometheus.Counter

	// consensus_cache_operations_total{op,result}
	cacheOps *prometheus.CounterVec

	// consensus_ratelimit_total{class,result}
	rateLimitTotal *prometheus.CounterVec

	// consensus_tokens_total{model,direction}
	tokensTotal *prometheus.CounterVec

	// consensus_build_info{version}
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
			Name: "consensus_inflight_requests",
			Help: "Current number of in-flight HTTP requests",
		}),

		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "consensus_http_requests_total",
				Help: "Total number of HTTP requests handled",
			},
			[]string{"route", "status"},
		),

		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "consensus_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds (end-to-end)",
				Buckets: []float64{0.001, 0.002, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
			},
			[]string{"route"},
		),

		scoreHist: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "consensus_score",
				Help:    "Distribution of final agreement scores",
				Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.75, 0.8, 0.85, 0.9, 0.95, 1},
			},
			[]string{"method"},
		),

		consensusDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "consensus_request_duration_seconds",
				Help:    "Consensus pipeline duration in seconds",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
			},
			[]string{"method", "cache"},
		),

		consensusTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "consensus_requests_total",
				Help: "Consensus pipeline outcomes",
			},
			[]string{"method", "outcome"},
		),

		providerCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "consensus_provider_calls_total",
				Help: "Provider call attempts (includes retries)",
			},
			[]string{"model", "outcome"},
		),

		providerDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "consensus_provider_call_duration_seconds",
				Help:    "Provider call attempt duration in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
			},
			[]string{"model"},
		),

		providerErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "consensus_provider_errors_total",
				Help: "Provider call failures by error kind",
			},
			[]string{"model", "error_kind"},
		),

		chainRounds: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "consensus_chain_rounds_total",
				Help: "Critique-and-revise rounds by acceptance",
			},
			[]string{"accepted"},
		),

		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cache_hits_total",
			Help: "Total cache hits",
		}),

		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cache_misses_total",
			Help: "Total cache misses",
		}),

		cacheOps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "consensus_cache_operations_total",
				Help: "Cache operations by type and result",
			},
			[]string{"op", "result"},
		),

		rateLimitTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "consensus_ratelimit_total",
				Help: "Rate limit decisions by endpoint class",
			},
			[]string{"class", "result"},
		),

		tokensTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "consensus_tokens_total",
				Help: "Token usage totals derived from provider usage fields",
			},
			[]string{"model", "direction"},
		),

		buildInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "consensus_build_info",
				Help: "Build information",
			},
			[]string{"version"},
		),
	}

	reg.MustRegister(
		r.inFlight,
		r.httpRequestsTotal,
		r.httpDuration,
		r.scoreHist,
		r.consensusDuration,
		r.consensusTotal,
		r.providerCalls,
		r.providerDuration,
		r.providerErrors,
		r.chainRounds,
		r.cacheHits,
		r.cacheMisses,
		r.cacheOps,
		r.rateLimitTotal,
		r.tokensTotal,
		r.buildInfo,
	)

	h := promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	r.metricsHandler = fasthttpadaptor.NewFastHTTPHandler(h)

	return r
}

func (r *Registry) IncInFlight() { r.inFlight.Inc() }
func (r *Registry) DecInFlight() { r.inFlight.Dec() }

// ObserveHTTP records end-to-end HTTP metrics.
func (r *Registry) ObserveHTTP(route string, statusCode int, dur time.Duration) {
	status := strconv.Itoa(statusCode)
	r.httpRequestsTotal.WithLabelValues(route, status).Inc()
	r.httpDuration.WithLabelValues(route).Observe(dur.Seconds())
}

// ObserveConsensus records one completed consensus pipeline run.
func (r *Registry) ObserveConsensus(method, outcome string, cached bool, score float64, dur time.Duration) {
	cache := "miss"
	if cached {
		cache = "hit"
	}
	r.consensusTotal.WithLabelValues(method, outcome).Inc()
	r.consensusDuration.WithLabelValues(method, cache).Observe(dur.Seconds())
	if outcome == "ok" {
		r.scoreHist.WithLabelValues(method).Observe(score)
	}
}

// ObserveProviderCall records one provider call attempt.
func (r *Registry) ObserveProviderCall(model, outcome string, dur time.Duration) {
	r.providerCalls.WithLabelValues(model, outcome).Inc()
	r.providerDuration.WithLabelValues(model).Observe(dur.Seconds())
}

func (r *Registry) RecordProviderError(model, errKind string) {
	r.providerErrors.WithLabelValues(model, errKind).Inc()
}

func (r *Registry) RecordChainRound(accepted bool) {
	r.chainRounds.WithLabelValues(strconv.FormatBool(accepted)).Inc()
}

func (r *Registry) RecordRateLimit(class, result string) {
	r.rateLimitTotal.WithLabelValues(class, result).Inc()
}

func (r *Registry) CacheGetHit() {
	r.cacheHits.Inc()
	r.cacheOps.WithLabelValues("get", "hit").Inc()
}

func (r *Registry) CacheGetMiss() {
	r.cacheMisses.Inc()
	r.cacheOps.WithLabelValues("get", "miss").Inc()
}

func (r *Registry) CacheGetBypass() {
	r.cacheOps.WithLabelValues("get", "bypass").Inc()
}

func (r *Registry) CacheSetOK() {
	r.cacheOps.WithLabelValues("set", "ok").Inc()
}

func (r *Registry) CacheSetError() {
	r.cacheOps.WithLabelValues("set", "error").Inc()
}

func (r *Registry) AddTokens(model string, promptTokens, completionTokens int) {
	if promptTokens > 0 {
		r.tokensTotal.WithLabelValues(model, "input").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		r.tokensTotal.WithLabelValues(model, "output").Add(float64(completionTokens))
	}
}

// RegisterBacklogGauges exposes the analytics queue depth and drop count as
// gauges computed at scrape time.
func (r *Registry) RegisterBacklogGauges(backlog func() int, dropped func() int64) {
	r.reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "consensus_analytics_backlog",
		Help: "Current analytics sink queue depth",
	}, func() float64 { return float64(backlog()) }))

	r.reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "consensus_analytics_dropped_total",
		Help: "Analytics records dropped due to backpressure",
	}, func() float64 { return float64(dropped()) }))
}

func (r *Registry) SetBuildInfo(version string) {
	// Gauge is used so the time series always exists.
	r.buildInfo.WithLabelValues(version).Set(1)
}

func (r *Registry) Handler() fasthttp.RequestHandler {
	return r.metricsHandler
}

func (r *Registry) PromRegistry() *prometheus.Registry { return r.reg }
