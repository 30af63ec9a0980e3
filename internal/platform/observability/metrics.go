package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "voice"

// Metrics owns a private registry so tests and multiple servers in one
// process do not collide. All recorders are safe on a nil receiver.
type Metrics struct {
	registry *prometheus.Registry

	providerAttempts *prometheus.CounterVec
	providerDuration *prometheus.HistogramVec
	fallbacks        *prometheus.CounterVec
	synthesis        *prometheus.CounterVec
	cacheLookups     *prometheus.CounterVec
	callStates       *prometheus.CounterVec
	callsActive      prometheus.Gauge
	callFrames       *prometheus.CounterVec
	usageSeconds     *prometheus.CounterVec
	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		providerAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tts_provider_attempts_total",
			Help:      "TTS provider attempts by outcome",
		}, []string{"provider", "outcome"}),
		providerDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tts_provider_duration_seconds",
			Help:      "Duration of a single TTS provider attempt",
			Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"provider"}),
		fallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tts_fallbacks_total",
			Help:      "Times the chain advanced past a failed provider",
		}, []string{"from"}),
		synthesis: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tts_requests_total",
			Help:      "Synthesis requests by final status",
		}, []string{"status"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tts_cache_lookups_total",
			Help:      "Result cache lookups",
		}, []string{"result"}),
		callStates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "call_state_transitions_total",
			Help:      "Live call state transitions",
		}, []string{"state"}),
		callsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "calls_active",
			Help:      "Live calls currently open",
		}),
		callFrames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "call_frames_total",
			Help:      "Audio frames moved during live calls",
		}, []string{"direction"}),
		usageSeconds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "usage_seconds_total",
			Help:      "Audio seconds recorded for rewards",
		}, []string{"source"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status",
		}, []string{"method", "path", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.providerAttempts,
		m.providerDuration,
		m.fallbacks,
		m.synthesis,
		m.cacheLookups,
		m.callStates,
		m.callsActive,
		m.callFrames,
		m.usageSeconds,
		m.httpRequests,
		m.httpDuration,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ProviderAttempt records one attempt; outcome is "success" or an error kind.
func (m *Metrics) ProviderAttempt(provider, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.providerAttempts.WithLabelValues(provider, outcome).Inc()
	m.providerDuration.WithLabelValues(provider).Observe(seconds)
}

func (m *Metrics) Fallback(from string) {
	if m == nil {
		return
	}
	m.fallbacks.WithLabelValues(from).Inc()
}

func (m *Metrics) SynthesisDone(status string) {
	if m == nil {
		return
	}
	m.synthesis.WithLabelValues(status).Inc()
}

func (m *Metrics) CacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

func (m *Metrics) CallState(state string) {
	if m == nil {
		return
	}
	m.callStates.WithLabelValues(state).Inc()
}

func (m *Metrics) CallOpened() {
	if m == nil {
		return
	}
	m.callsActive.Inc()
}

func (m *Metrics) CallClosed() {
	if m == nil {
		return
	}
	m.callsActive.Dec()
}

// CallFrame counts frames; direction is "out" or "in".
func (m *Metrics) CallFrame(direction string) {
	if m == nil {
		return
	}
	m.callFrames.WithLabelValues(direction).Inc()
}

func (m *Metrics) Usage(source string, seconds float64) {
	if m == nil {
		return
	}
	m.usageSeconds.WithLabelValues(source).Add(seconds)
}

func (m *Metrics) HTTPRequest(method, path, status string, seconds float64) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, path, status).Inc()
	m.httpDuration.WithLabelValues(method, path).Observe(seconds)
}
