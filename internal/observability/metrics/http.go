package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kirillkom/frepi-finance/internal/core/domain"
)

const namespace = "frepi"

// HTTPServerMetrics is the registry of the API binary. Besides HTTP traffic
// it observes the agent loop, prompt composition and audit writes.
type HTTPServerMetrics struct {
	registry *prometheus.Registry
	service  string

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestInFlight prometheus.Gauge

	agentTurnsTotal     *prometheus.CounterVec
	agentIterations     *prometheus.HistogramVec
	agentToolCallsTotal *prometheus.CounterVec
	promptTokens        *prometheus.HistogramVec
	promptDuration      prometheus.Histogram
	dbContextDrops      prometheus.Counter
	compositionWrites   *prometheus.CounterVec
	breakerTransitions  *prometheus.CounterVec
}

func NewHTTPServerMetrics(service string) *HTTPServerMetrics {
	registry := prometheus.NewRegistry()

	requestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		},
		[]string{"service", "method", "path", "status"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "method", "path"},
	)
	requestInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Number of in-flight HTTP requests.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	agentTurnsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "agent",
			Name:      "turns_total",
			Help:      "Total handled conversation turns by intent and status.",
		},
		[]string{"service", "intent", "status"},
	)
	agentIterations := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "agent",
			Name:      "loop_iterations",
			Help:      "Distribution of model calls per turn.",
			Buckets:   []float64{1, 2, 3, 4, 5, 6, 8, 10},
		},
		[]string{"service", "intent"},
	)
	agentToolCallsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "agent",
			Name:      "tool_calls_total",
			Help:      "Total tool calls performed by the agent.",
		},
		[]string{"service", "tool", "status"},
	)
	promptTokens := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "prompt",
			Name:      "composed_tokens",
			Help:      "Estimated tokens of the composed system prompt.",
			Buckets:   []float64{250, 500, 1000, 1500, 2000, 3000, 4000, 6000},
		},
		[]string{"service", "intent"},
	)
	promptDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   "prompt",
			Name:        "compose_duration_seconds",
			Help:        "Prompt composition duration in seconds.",
			Buckets:     []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
			ConstLabels: prometheus.Labels{"service": service},
		},
	)
	dbContextDrops := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "prompt",
			Name:        "db_context_dropped_total",
			Help:        "Composed prompts that dropped the database context to fit the token budget.",
			ConstLabels: prometheus.Labels{"service": service},
		},
	)
	compositionWrites := newCompositionWrites()
	breakerTransitions := newBreakerTransitions()

	registry.MustRegister(
		requestTotal,
		requestDuration,
		requestInFlight,
		agentTurnsTotal,
		agentIterations,
		agentToolCallsTotal,
		promptTokens,
		promptDuration,
		dbContextDrops,
		compositionWrites,
		breakerTransitions,
	)

	return &HTTPServerMetrics{
		registry:            registry,
		service:             service,
		requestTotal:        requestTotal,
		requestDuration:     requestDuration,
		requestInFlight:     requestInFlight,
		agentTurnsTotal:     agentTurnsTotal,
		agentIterations:     agentIterations,
		agentToolCallsTotal: agentToolCallsTotal,
		promptTokens:        promptTokens,
		promptDuration:      promptDuration,
		dbContextDrops:      dbContextDrops,
		compositionWrites:   compositionWrites,
		breakerTransitions:  breakerTransitions,
	}
}

func newCompositionWrites() *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "composition_log",
			Name:      "writes_total",
			Help:      "Composition audit writes by kind and status.",
		},
		[]string{"service", "kind", "status"},
	)
}

func newBreakerTransitions() *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "resilience",
			Name:      "breaker_transitions_total",
			Help:      "Circuit breaker state transitions by operation.",
		},
		[]string{"service", "operation", "to"},
	)
}

func (m *HTTPServerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *HTTPServerMetrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		path := normalizePath(r.URL.Path)
		recorder := &statusRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		m.requestInFlight.Inc()
		defer m.requestInFlight.Dec()

		next.ServeHTTP(recorder, r)

		m.requestTotal.WithLabelValues(
			m.service,
			r.Method,
			path,
			strconv.Itoa(recorder.statusCode),
		).Inc()
		m.requestDuration.WithLabelValues(m.service, r.Method, path).Observe(time.Since(start).Seconds())
	})
}

func normalizePath(path string) string {
	switch {
	case strings.HasPrefix(path, "/v1/compositions/"):
		return "/v1/compositions/{id}/feedback"
	default:
		return path
	}
}

func (m *HTTPServerMetrics) ObserveTurn(intent domain.Intent, status string, iterations int) {
	if status == "" {
		status = "unknown"
	}
	m.agentTurnsTotal.WithLabelValues(m.service, string(intent), status).Inc()
	if iterations > 0 {
		m.agentIterations.WithLabelValues(m.service, string(intent)).Observe(float64(iterations))
	}
}

func (m *HTTPServerMetrics) ObserveToolCall(tool, status string) {
	if tool == "" {
		tool = "unknown"
	}
	if status == "" {
		status = "unknown"
	}
	m.agentToolCallsTotal.WithLabelValues(m.service, tool, status).Inc()
}

func (m *HTTPServerMetrics) ObserveComposition(prompt domain.ComposedPrompt) {
	m.promptTokens.WithLabelValues(m.service, string(prompt.Intent)).Observe(float64(prompt.TotalTokens))
	m.promptDuration.Observe(prompt.Duration.Seconds())
	if prompt.DroppedDBContext {
		m.dbContextDrops.Inc()
	}
}

func (m *HTTPServerMetrics) ObserveCompositionWrite(kind, status string) {
	m.compositionWrites.WithLabelValues(m.service, kind, status).Inc()
}

// ObserveBreakerState matches resilience.WithStateObserver.
func (m *HTTPServerMetrics) ObserveBreakerState(operation, _, to string) {
	m.breakerTransitions.WithLabelValues(m.service, operation, to).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusRecorder) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *statusRecorder) Flush() {
	flusher, ok := w.ResponseWriter.(http.Flusher)
	if ok {
		flusher.Flush()
	}
}

func (w *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not implement http.Hijacker")
	}
	return hijacker.Hijack()
}
