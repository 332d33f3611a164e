package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// WorkerMetrics covers the audit consumer and the heartbeat scheduler.
type WorkerMetrics struct {
	registry *prometheus.Registry
	service  string

	eventsTotal        *prometheus.CounterVec
	eventsInFlight     prometheus.Gauge
	queueLag           *prometheus.HistogramVec
	compositionWrites  *prometheus.CounterVec
	jobRunsTotal       *prometheus.CounterVec
	jobDuration        *prometheus.HistogramVec
	breakerTransitions *prometheus.CounterVec
}

func NewWorkerMetrics(service string) *WorkerMetrics {
	registry := prometheus.NewRegistry()

	eventsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "composition_events_total",
			Help:      "Consumed composition audit events by kind and status.",
		},
		[]string{"service", "kind", "status"},
	)
	eventsInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "composition_events_in_flight",
			Help:      "Number of composition events being persisted.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	queueLag := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "queue_lag_seconds",
			Help:      "Delay between composition and persistence of its audit entry.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"service"},
	)
	jobRunsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "heartbeat",
			Name:      "job_runs_total",
			Help:      "Heartbeat job runs by job and status.",
		},
		[]string{"service", "job", "status"},
	)
	jobDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "heartbeat",
			Name:      "job_duration_seconds",
			Help:      "Heartbeat job duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "job"},
	)
	compositionWrites := newCompositionWrites()
	breakerTransitions := newBreakerTransitions()

	registry.MustRegister(eventsTotal, eventsInFlight, queueLag, jobRunsTotal, jobDuration, compositionWrites, breakerTransitions)

	return &WorkerMetrics{
		registry:           registry,
		service:            service,
		eventsTotal:        eventsTotal,
		eventsInFlight:     eventsInFlight,
		queueLag:           queueLag,
		compositionWrites:  compositionWrites,
		jobRunsTotal:       jobRunsTotal,
		jobDuration:        jobDuration,
		breakerTransitions: breakerTransitions,
	}
}

func (m *WorkerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *WorkerMetrics) StartEvent() {
	m.eventsInFlight.Inc()
}

func (m *WorkerMetrics) FinishEvent(kind string, err error) {
	m.eventsInFlight.Dec()

	status := "success"
	if err != nil {
		status = "error"
	}
	m.eventsTotal.WithLabelValues(m.service, kind, status).Inc()
}

func (m *WorkerMetrics) ObserveQueueLag(lag time.Duration) {
	if lag < 0 {
		return
	}
	m.queueLag.WithLabelValues(m.service).Observe(lag.Seconds())
}

func (m *WorkerMetrics) ObserveCompositionWrite(kind, status string) {
	m.compositionWrites.WithLabelValues(m.service, kind, status).Inc()
}

func (m *WorkerMetrics) ObserveHeartbeatJob(job string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.jobRunsTotal.WithLabelValues(m.service, job, status).Inc()
	m.jobDuration.WithLabelValues(m.service, job).Observe(duration.Seconds())
}

func (m *WorkerMetrics) ObserveBreakerState(operation, _, to string) {
	m.breakerTransitions.WithLabelValues(m.service, operation, to).Inc()
}
