package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "colonyledger"

// Metrics owns a private registry so several servers (and tests) can coexist in one process.
type Metrics struct {
	registry *prometheus.Registry

	commands     *prometheus.CounterVec
	reconciles   *prometheus.HistogramVec
	persistErrs  prometheus.Counter
	publishErrs  prometheus.Counter
	kafkaErrs    *prometheus.CounterVec
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "commands_total",
			Help:      "Ledger commands by type and outcome.",
		}, []string{"type", "outcome"}),
		reconciles: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "duration_seconds",
			Help:      "Duration of colony view reconciliation.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"view", "outcome"}),
		persistErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "persist_errors_total",
			Help:      "Effects that could not be written to the record repository.",
		}),
		publishErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "publish_errors_total",
			Help:      "Effects that could not be published as record events.",
		}),
		kafkaErrs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "kafka",
			Name:      "errors_total",
			Help:      "Command feed errors by stage.",
		}, []string{"stage"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route and status.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}, []string{"method", "route"}),
	}
	m.registry.MustRegister(
		m.commands,
		m.reconciles,
		m.persistErrs,
		m.publishErrs,
		m.kafkaErrs,
		m.httpRequests,
		m.httpDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveCommand(commandType, outcome string) {
	m.commands.WithLabelValues(commandType, outcome).Inc()
}

func (m *Metrics) ObserveReconcile(view, outcome string, duration time.Duration) {
	m.reconciles.WithLabelValues(view, outcome).Observe(duration.Seconds())
}

func (m *Metrics) IncPersistErr() { m.persistErrs.Inc() }

func (m *Metrics) IncPublishErr() { m.publishErrs.Inc() }

func (m *Metrics) IncKafkaFetchErr() { m.kafkaErrs.WithLabelValues("fetch").Inc() }

func (m *Metrics) IncKafkaDecodeErr() { m.kafkaErrs.WithLabelValues("decode").Inc() }

func (m *Metrics) IncKafkaCommitErr() { m.kafkaErrs.WithLabelValues("commit").Inc() }

// instrument records request count and latency under the route pattern, not the raw path.
func (m *Metrics) instrument(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next(rec, r)
		m.httpDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		m.httpRequests.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
