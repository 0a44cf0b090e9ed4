// Package metrics exposes lifecycle and transport counters to Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "expertflow"

// Metrics owns a private registry so tests can build as many as they like.
type Metrics struct {
	registry    *prometheus.Registry
	transitions *prometheus.CounterVec
	outbox      *prometheus.CounterVec
	requests    *prometheus.HistogramVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lifecycle_transitions_total",
			Help:      "Committed status changes by entity and resulting status.",
		}, []string{"entity", "status"}),
		outbox: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_deliveries_total",
			Help:      "Outbox delivery attempts by topic and outcome.",
		}, []string{"topic", "outcome"}),
		requests: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route pattern, method and status code.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method", "code"}),
	}
	m.registry.MustRegister(
		m.transitions,
		m.outbox,
		m.requests,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Transition counts a committed status change.
func (m *Metrics) Transition(entity, status string) {
	m.transitions.WithLabelValues(entity, status).Inc()
}

func (m *Metrics) Delivered(topic string) {
	m.outbox.WithLabelValues(topic, "delivered").Inc()
}

func (m *Metrics) Failed(topic string, dead bool) {
	outcome := "retry"
	if dead {
		outcome = "dead"
	}
	m.outbox.WithLabelValues(topic, outcome).Inc()
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Middleware records request latency labelled by the matched chi route, so
// ids in the path do not explode cardinality.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil {
			if p := rc.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.requests.WithLabelValues(route, r.Method, strconv.Itoa(status)).Observe(time.Since(start).Seconds())
	})
}
