package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/DebasishTripathy13/CA/internal/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "certassist"

// Registry owns the service collectors. Each instance has its own
// prometheus registry so tests can build as many as they like.
type Registry struct {
	reg          *prometheus.Registry
	decisions    *prometheus.CounterVec
	transitions  *prometheus.CounterVec
	collaborator *prometheus.CounterVec
	httpRequests *prometheus.CounterVec
	httpLatency  *prometheus.HistogramVec
}

func New() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decisions_total",
			Help:      "Questionnaire evaluations by recommendation.",
		}, []string{"recommendation"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "request_transitions_total",
			Help:      "Lifecycle transitions attempted, by event and result.",
		}, []string{"event", "result"}),
		collaborator: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "collaborator_calls_total",
			Help:      "Calls to storage and the certificate authority.",
		}, []string{"collaborator", "op", "outcome"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status.",
		}, []string{"method", "route", "status"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
	r.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.decisions,
		r.transitions,
		r.collaborator,
		r.httpRequests,
		r.httpLatency,
	)
	return r
}

func (r *Registry) ObserveDecision(rec domain.Recommendation) {
	r.decisions.WithLabelValues(string(rec)).Inc()
}

func (r *Registry) ObserveTransition(event domain.LifecycleEvent, result string) {
	r.transitions.WithLabelValues(string(event), result).Inc()
}

func (r *Registry) ObserveCollaborator(name, op string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	r.collaborator.WithLabelValues(name, op, outcome).Inc()
}

func (r *Registry) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	r.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	r.httpLatency.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{Registry: r.reg})
}

// Gatherer exposes the underlying registry for tests.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}
