// Package metrics exposes Prometheus collectors for pipeline creation,
// execution outcomes and HTTP traffic on a private registry.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pipelink"

type Registry struct {
	registry *prometheus.Registry

	PipelinesCreated    *prometheus.CounterVec
	Executions          *prometheus.CounterVec
	ExecutionDuration   *prometheus.HistogramVec
	LockContention      prometheus.Counter
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

func New() *Registry {
	reg := prometheus.NewRegistry()
	r := &Registry{
		registry: reg,
		PipelinesCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipelines_created_total",
			Help:      "Pipelines submitted for creation, by result.",
		}, []string{"result"}),
		Executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_executions_total",
			Help:      "Finished execution attempts, by outcome and failure reason.",
		}, []string{"outcome", "reason"}),
		ExecutionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_execution_duration_seconds",
			Help:      "Wall time of execution attempts.",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"outcome"}),
		LockContention: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "execution_lock_contention_total",
			Help:      "Execute requests refused because the pipeline was already running.",
		}),
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests served.",
		}, []string{"method", "route", "status_code"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
	reg.MustRegister(
		r.PipelinesCreated,
		r.Executions,
		r.ExecutionDuration,
		r.LockContention,
		r.HTTPRequestsTotal,
		r.HTTPRequestDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

func (r *Registry) PipelineCreated(result string) {
	if r == nil {
		return
	}
	r.PipelinesCreated.WithLabelValues(result).Inc()
}

// ExecutionFinished records one attempt. reason is empty for successes.
func (r *Registry) ExecutionFinished(outcome, reason string, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.Executions.WithLabelValues(outcome, reason).Inc()
	r.ExecutionDuration.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

func (r *Registry) LockContended() {
	if r == nil {
		return
	}
	r.LockContention.Inc()
}

// ObserveRequest matches httpserver.RequestObserver.
func (r *Registry) ObserveRequest(method, route string, status int, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	r.HTTPRequestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.registry
}
