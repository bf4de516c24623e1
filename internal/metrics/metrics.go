// Package metrics exposes Prometheus counters and gauges for the supervisor.
//
// Every method is safe on a nil *Recorder so callers can leave metrics off.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder owns a registry and the warmbridge collectors registered in it.
type Recorder struct {
	registry *prometheus.Registry

	invocations   *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	spawns        prometheus.Counter
	workerAlive   prometheus.Gauge
	notifications *prometheus.CounterVec
	inFlight      prometheus.Gauge
}

// New builds a Recorder on a fresh registry, including Go runtime and process collectors.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	r := &Recorder{
		registry: reg,
		invocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warmbridge_invocations_total",
			Help: "Invocations by outcome (completed, timed_out, crashed, spawn_failed, handoff_failed)",
		}, []string{"outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "warmbridge_invocation_duration_seconds",
			Help:    "Wall time from request handoff to outcome",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 300, 900},
		}, []string{"outcome"}),
		spawns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "warmbridge_worker_spawns_total",
			Help: "Worker processes started",
		}),
		workerAlive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "warmbridge_worker_alive",
			Help: "1 while a warm worker is running",
		}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warmbridge_notifications_total",
			Help: "Failure notifications by delivery result (delivered, failed)",
		}, []string{"result"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "warmbridge_invocations_in_flight",
			Help: "Invocations currently being served",
		}),
	}
	reg.MustRegister(
		r.invocations,
		r.duration,
		r.spawns,
		r.workerAlive,
		r.notifications,
		r.inFlight,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// Registry returns the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// ObserveInvocation counts one finished invocation.
func (r *Recorder) ObserveInvocation(outcome string, d time.Duration) {
	if r == nil {
		return
	}
	r.invocations.WithLabelValues(outcome).Inc()
	r.duration.WithLabelValues(outcome).Observe(d.Seconds())
}

// WorkerSpawned counts a new worker.
func (r *Recorder) WorkerSpawned() {
	if r == nil {
		return
	}
	r.spawns.Inc()
}

// SetWorkerAlive records whether a warm worker is running.
func (r *Recorder) SetWorkerAlive(alive bool) {
	if r == nil {
		return
	}
	if alive {
		r.workerAlive.Set(1)
	} else {
		r.workerAlive.Set(0)
	}
}

// NotificationResult counts a delivery attempt.
func (r *Recorder) NotificationResult(err error) {
	if r == nil {
		return
	}
	if err != nil {
		r.notifications.WithLabelValues("failed").Inc()
		return
	}
	r.notifications.WithLabelValues("delivered").Inc()
}

// InvocationStarted marks an invocation as in flight.
func (r *Recorder) InvocationStarted() {
	if r == nil {
		return
	}
	r.inFlight.Inc()
}

// InvocationFinished clears an in-flight invocation.
func (r *Recorder) InvocationFinished() {
	if r == nil {
		return
	}
	r.inFlight.Dec()
}
