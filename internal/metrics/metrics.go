// Package metrics exposes queue and API counters in the Prometheus text
// format.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// QueueState is the read side of the activity queue sampled on scrape.
type QueueState interface {
	Size() int
	Flushing() bool
}

// Registry holds the collectors for one daemon instance. Its methods
// satisfy queue.Observer.
type Registry struct {
	namespace string
	reg       *prometheus.Registry

	enqueued      prometheus.Counter
	flushedBatch  prometheus.Counter
	persisted     prometheus.Counter
	inserted      prometheus.Counter
	flushFailures *prometheus.CounterVec
	requeued      prometheus.Counter
	dropped       prometheus.Counter
	flushSeconds  *prometheus.HistogramVec
	requests      *prometheus.CounterVec

	mu         sync.Mutex
	queueBound bool
}

// NewRegistry creates a registry whose metric names are prefixed with
// namespace ("actlog" when empty).
func NewRegistry(namespace string) *Registry {
	if namespace == "" {
		namespace = "actlog"
	}
	r := &Registry{namespace: namespace, reg: prometheus.NewRegistry()}

	r.enqueued = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "queue",
		Name:      "enqueued_total",
		Help:      "Activity records accepted into the queue.",
	})
	r.flushedBatch = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "queue",
		Name:      "flushes_total",
		Help:      "Successful flushes.",
	})
	r.persisted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "queue",
		Name:      "persisted_total",
		Help:      "Activity records handed to storage in successful flushes.",
	})
	r.inserted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "queue",
		Name:      "inserted_total",
		Help:      "Rows newly written by storage (duplicates excluded).",
	})
	r.flushFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "queue",
		Name:      "flush_failures_total",
		Help:      "Failed flushes by error kind.",
	}, []string{"kind"})
	r.requeued = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "queue",
		Name:      "requeued_total",
		Help:      "Activity records returned to the buffer after a failed flush.",
	})
	r.dropped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "queue",
		Name:      "dropped_total",
		Help:      "Activity records discarded after exhausting retries.",
	})
	r.flushSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "queue",
		Name:      "flush_duration_seconds",
		Help:      "Storage call latency per flush.",
		Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
	}, []string{"outcome"})
	r.requests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "api",
		Name:      "requests_total",
		Help:      "HTTP API requests by route and status code.",
	}, []string{"route", "code"})

	r.reg.MustRegister(
		r.enqueued,
		r.flushedBatch,
		r.persisted,
		r.inserted,
		r.flushFailures,
		r.requeued,
		r.dropped,
		r.flushSeconds,
		r.requests,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// RegisterQueue adds gauges sampled from q on every scrape. Only the first
// call registers; later calls are ignored.
func (r *Registry) RegisterQueue(q QueueState) {
	if r == nil || q == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.queueBound {
		return
	}
	r.queueBound = true
	r.reg.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: r.namespace,
			Subsystem: "queue",
			Name:      "size",
			Help:      "Activity records currently buffered.",
		}, func() float64 { return float64(q.Size()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: r.namespace,
			Subsystem: "queue",
			Name:      "flushing",
			Help:      "1 while a flush is in flight.",
		}, func() float64 {
			if q.Flushing() {
				return 1
			}
			return 0
		}),
	)
}

// Enqueued counts one accepted record.
func (r *Registry) Enqueued() { r.enqueued.Inc() }

// Flushed records a successful flush of count records.
func (r *Registry) Flushed(count int, inserted int64, elapsed time.Duration) {
	r.flushedBatch.Inc()
	r.persisted.Add(float64(count))
	r.inserted.Add(float64(inserted))
	r.flushSeconds.WithLabelValues("success").Observe(elapsed.Seconds())
}

// FlushFailed records a failed flush.
func (r *Registry) FlushFailed(_ int, kind string, elapsed time.Duration) {
	if kind == "" {
		kind = "unknown"
	}
	r.flushFailures.WithLabelValues(kind).Inc()
	r.flushSeconds.WithLabelValues("failure").Observe(elapsed.Seconds())
}

// Requeued counts records returned to the buffer.
func (r *Registry) Requeued(count int) { r.requeued.Add(float64(count)) }

// Dropped counts records discarded after their last retry.
func (r *Registry) Dropped(count int) { r.dropped.Add(float64(count)) }

// ObserveRequest counts one API response.
func (r *Registry) ObserveRequest(route string, code int) {
	if r == nil {
		return
	}
	r.requests.WithLabelValues(route, strconv.Itoa(code)).Inc()
}

// Gatherer exposes the underlying registry for tests and custom exporters.
func (r *Registry) Gatherer() prometheus.Gatherer { return r.reg }

// Handler returns the HTTP handler for GET /metrics.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}
