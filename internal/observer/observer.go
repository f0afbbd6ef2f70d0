// Package observer implements the Observability component (component L):
// per-request Record aggregation into per-listener totals (cumulative
// status-class counts, a fixed-size latency reservoir, and route and
// upstream error counts; no per-second or per-minute time series is
// kept), a batched flush to an external sink, and a Prometheus registry,
// grounded on metrics.go's promauto.NewCounterVec/NewHistogramVec
// registration idiom, generalized from the admin API's own request
// count to every proxied request's outcome.
package observer

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/userfhy/SSLProxyManager-Tauri/internal/httpproxy"
	"github.com/userfhy/SSLProxyManager-Tauri/internal/metrics"
)

const (
	reservoirSize  = 512
	topKSize       = 10
	flushInterval  = 2 * time.Second
	flushBatchSize = 256
	sinkQueueSize  = 4096
)

// Sink receives batches of Records for external storage (the admin API's
// query_request_logs backing store, e.g.).
type Sink interface {
	Flush(batch []httpproxy.Record)
}

// Metrics is the Prometheus registry wiring for proxied requests,
// registered once per process the way metrics.go's init() does for the
// admin API.
type Metrics struct {
	requestsTotal   *prometheus.CounterVec
	requestsByCode  *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	bytesTotal      *prometheus.CounterVec
}

// NewMetrics constructs and registers the Prometheus collectors against
// reg. Pass prometheus.DefaultRegisterer for the process-wide registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	const ns = "proxycore"
	return &Metrics{
		requestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Count of proxied HTTP requests by listener, route, and status class.",
		}, []string{"listener", "route", "status_class"}),
		requestsByCode: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: "http",
			Name:      "requests_by_code_total",
			Help:      "Count of proxied HTTP requests by listener, sanitized method, and exact status code.",
		}, []string{"listener", "method", "code"}),
		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Latency of proxied HTTP requests.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"listener", "route"}),
		bytesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: "http",
			Name:      "bytes_total",
			Help:      "Bytes transferred by direction.",
		}, []string{"listener", "direction"}),
	}
}

func (m *Metrics) observe(rec httpproxy.Record) {
	if m == nil {
		return
	}
	class := statusClass(rec.Status)
	m.requestsTotal.WithLabelValues(rec.Listener, rec.RouteID, class).Inc()
	m.requestsByCode.WithLabelValues(rec.Listener, metrics.SanitizeMethod(rec.Method), metrics.SanitizeCode(rec.Status)).Inc()
	m.requestDuration.WithLabelValues(rec.Listener, rec.RouteID).Observe(rec.Duration.Seconds())
	if rec.BytesIn > 0 {
		m.bytesTotal.WithLabelValues(rec.Listener, "in").Add(float64(rec.BytesIn))
	}
	if rec.BytesOut > 0 {
		m.bytesTotal.WithLabelValues(rec.Listener, "out").Add(float64(rec.BytesOut))
	}
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	case status >= 200:
		return "2xx"
	default:
		return "0xx"
	}
}

// Observer collects Records into cumulative per-listener stats, a
// bounded errors-by-route top-K counter, and an optional Sink, while
// also feeding a Metrics registry. It implements httpproxy.Recorder.
type Observer struct {
	metrics *Metrics
	sink    Sink

	mu        sync.Mutex
	listeners map[string]*listenerStats
	queue     []httpproxy.Record

	stop chan struct{}
	wg   sync.WaitGroup
}

// New builds an Observer. metrics and sink may both be nil.
func New(metrics *Metrics, sink Sink) *Observer {
	o := &Observer{
		metrics:   metrics,
		sink:      sink,
		listeners: make(map[string]*listenerStats),
		stop:      make(chan struct{}),
	}
	if sink != nil {
		o.wg.Add(1)
		go o.flushLoop()
	}
	return o
}

// Close stops the background flush loop, flushing whatever remains
// queued.
func (o *Observer) Close() {
	close(o.stop)
	o.wg.Wait()
}

// Observe implements httpproxy.Recorder.
func (o *Observer) Observe(rec httpproxy.Record) {
	o.metrics.observe(rec)

	o.mu.Lock()
	ls, ok := o.listeners[rec.Listener]
	if !ok {
		ls = newListenerStats()
		o.listeners[rec.Listener] = ls
	}
	ls.record(rec)

	if o.sink != nil {
		o.queue = append(o.queue, rec)
		if len(o.queue) >= flushBatchSize {
			o.drainLocked()
		}
	}
	o.mu.Unlock()
}

func (o *Observer) drainLocked() {
	if len(o.queue) == 0 {
		return
	}
	batch := o.queue
	o.queue = nil
	o.sink.Flush(batch)
}

func (o *Observer) flushLoop() {
	defer o.wg.Done()
	t := time.NewTicker(flushInterval)
	defer t.Stop()
	for {
		select {
		case <-o.stop:
			o.mu.Lock()
			o.drainLocked()
			o.mu.Unlock()
			return
		case <-t.C:
			o.mu.Lock()
			o.drainLocked()
			o.mu.Unlock()
		}
	}
}

// Snapshot returns a point-in-time copy of one listener's stats,
// used by the admin API's query_historical_metrics.
func (o *Observer) Snapshot(listener string) Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	ls, ok := o.listeners[listener]
	if !ok {
		return Snapshot{Listener: listener}
	}
	return ls.snapshot(listener)
}

// Snapshots returns a point-in-time copy of every listener's stats, backing the admin API's all-listener get_metrics query.
func (o *Observer) Snapshots() []Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]Snapshot, 0, len(o.listeners))
	for name, ls := range o.listeners {
		out = append(out, ls.snapshot(name))
	}
	return out
}
