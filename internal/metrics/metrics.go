// Package metrics defines the Prometheus collectors for the sync loop, the
// statistics aggregator, the listener and the HTTP API.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "marketsync"

// Metrics groups every collector on a private registry. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	SyncTicks        *prometheus.CounterVec
	EventsInserted   *prometheus.CounterVec
	Cursor           prometheus.Gauge
	ChainHead        prometheus.Gauge
	ScanFailedRanges prometheus.Counter
	SyncDuration     prometheus.Histogram

	StatsRequests *prometheus.CounterVec

	PollTicks      *prometheus.CounterVec
	Notifications  *prometheus.CounterVec
	Unsubscribed   prometheus.Counter
	AdvisorCalls   *prometheus.CounterVec
	TrackedMarkets prometheus.Gauge
	HTTPRequests   *prometheus.CounterVec
	HTTPLatency    *prometheus.HistogramVec
	WSClients      prometheus.Gauge
}

// New registers all collectors plus the Go and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		SyncTicks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "sync", Name: "ticks_total",
			Help: "Sync passes by result.",
		}, []string{"result"}),
		EventsInserted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "sync", Name: "events_inserted_total",
			Help: "New rows written to the event store.",
		}, []string{"type"}),
		Cursor: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "sync", Name: "cursor_block",
			Help: "Last fully synced block.",
		}),
		ChainHead: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "sync", Name: "chain_head_block",
			Help: "Chain head observed by the last sync pass.",
		}),
		ScanFailedRanges: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "sync", Name: "scan_failed_ranges_total",
			Help: "Sub-ranges the scanner gave up on.",
		}),
		SyncDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "sync", Name: "pass_duration_seconds",
			Help:    "Wall time of a single sync range.",
			Buckets: prometheus.DefBuckets,
		}),
		StatsRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "stats", Name: "requests_total",
			Help: "User statistics computations by source.",
		}, []string{"source"}),
		PollTicks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "listener", Name: "poll_ticks_total",
			Help: "Market poll ticks by result.",
		}, []string{"result"}),
		Notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "listener", Name: "notifications_total",
			Help: "Per-recipient deliveries by result.",
		}, []string{"result"}),
		Unsubscribed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "listener", Name: "auto_unsubscribed_total",
			Help: "Recipients removed after a permanent delivery failure.",
		}),
		AdvisorCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "advisor", Name: "calls_total",
			Help: "Reasoning service calls by suggestion.",
		}, []string{"suggestion"}),
		TrackedMarkets: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "listener", Name: "markets",
			Help: "Markets known to the poll loop.",
		}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "http", Name: "requests_total",
			Help: "HTTP requests by route and status.",
		}, []string{"method", "status"}),
		HTTPLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "http", Name: "request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),
		WSClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "ws", Name: "clients",
			Help: "Connected WebSocket clients.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.SyncTicks, m.EventsInserted, m.Cursor, m.ChainHead, m.ScanFailedRanges, m.SyncDuration,
		m.StatsRequests,
		m.PollTicks, m.Notifications, m.Unsubscribed, m.AdvisorCalls, m.TrackedMarkets,
		m.HTTPRequests, m.HTTPLatency, m.WSClients,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveSync records the outcome of one sync range.
func (m *Metrics) ObserveSync(result string, cursor, head uint64, took time.Duration) {
	if m == nil {
		return
	}
	m.SyncTicks.WithLabelValues(result).Inc()
	m.Cursor.Set(float64(cursor))
	m.ChainHead.Set(float64(head))
	m.SyncDuration.Observe(took.Seconds())
}

// AddInserted counts newly stored events of one type.
func (m *Metrics) AddInserted(eventType string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.EventsInserted.WithLabelValues(eventType).Add(float64(n))
}

// AddFailedRanges counts abandoned scanner sub-ranges.
func (m *Metrics) AddFailedRanges(n int) {
	if m == nil {
		return
	}
	m.ScanFailedRanges.Add(float64(n))
}

// StatsServed counts one statistics response by source.
func (m *Metrics) StatsServed(source string) {
	if m == nil {
		return
	}
	m.StatsRequests.WithLabelValues(source).Inc()
}

// PollTick counts one poll tick.
func (m *Metrics) PollTick(result string, markets uint64) {
	if m == nil {
		return
	}
	m.PollTicks.WithLabelValues(result).Inc()
	m.TrackedMarkets.Set(float64(markets))
}

// Delivery counts one per-recipient send.
func (m *Metrics) Delivery(result string) {
	if m == nil {
		return
	}
	m.Notifications.WithLabelValues(result).Inc()
}

// AutoUnsubscribed counts a recipient dropped after a permanent failure.
func (m *Metrics) AutoUnsubscribed() {
	if m == nil {
		return
	}
	m.Unsubscribed.Inc()
}

// AdvisorCall counts one reasoning service call.
func (m *Metrics) AdvisorCall(suggestion string) {
	if m == nil {
		return
	}
	m.AdvisorCalls.WithLabelValues(suggestion).Inc()
}

// HTTPRequest records one served request.
func (m *Metrics) HTTPRequest(method string, status int, took time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, http.StatusText(status)).Inc()
	m.HTTPLatency.WithLabelValues(method).Observe(took.Seconds())
}

// WSClientsChanged adjusts the connected client gauge.
func (m *Metrics) WSClientsChanged(delta int) {
	if m == nil {
		return
	}
	m.WSClients.Add(float64(delta))
}
