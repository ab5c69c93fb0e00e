// ABOUTME: Prometheus collectors for the sync engine: fetches, events, transitions, receipts
// ABOUTME: All methods are nil-safe so components can run without metrics wired in

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "convo_sync"

// Metrics groups the collectors shared by agents, the event bus and the
// read-receipt coordinator. A nil *Metrics records nothing.
type Metrics struct {
	fetches       *prometheus.CounterVec
	fetchLatency  *prometheus.HistogramVec
	events        *prometheus.CounterVec
	notifications prometheus.Counter
	transitions   *prometheus.CounterVec
	sends         *prometheus.CounterVec
	receipts      *prometheus.CounterVec
	busDrops      prometheus.Counter
	busSubs       prometheus.Gauge
}

// New creates the collectors and registers them with reg. A nil reg leaves
// them unregistered, which is what tests want.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetches_total",
			Help:      "History, resync and poll fetches by kind and result.",
		}, []string{"kind", "result"}),
		fetchLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_duration_seconds",
			Help:      "Latency of fetches against the chat API.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Pushed events seen by agents by kind and outcome.",
		}, []string{"kind", "outcome"}),
		notifications: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshot_notifications_total",
			Help:      "Listener notification rounds after coalescing.",
		}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_total",
			Help:      "Agent status transitions.",
		}, []string{"from", "to"}),
		sends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sends_total",
			Help:      "Optimistic sends by result.",
		}, []string{"result"}),
		receipts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "read_receipts_total",
			Help:      "Mark-as-read calls by result.",
		}, []string{"result"}),
		busDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bus_dropped_events_total",
			Help:      "Events dropped because a subscriber queue was full.",
		}),
		busSubs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "bus_subscriptions",
			Help:      "Active event bus subscriptions.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.fetches,
			m.fetchLatency,
			m.events,
			m.notifications,
			m.transitions,
			m.sends,
			m.receipts,
			m.busDrops,
			m.busSubs,
		)
	}
	return m
}

// Fetch records a completed fetch.
func (m *Metrics) Fetch(kind, result string, seconds float64) {
	if m == nil {
		return
	}
	m.fetches.WithLabelValues(kind, result).Inc()
	m.fetchLatency.WithLabelValues(kind).Observe(seconds)
}

// Event records how an agent handled a pushed event.
func (m *Metrics) Event(kind, outcome string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(kind, outcome).Inc()
}

// Notified records one listener notification round.
func (m *Metrics) Notified() {
	if m == nil {
		return
	}
	m.notifications.Inc()
}

// Transition records a status change.
func (m *Metrics) Transition(from, to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(from, to).Inc()
}

// Send records the outcome of an optimistic send.
func (m *Metrics) Send(result string) {
	if m == nil {
		return
	}
	m.sends.WithLabelValues(result).Inc()
}

// Receipt records the outcome of a mark-as-read attempt.
func (m *Metrics) Receipt(result string) {
	if m == nil {
		return
	}
	m.receipts.WithLabelValues(result).Inc()
}

// BusDropped records an event dropped for a slow subscriber.
func (m *Metrics) BusDropped() {
	if m == nil {
		return
	}
	m.busDrops.Inc()
}

// BusSubscribed adjusts the active subscription gauge by delta.
func (m *Metrics) BusSubscribed(delta int) {
	if m == nil {
		return
	}
	m.busSubs.Add(float64(delta))
}
