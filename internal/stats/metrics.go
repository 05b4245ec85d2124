package stats

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics mirrors reply activity into Prometheus collectors.
type Metrics struct {
	replies          *prometheus.CounterVec
	dispatchFailures *prometheus.CounterVec
	flushFailures    prometheus.Counter
	gated            *prometheus.CounterVec
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the collectors registered with the default registry.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		defaultMetrics = NewMetrics(prometheus.DefaultRegisterer)
	})
	return defaultMetrics
}

// NewMetrics registers a fresh set of collectors with reg. Tests pass a
// dedicated registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		replies: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "autoreply",
			Name:      "replies_total",
			Help:      "Replies sent, by kind.",
		}, []string{"kind"}),
		dispatchFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "autoreply",
			Name:      "dispatch_failures_total",
			Help:      "Replies whose outbound send failed, by channel.",
		}, []string{"channel"}),
		flushFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "autoreply",
			Name:      "stats_flush_failures_total",
			Help:      "Failed writes of the counter snapshot to the durable store.",
		}),
		gated: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "autoreply",
			Name:      "messages_skipped_total",
			Help:      "Inbound messages that produced no reply, by reason.",
		}, []string{"reason"}),
	}
}

func (m *Metrics) reply(kind string) {
	if m == nil {
		return
	}
	m.replies.WithLabelValues(kind).Inc()
}

// DispatchFailed counts a failed outbound send.
func (m *Metrics) DispatchFailed(channel string) {
	if m == nil {
		return
	}
	m.dispatchFailures.WithLabelValues(channel).Inc()
}

// Skipped counts an inbound message that produced no reply.
func (m *Metrics) Skipped(reason string) {
	if m == nil {
		return
	}
	m.gated.WithLabelValues(reason).Inc()
}

func (m *Metrics) flushFailed() {
	if m == nil {
		return
	}
	m.flushFailures.Inc()
}
