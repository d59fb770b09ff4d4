package notifications

import (
	"time"

	"github.com/bissquit/outbox-dispatcher/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "outboxdispatcher"

// Outcome labels.
const (
	resultSent   = "sent"
	resultRetry  = "retry"
	resultFailed = "failed"
)

var (
	queueSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "outbox",
			Name:      "queue_size",
			Help:      "Number of outbox items by status",
		},
		[]string{"status"},
	)

	itemsFetched = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "outbox",
			Name:      "items_fetched_total",
			Help:      "Total outbox items fetched from the store. Sum of items_processed_total should match this.",
		},
	)

	itemsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "outbox",
			Name:      "items_processed_total",
			Help:      "Total outbox items processed by channel and result",
		},
		[]string{"channel", "result"},
	)

	sendDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "outbox",
			Name:      "send_duration_seconds",
			Help:      "Time spent in a channel sender",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"channel"},
	)

	loopErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "outbox",
			Name:      "loop_errors_total",
			Help:      "Failures caught outside per-item handling",
		},
	)

	pausedGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "outbox",
			Name:      "paused",
			Help:      "1 when the dispatch loop is paused",
		},
	)

	completionDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "completion",
			Name:      "deliveries_total",
			Help:      "Completion notifications by transport and result",
		},
		[]string{"transport", "result"},
	)
)

func recordItemsFetched(count int) {
	itemsFetched.Add(float64(count))
}

func recordItemProcessed(channel domain.ChannelType, result string) {
	if channel == "" {
		channel = "unknown"
	}
	itemsProcessed.WithLabelValues(string(channel), result).Inc()
}

func recordSendDuration(channel domain.ChannelType, d time.Duration) {
	sendDuration.WithLabelValues(string(channel)).Observe(d.Seconds())
}

func recordLoopError() {
	loopErrors.Inc()
}

func recordPaused(paused bool) {
	if paused {
		pausedGauge.Set(1)
		return
	}
	pausedGauge.Set(0)
}

// RecordCompletionDelivery counts one completion notification delivery.
// Transports live in subpackages, so this one is exported.
func RecordCompletionDelivery(transport string, err error) {
	result := "success"
	if err != nil {
		result = "failed"
	}
	completionDeliveries.WithLabelValues(transport, result).Inc()
}

// RecordQueueStats updates queue size metrics.
func RecordQueueStats(stats *QueueStats) {
	queueSize.WithLabelValues(string(domain.ItemStatusPending)).Set(float64(stats.Pending))
	queueSize.WithLabelValues(string(domain.ItemStatusRetry)).Set(float64(stats.Retry))
	queueSize.WithLabelValues(string(domain.ItemStatusSent)).Set(float64(stats.Sent))
	queueSize.WithLabelValues(string(domain.ItemStatusFailed)).Set(float64(stats.Failed))
}
