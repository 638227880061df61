package notifications

import (
	"time"

	"github.com/bissquit/courier/internal/domain"
	"github.com/bissquit/courier/internal/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	notificationQueueSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: metrics.Namespace,
			Subsystem: "notifications",
			Name:      "queue_size",
			Help:      "Number of delivery queue items by status",
		},
		[]string{"status"},
	)

	notificationsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "notifications",
			Name:      "sent_total",
			Help:      "Total send outcomes per recipient",
		},
		[]string{"channel", "status"},
	)

	notificationSendDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: metrics.Namespace,
			Subsystem: "notifications",
			Name:      "send_duration_seconds",
			Help:      "Time spent in a retry-wrapped transport call",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"channel"},
	)

	notificationRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "notifications",
			Name:      "retries_total",
			Help:      "In-request retries by failure code",
		},
		[]string{"channel", "code"},
	)

	notificationsQueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "notifications",
			Name:      "queued_total",
			Help:      "Items added to the delivery queue",
		},
		[]string{"channel"},
	)

	notificationStoreErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "notifications",
			Name:      "store_errors_total",
			Help:      "Delivery log and queue writes that failed",
		},
		[]string{"operation", "channel"},
	)

	sweepCompleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "notifications",
			Name:      "sweep_completed_total",
			Help:      "Queue items completed by the sweeper",
		},
	)

	sweepClaimed = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "notifications",
			Name:      "sweep_claimed_total",
			Help:      "Queue items claimed by the sweeper. Completed, retried and failed items sum to this.",
		},
	)

	rateLimitWait = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: metrics.Namespace,
			Subsystem: "notifications",
			Name:      "rate_limit_wait_seconds",
			Help:      "Time spent waiting for an SMS token",
			Buckets:   []float64{.001, .01, .05, .1, .25, .5, 1, 2.5, 5},
		},
	)
)

// recordNotificationSent records send outcomes.
func recordNotificationSent(channel domain.Channel, status domain.DeliveryStatus, count int) {
	notificationsSent.WithLabelValues(string(channel), string(status)).Add(float64(count))
}

// recordNotificationDuration records transport call duration.
func recordNotificationDuration(channel domain.Channel, duration time.Duration) {
	notificationSendDuration.WithLabelValues(string(channel)).Observe(duration.Seconds())
}

func recordRetry(channel domain.Channel, code string) {
	notificationRetries.WithLabelValues(string(channel), code).Inc()
}

func recordQueued(channel string, count int) {
	notificationsQueued.WithLabelValues(channel).Add(float64(count))
}

func recordEnqueueFailure(channel string) {
	notificationStoreErrors.WithLabelValues("enqueue", channel).Inc()
}

func recordLogWriteFailure(channel string) {
	notificationStoreErrors.WithLabelValues("delivery_log", channel).Inc()
}

func recordSweep(claimed, completed int) {
	sweepClaimed.Add(float64(claimed))
	sweepCompleted.Add(float64(completed))
}

func recordRateLimitWait(d time.Duration) {
	rateLimitWait.Observe(d.Seconds())
}

// RecordQueueStats updates queue size metrics.
func RecordQueueStats(stats *domain.QueueStats) {
	notificationQueueSize.WithLabelValues(string(domain.QueueStatusPending)).Set(float64(stats.Pending))
	notificationQueueSize.WithLabelValues(string(domain.QueueStatusProcessing)).Set(float64(stats.Processing))
	notificationQueueSize.WithLabelValues(string(domain.QueueStatusCompleted)).Set(float64(stats.Completed))
	notificationQueueSize.WithLabelValues(string(domain.QueueStatusFailed)).Set(float64(stats.Failed))
}
