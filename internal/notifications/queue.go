package notifications

import (
	"context"
	"time"

	"github.com/bissquit/courier/internal/domain"
	"github.com/bissquit/courier/internal/notifications/retry"
	"github.com/bissquit/courier/internal/pkg/ctxlog"
)

// QueueConfig contains delivery queue configuration.
type QueueConfig struct {
	MaxRetries int
	Retry      retry.Config
}

// DefaultQueueConfig returns default queue configuration.
func DefaultQueueConfig() QueueConfig {
	return QueueConfig{
		MaxRetries: domain.DefaultMaxRetries,
		Retry:      retry.DefaultConfig(),
	}
}

// DeliveryQueue holds notifications whose synchronous attempt failed retryably.
type DeliveryQueue struct {
	repo   QueueRepository
	config QueueConfig
	now    func() time.Time
}

// NewDeliveryQueue creates a new delivery queue.
func NewDeliveryQueue(repo QueueRepository, config QueueConfig) *DeliveryQueue {
	if config.MaxRetries < 0 {
		config.MaxRetries = domain.DefaultMaxRetries
	}
	return &DeliveryQueue{
		repo:   repo,
		config: config,
		now:    time.Now,
	}
}

// Enqueue stores one item per recipient with retry_count 0 and next_retry_at
// computed from attempt 0. Returns the IDs of stored items. Store failures are
// logged and the recipient is skipped.
func (q *DeliveryQueue) Enqueue(ctx context.Context, channel domain.Channel, recipients []string, payload domain.QueuePayload, tenantID *string, failure *retry.Failure) []string {
	ctx = context.WithoutCancel(ctx)
	now := q.now()

	lastError := failure.Error()
	ids := make([]string, 0, len(recipients))
	for _, recipient := range recipients {
		item := &domain.QueueItem{
			Channel:     channel,
			Recipient:   recipient,
			Payload:     payload,
			RetryCount:  0,
			MaxRetries:  q.config.MaxRetries,
			NextRetryAt: retry.NextRetryAt(now, 0, q.config.Retry),
			Status:      domain.QueueStatusPending,
			LastError:   &lastError,
			TenantID:    tenantID,
		}
		if err := q.repo.Enqueue(ctx, item); err != nil {
			ctxlog.FromContext(ctx).Error("failed to enqueue notification",
				"channel", channel,
				"error_code", failure.Code,
				"error", err,
			)
			recordEnqueueFailure(string(channel))
			continue
		}
		ids = append(ids, item.ID)
	}

	recordQueued(string(channel), len(ids))
	return ids
}

// Get returns a queue item.
func (q *DeliveryQueue) Get(ctx context.Context, id string) (*domain.QueueItem, error) {
	return q.repo.GetQueueItem(ctx, id)
}

// List returns queue items matching filter.
func (q *DeliveryQueue) List(ctx context.Context, filter QueueFilter) ([]domain.QueueItem, error) {
	filter.Limit = NormalizeLimit(filter.Limit)
	return q.repo.ListQueueItems(ctx, filter)
}

// Stats returns queue size by status.
func (q *DeliveryQueue) Stats(ctx context.Context, tenantID *string) (*domain.QueueStats, error) {
	return q.repo.GetQueueStats(ctx, tenantID)
}
