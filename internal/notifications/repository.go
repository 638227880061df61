// Package notifications delivers email and SMS notifications with retry,
// a persisted delivery queue, a delivery log and a suppression list.
package notifications

import (
	"context"
	"time"

	"github.com/bissquit/courier/internal/domain"
)

// QueueRepository persists delivery queue items.
type QueueRepository interface {
	// Enqueue inserts a new item and fills its ID and timestamps.
	Enqueue(ctx context.Context, item *domain.QueueItem) error
	// ClaimDue atomically moves up to limit due pending items, oldest first,
	// to processing and returns them.
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]*domain.QueueItem, error)
	MarkCompleted(ctx context.Context, id string) error
	MarkForRetry(ctx context.Context, id string, retryCount int, nextRetryAt time.Time, lastError string) error
	MarkFailed(ctx context.Context, id string, retryCount int, lastError string) error
	// ReclaimStuck returns processing items last updated before olderThan to pending.
	ReclaimStuck(ctx context.Context, olderThan time.Time) (int64, error)

	GetQueueItem(ctx context.Context, id string) (*domain.QueueItem, error)
	ListQueueItems(ctx context.Context, filter QueueFilter) ([]domain.QueueItem, error)
	GetQueueStats(ctx context.Context, tenantID *string) (*domain.QueueStats, error)
}

// DeliveryLogRepository persists the append-only delivery log.
type DeliveryLogRepository interface {
	AppendLog(ctx context.Context, entry *domain.DeliveryLogEntry) error
	AppendLogs(ctx context.Context, entries []*domain.DeliveryLogEntry) error
	ListLogs(ctx context.Context, filter LogFilter) ([]domain.DeliveryLogEntry, error)
	GetDeliveryStats(ctx context.Context, tenantID *string) (*domain.DeliveryStats, error)
}

// SuppressionRepository persists do-not-contact recipients.
// Recipients are stored and matched in normalized form.
type SuppressionRepository interface {
	// AddSuppression inserts an entry or returns the existing one for the recipient.
	AddSuppression(ctx context.Context, entry *domain.SuppressionEntry) error
	RemoveSuppression(ctx context.Context, recipient string) error
	IsSuppressed(ctx context.Context, recipient string) (bool, error)
	// FilterSuppressed returns the subset of recipients that are suppressed.
	FilterSuppressed(ctx context.Context, recipients []string) (map[string]bool, error)
	ListSuppressions(ctx context.Context, filter SuppressionFilter) ([]domain.SuppressionEntry, error)
}

// Repository combines all notification stores.
type Repository interface {
	QueueRepository
	DeliveryLogRepository
	SuppressionRepository
}

// DefaultListLimit is used when a list filter has no limit.
const DefaultListLimit = 100

// MaxListLimit caps list filters.
const MaxListLimit = 1000

// QueueFilter selects queue items.
type QueueFilter struct {
	Status   *domain.QueueStatus
	Channel  *domain.Channel
	TenantID *string
	Limit    int
}

// LogFilter selects delivery log entries, newest first.
type LogFilter struct {
	Recipient *string
	Channel   *domain.Channel
	Status    *domain.DeliveryStatus
	TenantID  *string
	Limit     int
}

// SuppressionFilter selects suppression entries.
type SuppressionFilter struct {
	TenantID *string
	Limit    int
}

// NormalizeLimit clamps limit to (0, MaxListLimit], defaulting to DefaultListLimit.
func NormalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	return min(limit, MaxListLimit)
}
