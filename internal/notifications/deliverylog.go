package notifications

import (
	"context"
	"fmt"

	"github.com/bissquit/courier/internal/domain"
	"github.com/bissquit/courier/internal/pkg/ctxlog"
)

// DeliveryLog records the outcome of every send attempt.
type DeliveryLog struct {
	repo DeliveryLogRepository
}

// NewDeliveryLog creates a new delivery log.
func NewDeliveryLog(repo DeliveryLogRepository) *DeliveryLog {
	return &DeliveryLog{repo: repo}
}

// Record appends entries. A write failure is logged and never returned:
// the caller already has the send outcome.
func (l *DeliveryLog) Record(ctx context.Context, entries ...*domain.DeliveryLogEntry) {
	if len(entries) == 0 {
		return
	}

	// the send already happened, so a cancelled request must not drop its record
	ctx = context.WithoutCancel(ctx)

	var err error
	if len(entries) == 1 {
		err = l.repo.AppendLog(ctx, entries[0])
	} else {
		err = l.repo.AppendLogs(ctx, entries)
	}
	if err != nil {
		ctxlog.FromContext(ctx).Error("failed to write delivery log",
			"channel", entries[0].Channel,
			"status", entries[0].Status,
			"entries", len(entries),
			"error", err,
		)
		recordLogWriteFailure(string(entries[0].Channel))
	}
}

// Append writes a single entry and returns the error. Used by callers that
// own the outcome, such as bounce webhooks.
func (l *DeliveryLog) Append(ctx context.Context, entry *domain.DeliveryLogEntry) error {
	if err := l.repo.AppendLog(ctx, entry); err != nil {
		return fmt.Errorf("append delivery log: %w", err)
	}
	return nil
}

// List returns entries matching filter, newest first.
func (l *DeliveryLog) List(ctx context.Context, filter LogFilter) ([]domain.DeliveryLogEntry, error) {
	filter.Limit = NormalizeLimit(filter.Limit)
	if filter.Recipient != nil {
		normalized := NormalizeRecipient(*filter.Recipient)
		filter.Recipient = &normalized
	}
	return l.repo.ListLogs(ctx, filter)
}

// Stats returns entry counts by status.
func (l *DeliveryLog) Stats(ctx context.Context, tenantID *string) (*domain.DeliveryStats, error) {
	return l.repo.GetDeliveryStats(ctx, tenantID)
}
