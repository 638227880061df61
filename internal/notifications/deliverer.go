package notifications

import (
	"context"
	"time"

	"github.com/bissquit/courier/internal/domain"
	"github.com/bissquit/courier/internal/notifications/retry"
	"github.com/bissquit/courier/internal/pkg/ctxlog"
)

// SendResult is the outcome of one send call.
type SendResult struct {
	Success     bool           `json:"success"`
	MessageID   string         `json:"message_id,omitempty"`
	Error       *retry.Failure `json:"error,omitempty"`
	Attempts    int            `json:"attempts"`
	Queued      bool           `json:"queued"`
	QueueItemID string         `json:"queue_item_id,omitempty"`
}

// BroadcastResult accumulates per-recipient outcomes of a broadcast.
// Total equals SuccessCount + FailureCount + SuppressedCount.
type BroadcastResult struct {
	Total           int            `json:"total"`
	SuccessCount    int            `json:"success_count"`
	FailureCount    int            `json:"failure_count"`
	QueuedCount     int            `json:"queued_count"`
	SuppressedCount int            `json:"suppressed_count"`
	Error           *retry.Failure `json:"error,omitempty"`
}

// Deliverer holds what the channel adapters share: the suppression list,
// the delivery log, the delivery queue and the retry policy.
type Deliverer struct {
	suppressions *SuppressionList
	log          *DeliveryLog
	queue        *DeliveryQueue
	retryConfig  retry.Config
	retryOptions []retry.Option
}

// DelivererOption configures a Deliverer.
type DelivererOption func(*Deliverer)

// WithRetryOptions passes options to every retry.Do call.
func WithRetryOptions(opts ...retry.Option) DelivererOption {
	return func(d *Deliverer) {
		d.retryOptions = append(d.retryOptions, opts...)
	}
}

// NewDeliverer creates a new deliverer.
func NewDeliverer(suppressions *SuppressionList, log *DeliveryLog, queue *DeliveryQueue, retryConfig retry.Config, opts ...DelivererOption) *Deliverer {
	d := &Deliverer{
		suppressions: suppressions,
		log:          log,
		queue:        queue,
		retryConfig:  retryConfig,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// delivery describes one transport call and the rows it produces.
type delivery struct {
	channel    domain.Channel
	recipients []string
	payload    domain.QueuePayload
	tenantID   *string
	// enqueue is false for sweeper redeliveries: the sweeper owns the item state.
	enqueue bool
}

// attempt runs send through the retry executor, writes one log entry per
// recipient and queues a retryable failure. It returns the number of queued items.
func (d *Deliverer) attempt(ctx context.Context, dl delivery, send retry.Operation[Receipt]) (SendResult, int) {
	logger := ctxlog.FromContext(ctx)

	opts := make([]retry.Option, 0, len(d.retryOptions)+1)
	opts = append(opts, retry.WithOnRetry(func(attempt int, delay time.Duration, f *retry.Failure) {
		logger.Warn("send attempt failed, retrying",
			"channel", dl.channel,
			"recipients", len(dl.recipients),
			"attempt", attempt+1,
			"backoff", delay,
			"error_code", f.Code,
			"error", f.Message,
		)
		recordRetry(dl.channel, string(f.Code))
	}))
	opts = append(opts, d.retryOptions...)

	start := time.Now()
	res := retry.Do(ctx, d.retryConfig, send, opts...)
	recordNotificationDuration(dl.channel, time.Since(start))

	if !res.Success {
		result, queued := d.fail(ctx, dl, res.Err)
		result.Attempts = res.Attempts
		return result, queued
	}

	d.log.Record(ctx, logEntries(dl, domain.DeliveryStatusSuccess, nil, res.Value.MessageID)...)
	recordNotificationSent(dl.channel, domain.DeliveryStatusSuccess, len(dl.recipients))

	logger.Debug("notification sent",
		"channel", dl.channel,
		"recipients", len(dl.recipients),
		"message_id", res.Value.MessageID,
		"attempts", res.Attempts,
		"duration", time.Since(start),
	)

	return SendResult{
		Success:   true,
		MessageID: res.Value.MessageID,
		Attempts:  res.Attempts,
	}, 0
}

// fail records a failed outcome and queues it when retryable.
func (d *Deliverer) fail(ctx context.Context, dl delivery, f *retry.Failure) (SendResult, int) {
	ctxlog.FromContext(ctx).Warn("send failed",
		"channel", dl.channel,
		"recipients", len(dl.recipients),
		"error_code", f.Code,
		"retryable", f.Retryable,
		"error", f.Message,
	)

	d.log.Record(ctx, logEntries(dl, domain.DeliveryStatusFailed, f, "")...)
	recordNotificationSent(dl.channel, domain.DeliveryStatusFailed, len(dl.recipients))

	result := SendResult{Error: f}
	if !f.Retryable || !dl.enqueue {
		return result, 0
	}

	ids := d.queue.Enqueue(ctx, dl.channel, dl.recipients, dl.payload, dl.tenantID, f)
	result.Queued = len(ids) > 0
	if len(ids) == 1 {
		result.QueueItemID = ids[0]
	}
	return result, len(ids)
}

// reject records suppressed recipients without calling the transport.
func (d *Deliverer) reject(ctx context.Context, dl delivery) SendResult {
	f := retry.NewFailure(retry.CodeRecipientUnsubscribed, "recipient is on the suppression list", false)

	ctxlog.FromContext(ctx).Info("recipient suppressed, send rejected",
		"channel", dl.channel,
		"recipients", len(dl.recipients),
	)

	d.log.Record(ctx, logEntries(dl, domain.DeliveryStatusRejected, f, "")...)
	recordNotificationSent(dl.channel, domain.DeliveryStatusRejected, len(dl.recipients))

	return SendResult{Error: f}
}

// lookupFailure turns a suppression or limiter error into a retryable failure.
func lookupFailure(err error) *retry.Failure {
	return retry.ToFailure(retry.NewRetryableError(err))
}

func logEntries(dl delivery, status domain.DeliveryStatus, f *retry.Failure, messageID string) []*domain.DeliveryLogEntry {
	var (
		code    string
		message *string
		extID   *string
	)
	if f != nil {
		code = string(f.Code)
		message = &f.Message
	}
	if messageID != "" {
		extID = &messageID
	}

	entries := make([]*domain.DeliveryLogEntry, 0, len(dl.recipients))
	for _, recipient := range dl.recipients {
		entries = append(entries, &domain.DeliveryLogEntry{
			Channel:           dl.channel,
			Recipient:         NormalizeRecipient(recipient),
			Status:            status,
			MessageType:       dl.payload.MessageType,
			ErrorCode:         code,
			ErrorMessage:      message,
			ExternalMessageID: extID,
			TenantID:          dl.tenantID,
		})
	}
	return entries
}
