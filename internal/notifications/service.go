package notifications

import (
	"context"
	"fmt"

	"github.com/bissquit/courier/internal/domain"
)

// BounceType is the kind of provider feedback about a delivered email.
type BounceType string

// Bounce types.
const (
	BounceTypeBounce    BounceType = "bounce"
	BounceTypeComplaint BounceType = "complaint"
)

// BounceEvent is provider feedback that an address must not be mailed again.
type BounceEvent struct {
	Recipient         string
	ExternalMessageID string
	Reason            string
	Type              BounceType
	TenantID          *string
}

// Service is the entry point used by the HTTP handler and the CLI.
type Service struct {
	email        *EmailAdapter
	sms          *SMSAdapter
	sweeper      *Sweeper
	queue        *DeliveryQueue
	log          *DeliveryLog
	suppressions *SuppressionList
}

// NewService creates a new notifications service. email and sms may be nil
// when the channel is not configured.
func NewService(email *EmailAdapter, sms *SMSAdapter, sweeper *Sweeper, queue *DeliveryQueue, log *DeliveryLog, suppressions *SuppressionList) *Service {
	return &Service{
		email:        email,
		sms:          sms,
		sweeper:      sweeper,
		queue:        queue,
		log:          log,
		suppressions: suppressions,
	}
}

// SendEmail sends one email.
func (s *Service) SendEmail(ctx context.Context, p EmailParams) (SendResult, error) {
	if s.email == nil {
		return SendResult{}, ErrChannelNotConfigured
	}
	return s.email.Send(ctx, p), nil
}

// BroadcastEmail sends one email to many recipients.
func (s *Service) BroadcastEmail(ctx context.Context, p EmailBroadcastParams) (BroadcastResult, error) {
	if s.email == nil {
		return BroadcastResult{}, ErrChannelNotConfigured
	}
	return s.email.Broadcast(ctx, p), nil
}

// SendSMS sends one SMS.
func (s *Service) SendSMS(ctx context.Context, p SMSParams) (SendResult, error) {
	if s.sms == nil {
		return SendResult{}, ErrChannelNotConfigured
	}
	return s.sms.Send(ctx, p), nil
}

// BroadcastSMS sends one SMS to many recipients.
func (s *Service) BroadcastSMS(ctx context.Context, p SMSBroadcastParams) (BroadcastResult, error) {
	if s.sms == nil {
		return BroadcastResult{}, ErrChannelNotConfigured
	}
	return s.sms.Broadcast(ctx, p), nil
}

// Sweep runs one queue sweep and returns the number of completed items.
func (s *Service) Sweep(ctx context.Context) (int, error) {
	return s.sweeper.Sweep(ctx)
}

// QueueStats returns queue size by status.
func (s *Service) QueueStats(ctx context.Context, tenantID *string) (*domain.QueueStats, error) {
	return s.queue.Stats(ctx, tenantID)
}

// ListQueueItems returns queue items.
func (s *Service) ListQueueItems(ctx context.Context, filter QueueFilter) ([]domain.QueueItem, error) {
	return s.queue.List(ctx, filter)
}

// GetQueueItem returns one queue item.
func (s *Service) GetQueueItem(ctx context.Context, id string) (*domain.QueueItem, error) {
	return s.queue.Get(ctx, id)
}

// ListDeliveryLog returns delivery log entries, newest first.
func (s *Service) ListDeliveryLog(ctx context.Context, filter LogFilter) ([]domain.DeliveryLogEntry, error) {
	return s.log.List(ctx, filter)
}

// DeliveryStats returns delivery log counts.
func (s *Service) DeliveryStats(ctx context.Context, tenantID *string) (*domain.DeliveryStats, error) {
	return s.log.Stats(ctx, tenantID)
}

// AddSuppression suppresses a recipient.
func (s *Service) AddSuppression(ctx context.Context, recipient string, reason domain.SuppressionReason, tenantID *string) (*domain.SuppressionEntry, error) {
	return s.suppressions.Add(ctx, recipient, reason, tenantID)
}

// RemoveSuppression lifts a suppression.
func (s *Service) RemoveSuppression(ctx context.Context, recipient string) error {
	return s.suppressions.Remove(ctx, recipient)
}

// ListSuppressions returns suppression entries.
func (s *Service) ListSuppressions(ctx context.Context, filter SuppressionFilter) ([]domain.SuppressionEntry, error) {
	return s.suppressions.List(ctx, filter)
}

// RecordBounce appends a bounced log entry and suppresses the recipient.
func (s *Service) RecordBounce(ctx context.Context, event BounceEvent) error {
	reason := domain.SuppressionReasonBounce
	switch event.Type {
	case BounceTypeBounce:
	case BounceTypeComplaint:
		reason = domain.SuppressionReasonComplaint
	default:
		return ErrInvalidBounceType
	}

	if !validEmailAddress(event.Recipient) {
		return ErrInvalidRecipient
	}

	entry := &domain.DeliveryLogEntry{
		Channel:   domain.ChannelEmail,
		Recipient: NormalizeRecipient(event.Recipient),
		Status:    domain.DeliveryStatusBounced,
		ErrorCode: string(event.Type),
		TenantID:  event.TenantID,
	}
	if event.Reason != "" {
		entry.ErrorMessage = &event.Reason
	}
	if event.ExternalMessageID != "" {
		entry.ExternalMessageID = &event.ExternalMessageID
	}

	if err := s.log.Append(ctx, entry); err != nil {
		return fmt.Errorf("record bounce: %w", err)
	}

	if _, err := s.suppressions.Add(ctx, event.Recipient, reason, event.TenantID); err != nil {
		return fmt.Errorf("record bounce: %w", err)
	}

	recordNotificationSent(domain.ChannelEmail, domain.DeliveryStatusBounced, 1)
	return nil
}
