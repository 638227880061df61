package notifications

import (
	"context"
	"regexp"
	"strings"

	"github.com/bissquit/courier/internal/domain"
	"github.com/bissquit/courier/internal/notifications/retry"
	"github.com/bissquit/courier/internal/pkg/ctxlog"
)

// MaxEmailBatchSize is the recipient ceiling of one bulk email call.
const MaxEmailBatchSize = 1000

// maxEmailLength matches the width of the recipient columns.
const maxEmailLength = 320

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

func validEmailAddress(s string) bool {
	return len(s) <= maxEmailLength && emailPattern.MatchString(s)
}

// EmailConfig contains email adapter configuration.
type EmailConfig struct {
	From      string
	BatchSize int
}

// EmailParams describes one transactional email.
type EmailParams struct {
	To          string
	Subject     string
	HTML        string
	Text        string
	MessageType string
	From        string
	TenantID    *string
}

// EmailBroadcastParams describes one email sent to many recipients.
type EmailBroadcastParams struct {
	Recipients  []string
	Subject     string
	HTML        string
	Text        string
	MessageType string
	From        string
	TenantID    *string
}

// EmailAdapter sends email through the retry executor and records every outcome.
type EmailAdapter struct {
	deliverer *Deliverer
	transport EmailTransport
	config    EmailConfig
}

// NewEmailAdapter creates a new email adapter.
func NewEmailAdapter(transport EmailTransport, deliverer *Deliverer, config EmailConfig) *EmailAdapter {
	if config.BatchSize <= 0 || config.BatchSize > MaxEmailBatchSize {
		config.BatchSize = MaxEmailBatchSize
	}
	return &EmailAdapter{
		deliverer: deliverer,
		transport: transport,
		config:    config,
	}
}

// Send delivers one email. Validation failures return without a transport
// call or a log entry. A retryable failure is queued for the sweeper.
func (a *EmailAdapter) Send(ctx context.Context, p EmailParams) SendResult {
	payload := a.payload(p.Subject, p.HTML, p.Text, p.MessageType, p.From)
	if f := validateEmail(p.To, payload); f != nil {
		return SendResult{Error: f}
	}
	return a.send(ctx, p.To, payload, p.TenantID, true)
}

// Redeliver re-attempts a queued item. It never enqueues.
func (a *EmailAdapter) Redeliver(ctx context.Context, item *domain.QueueItem) SendResult {
	if f := validateEmail(item.Recipient, item.Payload); f != nil {
		return SendResult{Error: f}
	}
	return a.send(ctx, item.Recipient, item.Payload, item.TenantID, false)
}

func (a *EmailAdapter) send(ctx context.Context, to string, payload domain.QueuePayload, tenantID *string, enqueue bool) SendResult {
	dl := delivery{
		channel:    domain.ChannelEmail,
		recipients: []string{to},
		payload:    payload,
		tenantID:   tenantID,
		enqueue:    enqueue,
	}

	suppressed, err := a.deliverer.suppressions.IsSuppressed(ctx, to)
	if err != nil {
		result, _ := a.deliverer.fail(ctx, dl, lookupFailure(err))
		return result
	}
	if suppressed {
		return a.deliverer.reject(ctx, dl)
	}

	result, _ := a.deliverer.attempt(ctx, dl, a.operation(dl))
	return result
}

// Broadcast filters suppressed recipients, then sends the rest in batches of
// at most BatchSize recipients, one transport call per batch.
func (a *EmailAdapter) Broadcast(ctx context.Context, p EmailBroadcastParams) BroadcastResult {
	result := BroadcastResult{Total: len(p.Recipients)}

	payload := a.payload(p.Subject, p.HTML, p.Text, p.MessageType, p.From)
	if f := validateEmailContent(payload); f != nil {
		result.FailureCount = result.Total
		result.Error = f
		return result
	}

	valid := make([]string, 0, len(p.Recipients))
	for _, r := range p.Recipients {
		if !validEmailAddress(r) {
			result.FailureCount++
			continue
		}
		valid = append(valid, r)
	}

	base := delivery{
		channel:  domain.ChannelEmail,
		payload:  payload,
		tenantID: p.TenantID,
		enqueue:  true,
	}

	allowed, suppressed, err := a.deliverer.suppressions.Partition(ctx, valid)
	if err != nil {
		dl := base
		dl.recipients = valid
		_, queued := a.deliverer.fail(ctx, dl, lookupFailure(err))
		result.FailureCount += len(valid)
		result.QueuedCount += queued
		return result
	}

	if len(suppressed) > 0 {
		dl := base
		dl.recipients = suppressed
		a.deliverer.reject(ctx, dl)
		result.SuppressedCount = len(suppressed)
	}

	for start := 0; start < len(allowed); start += a.config.BatchSize {
		dl := base
		dl.recipients = allowed[start:min(start+a.config.BatchSize, len(allowed))]

		res, queued := a.deliverer.attempt(ctx, dl, a.operation(dl))
		if res.Success {
			result.SuccessCount += len(dl.recipients)
			continue
		}
		result.FailureCount += len(dl.recipients)
		result.QueuedCount += queued
	}

	ctxlog.FromContext(ctx).Info("email broadcast finished",
		"total", result.Total,
		"success", result.SuccessCount,
		"failed", result.FailureCount,
		"queued", result.QueuedCount,
		"suppressed", result.SuppressedCount,
	)

	return result
}

func (a *EmailAdapter) operation(dl delivery) retry.Operation[Receipt] {
	msg := EmailMessage{
		From:    dl.payload.From,
		To:      dl.recipients,
		Subject: dl.payload.Subject,
		HTML:    dl.payload.HTML,
		Text:    dl.payload.Text,
	}
	return func(ctx context.Context) (Receipt, error) {
		return a.transport.SendEmail(ctx, msg)
	}
}

func (a *EmailAdapter) payload(subject, html, text, messageType, from string) domain.QueuePayload {
	if from == "" {
		from = a.config.From
	}
	return domain.QueuePayload{
		Subject:     subject,
		HTML:        html,
		Text:        text,
		MessageType: messageType,
		From:        from,
	}
}

func validateEmail(to string, payload domain.QueuePayload) *retry.Failure {
	if !validEmailAddress(to) {
		return retry.ValidationFailure("invalid email recipient %q", to)
	}
	return validateEmailContent(payload)
}

func validateEmailContent(payload domain.QueuePayload) *retry.Failure {
	if strings.TrimSpace(payload.Subject) == "" {
		return retry.ValidationFailure("email subject is required")
	}
	if strings.TrimSpace(payload.HTML) == "" && strings.TrimSpace(payload.Text) == "" {
		return retry.ValidationFailure("email body is required")
	}
	return nil
}
