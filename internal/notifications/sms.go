package notifications

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/bissquit/courier/internal/domain"
	"github.com/bissquit/courier/internal/notifications/ratelimit"
	"github.com/bissquit/courier/internal/notifications/retry"
	"github.com/bissquit/courier/internal/pkg/ctxlog"
)

// MaxSMSLength is the longest SMS body accepted, in characters.
const MaxSMSLength = 1600

var e164Pattern = regexp.MustCompile(`^\+\d{1,15}$`)

// SMSConfig contains SMS adapter configuration.
type SMSConfig struct {
	From string
}

// SMSParams describes one SMS.
type SMSParams struct {
	To          string
	Body        string
	MessageType string
	From        string
	TenantID    *string
}

// SMSBroadcastParams describes one SMS sent to many recipients.
type SMSBroadcastParams struct {
	Recipients  []string
	Body        string
	MessageType string
	From        string
	TenantID    *string
}

// SMSAdapter sends SMS through the token bucket and the retry executor.
type SMSAdapter struct {
	deliverer *Deliverer
	transport SMSTransport
	limiter   *ratelimit.TokenBucket
	config    SMSConfig
}

// NewSMSAdapter creates a new SMS adapter.
func NewSMSAdapter(transport SMSTransport, limiter *ratelimit.TokenBucket, deliverer *Deliverer, config SMSConfig) *SMSAdapter {
	return &SMSAdapter{
		deliverer: deliverer,
		transport: transport,
		limiter:   limiter,
		config:    config,
	}
}

// Send delivers one SMS. It blocks until a rate limiter token is available.
func (a *SMSAdapter) Send(ctx context.Context, p SMSParams) SendResult {
	payload := a.payload(p.Body, p.MessageType, p.From)
	if f := validateSMS(p.To, payload.Body); f != nil {
		return SendResult{Error: f}
	}
	return a.send(ctx, p.To, payload, p.TenantID, true)
}

// Redeliver re-attempts a queued item. It never enqueues.
func (a *SMSAdapter) Redeliver(ctx context.Context, item *domain.QueueItem) SendResult {
	if f := validateSMS(item.Recipient, item.Payload.Body); f != nil {
		return SendResult{Error: f}
	}
	return a.send(ctx, item.Recipient, item.Payload, item.TenantID, false)
}

func (a *SMSAdapter) send(ctx context.Context, to string, payload domain.QueuePayload, tenantID *string, enqueue bool) SendResult {
	dl := delivery{
		channel:    domain.ChannelSMS,
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

	result, _ := a.throttledAttempt(ctx, dl)
	return result
}

func (a *SMSAdapter) throttledAttempt(ctx context.Context, dl delivery) (SendResult, int) {
	start := time.Now()
	if err := a.limiter.WaitForToken(ctx); err != nil {
		return a.deliverer.fail(ctx, dl, lookupFailure(err))
	}
	recordRateLimitWait(time.Since(start))

	msg := SMSMessage{
		From: dl.payload.From,
		To:   dl.recipients[0],
		Body: dl.payload.Body,
	}
	return a.deliverer.attempt(ctx, dl, func(ctx context.Context) (Receipt, error) {
		return a.transport.SendSMS(ctx, msg)
	})
}

// Broadcast filters suppressed recipients, then sends to each of the rest individually.
func (a *SMSAdapter) Broadcast(ctx context.Context, p SMSBroadcastParams) BroadcastResult {
	result := BroadcastResult{Total: len(p.Recipients)}

	payload := a.payload(p.Body, p.MessageType, p.From)
	if f := validateSMSBody(payload.Body); f != nil {
		result.FailureCount = result.Total
		result.Error = f
		return result
	}

	valid := make([]string, 0, len(p.Recipients))
	for _, r := range p.Recipients {
		if !e164Pattern.MatchString(r) {
			result.FailureCount++
			continue
		}
		valid = append(valid, r)
	}

	base := delivery{
		channel:  domain.ChannelSMS,
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

	for _, recipient := range allowed {
		dl := base
		dl.recipients = []string{recipient}

		res, queued := a.throttledAttempt(ctx, dl)
		if res.Success {
			result.SuccessCount++
			continue
		}
		result.FailureCount++
		result.QueuedCount += queued
	}

	ctxlog.FromContext(ctx).Info("sms broadcast finished",
		"total", result.Total,
		"success", result.SuccessCount,
		"failed", result.FailureCount,
		"queued", result.QueuedCount,
		"suppressed", result.SuppressedCount,
	)

	return result
}

func (a *SMSAdapter) payload(body, messageType, from string) domain.QueuePayload {
	if from == "" {
		from = a.config.From
	}
	return domain.QueuePayload{
		Body:        body,
		MessageType: messageType,
		From:        from,
	}
}

func validateSMS(to, body string) *retry.Failure {
	if !e164Pattern.MatchString(to) {
		return retry.ValidationFailure("recipient %q is not an E.164 phone number", to)
	}
	return validateSMSBody(body)
}

func validateSMSBody(body string) *retry.Failure {
	if strings.TrimSpace(body) == "" {
		return retry.ValidationFailure("sms body is required")
	}
	if n := utf8.RuneCountInString(body); n > MaxSMSLength {
		return retry.NewFailure(retry.CodeMessageTooLong,
			fmt.Sprintf("sms body has %d characters, limit is %d", n, MaxSMSLength), false)
	}
	return nil
}
