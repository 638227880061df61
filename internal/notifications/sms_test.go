package notifications_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/bissquit/courier/internal/domain"
	"github.com/bissquit/courier/internal/notifications"
	"github.com/bissquit/courier/internal/notifications/ratelimit"
	"github.com/bissquit/courier/internal/notifications/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSMSAdapter_Send_Success(t *testing.T) {
	h := newHarness(t)

	res := h.sms.Send(context.Background(), notifications.SMSParams{
		To:          "+15551234567",
		Body:        "Your booking is confirmed",
		MessageType: "booking_confirmation",
	})

	require.True(t, res.Success)
	assert.Equal(t, "SM1", res.MessageID)

	require.Equal(t, 1, h.smsTransport.callCount())
	assert.Equal(t, "+15551234567", h.smsTransport.calls[0].To)
	assert.Equal(t, "+15550000000", h.smsTransport.calls[0].From)

	logs := h.logs(t)
	require.Len(t, logs, 1)
	assert.Equal(t, domain.ChannelSMS, logs[0].Channel)
	assert.Equal(t, domain.DeliveryStatusSuccess, logs[0].Status)
}

func TestSMSAdapter_Send_Validation(t *testing.T) {
	tests := []struct {
		name string
		to   string
		body string
		code retry.Code
	}{
		{"missing plus", "15551234567", "hi", retry.CodeValidation},
		{"letters", "+1555abc", "hi", retry.CodeValidation},
		{"too many digits", "+1234567890123456", "hi", retry.CodeValidation},
		{"empty body", "+15551234567", "  ", retry.CodeValidation},
		{"body too long", "+15551234567", strings.Repeat("a", notifications.MaxSMSLength+1), retry.CodeMessageTooLong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)

			res := h.sms.Send(context.Background(), notifications.SMSParams{To: tt.to, Body: tt.body})

			assert.False(t, res.Success)
			require.NotNil(t, res.Error)
			assert.Equal(t, tt.code, res.Error.Code)
			assert.False(t, res.Error.Retryable)
			assert.Equal(t, 0, h.smsTransport.callCount())
			assert.Empty(t, h.logs(t))
		})
	}
}

func TestSMSAdapter_Send_MaxLengthAccepted(t *testing.T) {
	h := newHarness(t)

	// multi-byte characters count once each
	body := strings.Repeat("é", notifications.MaxSMSLength)
	res := h.sms.Send(context.Background(), notifications.SMSParams{To: "+15551234567", Body: body})

	assert.True(t, res.Success)
}

func TestSMSAdapter_Send_SuppressedRecipient(t *testing.T) {
	h := newHarness(t)
	_, err := h.suppressions.Add(context.Background(), " +15551234567 ", domain.SuppressionReasonUnsubscribed, nil)
	require.NoError(t, err)

	res := h.sms.Send(context.Background(), notifications.SMSParams{To: "+15551234567", Body: "hi"})

	require.NotNil(t, res.Error)
	assert.Equal(t, retry.CodeRecipientUnsubscribed, res.Error.Code)
	assert.Equal(t, 0, h.smsTransport.callCount())

	logs := h.logs(t)
	require.Len(t, logs, 1)
	assert.Equal(t, domain.DeliveryStatusRejected, logs[0].Status)
}

func TestSMSAdapter_Send_RateLimitedByProvider(t *testing.T) {
	h := newHarness(t)
	h.smsTransport.err = &providerError{status: 429}

	res := h.sms.Send(context.Background(), notifications.SMSParams{To: "+15551234567", Body: "hi"})

	require.NotNil(t, res.Error)
	assert.Equal(t, retry.CodeRateLimit, res.Error.Code)
	assert.True(t, res.Queued)
	assert.Equal(t, 4, h.smsTransport.callCount())

	items := h.queueItems(t)
	require.Len(t, items, 1)
	assert.Equal(t, domain.ChannelSMS, items[0].Channel)
	assert.Equal(t, "hi", items[0].Payload.Body)
}

func TestSMSAdapter_Send_Throttled(t *testing.T) {
	h := newHarness(t, withLimiter(ratelimit.Config{PerSecond: 10, Burst: 10}))

	start := time.Now()
	for range 15 {
		res := h.sms.Send(context.Background(), notifications.SMSParams{To: "+15551234567", Body: "hi"})
		require.True(t, res.Success)
	}
	elapsed := time.Since(start)

	// ten from the full bucket, five more at 100ms each
	assert.GreaterOrEqual(t, elapsed, 490*time.Millisecond)
	assert.Equal(t, 15, h.smsTransport.callCount())
}

func TestSMSAdapter_Send_LimiterCancelledIsQueued(t *testing.T) {
	h := newHarness(t, withLimiter(ratelimit.Config{PerSecond: 0.001, Burst: 1}))

	first := h.sms.Send(context.Background(), notifications.SMSParams{To: "+15551234567", Body: "hi"})
	require.True(t, first.Success)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	res := h.sms.Send(ctx, notifications.SMSParams{To: "+15557654321", Body: "hi"})

	require.NotNil(t, res.Error)
	assert.True(t, res.Error.Retryable)
	assert.True(t, res.Queued)
	assert.Equal(t, 1, h.smsTransport.callCount())
}

func TestSMSAdapter_Broadcast(t *testing.T) {
	h := newHarness(t)
	_, err := h.suppressions.Add(context.Background(), "+15550000002", domain.SuppressionReasonManual, nil)
	require.NoError(t, err)

	res := h.sms.Broadcast(context.Background(), notifications.SMSBroadcastParams{
		Recipients: []string{"+15550000001", "+15550000002", "bogus", "+15550000003"},
		Body:       "Doors open at 8",
	})

	assert.Equal(t, 4, res.Total)
	assert.Equal(t, 2, res.SuccessCount)
	assert.Equal(t, 1, res.FailureCount)
	assert.Equal(t, 1, res.SuppressedCount)

	require.Equal(t, 2, h.smsTransport.callCount())
	assert.Equal(t, "+15550000001", h.smsTransport.calls[0].To)
	assert.Equal(t, "+15550000003", h.smsTransport.calls[1].To)
}

func TestSMSAdapter_Broadcast_BodyTooLong(t *testing.T) {
	h := newHarness(t)

	res := h.sms.Broadcast(context.Background(), notifications.SMSBroadcastParams{
		Recipients: []string{"+15550000001", "+15550000002"},
		Body:       strings.Repeat("x", notifications.MaxSMSLength+1),
	})

	assert.Equal(t, 2, res.FailureCount)
	require.NotNil(t, res.Error)
	assert.Equal(t, retry.CodeMessageTooLong, res.Error.Code)
	assert.Equal(t, 0, h.smsTransport.callCount())
}
