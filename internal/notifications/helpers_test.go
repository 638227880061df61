package notifications_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bissquit/courier/internal/domain"
	"github.com/bissquit/courier/internal/notifications"
	"github.com/bissquit/courier/internal/notifications/memory"
	"github.com/bissquit/courier/internal/notifications/ratelimit"
	"github.com/bissquit/courier/internal/notifications/retry"
	"github.com/stretchr/testify/require"
)

type providerError struct {
	status int
}

func (e *providerError) Error() string   { return fmt.Sprintf("provider returned status %d", e.status) }
func (e *providerError) HTTPStatus() int { return e.status }

type fakeEmailTransport struct {
	mu    sync.Mutex
	calls []notifications.EmailMessage
	// errs[i] is returned by call i; calls past the end use err.
	errs []error
	err  error
}

func (f *fakeEmailTransport) SendEmail(_ context.Context, msg notifications.EmailMessage) (notifications.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, msg)
	idx := len(f.calls) - 1
	if idx < len(f.errs) && f.errs[idx] != nil {
		return notifications.Receipt{}, f.errs[idx]
	}
	if idx >= len(f.errs) && f.err != nil {
		return notifications.Receipt{}, f.err
	}
	return notifications.Receipt{MessageID: fmt.Sprintf("email-%d", idx+1)}, nil
}

func (f *fakeEmailTransport) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeEmailTransport) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeSMSTransport struct {
	mu    sync.Mutex
	calls []notifications.SMSMessage
	err   error
}

func (f *fakeSMSTransport) SendSMS(_ context.Context, msg notifications.SMSMessage) (notifications.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, msg)
	if f.err != nil {
		return notifications.Receipt{}, f.err
	}
	return notifications.Receipt{MessageID: fmt.Sprintf("SM%d", len(f.calls))}, nil
}

func (f *fakeSMSTransport) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type harness struct {
	store          *memory.Store
	emailTransport *fakeEmailTransport
	smsTransport   *fakeSMSTransport
	email          *notifications.EmailAdapter
	sms            *notifications.SMSAdapter
	sweeper        *notifications.Sweeper
	suppressions   *notifications.SuppressionList
	log            *notifications.DeliveryLog
	queue          *notifications.DeliveryQueue
	service        *notifications.Service

	mu     sync.Mutex
	offset time.Duration
}

type harnessConfig struct {
	retry   retry.Config
	limiter ratelimit.Config
	wrap    func(*memory.Store) notifications.Repository
}

type harnessOption func(*harnessConfig)

func withSyncRetries(n int) harnessOption {
	return func(c *harnessConfig) {
		c.retry.MaxRetries = n
	}
}

func withLimiter(cfg ratelimit.Config) harnessOption {
	return func(c *harnessConfig) {
		c.limiter = cfg
	}
}

// withRepository lets a test wrap the memory store to inject failures.
func withRepository(wrap func(*memory.Store) notifications.Repository) harnessOption {
	return func(c *harnessConfig) {
		c.wrap = wrap
	}
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()

	store := memory.NewStore()
	cfg := harnessConfig{
		retry:   retry.DefaultConfig(),
		limiter: ratelimit.Config{PerSecond: 10000, Burst: 10000},
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	var repo notifications.Repository = store
	if cfg.wrap != nil {
		repo = cfg.wrap(store)
	}

	h := &harness{
		store:          store,
		emailTransport: &fakeEmailTransport{},
		smsTransport:   &fakeSMSTransport{},
	}

	h.suppressions = notifications.NewSuppressionList(repo)
	h.log = notifications.NewDeliveryLog(repo)
	h.queue = notifications.NewDeliveryQueue(repo, notifications.QueueConfig{
		MaxRetries: domain.DefaultMaxRetries,
		Retry:      cfg.retry,
	})

	noSleep := retry.WithSleep(func(context.Context, time.Duration) error { return nil })
	deliverer := notifications.NewDeliverer(h.suppressions, h.log, h.queue, cfg.retry, notifications.WithRetryOptions(noSleep))

	h.email = notifications.NewEmailAdapter(h.emailTransport, deliverer, notifications.EmailConfig{From: "noreply@example.com"})
	h.sms = notifications.NewSMSAdapter(h.smsTransport, ratelimit.NewTokenBucket(cfg.limiter), deliverer, notifications.SMSConfig{From: "+15550000000"})

	h.sweeper = notifications.NewSweeper(
		notifications.SweeperConfig{BatchSize: 100, Retry: cfg.retry},
		repo,
		map[domain.Channel]notifications.Redeliverer{
			domain.ChannelEmail: h.email,
			domain.ChannelSMS:   h.sms,
		},
		notifications.WithClock(h.now),
	)

	h.service = notifications.NewService(h.email, h.sms, h.sweeper, h.queue, h.log, h.suppressions)
	return h
}

// now is the sweeper clock. It runs ahead of wall time so queued items are due.
func (h *harness) now() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return time.Now().Add(h.offset)
}

func (h *harness) advance(d time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.offset += d
}

func (h *harness) logs(t *testing.T) []domain.DeliveryLogEntry {
	t.Helper()
	entries, err := h.store.ListLogs(context.Background(), notifications.LogFilter{})
	require.NoError(t, err)

	// oldest first reads better in assertions
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries
}

func (h *harness) queueItems(t *testing.T) []domain.QueueItem {
	t.Helper()
	items, err := h.store.ListQueueItems(context.Background(), notifications.QueueFilter{})
	require.NoError(t, err)
	return items
}

func validEmail(to string) notifications.EmailParams {
	return notifications.EmailParams{
		To:          to,
		Subject:     "Booking confirmed",
		HTML:        "<p>See you soon</p>",
		Text:        "See you soon",
		MessageType: "booking_confirmation",
	}
}

func strPtr(s string) *string {
	return &s
}
