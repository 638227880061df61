package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bissquit/courier/internal/domain"
	"github.com/bissquit/courier/internal/notifications"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newItem(recipient string, nextRetryAt time.Time) *domain.QueueItem {
	return &domain.QueueItem{
		Channel:     domain.ChannelEmail,
		Recipient:   recipient,
		Payload:     domain.QueuePayload{Subject: "s", Text: "t"},
		MaxRetries:  domain.DefaultMaxRetries,
		NextRetryAt: nextRetryAt,
	}
}

func TestStore_ClaimDue(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	now := time.Now()

	due := newItem("due@example.com", now.Add(-time.Second))
	later := newItem("later@example.com", now.Add(time.Hour))
	require.NoError(t, s.Enqueue(ctx, due))
	require.NoError(t, s.Enqueue(ctx, later))

	claimed, err := s.ClaimDue(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, due.ID, claimed[0].ID)
	assert.Equal(t, domain.QueueStatusProcessing, claimed[0].Status)

	// claimed items are not handed out twice
	claimed, err = s.ClaimDue(ctx, now, 10)
	require.NoError(t, err)
	assert.Empty(t, claimed)
}

func TestStore_ClaimDue_Concurrent(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	past := time.Now().Add(-time.Minute)

	for range 50 {
		require.NoError(t, s.Enqueue(ctx, newItem("guest@example.com", past)))
	}

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		seen  = make(map[string]int)
		total int
	)
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			items, err := s.ClaimDue(ctx, time.Now(), 20)
			assert.NoError(t, err)

			mu.Lock()
			defer mu.Unlock()
			for _, item := range items {
				seen[item.ID]++
				total++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, total)
	for id, n := range seen {
		assert.Equal(t, 1, n, "item %s claimed more than once", id)
	}
}

func TestStore_StateTransitions(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	item := newItem("guest@example.com", time.Now())
	require.NoError(t, s.Enqueue(ctx, item))

	next := time.Now().Add(time.Minute)
	require.NoError(t, s.MarkForRetry(ctx, item.ID, 1, next, "SERVER_ERROR: boom"))

	got, err := s.GetQueueItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.QueueStatusPending, got.Status)
	assert.Equal(t, 1, got.RetryCount)
	assert.True(t, got.NextRetryAt.Equal(next))
	assert.Equal(t, "SERVER_ERROR: boom", *got.LastError)

	require.NoError(t, s.MarkFailed(ctx, item.ID, 3, "SERVER_ERROR: still"))
	got, err = s.GetQueueItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.QueueStatusFailed, got.Status)
	assert.Equal(t, 3, got.RetryCount)

	assert.ErrorIs(t, s.MarkCompleted(ctx, "missing"), notifications.ErrQueueItemNotFound)
	_, err = s.GetQueueItem(ctx, "missing")
	assert.ErrorIs(t, err, notifications.ErrQueueItemNotFound)
}

func TestStore_ReclaimStuck(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	old := time.Now().Add(-time.Hour)
	s.SetClock(func() time.Time { return old })
	require.NoError(t, s.Enqueue(ctx, newItem("guest@example.com", old)))
	_, err := s.ClaimDue(ctx, old, 10)
	require.NoError(t, err)
	s.SetClock(time.Now)

	n, err := s.ReclaimStuck(ctx, time.Now().Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	stats, err := s.GetQueueStats(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Pending)
	assert.Equal(t, 0, stats.Processing)
}

func TestStore_ListQueueItems_Filters(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	tenant := "artist-1"

	a := newItem("a@example.com", time.Now())
	a.TenantID = &tenant
	b := newItem("+15550000001", time.Now())
	b.Channel = domain.ChannelSMS
	require.NoError(t, s.Enqueue(ctx, a))
	require.NoError(t, s.Enqueue(ctx, b))

	sms := domain.ChannelSMS
	items, err := s.ListQueueItems(ctx, notifications.QueueFilter{Channel: &sms})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, b.ID, items[0].ID)

	items, err = s.ListQueueItems(ctx, notifications.QueueFilter{TenantID: &tenant})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, a.ID, items[0].ID)

	items, err = s.ListQueueItems(ctx, notifications.QueueFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, items, 1)

	stats, err := s.GetQueueStats(ctx, &tenant)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Pending)
}

func TestStore_ReturnedItemsAreCopies(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	item := newItem("guest@example.com", time.Now())
	require.NoError(t, s.Enqueue(ctx, item))
	require.NoError(t, s.MarkForRetry(ctx, item.ID, 1, time.Now(), "first"))

	got, err := s.GetQueueItem(ctx, item.ID)
	require.NoError(t, err)
	*got.LastError = "mutated"
	got.Status = domain.QueueStatusCompleted

	again, err := s.GetQueueItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, "first", *again.LastError)
	assert.Equal(t, domain.QueueStatusPending, again.Status)
}

func TestStore_Logs(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	require.NoError(t, s.AppendLogs(ctx, []*domain.DeliveryLogEntry{
		{Channel: domain.ChannelEmail, Recipient: "a@example.com", Status: domain.DeliveryStatusSuccess},
		{Channel: domain.ChannelEmail, Recipient: "b@example.com", Status: domain.DeliveryStatusFailed},
	}))
	require.NoError(t, s.AppendLog(ctx, &domain.DeliveryLogEntry{
		Channel: domain.ChannelSMS, Recipient: "+15550000001", Status: domain.DeliveryStatusRejected,
	}))

	entries, err := s.ListLogs(ctx, notifications.LogFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "+15550000001", entries[0].Recipient, "newest first")

	failed := domain.DeliveryStatusFailed
	entries, err = s.ListLogs(ctx, notifications.LogFilter{Status: &failed})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "b@example.com", entries[0].Recipient)

	stats, err := s.GetDeliveryStats(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.DeliveryStats{Total: 3, Success: 1, Failed: 1, Rejected: 1}, *stats)
}

func TestStore_Suppressions(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	entry := &domain.SuppressionEntry{Recipient: "a@example.com", Reason: domain.SuppressionReasonBounce}
	require.NoError(t, s.AddSuppression(ctx, entry))
	assert.NotEmpty(t, entry.ID)

	dup := &domain.SuppressionEntry{Recipient: "a@example.com", Reason: domain.SuppressionReasonManual}
	require.NoError(t, s.AddSuppression(ctx, dup))
	assert.Equal(t, entry.ID, dup.ID)
	assert.Equal(t, domain.SuppressionReasonBounce, dup.Reason)

	set, err := s.FilterSuppressed(ctx, []string{"a@example.com", "b@example.com"})
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"a@example.com": true}, set)

	require.NoError(t, s.RemoveSuppression(ctx, "a@example.com"))
	assert.ErrorIs(t, s.RemoveSuppression(ctx, "a@example.com"), notifications.ErrSuppressionNotFound)

	ok, err := s.IsSuppressed(ctx, "a@example.com")
	require.NoError(t, err)
	assert.False(t, ok)
}
