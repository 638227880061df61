//go:build integration

package postgres

import (
	"context"
	"log"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/bissquit/courier/internal/domain"
	"github.com/bissquit/courier/internal/notifications"
	pgutil "github.com/bissquit/courier/internal/pkg/postgres"
	"github.com/bissquit/courier/internal/testutil"
	"github.com/bissquit/courier/migrations"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testDB *pgxpool.Pool

func TestMain(m *testing.M) {
	ctx := context.Background()

	pgContainer, err := testutil.NewPostgresContainer(ctx)
	if err != nil {
		log.Fatalf("start postgres: %v", err)
	}

	if err := pgutil.Migrate(pgContainer.ConnectionString, migrations.FS); err != nil {
		log.Fatalf("run migrations: %v", err)
	}

	testDB, err = pgutil.Connect(ctx, pgutil.Config{
		URL:             pgContainer.ConnectionString,
		MaxOpenConns:    10,
		MaxIdleConns:    2,
		ConnMaxLifetime: 5 * time.Minute,
		ConnectAttempts: 3,
	})
	if err != nil {
		log.Fatalf("connect: %v", err)
	}

	code := m.Run()

	testDB.Close()
	if err := pgContainer.Terminate(ctx); err != nil {
		log.Printf("terminate postgres: %v", err)
	}
	os.Exit(code)
}

func newRepo(t *testing.T) *Repository {
	t.Helper()
	ctx := context.Background()
	_, err := testDB.Exec(ctx, `TRUNCATE delivery_queue, delivery_log, suppressions`)
	require.NoError(t, err)
	return NewRepository(testDB)
}

func enqueue(t *testing.T, r *Repository, recipient string, nextRetryAt time.Time) *domain.QueueItem {
	t.Helper()
	lastError := "SERVER_ERROR: provider returned 503"
	item := &domain.QueueItem{
		Channel:     domain.ChannelEmail,
		Recipient:   recipient,
		Payload:     domain.QueuePayload{Subject: "Booking confirmed", HTML: "<p>hi</p>", MessageType: "booking_confirmation"},
		MaxRetries:  domain.DefaultMaxRetries,
		NextRetryAt: nextRetryAt,
		LastError:   &lastError,
	}
	require.NoError(t, r.Enqueue(context.Background(), item))
	return item
}

func TestRepository_QueueLifecycle(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()

	item := enqueue(t, r, "guest@example.com", time.Now().Add(-time.Second))
	assert.NotEmpty(t, item.ID)
	assert.Equal(t, domain.QueueStatusPending, item.Status)

	claimed, err := r.ClaimDue(ctx, time.Now(), 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, domain.QueueStatusProcessing, claimed[0].Status)
	assert.Equal(t, "Booking confirmed", claimed[0].Payload.Subject)
	assert.Equal(t, "booking_confirmation", claimed[0].Payload.MessageType)

	next := time.Now().Add(time.Minute)
	require.NoError(t, r.MarkForRetry(ctx, item.ID, 1, next, "TIMEOUT_ERROR: slow"))

	got, err := r.GetQueueItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.QueueStatusPending, got.Status)
	assert.Equal(t, 1, got.RetryCount)
	assert.WithinDuration(t, next, got.NextRetryAt, time.Millisecond)

	require.NoError(t, r.MarkCompleted(ctx, item.ID))
	got, err = r.GetQueueItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.QueueStatusCompleted, got.Status)

	_, err = r.GetQueueItem(ctx, "00000000-0000-0000-0000-000000000000")
	assert.ErrorIs(t, err, notifications.ErrQueueItemNotFound)
	_, err = r.GetQueueItem(ctx, "not-a-uuid")
	assert.ErrorIs(t, err, notifications.ErrQueueItemNotFound)
	assert.ErrorIs(t, r.MarkCompleted(ctx, "00000000-0000-0000-0000-000000000000"), notifications.ErrQueueItemNotFound)
}

func TestRepository_RetryCountCannotExceedMax(t *testing.T) {
	r := newRepo(t)
	item := enqueue(t, r, "guest@example.com", time.Now())

	err := r.MarkFailed(context.Background(), item.ID, domain.DefaultMaxRetries+1, "boom")
	assert.Error(t, err)
}

func TestRepository_ClaimDue_OldestFirstAndLimit(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	past := time.Now().Add(-time.Minute)

	first := enqueue(t, r, "first@example.com", past)
	second := enqueue(t, r, "second@example.com", past)
	enqueue(t, r, "third@example.com", past)
	enqueue(t, r, "later@example.com", time.Now().Add(time.Hour))

	claimed, err := r.ClaimDue(ctx, time.Now(), 2)
	require.NoError(t, err)
	require.Len(t, claimed, 2)
	assert.Equal(t, first.ID, claimed[0].ID)
	assert.Equal(t, second.ID, claimed[1].ID)

	stats, err := r.GetQueueStats(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.QueueStats{Pending: 2, Processing: 2}, *stats)
}

func TestRepository_ClaimDue_ConcurrentSweepersNeverShareRows(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	past := time.Now().Add(-time.Minute)

	for range 40 {
		enqueue(t, r, "guest@example.com", past)
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[string]int)
	)
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			items, err := r.ClaimDue(ctx, time.Now(), 15)
			assert.NoError(t, err)

			mu.Lock()
			defer mu.Unlock()
			for _, item := range items {
				seen[item.ID]++
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, 40)
	for id, n := range seen {
		assert.Equal(t, 1, n, "item %s claimed twice", id)
	}
}

func TestRepository_ReclaimStuck(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()

	enqueue(t, r, "guest@example.com", time.Now().Add(-time.Minute))
	_, err := r.ClaimDue(ctx, time.Now(), 10)
	require.NoError(t, err)

	n, err := r.ReclaimStuck(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = r.ReclaimStuck(ctx, time.Now().Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestRepository_DeliveryLog(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	tenant := "artist-1"
	extID := "msg-1"
	errMsg := "provider returned 503"

	require.NoError(t, r.AppendLog(ctx, &domain.DeliveryLogEntry{
		Channel: domain.ChannelEmail, Recipient: "a@example.com", Status: domain.DeliveryStatusSuccess,
		MessageType: "receipt", ExternalMessageID: &extID, TenantID: &tenant,
	}))

	batch := []*domain.DeliveryLogEntry{
		{Channel: domain.ChannelEmail, Recipient: "b@example.com", Status: domain.DeliveryStatusFailed, ErrorCode: "SERVER_ERROR", ErrorMessage: &errMsg},
		{Channel: domain.ChannelSMS, Recipient: "+15550000001", Status: domain.DeliveryStatusRejected, ErrorCode: "RECIPIENT_UNSUBSCRIBED"},
	}
	require.NoError(t, r.AppendLogs(ctx, batch))
	for _, e := range batch {
		assert.NotEmpty(t, e.ID)
		assert.False(t, e.CreatedAt.IsZero())
	}

	recipient := "a@example.com"
	entries, err := r.ListLogs(ctx, notifications.LogFilter{Recipient: &recipient})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "msg-1", *entries[0].ExternalMessageID)
	assert.Equal(t, "receipt", entries[0].MessageType)

	entries, err = r.ListLogs(ctx, notifications.LogFilter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	stats, err := r.GetDeliveryStats(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.DeliveryStats{Total: 3, Success: 1, Failed: 1, Rejected: 1}, *stats)

	stats, err = r.GetDeliveryStats(ctx, &tenant)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Total)
}

func TestRepository_Suppressions(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()

	entry := &domain.SuppressionEntry{Recipient: "a@example.com", Reason: domain.SuppressionReasonBounce}
	require.NoError(t, r.AddSuppression(ctx, entry))
	assert.NotEmpty(t, entry.ID)

	dup := &domain.SuppressionEntry{Recipient: "a@example.com", Reason: domain.SuppressionReasonManual}
	require.NoError(t, r.AddSuppression(ctx, dup))
	assert.Equal(t, entry.ID, dup.ID)
	assert.Equal(t, domain.SuppressionReasonBounce, dup.Reason)

	ok, err := r.IsSuppressed(ctx, "a@example.com")
	require.NoError(t, err)
	assert.True(t, ok)

	set, err := r.FilterSuppressed(ctx, []string{"a@example.com", "b@example.com"})
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"a@example.com": true}, set)

	entries, err := r.ListSuppressions(ctx, notifications.SuppressionFilter{})
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	require.NoError(t, r.RemoveSuppression(ctx, "a@example.com"))
	assert.ErrorIs(t, r.RemoveSuppression(ctx, "a@example.com"), notifications.ErrSuppressionNotFound)
}
