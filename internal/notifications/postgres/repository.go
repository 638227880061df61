// Package postgres provides PostgreSQL implementation of notifications repository.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/bissquit/courier/internal/domain"
	"github.com/bissquit/courier/internal/notifications"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository implements notifications.Repository using PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

var _ notifications.Repository = (*Repository)(nil)

// NewRepository creates a new PostgreSQL repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

const queueColumns = `id, channel, recipient, payload, retry_count, max_retries, next_retry_at,
	status, last_error, tenant_id, created_at, updated_at`

// Enqueue inserts a queue item.
func (r *Repository) Enqueue(ctx context.Context, item *domain.QueueItem) error {
	payload, err := json.Marshal(item.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	status := item.Status
	if status == "" {
		status = domain.QueueStatusPending
	}

	query := `
		INSERT INTO delivery_queue (channel, recipient, payload, retry_count, max_retries, next_retry_at, status, last_error, tenant_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, status, created_at, updated_at
	`
	err = r.db.QueryRow(ctx, query,
		item.Channel,
		item.Recipient,
		payload,
		item.RetryCount,
		item.MaxRetries,
		item.NextRetryAt,
		status,
		item.LastError,
		item.TenantID,
	).Scan(&item.ID, &item.Status, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return fmt.Errorf("enqueue: %w", err)
	}
	return nil
}

// ClaimDue moves up to limit due pending items to processing in one statement
// and returns them oldest first. Concurrent callers never receive the same row.
func (r *Repository) ClaimDue(ctx context.Context, now time.Time, limit int) ([]*domain.QueueItem, error) {
	query := `
		WITH due AS (
			SELECT id FROM delivery_queue
			WHERE status = 'pending' AND next_retry_at <= $1
			ORDER BY created_at, id
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		UPDATE delivery_queue q
		SET status = 'processing', updated_at = NOW()
		FROM due
		WHERE q.id = due.id
		RETURNING q.id, q.channel, q.recipient, q.payload, q.retry_count, q.max_retries, q.next_retry_at,
			q.status, q.last_error, q.tenant_id, q.created_at, q.updated_at
	`
	rows, err := r.db.Query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("claim due items: %w", err)
	}
	defer rows.Close()

	items := make([]*domain.QueueItem, 0)
	for rows.Next() {
		item, err := scanQueueItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate claimed items: %w", err)
	}

	// RETURNING does not preserve the CTE order
	sortOldestFirst(items)
	return items, nil
}

// MarkCompleted moves an item to completed.
func (r *Repository) MarkCompleted(ctx context.Context, id string) error {
	query := `
		UPDATE delivery_queue
		SET status = 'completed', updated_at = NOW()
		WHERE id = $1
	`
	return r.execOne(ctx, "mark completed", query, id)
}

// MarkForRetry returns an item to pending with a new retry count and due time.
func (r *Repository) MarkForRetry(ctx context.Context, id string, retryCount int, nextRetryAt time.Time, lastError string) error {
	query := `
		UPDATE delivery_queue
		SET status = 'pending', retry_count = $2, next_retry_at = $3, last_error = $4, updated_at = NOW()
		WHERE id = $1
	`
	return r.execOne(ctx, "mark for retry", query, id, retryCount, nextRetryAt, lastError)
}

// MarkFailed moves an item to failed.
func (r *Repository) MarkFailed(ctx context.Context, id string, retryCount int, lastError string) error {
	query := `
		UPDATE delivery_queue
		SET status = 'failed', retry_count = $2, last_error = $3, updated_at = NOW()
		WHERE id = $1
	`
	return r.execOne(ctx, "mark failed", query, id, retryCount, lastError)
}

// ReclaimStuck returns processing items not updated since olderThan to pending.
func (r *Repository) ReclaimStuck(ctx context.Context, olderThan time.Time) (int64, error) {
	query := `
		UPDATE delivery_queue
		SET status = 'pending', updated_at = NOW()
		WHERE status = 'processing' AND updated_at < $1
	`
	result, err := r.db.Exec(ctx, query, olderThan)
	if err != nil {
		return 0, fmt.Errorf("reclaim stuck items: %w", err)
	}
	return result.RowsAffected(), nil
}

// GetQueueItem returns a queue item by ID.
func (r *Repository) GetQueueItem(ctx context.Context, id string) (*domain.QueueItem, error) {
	if uuid.Validate(id) != nil {
		return nil, notifications.ErrQueueItemNotFound
	}
	query := `SELECT ` + queueColumns + ` FROM delivery_queue WHERE id = $1`

	item, err := scanQueueItem(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notifications.ErrQueueItemNotFound
		}
		return nil, err
	}
	return item, nil
}

// ListQueueItems returns items matching filter, newest first.
func (r *Repository) ListQueueItems(ctx context.Context, filter notifications.QueueFilter) ([]domain.QueueItem, error) {
	w := newWhere()
	if filter.Status != nil {
		w.add("status = %s", *filter.Status)
	}
	if filter.Channel != nil {
		w.add("channel = %s", *filter.Channel)
	}
	if filter.TenantID != nil {
		w.add("tenant_id = %s", *filter.TenantID)
	}

	query := `SELECT ` + queueColumns + ` FROM delivery_queue` + w.clause() + ` ORDER BY created_at DESC` + w.limit(filter.Limit)

	rows, err := r.db.Query(ctx, query, w.args...)
	if err != nil {
		return nil, fmt.Errorf("list queue items: %w", err)
	}
	defer rows.Close()

	items := make([]domain.QueueItem, 0)
	for rows.Next() {
		item, err := scanQueueItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate queue items: %w", err)
	}
	return items, nil
}

// GetQueueStats counts items by status.
func (r *Repository) GetQueueStats(ctx context.Context, tenantID *string) (*domain.QueueStats, error) {
	query := `
		SELECT
			COUNT(*) FILTER (WHERE status = 'pending'),
			COUNT(*) FILTER (WHERE status = 'processing'),
			COUNT(*) FILTER (WHERE status = 'completed'),
			COUNT(*) FILTER (WHERE status = 'failed')
		FROM delivery_queue
		WHERE $1::text IS NULL OR tenant_id = $1
	`
	var stats domain.QueueStats
	err := r.db.QueryRow(ctx, query, tenantID).Scan(
		&stats.Pending,
		&stats.Processing,
		&stats.Completed,
		&stats.Failed,
	)
	if err != nil {
		return nil, fmt.Errorf("get queue stats: %w", err)
	}
	return &stats, nil
}

const logInsertQuery = `
	INSERT INTO delivery_log (channel, recipient, status, message_type, error_code, error_message, external_message_id, tenant_id)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	RETURNING id, created_at
`

// AppendLog appends a delivery log entry.
func (r *Repository) AppendLog(ctx context.Context, entry *domain.DeliveryLogEntry) error {
	err := r.db.QueryRow(ctx, logInsertQuery, logArgs(entry)...).Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("append log: %w", err)
	}
	return nil
}

// AppendLogs appends delivery log entries in one round trip.
func (r *Repository) AppendLogs(ctx context.Context, entries []*domain.DeliveryLogEntry) error {
	if len(entries) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, entry := range entries {
		batch.Queue(logInsertQuery, logArgs(entry)...).QueryRow(func(row pgx.Row) error {
			return row.Scan(&entry.ID, &entry.CreatedAt)
		})
	}

	if err := r.db.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("append logs: %w", err)
	}
	return nil
}

func logArgs(entry *domain.DeliveryLogEntry) []any {
	return []any{
		entry.Channel,
		entry.Recipient,
		entry.Status,
		entry.MessageType,
		entry.ErrorCode,
		entry.ErrorMessage,
		entry.ExternalMessageID,
		entry.TenantID,
	}
}

// ListLogs returns entries matching filter, newest first.
func (r *Repository) ListLogs(ctx context.Context, filter notifications.LogFilter) ([]domain.DeliveryLogEntry, error) {
	w := newWhere()
	if filter.Recipient != nil {
		w.add("recipient = %s", *filter.Recipient)
	}
	if filter.Channel != nil {
		w.add("channel = %s", *filter.Channel)
	}
	if filter.Status != nil {
		w.add("status = %s", *filter.Status)
	}
	if filter.TenantID != nil {
		w.add("tenant_id = %s", *filter.TenantID)
	}

	query := `
		SELECT id, channel, recipient, status, message_type, error_code, error_message, external_message_id, tenant_id, created_at
		FROM delivery_log` + w.clause() + ` ORDER BY created_at DESC, id` + w.limit(filter.Limit)

	rows, err := r.db.Query(ctx, query, w.args...)
	if err != nil {
		return nil, fmt.Errorf("list logs: %w", err)
	}
	defer rows.Close()

	entries := make([]domain.DeliveryLogEntry, 0)
	for rows.Next() {
		var e domain.DeliveryLogEntry
		err := rows.Scan(
			&e.ID,
			&e.Channel,
			&e.Recipient,
			&e.Status,
			&e.MessageType,
			&e.ErrorCode,
			&e.ErrorMessage,
			&e.ExternalMessageID,
			&e.TenantID,
			&e.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan log entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate log entries: %w", err)
	}
	return entries, nil
}

// GetDeliveryStats counts entries by status.
func (r *Repository) GetDeliveryStats(ctx context.Context, tenantID *string) (*domain.DeliveryStats, error) {
	query := `
		SELECT status, COUNT(*)
		FROM delivery_log
		WHERE $1::text IS NULL OR tenant_id = $1
		GROUP BY status
	`
	rows, err := r.db.Query(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("get delivery stats: %w", err)
	}
	defer rows.Close()

	stats := &domain.DeliveryStats{}
	for rows.Next() {
		var (
			status domain.DeliveryStatus
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan delivery stats: %w", err)
		}
		stats.Add(status, count)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate delivery stats: %w", err)
	}
	return stats, nil
}

// AddSuppression inserts an entry or loads the existing one for the recipient.
func (r *Repository) AddSuppression(ctx context.Context, entry *domain.SuppressionEntry) error {
	// the no-op update makes RETURNING yield the existing row on conflict
	query := `
		INSERT INTO suppressions (recipient, tenant_id, reason)
		VALUES ($1, $2, $3)
		ON CONFLICT (recipient) DO UPDATE SET recipient = EXCLUDED.recipient
		RETURNING id, recipient, tenant_id, reason, created_at
	`
	err := r.db.QueryRow(ctx, query, entry.Recipient, entry.TenantID, entry.Reason).Scan(
		&entry.ID,
		&entry.Recipient,
		&entry.TenantID,
		&entry.Reason,
		&entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("add suppression: %w", err)
	}
	return nil
}

// RemoveSuppression deletes the entry for recipient.
func (r *Repository) RemoveSuppression(ctx context.Context, recipient string) error {
	result, err := r.db.Exec(ctx, `DELETE FROM suppressions WHERE recipient = $1`, recipient)
	if err != nil {
		return fmt.Errorf("remove suppression: %w", err)
	}
	if result.RowsAffected() == 0 {
		return notifications.ErrSuppressionNotFound
	}
	return nil
}

// IsSuppressed reports whether recipient has an entry.
func (r *Repository) IsSuppressed(ctx context.Context, recipient string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM suppressions WHERE recipient = $1)`, recipient).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check suppression: %w", err)
	}
	return exists, nil
}

// FilterSuppressed returns the suppressed subset of recipients.
func (r *Repository) FilterSuppressed(ctx context.Context, recipients []string) (map[string]bool, error) {
	result := make(map[string]bool)
	if len(recipients) == 0 {
		return result, nil
	}

	rows, err := r.db.Query(ctx, `SELECT recipient FROM suppressions WHERE recipient = ANY($1)`, recipients)
	if err != nil {
		return nil, fmt.Errorf("filter suppressed: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var recipient string
		if err := rows.Scan(&recipient); err != nil {
			return nil, fmt.Errorf("scan suppressed recipient: %w", err)
		}
		result[recipient] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate suppressed recipients: %w", err)
	}
	return result, nil
}

// ListSuppressions returns entries, newest first.
func (r *Repository) ListSuppressions(ctx context.Context, filter notifications.SuppressionFilter) ([]domain.SuppressionEntry, error) {
	w := newWhere()
	if filter.TenantID != nil {
		w.add("tenant_id = %s", *filter.TenantID)
	}

	query := `SELECT id, recipient, tenant_id, reason, created_at FROM suppressions` +
		w.clause() + ` ORDER BY created_at DESC, recipient` + w.limit(filter.Limit)

	rows, err := r.db.Query(ctx, query, w.args...)
	if err != nil {
		return nil, fmt.Errorf("list suppressions: %w", err)
	}
	defer rows.Close()

	entries := make([]domain.SuppressionEntry, 0)
	for rows.Next() {
		var e domain.SuppressionEntry
		if err := rows.Scan(&e.ID, &e.Recipient, &e.TenantID, &e.Reason, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan suppression: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate suppressions: %w", err)
	}
	return entries, nil
}

func (r *Repository) execOne(ctx context.Context, op, query string, args ...any) error {
	result, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if result.RowsAffected() == 0 {
		return notifications.ErrQueueItemNotFound
	}
	return nil
}

func scanQueueItem(row pgx.Row) (*domain.QueueItem, error) {
	var (
		item    domain.QueueItem
		payload []byte
	)
	err := row.Scan(
		&item.ID,
		&item.Channel,
		&item.Recipient,
		&payload,
		&item.RetryCount,
		&item.MaxRetries,
		&item.NextRetryAt,
		&item.Status,
		&item.LastError,
		&item.TenantID,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan queue item: %w", err)
	}

	if err := json.Unmarshal(payload, &item.Payload); err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}
	return &item, nil
}

func sortOldestFirst(items []*domain.QueueItem) {
	slices.SortFunc(items, func(a, b *domain.QueueItem) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
}

// where builds a parameterized WHERE clause.
type where struct {
	conds []string
	args  []any
}

func newWhere() *where {
	return &where{}
}

func (w *where) add(cond string, arg any) {
	w.args = append(w.args, arg)
	w.conds = append(w.conds, fmt.Sprintf(cond, fmt.Sprintf("$%d", len(w.args))))
}

func (w *where) clause() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}

func (w *where) limit(limit int) string {
	if limit <= 0 {
		return ""
	}
	w.args = append(w.args, limit)
	return fmt.Sprintf(" LIMIT $%d", len(w.args))
}
