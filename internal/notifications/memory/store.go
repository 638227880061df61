// Package memory provides an in-memory implementation of the notifications repository.
// It is used by tests and by local runs with storage driver "memory".
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/bissquit/courier/internal/domain"
	"github.com/bissquit/courier/internal/notifications"
	"github.com/google/uuid"
)

// Store implements notifications.Repository in process memory.
type Store struct {
	mu sync.RWMutex

	queue        map[string]domain.QueueItem
	logs         []domain.DeliveryLogEntry
	suppressions map[string]domain.SuppressionEntry

	now func() time.Time
}

var _ notifications.Repository = (*Store)(nil)

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		queue:        make(map[string]domain.QueueItem),
		suppressions: make(map[string]domain.SuppressionEntry),
		now:          time.Now,
	}
}

// SetClock replaces the clock used for created_at and updated_at.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Enqueue inserts a queue item.
func (s *Store) Enqueue(_ context.Context, item *domain.QueueItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	item.ID = uuid.NewString()
	item.CreatedAt = now
	item.UpdatedAt = now
	if item.Status == "" {
		item.Status = domain.QueueStatusPending
	}

	s.queue[item.ID] = cloneItem(*item)
	return nil
}

// ClaimDue moves due pending items to processing, oldest first.
func (s *Store) ClaimDue(_ context.Context, now time.Time, limit int) ([]*domain.QueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	due := make([]domain.QueueItem, 0)
	for _, item := range s.queue {
		if item.IsDue(now) {
			due = append(due, item)
		}
	}

	sort.Slice(due, func(i, j int) bool {
		if due[i].CreatedAt.Equal(due[j].CreatedAt) {
			return due[i].ID < due[j].ID
		}
		return due[i].CreatedAt.Before(due[j].CreatedAt)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	claimed := make([]*domain.QueueItem, 0, len(due))
	for _, item := range due {
		item.Status = domain.QueueStatusProcessing
		item.UpdatedAt = s.now()
		s.queue[item.ID] = item

		c := cloneItem(item)
		claimed = append(claimed, &c)
	}
	return claimed, nil
}

// MarkCompleted moves an item to completed.
func (s *Store) MarkCompleted(_ context.Context, id string) error {
	return s.update(id, func(item *domain.QueueItem) {
		item.Status = domain.QueueStatusCompleted
	})
}

// MarkForRetry returns an item to pending with a new retry count and due time.
func (s *Store) MarkForRetry(_ context.Context, id string, retryCount int, nextRetryAt time.Time, lastError string) error {
	return s.update(id, func(item *domain.QueueItem) {
		item.Status = domain.QueueStatusPending
		item.RetryCount = retryCount
		item.NextRetryAt = nextRetryAt
		item.LastError = &lastError
	})
}

// MarkFailed moves an item to failed.
func (s *Store) MarkFailed(_ context.Context, id string, retryCount int, lastError string) error {
	return s.update(id, func(item *domain.QueueItem) {
		item.Status = domain.QueueStatusFailed
		item.RetryCount = retryCount
		item.LastError = &lastError
	})
}

// ReclaimStuck returns processing items not updated since olderThan to pending.
func (s *Store) ReclaimStuck(_ context.Context, olderThan time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, item := range s.queue {
		if item.Status == domain.QueueStatusProcessing && item.UpdatedAt.Before(olderThan) {
			item.Status = domain.QueueStatusPending
			item.UpdatedAt = s.now()
			s.queue[id] = item
			n++
		}
	}
	return n, nil
}

// GetQueueItem returns a queue item by ID.
func (s *Store) GetQueueItem(_ context.Context, id string) (*domain.QueueItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.queue[id]
	if !ok {
		return nil, notifications.ErrQueueItemNotFound
	}
	c := cloneItem(item)
	return &c, nil
}

// ListQueueItems returns items matching filter, newest first.
func (s *Store) ListQueueItems(_ context.Context, filter notifications.QueueFilter) ([]domain.QueueItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]domain.QueueItem, 0)
	for _, item := range s.queue {
		if filter.Status != nil && item.Status != *filter.Status {
			continue
		}
		if filter.Channel != nil && item.Channel != *filter.Channel {
			continue
		}
		if !tenantMatches(filter.TenantID, item.TenantID) {
			continue
		}
		items = append(items, cloneItem(item))
	}

	sort.Slice(items, func(i, j int) bool {
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})
	return truncate(items, filter.Limit), nil
}

// GetQueueStats counts items by status.
func (s *Store) GetQueueStats(_ context.Context, tenantID *string) (*domain.QueueStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &domain.QueueStats{}
	for _, item := range s.queue {
		if !tenantMatches(tenantID, item.TenantID) {
			continue
		}
		switch item.Status {
		case domain.QueueStatusPending:
			stats.Pending++
		case domain.QueueStatusProcessing:
			stats.Processing++
		case domain.QueueStatusCompleted:
			stats.Completed++
		case domain.QueueStatusFailed:
			stats.Failed++
		}
	}
	return stats, nil
}

// AppendLog appends a delivery log entry.
func (s *Store) AppendLog(_ context.Context, entry *domain.DeliveryLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.appendLog(entry)
	return nil
}

// AppendLogs appends delivery log entries.
func (s *Store) AppendLogs(_ context.Context, entries []*domain.DeliveryLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, entry := range entries {
		s.appendLog(entry)
	}
	return nil
}

func (s *Store) appendLog(entry *domain.DeliveryLogEntry) {
	entry.ID = uuid.NewString()
	entry.CreatedAt = s.now()
	s.logs = append(s.logs, *entry)
}

// ListLogs returns entries matching filter, newest first.
func (s *Store) ListLogs(_ context.Context, filter notifications.LogFilter) ([]domain.DeliveryLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]domain.DeliveryLogEntry, 0)
	for i := len(s.logs) - 1; i >= 0; i-- {
		entry := s.logs[i]
		if filter.Recipient != nil && entry.Recipient != *filter.Recipient {
			continue
		}
		if filter.Channel != nil && entry.Channel != *filter.Channel {
			continue
		}
		if filter.Status != nil && entry.Status != *filter.Status {
			continue
		}
		if !tenantMatches(filter.TenantID, entry.TenantID) {
			continue
		}
		entries = append(entries, entry)
	}
	return truncate(entries, filter.Limit), nil
}

// GetDeliveryStats counts entries by status.
func (s *Store) GetDeliveryStats(_ context.Context, tenantID *string) (*domain.DeliveryStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &domain.DeliveryStats{}
	for _, entry := range s.logs {
		if tenantMatches(tenantID, entry.TenantID) {
			stats.Add(entry.Status, 1)
		}
	}
	return stats, nil
}

// AddSuppression inserts an entry or loads the existing one for the recipient.
func (s *Store) AddSuppression(_ context.Context, entry *domain.SuppressionEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.suppressions[entry.Recipient]; ok {
		*entry = existing
		return nil
	}

	entry.ID = uuid.NewString()
	entry.CreatedAt = s.now()
	s.suppressions[entry.Recipient] = *entry
	return nil
}

// RemoveSuppression deletes the entry for recipient.
func (s *Store) RemoveSuppression(_ context.Context, recipient string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.suppressions[recipient]; !ok {
		return notifications.ErrSuppressionNotFound
	}
	delete(s.suppressions, recipient)
	return nil
}

// IsSuppressed reports whether recipient has an entry.
func (s *Store) IsSuppressed(_ context.Context, recipient string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.suppressions[recipient]
	return ok, nil
}

// FilterSuppressed returns the suppressed subset of recipients.
func (s *Store) FilterSuppressed(_ context.Context, recipients []string) (map[string]bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]bool)
	for _, r := range recipients {
		if _, ok := s.suppressions[r]; ok {
			result[r] = true
		}
	}
	return result, nil
}

// ListSuppressions returns entries, newest first.
func (s *Store) ListSuppressions(_ context.Context, filter notifications.SuppressionFilter) ([]domain.SuppressionEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]domain.SuppressionEntry, 0, len(s.suppressions))
	for _, entry := range s.suppressions {
		if tenantMatches(filter.TenantID, entry.TenantID) {
			entries = append(entries, entry)
		}
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].CreatedAt.Equal(entries[j].CreatedAt) {
			return entries[i].Recipient < entries[j].Recipient
		}
		return entries[i].CreatedAt.After(entries[j].CreatedAt)
	})
	return truncate(entries, filter.Limit), nil
}

func (s *Store) update(id string, fn func(item *domain.QueueItem)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.queue[id]
	if !ok {
		return notifications.ErrQueueItemNotFound
	}
	fn(&item)
	item.UpdatedAt = s.now()
	s.queue[id] = item
	return nil
}

func cloneItem(item domain.QueueItem) domain.QueueItem {
	if item.LastError != nil {
		v := *item.LastError
		item.LastError = &v
	}
	if item.TenantID != nil {
		v := *item.TenantID
		item.TenantID = &v
	}
	return item
}

func tenantMatches(filter, value *string) bool {
	if filter == nil {
		return true
	}
	return value != nil && *value == *filter
}

func truncate[T any](items []T, limit int) []T {
	if limit > 0 && len(items) > limit {
		return items[:limit]
	}
	return items
}
