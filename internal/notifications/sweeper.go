package notifications

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bissquit/courier/internal/domain"
	"github.com/bissquit/courier/internal/notifications/retry"
	"github.com/bissquit/courier/internal/pkg/ctxlog"
)

// SweeperConfig contains sweeper configuration.
type SweeperConfig struct {
	BatchSize int
	Retry     retry.Config
	// StuckAfter returns processing items older than this to pending. Zero disables it.
	StuckAfter time.Duration
}

// DefaultSweeperConfig returns default sweeper configuration.
func DefaultSweeperConfig() SweeperConfig {
	return SweeperConfig{
		BatchSize: 100,
		Retry:     retry.DefaultConfig(),
	}
}

// Redeliverer re-attempts a queued item through a channel adapter.
type Redeliverer interface {
	Redeliver(ctx context.Context, item *domain.QueueItem) SendResult
}

// Locker serializes sweeps across processes.
type Locker interface {
	TryLock(ctx context.Context) (bool, error)
	Unlock(ctx context.Context) error
}

// SweeperOption configures a Sweeper.
type SweeperOption func(*Sweeper)

// WithLocker makes Sweep skip runs while another process holds the lock.
func WithLocker(l Locker) SweeperOption {
	return func(s *Sweeper) {
		s.locker = l
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) SweeperOption {
	return func(s *Sweeper) {
		s.now = now
	}
}

// Sweeper re-attempts due queue items through the channel adapters.
type Sweeper struct {
	config   SweeperConfig
	repo     QueueRepository
	adapters map[domain.Channel]Redeliverer
	locker   Locker
	now      func() time.Time
}

// NewSweeper creates a new queue sweeper.
func NewSweeper(config SweeperConfig, repo QueueRepository, adapters map[domain.Channel]Redeliverer, opts ...SweeperOption) *Sweeper {
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultSweeperConfig().BatchSize
	}

	s := &Sweeper{
		config:   config,
		repo:     repo,
		adapters: adapters,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sweep claims up to BatchSize due items, oldest first, and re-attempts each.
// It returns the number of items that reached completed.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	if s.locker != nil {
		acquired, err := s.locker.TryLock(ctx)
		if err != nil {
			return 0, fmt.Errorf("acquire sweep lock: %w", err)
		}
		if !acquired {
			slog.Debug("sweep skipped, lock held by another instance")
			return 0, nil
		}
		defer func() {
			if err := s.locker.Unlock(context.WithoutCancel(ctx)); err != nil {
				slog.Error("failed to release sweep lock", "error", err)
			}
		}()
	}

	if s.config.StuckAfter > 0 {
		reclaimed, err := s.repo.ReclaimStuck(ctx, s.now().Add(-s.config.StuckAfter))
		if err != nil {
			slog.Error("failed to reclaim stuck queue items", "error", err)
		} else if reclaimed > 0 {
			slog.Warn("reclaimed stuck queue items", "count", reclaimed)
		}
	}

	items, err := s.repo.ClaimDue(ctx, s.now(), s.config.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("claim due items: %w", err)
	}

	if len(items) == 0 {
		return 0, nil
	}

	slog.Debug("sweeping delivery queue", "count", len(items))

	completed := 0
	for i, item := range items {
		if ctx.Err() != nil {
			s.release(ctx, items[i:])
			recordSweep(i, completed)
			slog.Warn("delivery queue sweep interrupted",
				"claimed", len(items),
				"completed", completed,
				"released", len(items)-i,
			)
			return completed, fmt.Errorf("sweep interrupted: %w", ctx.Err())
		}
		if s.processItem(ctx, item) {
			completed++
		}
	}

	recordSweep(len(items), completed)

	slog.Info("delivery queue sweep finished",
		"claimed", len(items),
		"completed", completed,
	)

	return completed, nil
}

func (s *Sweeper) processItem(ctx context.Context, item *domain.QueueItem) bool {
	// adapter logs for this redelivery carry the queue item
	ctx = ctxlog.With(ctx, "item_id", item.ID)
	// state writes must land even when the sweep is cancelled mid-item
	writeCtx := context.WithoutCancel(ctx)

	adapter, ok := s.adapters[item.Channel]
	if !ok {
		slog.Error("no adapter for queued channel", "item_id", item.ID, "channel", item.Channel)
		if markErr := s.repo.MarkFailed(writeCtx, item.ID, item.RetryCount, ErrChannelNotConfigured.Error()); markErr != nil {
			slog.Error("failed to mark as failed", "item_id", item.ID, "error", markErr)
		}
		return false
	}

	result := adapter.Redeliver(ctx, item)
	if result.Success {
		if err := s.repo.MarkCompleted(writeCtx, item.ID); err != nil {
			slog.Error("failed to mark as completed", "item_id", item.ID, "error", err)
		}
		return true
	}

	if ctx.Err() != nil || (result.Error != nil && errors.Is(result.Error, context.Canceled)) {
		s.release(ctx, []*domain.QueueItem{item})
		return false
	}

	s.handleFailure(writeCtx, item, result.Error)
	return false
}

// release returns claimed items to pending without spending retry budget.
func (s *Sweeper) release(ctx context.Context, items []*domain.QueueItem) {
	writeCtx := context.WithoutCancel(ctx)
	for _, item := range items {
		var lastError string
		if item.LastError != nil {
			lastError = *item.LastError
		}
		if err := s.repo.MarkForRetry(writeCtx, item.ID, item.RetryCount, item.NextRetryAt, lastError); err != nil {
			slog.Error("failed to release queue item", "item_id", item.ID, "error", err)
		}
	}
}

func (s *Sweeper) handleFailure(ctx context.Context, item *domain.QueueItem, failure *retry.Failure) {
	if failure == nil {
		failure = retry.NewFailure(retry.CodeUnknown, "redelivery failed", true)
	}

	retryCount := min(item.RetryCount+1, item.MaxRetries)
	lastError := failure.Error()

	slog.Warn("redelivery failed",
		"item_id", item.ID,
		"channel", item.Channel,
		"retry_count", retryCount,
		"max_retries", item.MaxRetries,
		"error_code", failure.Code,
	)

	if !failure.Retryable || retryCount >= item.MaxRetries {
		if markErr := s.repo.MarkFailed(ctx, item.ID, retryCount, lastError); markErr != nil {
			slog.Error("failed to mark as failed", "item_id", item.ID, "error", markErr)
		}
		return
	}

	nextRetryAt := retry.NextRetryAt(s.now(), retryCount, s.config.Retry)
	if markErr := s.repo.MarkForRetry(ctx, item.ID, retryCount, nextRetryAt, lastError); markErr != nil {
		slog.Error("failed to mark for retry", "item_id", item.ID, "error", markErr)
		return
	}

	slog.Info("queue item scheduled for retry",
		"item_id", item.ID,
		"next_retry_at", nextRetryAt,
	)
}
