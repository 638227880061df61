package retry

import (
	"context"
	"errors"
	"time"
)

// Operation is a unit of work retried by Do.
type Operation[T any] func(ctx context.Context) (T, error)

// Result is the outcome of Do.
type Result[T any] struct {
	Success  bool
	Value    T
	Err      *Failure
	Attempts int
}

type options struct {
	sleep    func(ctx context.Context, d time.Duration) error
	classify Classifier
	onRetry  func(attempt int, delay time.Duration, f *Failure)
}

// Option configures Do.
type Option func(*options)

// WithSleep replaces the backoff sleep. Used in tests.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(o *options) {
		o.sleep = sleep
	}
}

// WithClassifier replaces the default Classify.
func WithClassifier(c Classifier) Option {
	return func(o *options) {
		o.classify = c
	}
}

// WithOnRetry registers a hook called before each backoff sleep.
func WithOnRetry(fn func(attempt int, delay time.Duration, f *Failure)) Option {
	return func(o *options) {
		o.onRetry = fn
	}
}

// Do runs op up to cfg.MaxRetries+1 times.
//
// A non-retryable failure or the final attempt returns immediately. Otherwise
// the caller's goroutine sleeps Delay(attempt) before the next attempt. If ctx
// is done during the sleep, the last failure is returned.
func Do[T any](ctx context.Context, cfg Config, op Operation[T], opts ...Option) Result[T] {
	o := options{
		sleep:    sleepContext,
		classify: Classify,
	}
	for _, opt := range opts {
		opt(&o)
	}

	maxAttempts := max(cfg.MaxRetries+1, 1)

	var last *Failure
	for attempt := 0; attempt < maxAttempts; attempt++ {
		value, err := op(ctx)
		if err == nil {
			return Result[T]{Success: true, Value: value, Attempts: attempt + 1}
		}

		last = toFailure(err, o.classify)
		if !last.Retryable || attempt == maxAttempts-1 {
			return Result[T]{Err: last, Attempts: attempt + 1}
		}

		delay := Delay(attempt, cfg)
		if o.onRetry != nil {
			o.onRetry(attempt, delay, last)
		}

		if err := o.sleep(ctx, delay); err != nil {
			return Result[T]{Err: last, Attempts: attempt + 1}
		}
	}

	return Result[T]{Err: last, Attempts: maxAttempts}
}

// ToFailure converts err into a Failure using Classify.
func ToFailure(err error) *Failure {
	return toFailure(err, Classify)
}

func toFailure(err error, classify Classifier) *Failure {
	var f *Failure
	if errors.As(err, &f) {
		return f
	}
	c := classify(err)
	return &Failure{
		Code:      c.Code,
		Message:   err.Error(),
		Retryable: c.Retryable,
		Err:       err,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
