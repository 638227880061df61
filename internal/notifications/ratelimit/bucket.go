// Package ratelimit throttles outbound provider calls with a token bucket.
//
// The bucket lives in process memory. With N running instances the aggregate
// rate is N times the configured rate.
package ratelimit

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// Config contains token bucket configuration.
type Config struct {
	PerSecond float64
	Burst     int
}

// DefaultConfig returns the SMS default of 10 tokens per second.
func DefaultConfig() Config {
	return Config{
		PerSecond: 10,
		Burst:     10,
	}
}

// TokenBucket is a goroutine-safe token bucket refilled lazily on each check.
type TokenBucket struct {
	limiter *rate.Limiter
}

// NewTokenBucket creates a full bucket.
func NewTokenBucket(config Config) *TokenBucket {
	if config.PerSecond <= 0 {
		config.PerSecond = DefaultConfig().PerSecond
	}
	if config.Burst <= 0 {
		config.Burst = max(int(config.PerSecond), 1)
	}

	return &TokenBucket{
		limiter: rate.NewLimiter(rate.Limit(config.PerSecond), config.Burst),
	}
}

// WaitForToken blocks until a token is available and consumes it.
func (b *TokenBucket) WaitForToken(ctx context.Context) error {
	if err := b.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("wait for token: %w", err)
	}
	return nil
}

// TryTake consumes a token if one is available without blocking.
func (b *TokenBucket) TryTake() bool {
	return b.limiter.Allow()
}

// Tokens returns the number of tokens currently available.
func (b *TokenBucket) Tokens() float64 {
	return b.limiter.Tokens()
}
