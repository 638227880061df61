package retry

import (
	"math"
	"time"
)

// Config contains retry policy configuration.
type Config struct {
	MaxRetries        int
	InitialDelay      time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64
}

// DefaultConfig returns default retry configuration.
func DefaultConfig() Config {
	return Config{
		MaxRetries:        3,
		InitialDelay:      1 * time.Second,
		MaxDelay:          30 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// Delay returns min(InitialDelay * BackoffMultiplier^attempt, MaxDelay).
// attempt is 0-indexed: the first retry waits Delay(0).
func Delay(attempt int, cfg Config) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if cfg.InitialDelay <= 0 {
		return 0
	}

	multiplier := cfg.BackoffMultiplier
	if multiplier < 1 {
		multiplier = 1
	}

	backoff := float64(cfg.InitialDelay) * math.Pow(multiplier, float64(attempt))
	if math.IsInf(backoff, 0) || math.IsNaN(backoff) || backoff > float64(cfg.MaxDelay) {
		return max(cfg.MaxDelay, 0)
	}
	return time.Duration(backoff)
}

// NextRetryAt returns the absolute time of the retry following attempt.
func NextRetryAt(now time.Time, attempt int, cfg Config) time.Time {
	return now.Add(Delay(attempt, cfg))
}
