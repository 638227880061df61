package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTokenBucket_Defaults(t *testing.T) {
	b := NewTokenBucket(Config{})

	assert.InDelta(t, 10, b.Tokens(), 0.01)
}

func TestTokenBucket_BurstThenThrottle(t *testing.T) {
	b := NewTokenBucket(DefaultConfig())
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 15; i++ {
		require.NoError(t, b.WaitForToken(ctx))
	}
	elapsed := time.Since(start)

	// 10 tokens are available up front, the remaining 5 refill at 100ms each
	assert.GreaterOrEqual(t, elapsed, 490*time.Millisecond)
	assert.Less(t, elapsed, 2*time.Second)
}

func TestTokenBucket_TryTake(t *testing.T) {
	b := NewTokenBucket(Config{PerSecond: 1, Burst: 2})

	assert.True(t, b.TryTake())
	assert.True(t, b.TryTake())
	assert.False(t, b.TryTake())
}

func TestTokenBucket_WaitRespectsContext(t *testing.T) {
	b := NewTokenBucket(Config{PerSecond: 0.1, Burst: 1})
	require.True(t, b.TryTake())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := b.WaitForToken(ctx)
	assert.Error(t, err)
}

func TestTokenBucket_Concurrent(t *testing.T) {
	b := NewTokenBucket(Config{PerSecond: 1000, Burst: 50})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 5; j++ {
				assert.NoError(t, b.WaitForToken(ctx))
			}
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, b.Tokens(), 50.0)
}
