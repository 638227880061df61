// Package lease provides a Redis-backed lease that keeps one sweeper running across instances.
package lease

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrNotHeld is returned by Unlock when this holder does not own the lease.
var ErrNotHeld = errors.New("lease not held")

// releaseScript deletes the key only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Config holds Redis lease configuration.
type Config struct {
	URL      string
	Password string
	Key      string
	TTL      time.Duration
}

// RedisLease is a single-holder lease stored under one Redis key.
type RedisLease struct {
	rdb redis.UniversalClient
	key string
	ttl time.Duration

	mu    sync.Mutex
	token string
}

// Connect parses the URL, pings Redis and returns a lease bound to config.Key.
func Connect(ctx context.Context, config Config) (*RedisLease, error) {
	opts, err := redis.ParseURL(config.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if config.Password != "" {
		opts.Password = config.Password
	}

	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return New(rdb, config.Key, config.TTL), nil
}

// New creates a lease over an existing client.
func New(rdb redis.UniversalClient, key string, ttl time.Duration) *RedisLease {
	return &RedisLease{rdb: rdb, key: key, ttl: ttl}
}

// TryLock acquires the lease if nobody holds it. It never blocks.
func (l *RedisLease) TryLock(ctx context.Context) (bool, error) {
	token := uuid.NewString()

	ok, err := l.rdb.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lease %s: %w", l.key, err)
	}
	if !ok {
		return false, nil
	}

	l.mu.Lock()
	l.token = token
	l.mu.Unlock()
	return true, nil
}

// Unlock releases the lease if this holder still owns it.
func (l *RedisLease) Unlock(ctx context.Context) error {
	l.mu.Lock()
	token := l.token
	l.token = ""
	l.mu.Unlock()

	if token == "" {
		return ErrNotHeld
	}

	n, err := releaseScript.Run(ctx, l.rdb, []string{l.key}, token).Int()
	if err != nil {
		return fmt.Errorf("release lease %s: %w", l.key, err)
	}
	if n == 0 {
		return ErrNotHeld
	}
	return nil
}

// Close closes the underlying client.
func (l *RedisLease) Close() error {
	return l.rdb.Close()
}
