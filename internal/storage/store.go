// =============================================================================
// ICBU Broker - Key-Value Storage
// =============================================================================
//
// This module provides the small key-value store behind OAuth tokens and
// download tasks. Two backends exist:
//   - MemoryStore : process-local map guarded by a mutex, with expiry
//   - RedisStore  : shared Redis database via go-redis
//
// Values are opaque bytes; callers encode JSON themselves. A zero TTL means
// the key never expires.
//
// =============================================================================

package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned for missing or expired keys.
var ErrNotFound = errors.New("key not found")

// Store is the narrow contract the token and task services depend on.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Ensure the backends implement Store.
var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*RedisStore)(nil)
)

// Options selects and configures a backend.
type Options struct {
	Backend       string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// Open builds the configured backend. Redis connectivity is checked with a
// PING so that a wrong address fails at startup.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch opts.Backend {
	case "", "memory":
		return NewMemoryStore(), nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     opts.RedisAddr,
			Password: opts.RedisPassword,
			DB:       opts.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("failed to connect to redis at %s: %w", opts.RedisAddr, err)
		}
		return NewRedisStore(client), nil
	}
	return nil, fmt.Errorf("unknown store backend %q", opts.Backend)
}
