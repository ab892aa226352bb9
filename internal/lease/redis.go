// Package lease provides a Redis-backed per-tenant writer lease for
// deployments that run more than one chain writer instance against the same
// store.
package lease

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrNotAcquired is returned when another writer currently holds the lease
var ErrNotAcquired = fmt.Errorf("writer lease held by another instance")

// Config for the redis lease
type Config struct {
	// KeyPrefix is the Redis key prefix for lease keys
	KeyPrefix string

	// TTL bounds how long a crashed writer can block a tenant
	TTL time.Duration

	// RetryInterval is the poll interval while waiting for a held lease
	RetryInterval time.Duration

	// AcquireTimeout bounds the total wait for a lease
	AcquireTimeout time.Duration
}

// DefaultConfig returns default lease configuration
func DefaultConfig() *Config {
	return &Config{
		KeyPrefix:      "chainlease",
		TTL:            5 * time.Second,
		RetryInterval:  20 * time.Millisecond,
		AcquireTimeout: 3 * time.Second,
	}
}

// RedisLease serializes chain appends per tenant across processes using
// SET NX PX with a per-acquisition token and a compare-and-delete release.
type RedisLease struct {
	client        redis.UniversalClient
	config        *Config
	releaseScript *redis.Script
}

// NewRedisLease creates a new Redis-backed lease
func NewRedisLease(client redis.UniversalClient, config *Config) *RedisLease {
	if config == nil {
		config = DefaultConfig()
	}

	// Release must only delete the key if this holder still owns it,
	// otherwise an expired holder could release a successor's lease.
	releaseScript := redis.NewScript(`
		if redis.call('GET', KEYS[1]) == ARGV[1] then
			return redis.call('DEL', KEYS[1])
		end
		return 0
	`)

	return &RedisLease{
		client:        client,
		config:        config,
		releaseScript: releaseScript,
	}
}

// Acquire blocks until the tenant's lease is obtained or the acquire
// timeout elapses. The returned release function is safe to call once.
func (l *RedisLease) Acquire(ctx context.Context, tenantID string) (func(ctx context.Context) error, error) {
	key := fmt.Sprintf("%s:%s", l.config.KeyPrefix, tenantID)
	token := uuid.New().String()

	deadline := time.Now().Add(l.config.AcquireTimeout)
	for {
		ok, err := l.client.SetNX(ctx, key, token, l.config.TTL).Result()
		if err != nil {
			return nil, fmt.Errorf("lease acquire failed: %w", err)
		}
		if ok {
			break
		}
		if time.Now().After(deadline) {
			return nil, ErrNotAcquired
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.config.RetryInterval):
		}
	}

	release := func(ctx context.Context) error {
		if err := l.releaseScript.Run(ctx, l.client, []string{key}, token).Err(); err != nil && err != redis.Nil {
			return fmt.Errorf("lease release failed: %w", err)
		}
		return nil
	}
	return release, nil
}
