package alert

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// redisSink pushes alerts onto a Redis list consumed by downstream pagers
type redisSink struct {
	client redis.UniversalClient
	key    string
}

// NewRedisSink creates a sink that LPUSHes alerts onto the given key
func NewRedisSink(client redis.UniversalClient, key string) Sink {
	if key == "" {
		key = "chain:alerts"
	}
	return &redisSink{client: client, key: key}
}

// Publish pushes one alert onto the list
func (s *redisSink) Publish(ctx context.Context, alert *Alert) error {
	data, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}
	if err := s.client.LPush(ctx, s.key, data).Err(); err != nil {
		return fmt.Errorf("failed to push alert: %w", err)
	}
	return nil
}

// Close closes the sink; the shared client is owned by the caller
func (s *redisSink) Close() error {
	return nil
}
