package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStreamPublisher appends events to a capped Redis stream.
type RedisStreamPublisher struct {
	client redis.UniversalClient
	stream string
	maxLen int64
}

type RedisStreamConfig struct {
	Stream string
	MaxLen int64
}

// NewRedisStreamPublisher builds a publisher over an existing client.
func NewRedisStreamPublisher(client redis.UniversalClient, cfg RedisStreamConfig) (*RedisStreamPublisher, error) {
	if client == nil {
		return nil, errors.New("redis client required")
	}
	stream := strings.TrimSpace(cfg.Stream)
	if stream == "" {
		stream = "checkpoint:events"
	}
	maxLen := cfg.MaxLen
	if maxLen <= 0 {
		maxLen = 10000
	}
	return &RedisStreamPublisher{client: client, stream: stream, maxLen: maxLen}, nil
}

// Publish adds one stream entry with the event type and JSON payload.
func (p *RedisStreamPublisher) Publish(ctx context.Context, evt Event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		MaxLen: p.maxLen,
		Approx: true,
		Values: map[string]any{
			"event_id":   evt.ID,
			"event_type": evt.Type,
			"payload":    string(payload),
		},
	}).Err()
}

// Close is a no-op; the client is owned by the caller.
func (p *RedisStreamPublisher) Close() error {
	return nil
}
