package store

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// TokenRevoker tracks revoked token IDs until they would have expired anyway.
type TokenRevoker interface {
	Revoke(ctx context.Context, id string, ttl time.Duration) error
	IsRevoked(ctx context.Context, id string) (bool, error)
}

// MemoryTokenRevoker keeps revoked IDs in-memory (single instance only).
type MemoryTokenRevoker struct {
	mu  sync.Mutex
	ids map[string]time.Time
}

// NewMemoryTokenRevoker builds an in-memory revoker.
func NewMemoryTokenRevoker() *MemoryTokenRevoker {
	return &MemoryTokenRevoker{
		ids: make(map[string]time.Time),
	}
}

// Revoke marks an ID as revoked for ttl.
func (r *MemoryTokenRevoker) Revoke(_ context.Context, id string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	r.mu.Lock()
	r.ids[id] = time.Now().Add(ttl)
	r.mu.Unlock()
	return nil
}

// IsRevoked checks if the ID is revoked.
func (r *MemoryTokenRevoker) IsRevoked(_ context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	expiry, ok := r.ids[id]
	if !ok {
		return false, nil
	}
	if time.Now().After(expiry) {
		delete(r.ids, id)
		return false, nil
	}
	return true, nil
}

// RedisTokenRevoker stores revoked IDs in Redis with TTL.
type RedisTokenRevoker struct {
	client redis.UniversalClient
}

// NewRedisTokenRevoker builds a Redis-backed revoker.
func NewRedisTokenRevoker(client redis.UniversalClient) *RedisTokenRevoker {
	return &RedisTokenRevoker{client: client}
}

// Revoke marks an ID as revoked for ttl.
func (r *RedisTokenRevoker) Revoke(ctx context.Context, id string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return r.client.Set(ctx, revocationKey(id), "1", ttl).Err()
}

// IsRevoked checks if the ID is revoked.
func (r *RedisTokenRevoker) IsRevoked(ctx context.Context, id string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	res, err := r.client.Exists(ctx, revocationKey(id)).Result()
	if err != nil {
		return false, err
	}
	return res > 0, nil
}

func revocationKey(id string) string {
	return "checkpoint:revoked:" + id
}
