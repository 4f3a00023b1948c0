package store

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisTokenPrefix = "checkpoint:token:"

// RedisTokenStore keeps token -> user and user -> token mappings with TTL so a
// repeated login reuses the live token.
type RedisTokenStore struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedisTokenStore builds a Redis-backed token store.
func NewRedisTokenStore(client redis.UniversalClient, ttl time.Duration) *RedisTokenStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisTokenStore{client: client, ttl: ttl}
}

// IssueToken returns the user's live token or writes a new pair with TTL.
func (s *RedisTokenStore) IssueToken(ctx context.Context, userID string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	existing, err := s.client.Get(ctx, userTokenKey(userID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return "", err
	}
	if existing != "" {
		n, err := s.client.Exists(ctx, tokenKey(existing)).Result()
		if err != nil {
			return "", err
		}
		if n > 0 {
			return existing, nil
		}
	}
	token, err := newTokenKey()
	if err != nil {
		return "", err
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, tokenKey(token), userID, s.ttl)
	pipe.Set(ctx, userTokenKey(userID), token, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", err
	}
	return token, nil
}

// UserIDByToken resolves token to user ID.
func (s *RedisTokenStore) UserIDByToken(ctx context.Context, token string) (string, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	val, err := s.client.Get(ctx, tokenKey(token)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

// DeleteToken removes both directions of the mapping.
func (s *RedisTokenStore) DeleteToken(ctx context.Context, token string) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	userID, err := s.client.Get(ctx, tokenKey(token)).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return err
	}
	keys := []string{tokenKey(token)}
	current, err := s.client.Get(ctx, userTokenKey(userID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	if current == token {
		keys = append(keys, userTokenKey(userID))
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	return nil
}

func tokenKey(token string) string {
	return redisTokenPrefix + token
}

func userTokenKey(userID string) string {
	return redisTokenPrefix + "user:" + userID
}
