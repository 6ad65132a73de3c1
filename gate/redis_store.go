package gate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "gate:session:"

// RedisStore persists sessions in Redis so gating survives restarts and can
// be shared across instances. Keys carry the session TTL, Redis expires
// them on its own as a backstop to the verifier sweep.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func (rs *RedisStore) Read(ctx context.Context, wallet string) (*Session, error) {
	data, err := rs.client.Get(ctx, redisKeyPrefix+wallet).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNoSession
	}
	if err != nil {
		return nil, fmt.Errorf("gate: redis read: %w", err)
	}

	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("gate: corrupt session for %s: %w", wallet, err)
	}
	return &s, nil
}

func (rs *RedisStore) Write(ctx context.Context, s *Session) error {
	if s == nil || s.Wallet == "" {
		return errors.New("gate: refusing to store an empty session")
	}
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("gate: encode session: %w", err)
	}
	if err := rs.client.Set(ctx, redisKeyPrefix+s.Wallet, data, rs.ttl).Err(); err != nil {
		return fmt.Errorf("gate: redis write: %w", err)
	}
	return nil
}

func (rs *RedisStore) Clear(ctx context.Context, wallet string) error {
	if err := rs.client.Del(ctx, redisKeyPrefix+wallet).Err(); err != nil {
		return fmt.Errorf("gate: redis clear: %w", err)
	}
	return nil
}
