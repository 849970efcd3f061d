package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "photoframe:session:"

// redisUpdateAttempts bounds optimistic retries when a watched key changes.
const redisUpdateAttempts = 5

// RedisStore keeps sessions in Redis with a key TTL matching ExpiresAt.
type RedisStore struct {
	client *redis.Client
	now    func() time.Time
}

// NewRedisStore creates a Redis-backed Store.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, now: time.Now}
}

func (r *RedisStore) Get(ctx context.Context, id string) (*Session, error) {
	data, err := r.client.Get(ctx, redisKeyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &s, nil
}

// Save stores the session. A session that is already expired is removed instead.
func (r *RedisStore) Save(ctx context.Context, s *Session) error {
	var ttl time.Duration
	if s.ExpiresAt != 0 {
		ttl = time.Unix(s.ExpiresAt, 0).Sub(r.now())
		if ttl <= 0 {
			return r.Delete(ctx, s.ID)
		}
	}

	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	if err := r.client.Set(ctx, redisKeyPrefix+s.ID, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// Update runs fn inside a WATCH transaction and retries when another client
// writes the session first.
func (r *RedisStore) Update(ctx context.Context, id string, fn func(*Session) error) error {
	key := redisKeyPrefix + id
	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to get session: %w", err)
		}
		var s Session
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("failed to unmarshal session: %w", err)
		}
		if err := fn(&s); err != nil {
			return err
		}
		s.UpdatedAt = r.now()

		var ttl time.Duration
		if s.ExpiresAt != 0 {
			if ttl = time.Unix(s.ExpiresAt, 0).Sub(r.now()); ttl <= 0 {
				_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				return err
			}
		}
		out, err := json.Marshal(&s)
		if err != nil {
			return fmt.Errorf("failed to marshal session: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, out, ttl)
			return nil
		})
		return err
	}

	for i := 0; i < redisUpdateAttempts; i++ {
		err := r.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("failed to update session: %w", redis.TxFailedErr)
}

func (r *RedisStore) Delete(ctx context.Context, id string) error {
	if err := r.client.Del(ctx, redisKeyPrefix+id).Err(); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}
