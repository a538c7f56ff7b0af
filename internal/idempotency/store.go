// Package idempotency stores the outcome of requests carrying an idempotency
// key so that retries replay the first response instead of repeating it.
package idempotency

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"
)

// ErrInProgress is returned when another request holds the key.
var ErrInProgress = errors.New("request with this idempotency key is in progress")

// Store is a Redis-backed idempotency store.
type Store struct {
	rdb   *redis.Client
	ttl   time.Duration
	scope string
}

// NewStore creates a Store whose keys live under scope and expire after ttl.
func NewStore(rdb *redis.Client, scope string, ttl time.Duration) *Store {
	return &Store{rdb: rdb, ttl: ttl, scope: scope}
}

func (s *Store) lockKey(key string) string   { return "idemp:" + s.scope + ":" + key }
func (s *Store) resultKey(key string) string { return "idemp:map:" + s.scope + ":" + key }

// Recall returns the stored response for key, if any.
func (s *Store) Recall(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := s.rdb.Get(ctx, s.resultKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(err, "recall")
	}
	return val, true, nil
}

// Acquire takes the lock for key. It returns ErrInProgress when the lock is
// already held.
func (s *Store) Acquire(ctx context.Context, key string) error {
	ok, err := s.rdb.SetNX(ctx, s.lockKey(key), "1", s.ttl).Result()
	if err != nil {
		return errors.Wrap(err, "acquire")
	}
	if !ok {
		return ErrInProgress
	}
	return nil
}

// Release drops the lock for key without storing a response, allowing the
// request to be retried.
func (s *Store) Release(ctx context.Context, key string) error {
	if err := s.rdb.Del(ctx, s.lockKey(key)).Err(); err != nil {
		return errors.Wrap(err, "release")
	}
	return nil
}

// Remember stores the response for key. The lock is kept until it expires so
// that late duplicates still see the stored response through Recall.
func (s *Store) Remember(ctx context.Context, key string, response []byte) error {
	if err := s.rdb.Set(ctx, s.resultKey(key), response, s.ttl).Err(); err != nil {
		return errors.Wrap(err, "remember")
	}
	return nil
}

// Ping checks the Redis connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}
