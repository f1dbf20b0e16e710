package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore backs the scheduler's fast-path freshness checks with TTL
// keys, so recently crawled targets are skipped without a catalog read.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(addr string) *RedisStore {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	return &RedisStore{client: rdb}
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

// MarkTargetCrawled sets a key with a TTL to prevent re-crawling.
func (s *RedisStore) MarkTargetCrawled(ctx context.Context, key string, ttl time.Duration) error {
	return s.client.Set(ctx, fmt.Sprintf("crawled:%s", key), "1", ttl).Err()
}

// IsTargetFresh checks if a target has been crawled within the TTL.
func (s *RedisStore) IsTargetFresh(ctx context.Context, key string) (bool, error) {
	val, err := s.client.Exists(ctx, fmt.Sprintf("crawled:%s", key)).Result()
	if err != nil {
		return false, err
	}
	return val == 1, nil
}

// IncrementTargetFailure bumps the failure counter for a target.
func (s *RedisStore) IncrementTargetFailure(ctx context.Context, key string) (int64, error) {
	rkey := fmt.Sprintf("failures:%s", key)
	count, err := s.client.Incr(ctx, rkey).Result()
	if err != nil {
		return 0, err
	}
	// Counters expire so an old bad patch does not haunt a target forever.
	s.client.Expire(ctx, rkey, 24*time.Hour)
	return count, nil
}

const resolutionLockKey = "resolution:lock"

// AcquireResolutionLock takes the cross-process resolution lock. It returns
// false when another process holds it.
func (s *RedisStore) AcquireResolutionLock(ctx context.Context, ttl time.Duration) (bool, error) {
	return s.client.SetNX(ctx, resolutionLockKey, "1", ttl).Result()
}

func (s *RedisStore) ReleaseResolutionLock(ctx context.Context) error {
	return s.client.Del(ctx, resolutionLockKey).Err()
}
