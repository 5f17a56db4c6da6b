// internal/suppression/redis_store.go
package suppression

import (
	"context"
	"fmt"
	"time"

	"guardian-notify/internal/models"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "suppression:"

// RedisStore keeps suppression records in Redis. SETNX gives the atomic
// reserve; the TTL matches the retention window so records expire on their
// own even if pruning never runs.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Get(ctx context.Context, key string) (time.Time, bool, error) {
	val, err := s.client.Get(ctx, keyPrefix+key).Result()
	if err == redis.Nil {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("suppression get: %w", err)
	}

	sentAt, err := time.Parse(time.RFC3339Nano, val)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("suppression parse %q: %w", val, err)
	}
	return sentAt, true, nil
}

func (s *RedisStore) Put(ctx context.Context, key string, sentAt time.Time, ttl time.Duration) error {
	if err := s.client.Set(ctx, keyPrefix+key, sentAt.UTC().Format(time.RFC3339Nano), ttl).Err(); err != nil {
		return fmt.Errorf("suppression put: %w", err)
	}
	return nil
}

func (s *RedisStore) PutIfAbsent(ctx context.Context, key string, sentAt time.Time, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, keyPrefix+key, sentAt.UTC().Format(time.RFC3339Nano), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("suppression reserve: %w", err)
	}
	return ok, nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, keyPrefix+key).Err(); err != nil {
		return fmt.Errorf("suppression delete: %w", err)
	}
	return nil
}

// Entries scans every suppression key. Only used by the scheduled prune, so
// a full SCAN is acceptable.
func (s *RedisStore) Entries(ctx context.Context) ([]models.SuppressionRecord, error) {
	var records []models.SuppressionRecord

	iter := s.client.Scan(ctx, 0, keyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		raw := iter.Val()[len(keyPrefix):]
		key, err := models.ParseSuppressionKey(raw)
		if err != nil {
			continue
		}

		sentAt, found, err := s.Get(ctx, raw)
		if err != nil {
			return nil, err
		}
		if !found {
			continue // expired between scan and get
		}

		records = append(records, models.SuppressionRecord{Key: key, SentAt: sentAt})
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("suppression scan: %w", err)
	}

	return records, nil
}
