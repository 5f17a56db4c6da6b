// internal/offline/store.go
package offline

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	stderrors "guardian-notify/internal/common/errors"
	"guardian-notify/internal/models"

	"github.com/redis/go-redis/v9"
)

// LocalStore holds sync items on the device. Writes never touch the
// network; local capture must succeed even with zero connectivity.
type LocalStore interface {
	Put(ctx context.Context, item *models.SyncItem) error
	Get(ctx context.Context, id string) (*models.SyncItem, error)
	ListByStatus(ctx context.Context, statuses ...models.SyncStatus) ([]*models.SyncItem, error)
	// SetStatusIf moves id to the new status only when it currently holds
	// from. The per-item in-flight guard during sync passes rests on this.
	SetStatusIf(ctx context.Context, id string, from, to models.SyncStatus) (bool, error)
}

// MemoryLocalStore backs tests and ephemeral deployments.
type MemoryLocalStore struct {
	mu    sync.RWMutex
	items map[string]*models.SyncItem
}

func NewMemoryLocalStore() *MemoryLocalStore {
	return &MemoryLocalStore{items: make(map[string]*models.SyncItem)}
}

func (s *MemoryLocalStore) Put(_ context.Context, item *models.SyncItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *item
	s.items[item.ID] = &cp
	return nil
}

func (s *MemoryLocalStore) Get(_ context.Context, id string) (*models.SyncItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.items[id]
	if !ok {
		return nil, stderrors.NewSyncItemNotFoundError(id)
	}
	cp := *item
	return &cp, nil
}

func (s *MemoryLocalStore) ListByStatus(_ context.Context, statuses ...models.SyncStatus) ([]*models.SyncItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var matched []*models.SyncItem
	for _, item := range s.items {
		for _, status := range statuses {
			if item.Status == status {
				cp := *item
				matched = append(matched, &cp)
				break
			}
		}
	}
	return matched, nil
}

func (s *MemoryLocalStore) SetStatusIf(_ context.Context, id string, from, to models.SyncStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok {
		return false, stderrors.NewSyncItemNotFoundError(id)
	}
	if item.Status != from {
		return false, nil
	}
	item.Status = to
	return true, nil
}

// RedisLocalStore persists sync items in the device-local Redis, surviving
// process restarts while offline.
type RedisLocalStore struct {
	client *redis.Client
}

const syncItemPrefix = "sync:item:"

func NewRedisLocalStore(client *redis.Client) *RedisLocalStore {
	return &RedisLocalStore{client: client}
}

func (s *RedisLocalStore) Put(ctx context.Context, item *models.SyncItem) error {
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("marshal sync item: %w", err)
	}
	if err := s.client.Set(ctx, syncItemPrefix+item.ID, data, 0).Err(); err != nil {
		return stderrors.NewStoreUnavailableError(err)
	}
	return nil
}

func (s *RedisLocalStore) Get(ctx context.Context, id string) (*models.SyncItem, error) {
	data, err := s.client.Get(ctx, syncItemPrefix+id).Bytes()
	if err == redis.Nil {
		return nil, stderrors.NewSyncItemNotFoundError(id)
	}
	if err != nil {
		return nil, stderrors.NewStoreUnavailableError(err)
	}
	var item models.SyncItem
	if err := json.Unmarshal(data, &item); err != nil {
		return nil, fmt.Errorf("unmarshal sync item %s: %w", id, err)
	}
	return &item, nil
}

func (s *RedisLocalStore) ListByStatus(ctx context.Context, statuses ...models.SyncStatus) ([]*models.SyncItem, error) {
	wanted := make(map[models.SyncStatus]bool, len(statuses))
	for _, status := range statuses {
		wanted[status] = true
	}

	var matched []*models.SyncItem
	iter := s.client.Scan(ctx, 0, syncItemPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		data, err := s.client.Get(ctx, iter.Val()).Bytes()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, stderrors.NewStoreUnavailableError(err)
		}
		var item models.SyncItem
		if err := json.Unmarshal(data, &item); err != nil {
			return nil, fmt.Errorf("unmarshal sync item at %s: %w", iter.Val(), err)
		}
		if wanted[item.Status] {
			matched = append(matched, &item)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, stderrors.NewStoreUnavailableError(err)
	}
	return matched, nil
}

func (s *RedisLocalStore) SetStatusIf(ctx context.Context, id string, from, to models.SyncStatus) (bool, error) {
	key := syncItemPrefix + id
	swapped := false
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err == redis.Nil {
			return stderrors.NewSyncItemNotFoundError(id)
		}
		if err != nil {
			return err
		}
		var item models.SyncItem
		if err := json.Unmarshal(data, &item); err != nil {
			return err
		}
		if item.Status != from {
			return nil
		}
		item.Status = to
		updated, err := json.Marshal(&item)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, updated, 0)
			return nil
		})
		if err == nil {
			swapped = true
		}
		return err
	}, key)
	if err != nil {
		if stderrors.HasCode(err, stderrors.ErrCodeSyncItemNotFound) {
			return false, err
		}
		if err == redis.TxFailedErr {
			return false, nil
		}
		return false, stderrors.NewStoreUnavailableError(err)
	}
	return swapped, nil
}
