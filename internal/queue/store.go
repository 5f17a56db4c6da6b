// internal/queue/store.go
package queue

import (
	"context"
	"sort"
	"sync"
	"time"

	stderrors "guardian-notify/internal/common/errors"
	"guardian-notify/internal/models"
)

// Store holds queued notifications. Transition is the only mutation path
// after insert: it enforces the forward-only status machine at the storage
// boundary so concurrent pollers cannot double-dispatch an item.
type Store interface {
	Insert(ctx context.Context, n *models.QueuedNotification) error
	Get(ctx context.Context, id string) (*models.QueuedNotification, error)
	// Transition atomically moves id from one status to another, applying
	// mutate to the stored item while it holds the item. It fails with
	// ILLEGAL_STATUS_TRANSITION when the item is not in the from status.
	Transition(ctx context.Context, id string, from, to models.NotificationStatus, mutate func(*models.QueuedNotification)) (*models.QueuedNotification, error)
	// DueBefore returns items in the given status scheduled at or before
	// cutoff, ordered by scheduled time.
	DueBefore(ctx context.Context, status models.NotificationStatus, cutoff time.Time) ([]*models.QueuedNotification, error)
	ListByStatus(ctx context.Context, statuses ...models.NotificationStatus) ([]*models.QueuedNotification, error)
	List(ctx context.Context) ([]*models.QueuedNotification, error)
}

// MemoryStore is the in-process queue store. Durability across restarts
// comes from the sync engine: every admission and status change is
// captured as a sync item, and Queue.Replay rebuilds this store from those
// captures at startup.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]*models.QueuedNotification
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]*models.QueuedNotification)}
}

func (s *MemoryStore) Insert(_ context.Context, n *models.QueuedNotification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *n
	s.items[n.ID] = &cp
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*models.QueuedNotification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.items[id]
	if !ok {
		return nil, stderrors.NewNotificationNotFoundError(id)
	}
	cp := *item
	return &cp, nil
}

// allowedTransitions is the forward-only status machine. Self-transitions
// on sent and escalated carry acknowledgment updates.
var allowedTransitions = map[models.NotificationStatus]map[models.NotificationStatus]bool{
	models.StatusPending:   {models.StatusReady: true, models.StatusCancelled: true},
	models.StatusReady:     {models.StatusSending: true, models.StatusCancelled: true},
	models.StatusSending:   {models.StatusSent: true, models.StatusFailed: true},
	models.StatusSent:      {models.StatusSent: true, models.StatusEscalated: true},
	models.StatusEscalated: {models.StatusEscalated: true},
}

func (s *MemoryStore) Transition(_ context.Context, id string, from, to models.NotificationStatus, mutate func(*models.QueuedNotification)) (*models.QueuedNotification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok {
		return nil, stderrors.NewNotificationNotFoundError(id)
	}
	if item.Status != from || !allowedTransitions[from][to] {
		return nil, stderrors.NewIllegalTransitionError(id, string(item.Status), string(to))
	}
	item.Status = to
	if mutate != nil {
		mutate(item)
	}
	cp := *item
	return &cp, nil
}

func (s *MemoryStore) DueBefore(_ context.Context, status models.NotificationStatus, cutoff time.Time) ([]*models.QueuedNotification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var due []*models.QueuedNotification
	for _, item := range s.items {
		if item.Status == status && !item.ScheduledFor.After(cutoff) {
			cp := *item
			due = append(due, &cp)
		}
	}
	sortByScheduledFor(due)
	return due, nil
}

func (s *MemoryStore) ListByStatus(_ context.Context, statuses ...models.NotificationStatus) ([]*models.QueuedNotification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var matched []*models.QueuedNotification
	for _, item := range s.items {
		for _, status := range statuses {
			if item.Status == status {
				cp := *item
				matched = append(matched, &cp)
				break
			}
		}
	}
	sortByScheduledFor(matched)
	return matched, nil
}

func (s *MemoryStore) List(_ context.Context) ([]*models.QueuedNotification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := make([]*models.QueuedNotification, 0, len(s.items))
	for _, item := range s.items {
		cp := *item
		all = append(all, &cp)
	}
	sortByScheduledFor(all)
	return all, nil
}

func sortByScheduledFor(items []*models.QueuedNotification) {
	sort.Slice(items, func(i, j int) bool {
		return items[i].ScheduledFor.Before(items[j].ScheduledFor)
	})
}
