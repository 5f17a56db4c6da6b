// internal/suppression/memory_store.go
package suppression

import (
	"context"
	"sync"
	"time"

	"guardian-notify/internal/common/clock"
	"guardian-notify/internal/models"
)

type memoryEntry struct {
	sentAt    time.Time
	expiresAt time.Time
}

// MemoryStore is an in-process Store used in tests and single-device setups
// without Redis.
type MemoryStore struct {
	clock clock.Clock

	mu      sync.Mutex
	entries map[string]memoryEntry
}

func NewMemoryStore(clk clock.Clock) *MemoryStore {
	return &MemoryStore{
		clock:   clk,
		entries: make(map[string]memoryEntry),
	}
}

func (s *MemoryStore) Get(_ context.Context, key string) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok || s.clock.Now().After(entry.expiresAt) {
		delete(s.entries, key)
		return time.Time{}, false, nil
	}
	return entry.sentAt, true, nil
}

func (s *MemoryStore) Put(_ context.Context, key string, sentAt time.Time, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[key] = memoryEntry{sentAt: sentAt, expiresAt: s.clock.Now().Add(ttl)}
	return nil
}

func (s *MemoryStore) PutIfAbsent(_ context.Context, key string, sentAt time.Time, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry, ok := s.entries[key]; ok && !s.clock.Now().After(entry.expiresAt) {
		return false, nil
	}
	s.entries[key] = memoryEntry{sentAt: sentAt, expiresAt: s.clock.Now().Add(ttl)}
	return true, nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, key)
	return nil
}

func (s *MemoryStore) Entries(_ context.Context) ([]models.SuppressionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	var records []models.SuppressionRecord
	for raw, entry := range s.entries {
		if now.After(entry.expiresAt) {
			continue
		}
		key, err := models.ParseSuppressionKey(raw)
		if err != nil {
			continue
		}
		records = append(records, models.SuppressionRecord{Key: key, SentAt: entry.sentAt})
	}
	return records, nil
}
