package repositories

import (
	"context"
	"sync"
	"time"

	"github.com/BradenHooton/garage/internal/models"
	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

// MemoryAttemptStore keeps AttemptRecords in a bounded, expiring LRU. It is
// process-local: use the Postgres or Redis store when running several
// instances. Entries expire ttl after their last write, so ttl should cover
// both the idle window and the longest lockout.
type MemoryAttemptStore struct {
	mu      sync.Mutex
	records *lru.LRU[string, models.AttemptRecord]
}

// NewMemoryAttemptStore creates a store holding at most maxEntries records
// (10000 when maxEntries <= 0).
func NewMemoryAttemptStore(maxEntries int, ttl time.Duration) *MemoryAttemptStore {
	if maxEntries <= 0 {
		maxEntries = 10000
	}
	return &MemoryAttemptStore{
		records: lru.NewLRU[string, models.AttemptRecord](maxEntries, nil, ttl),
	}
}

func (s *MemoryAttemptStore) Get(_ context.Context, clientID string) (*models.AttemptRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records.Peek(clientID)
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (s *MemoryAttemptStore) UpsertFailure(_ context.Context, clientID string, now time.Time, idleWindow time.Duration) (*models.AttemptRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records.Peek(clientID)
	if !ok || now.Sub(rec.LastAttemptAt) > idleWindow {
		rec = models.AttemptRecord{ClientID: clientID}
	}
	if rec.BlockedUntil != nil && !rec.BlockedUntil.After(now) {
		rec.BlockedUntil = nil
	}
	rec.FailureCount++
	rec.LastAttemptAt = now

	s.records.Add(clientID, rec)
	return &rec, nil
}

func (s *MemoryAttemptStore) SetBlockedUntil(_ context.Context, clientID string, until time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records.Peek(clientID)
	if !ok {
		return models.ErrNotFound
	}
	rec.BlockedUntil = &until
	s.records.Add(clientID, rec)
	return nil
}

func (s *MemoryAttemptStore) ClearBlock(_ context.Context, clientID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec, ok := s.records.Peek(clientID); ok && rec.BlockedUntil != nil {
		rec.BlockedUntil = nil
		s.records.Add(clientID, rec)
	}
	return nil
}

func (s *MemoryAttemptStore) Delete(_ context.Context, clientID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records.Remove(clientID)
	return nil
}

func (s *MemoryAttemptStore) ClearExpiredBlocks(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var cleared int64
	for _, key := range s.records.Keys() {
		rec, ok := s.records.Peek(key)
		if !ok || rec.BlockedUntil == nil || rec.BlockedUntil.After(now) {
			continue
		}
		rec.BlockedUntil = nil
		s.records.Add(key, rec)
		cleared++
	}
	return cleared, nil
}

func (s *MemoryAttemptStore) DeleteIdle(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	for _, key := range s.records.Keys() {
		if rec, ok := s.records.Peek(key); ok && rec.LastAttemptAt.Before(before) {
			s.records.Remove(key)
			deleted++
		}
	}
	return deleted, nil
}

// Len reports the number of tracked clients.
func (s *MemoryAttemptStore) Len() int {
	return s.records.Len()
}
