package session

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps the mapping and ack windows in process memory. Valid
// only for single-instance deployments.
type MemoryStore struct {
	mu      sync.Mutex
	threads map[int64]memoryThread
	acks    map[int64]time.Time
}

type memoryThread struct {
	threadID   string
	createdAt  time.Time
	lastActive time.Time
}

// NewMemoryStore creates an in-process Store and AckGate.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		threads: make(map[int64]memoryThread),
		acks:    make(map[int64]time.Time),
	}
}

func (s *MemoryStore) GetThread(_ context.Context, chatID int64) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.threads[chatID].threadID, nil
}

func (s *MemoryStore) PutThread(_ context.Context, chatID int64, threadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	entry, exists := s.threads[chatID]
	if !exists {
		entry.createdAt = now
	}
	entry.threadID = threadID
	entry.lastActive = now
	s.threads[chatID] = entry
	return nil
}

func (s *MemoryStore) TouchThread(_ context.Context, chatID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, exists := s.threads[chatID]; exists {
		entry.lastActive = time.Now()
		s.threads[chatID] = entry
	}
	return nil
}

func (s *MemoryStore) ShouldAck(_ context.Context, chatID int64, cooldown time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	if last, exists := s.acks[chatID]; exists && now.Sub(last) < cooldown {
		return false, nil
	}
	s.acks[chatID] = now
	return true, nil
}
