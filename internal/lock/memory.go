package lock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryLocker keeps leases in process memory. Valid only for
// single-instance deployments; a multi-process deployment needs PGLocker.
type MemoryLocker struct {
	opts Options

	mu     sync.Mutex
	leases map[string]memoryLease
}

type memoryLease struct {
	holder    string
	expiresAt time.Time
}

// NewMemoryLocker creates an in-process Locker.
func NewMemoryLocker(opts Options) *MemoryLocker {
	return &MemoryLocker{
		opts:   opts.withDefaults(),
		leases: make(map[string]memoryLease),
	}
}

// Acquire polls until the thread's lease is free or expired.
func (m *MemoryLocker) Acquire(ctx context.Context, threadID string) (*Lease, error) {
	holder := uuid.NewString()
	return poll(ctx, m.opts, func() (*Lease, bool, error) {
		m.mu.Lock()
		defer m.mu.Unlock()
		current, exists := m.leases[threadID]
		if exists && time.Now().Before(current.expiresAt) {
			return nil, false, nil
		}
		m.leases[threadID] = memoryLease{holder: holder, expiresAt: time.Now().Add(m.opts.TTL)}
		lease := NewLease(threadID, holder, func(context.Context) error {
			m.releaseHolder(threadID, holder)
			return nil
		})
		return lease, true, nil
	})
}

func (m *MemoryLocker) releaseHolder(threadID, holder string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if current, exists := m.leases[threadID]; exists && current.holder == holder {
		delete(m.leases, threadID)
	}
}
