// Package lock serializes turns per conversation thread. A lease carries a
// TTL so a crashed holder cannot wedge its thread past the expiry.
package lock

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrAcquireTimeout is returned when a lease could not be obtained within
// the configured acquisition window.
var ErrAcquireTimeout = errors.New("lock: acquisition timed out")

// Locker grants per-thread leases. The distributed and in-process
// implementations are interchangeable; callers must not special-case either.
type Locker interface {
	Acquire(ctx context.Context, threadID string) (*Lease, error)
}

// Lease is a held per-thread lock. Release is idempotent and a no-op once
// the lease has expired or been taken over.
type Lease struct {
	ThreadID string
	Holder   string

	once    sync.Once
	release func(ctx context.Context) error
}

// NewLease wraps a release function. Exported for the Locker implementations
// in this package; orchestration code only ever calls Release.
func NewLease(threadID, holder string, release func(ctx context.Context) error) *Lease {
	return &Lease{ThreadID: threadID, Holder: holder, release: release}
}

// Release gives the lease back. Safe to call on every exit path.
func (l *Lease) Release(ctx context.Context) error {
	var err error
	l.once.Do(func() {
		if l.release != nil {
			err = l.release(ctx)
		}
	})
	return err
}

// Options bound every poll loop in this package.
type Options struct {
	TTL            time.Duration
	AcquireTimeout time.Duration
	PollInterval   time.Duration
}

func (o Options) withDefaults() Options {
	if o.TTL <= 0 {
		o.TTL = 3 * time.Minute
	}
	if o.AcquireTimeout <= 0 {
		o.AcquireTimeout = 2 * time.Minute
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 200 * time.Millisecond
	}
	return o
}

// poll runs try until it succeeds, the acquisition window elapses, or ctx is
// cancelled. Shared by both Locker implementations.
func poll(ctx context.Context, opts Options, try func() (*Lease, bool, error)) (*Lease, error) {
	deadline := time.Now().Add(opts.AcquireTimeout)
	for {
		lease, ok, err := try()
		if err != nil {
			return nil, err
		}
		if ok {
			return lease, nil
		}
		if time.Now().After(deadline) {
			return nil, ErrAcquireTimeout
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(opts.PollInterval):
		}
	}
}
