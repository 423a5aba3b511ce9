package lock

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// fakeExecer simulates the thread_locks table semantics in memory.
type fakeExecer struct {
	mu    sync.Mutex
	rows  map[string]fakeRow
	execs []string
}

type fakeRow struct {
	holder    string
	expiresAt time.Time
}

func newFakeExecer() *fakeExecer {
	return &fakeExecer{rows: make(map[string]fakeRow)}
}

func (f *fakeExecer) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.execs = append(f.execs, sql)

	switch {
	case strings.Contains(sql, "INSERT INTO thread_locks"):
		threadID := args[0].(string)
		holder := args[1].(string)
		ttl := time.Duration(args[2].(float64) * float64(time.Second))
		current, exists := f.rows[threadID]
		if exists && time.Now().Before(current.expiresAt) {
			return pgconn.NewCommandTag("INSERT 0 0"), nil
		}
		f.rows[threadID] = fakeRow{holder: holder, expiresAt: time.Now().Add(ttl)}
		return pgconn.NewCommandTag("INSERT 0 1"), nil
	case strings.Contains(sql, "DELETE FROM thread_locks WHERE thread_id"):
		threadID := args[0].(string)
		holder := args[1].(string)
		if current, exists := f.rows[threadID]; exists && current.holder == holder {
			delete(f.rows, threadID)
			return pgconn.NewCommandTag("DELETE 1"), nil
		}
		return pgconn.NewCommandTag("DELETE 0"), nil
	case strings.Contains(sql, "DELETE FROM thread_locks WHERE expires_at"):
		n := 0
		for id, row := range f.rows {
			if !time.Now().Before(row.expiresAt) {
				delete(f.rows, id)
				n++
			}
		}
		if n > 0 {
			return pgconn.NewCommandTag("DELETE 1"), nil
		}
		return pgconn.NewCommandTag("DELETE 0"), nil
	}
	return pgconn.CommandTag{}, nil
}

func TestPGLockerAcquireAndRelease(t *testing.T) {
	t.Parallel()

	db := newFakeExecer()
	locker := NewPGLocker(nil, db, Options{
		TTL:            time.Minute,
		AcquireTimeout: 30 * time.Millisecond,
		PollInterval:   5 * time.Millisecond,
	})
	ctx := context.Background()

	lease, err := locker.Acquire(ctx, "thread_abc")
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	if _, err := locker.Acquire(ctx, "thread_abc"); err != ErrAcquireTimeout {
		t.Fatalf("expected ErrAcquireTimeout while held, got %v", err)
	}
	if err := lease.Release(ctx); err != nil {
		t.Fatalf("release failed: %v", err)
	}
	second, err := locker.Acquire(ctx, "thread_abc")
	if err != nil {
		t.Fatalf("acquire after release failed: %v", err)
	}
	_ = second.Release(ctx)
}

func TestPGLockerExpiredLeaseIsStolen(t *testing.T) {
	t.Parallel()

	db := newFakeExecer()
	locker := NewPGLocker(nil, db, Options{
		TTL:            20 * time.Millisecond,
		AcquireTimeout: 500 * time.Millisecond,
		PollInterval:   5 * time.Millisecond,
	})
	ctx := context.Background()

	if _, err := locker.Acquire(ctx, "thread_abc"); err != nil {
		t.Fatalf("first acquire failed: %v", err)
	}
	// Simulated crash: no release. The next acquire waits out the TTL.
	lease, err := locker.Acquire(ctx, "thread_abc")
	if err != nil {
		t.Fatalf("acquire after expiry failed: %v", err)
	}
	_ = lease.Release(ctx)
}

func TestPGLockerSweepExpired(t *testing.T) {
	t.Parallel()

	db := newFakeExecer()
	locker := NewPGLocker(nil, db, Options{TTL: time.Millisecond})
	ctx := context.Background()

	if _, err := locker.Acquire(ctx, "thread_abc"); err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	if err := locker.SweepExpired(ctx); err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	if len(db.rows) != 0 {
		t.Fatalf("expected swept table, %d rows remain", len(db.rows))
	}
}
