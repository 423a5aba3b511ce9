package lock

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

// Execer is the subset of pgxpool.Pool the Postgres locker needs.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PGLocker implements Locker on a Postgres table. The insert-or-steal
// statement is the distributed set-if-absent-with-expiry primitive: it wins
// the row only when no unexpired lease exists, so the at-most-one-holder
// invariant holds across every process instance.
type PGLocker struct {
	db     Execer
	opts   Options
	logger *slog.Logger
}

const acquireSQL = `
INSERT INTO thread_locks (thread_id, holder, expires_at)
VALUES ($1, $2, now() + make_interval(secs => $3))
ON CONFLICT (thread_id) DO UPDATE
SET holder = EXCLUDED.holder, expires_at = EXCLUDED.expires_at
WHERE thread_locks.expires_at <= now()`

const releaseSQL = `DELETE FROM thread_locks WHERE thread_id = $1 AND holder = $2`

const sweepSQL = `DELETE FROM thread_locks WHERE expires_at <= now()`

// NewPGLocker creates a Postgres-backed Locker.
func NewPGLocker(log *slog.Logger, db Execer, opts Options) *PGLocker {
	if log == nil {
		log = slog.Default()
	}
	return &PGLocker{
		db:     db,
		opts:   opts.withDefaults(),
		logger: log.With(slog.String("service", "lock")),
	}
}

// Acquire polls the insert-or-steal statement until it wins the row.
func (p *PGLocker) Acquire(ctx context.Context, threadID string) (*Lease, error) {
	holder := uuid.NewString()
	ttlSecs := p.opts.TTL.Seconds()
	return poll(ctx, p.opts, func() (*Lease, bool, error) {
		tag, err := p.db.Exec(ctx, acquireSQL, threadID, holder, ttlSecs)
		if err != nil {
			return nil, false, fmt.Errorf("acquire thread lock: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return nil, false, nil
		}
		lease := NewLease(threadID, holder, func(releaseCtx context.Context) error {
			if _, err := p.db.Exec(releaseCtx, releaseSQL, threadID, holder); err != nil {
				return fmt.Errorf("release thread lock: %w", err)
			}
			return nil
		})
		return lease, true, nil
	})
}

// SweepExpired drops expired lock rows. Expiry alone already unblocks
// acquisition; the sweep only keeps the table small.
func (p *PGLocker) SweepExpired(ctx context.Context) error {
	tag, err := p.db.Exec(ctx, sweepSQL)
	if err != nil {
		return fmt.Errorf("sweep thread locks: %w", err)
	}
	if n := tag.RowsAffected(); n > 0 {
		p.logger.Debug("swept expired thread locks", slog.Int64("count", n))
	}
	return nil
}
