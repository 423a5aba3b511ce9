// Package session maps chat identifiers to durable backend thread handles
// and gates the per-chat acknowledgment cooldown.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Store persists the chat -> thread mapping. In a horizontally scaled
// deployment the store must be shared by every process instance.
type Store interface {
	// GetThread returns the mapped thread handle, or "" when none exists.
	GetThread(ctx context.Context, chatID int64) (string, error)
	// PutThread overwrites the mapping wholesale. The previous handle is
	// abandoned, never merged or deleted remotely.
	PutThread(ctx context.Context, chatID int64, threadID string) error
	// TouchThread moves the chat's last-activity timestamp.
	TouchThread(ctx context.Context, chatID int64) error
}

// AckGate decides whether the early "request received" acknowledgment may
// be sent: at most once per cooldown window per chat.
type AckGate interface {
	ShouldAck(ctx context.Context, chatID int64, cooldown time.Duration) (bool, error)
}

// DBTX is the subset of pgxpool.Pool the Postgres store needs.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PGStore is the cluster-visible Store and AckGate.
type PGStore struct {
	db DBTX
}

// NewPGStore creates a Postgres-backed store.
func NewPGStore(db DBTX) *PGStore {
	return &PGStore{db: db}
}

const getThreadSQL = `SELECT thread_id FROM chat_threads WHERE chat_id = $1`

const putThreadSQL = `
INSERT INTO chat_threads (chat_id, thread_id, created_at, last_active_at)
VALUES ($1, $2, now(), now())
ON CONFLICT (chat_id) DO UPDATE
SET thread_id = EXCLUDED.thread_id, last_active_at = now()`

const touchThreadSQL = `UPDATE chat_threads SET last_active_at = now() WHERE chat_id = $1`

// shouldAckSQL wins exactly when no acknowledgment was sent inside the
// cooldown window; winning updates the window start atomically.
const shouldAckSQL = `
INSERT INTO chat_acks (chat_id, last_ack_at)
VALUES ($1, now())
ON CONFLICT (chat_id) DO UPDATE
SET last_ack_at = now()
WHERE chat_acks.last_ack_at <= now() - make_interval(secs => $2)`

func (s *PGStore) GetThread(ctx context.Context, chatID int64) (string, error) {
	var threadID string
	err := s.db.QueryRow(ctx, getThreadSQL, chatID).Scan(&threadID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get thread mapping: %w", err)
	}
	return threadID, nil
}

func (s *PGStore) PutThread(ctx context.Context, chatID int64, threadID string) error {
	if _, err := s.db.Exec(ctx, putThreadSQL, chatID, threadID); err != nil {
		return fmt.Errorf("put thread mapping: %w", err)
	}
	return nil
}

func (s *PGStore) TouchThread(ctx context.Context, chatID int64) error {
	if _, err := s.db.Exec(ctx, touchThreadSQL, chatID); err != nil {
		return fmt.Errorf("touch thread mapping: %w", err)
	}
	return nil
}

func (s *PGStore) ShouldAck(ctx context.Context, chatID int64, cooldown time.Duration) (bool, error) {
	tag, err := s.db.Exec(ctx, shouldAckSQL, chatID, cooldown.Seconds())
	if err != nil {
		return false, fmt.Errorf("ack gate: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}
