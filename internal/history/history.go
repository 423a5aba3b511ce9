// Package history is the write-only persistence sink: an append-only
// message log plus a per-chat profile upsert.
package history

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgconn"
)

// Direction marks which side of the conversation wrote the message.
type Direction int16

const (
	DirectionInbound  Direction = 0
	DirectionOutbound Direction = 1
)

// Entry is one logged message of either direction. MessageID is the chat
// platform's identifier when known, zero otherwise.
type Entry struct {
	ChatID         int64
	Direction      Direction
	MessageID      int64
	ContentType    string
	AttachmentName string
	Text           string
}

// Profile carries the sender fields refreshed on every inbound turn.
type Profile struct {
	ChatID       int64
	Username     string
	FirstName    string
	LastName     string
	LanguageCode string
}

// DBTX is the write surface of pgxpool.Pool the log needs.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Log appends messages and upserts profiles. Nothing reads back through it.
type Log struct {
	db     DBTX
	logger *slog.Logger
}

func NewLog(log *slog.Logger, db DBTX) *Log {
	if log == nil {
		log = slog.Default()
	}
	return &Log{db: db, logger: log.With(slog.String("service", "history"))}
}

const insertMessageSQL = `
INSERT INTO messages (chat_id, direction, message_id, text, content_type, attachment_name)
VALUES ($1, $2, NULLIF($3::bigint, 0), $4, $5, NULLIF($6, ''))`

const upsertProfileSQL = `
INSERT INTO profiles (chat_id, username, first_name, last_name, language_code, first_seen_at, last_seen_at, messages_total)
VALUES ($1, $2, $3, $4, $5, now(), now(), 1)
ON CONFLICT (chat_id) DO UPDATE
SET username = EXCLUDED.username,
    first_name = EXCLUDED.first_name,
    last_name = EXCLUDED.last_name,
    language_code = EXCLUDED.language_code,
    last_seen_at = now(),
    messages_total = profiles.messages_total + 1`

// Record appends one message row.
func (l *Log) Record(ctx context.Context, e Entry) error {
	contentType := e.ContentType
	if contentType == "" {
		contentType = "text"
	}
	_, err := l.db.Exec(ctx, insertMessageSQL,
		e.ChatID, int16(e.Direction), e.MessageID, e.Text, contentType, e.AttachmentName)
	if err != nil {
		return fmt.Errorf("record message: %w", err)
	}
	return nil
}

// UpsertProfile creates or refreshes the sender's profile and bumps the
// message counter.
func (l *Log) UpsertProfile(ctx context.Context, p Profile) error {
	_, err := l.db.Exec(ctx, upsertProfileSQL,
		p.ChatID, p.Username, p.FirstName, p.LastName, p.LanguageCode)
	if err != nil {
		return fmt.Errorf("upsert profile: %w", err)
	}
	return nil
}
