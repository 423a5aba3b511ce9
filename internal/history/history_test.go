package history

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

type execCall struct {
	sql  string
	args []any
}

type fakeExecer struct {
	calls []execCall
	err   error
}

func (f *fakeExecer) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if f.err != nil {
		return pgconn.CommandTag{}, f.err
	}
	f.calls = append(f.calls, execCall{sql: sql, args: args})
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func TestRecordMessage(t *testing.T) {
	t.Parallel()

	db := &fakeExecer{}
	log := NewLog(nil, db)

	err := log.Record(context.Background(), Entry{
		ChatID:      100,
		Direction:   DirectionOutbound,
		MessageID:   42,
		ContentType: "text",
		Text:        "hello",
	})
	if err != nil {
		t.Fatalf("record failed: %v", err)
	}
	if len(db.calls) != 1 {
		t.Fatalf("expected one insert, got %d", len(db.calls))
	}
	call := db.calls[0]
	if !strings.Contains(call.sql, "INSERT INTO messages") {
		t.Fatalf("unexpected sql: %s", call.sql)
	}
	if call.args[0].(int64) != 100 || call.args[1].(int16) != 1 {
		t.Fatalf("unexpected args: %v", call.args)
	}
}

func TestRecordDefaultsContentType(t *testing.T) {
	t.Parallel()

	db := &fakeExecer{}
	log := NewLog(nil, db)

	if err := log.Record(context.Background(), Entry{ChatID: 100, Text: "hi"}); err != nil {
		t.Fatalf("record failed: %v", err)
	}
	if got := db.calls[0].args[4].(string); got != "text" {
		t.Fatalf("content type = %q, want text", got)
	}
}

func TestUpsertProfile(t *testing.T) {
	t.Parallel()

	db := &fakeExecer{}
	log := NewLog(nil, db)

	err := log.UpsertProfile(context.Background(), Profile{
		ChatID:    100,
		Username:  "pat",
		FirstName: "Pat",
	})
	if err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	call := db.calls[0]
	if !strings.Contains(call.sql, "ON CONFLICT (chat_id) DO UPDATE") {
		t.Fatalf("upsert sql missing conflict clause: %s", call.sql)
	}
	if !strings.Contains(call.sql, "messages_total = profiles.messages_total + 1") {
		t.Fatalf("upsert sql missing counter bump: %s", call.sql)
	}
}

func TestErrorsAreWrapped(t *testing.T) {
	t.Parallel()

	dbErr := errors.New("connection reset")
	log := NewLog(nil, &fakeExecer{err: dbErr})

	if err := log.Record(context.Background(), Entry{ChatID: 1}); !errors.Is(err, dbErr) {
		t.Fatalf("expected wrapped error, got %v", err)
	}
	if err := log.UpsertProfile(context.Background(), Profile{ChatID: 1}); !errors.Is(err, dbErr) {
		t.Fatalf("expected wrapped error, got %v", err)
	}
}
