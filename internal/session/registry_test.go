package session

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

type fakeThreadCreator struct {
	next int
	err  error
}

func (f *fakeThreadCreator) CreateThread(context.Context) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.next++
	return fmt.Sprintf("thread_%d", f.next), nil
}

func TestGetOrCreateIsStable(t *testing.T) {
	t.Parallel()

	registry := NewRegistry(nil, NewMemoryStore(), &fakeThreadCreator{})
	ctx := context.Background()

	first, err := registry.GetOrCreate(ctx, 100)
	if err != nil {
		t.Fatalf("first call failed: %v", err)
	}
	second, err := registry.GetOrCreate(ctx, 100)
	if err != nil {
		t.Fatalf("second call failed: %v", err)
	}
	if first != second {
		t.Fatalf("handle changed without reset: %s -> %s", first, second)
	}
}

func TestGetOrCreateIsPerChat(t *testing.T) {
	t.Parallel()

	registry := NewRegistry(nil, NewMemoryStore(), &fakeThreadCreator{})
	ctx := context.Background()

	a, err := registry.GetOrCreate(ctx, 1)
	if err != nil {
		t.Fatalf("chat 1 failed: %v", err)
	}
	b, err := registry.GetOrCreate(ctx, 2)
	if err != nil {
		t.Fatalf("chat 2 failed: %v", err)
	}
	if a == b {
		t.Fatalf("distinct chats share a thread handle: %s", a)
	}
}

func TestResetAlwaysYieldsNewHandle(t *testing.T) {
	t.Parallel()

	registry := NewRegistry(nil, NewMemoryStore(), &fakeThreadCreator{})
	ctx := context.Background()

	before, err := registry.GetOrCreate(ctx, 100)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	after, err := registry.Reset(ctx, 100)
	if err != nil {
		t.Fatalf("reset failed: %v", err)
	}
	if after == before {
		t.Fatalf("reset returned the previous handle: %s", after)
	}

	current, err := registry.GetOrCreate(ctx, 100)
	if err != nil {
		t.Fatalf("get after reset failed: %v", err)
	}
	if current != after {
		t.Fatalf("mapping not overwritten: got %s, want %s", current, after)
	}
}

func TestGetOrCreatePropagatesBackendFailure(t *testing.T) {
	t.Parallel()

	backendErr := errors.New("backend unreachable")
	registry := NewRegistry(nil, NewMemoryStore(), &fakeThreadCreator{err: backendErr})

	if _, err := registry.GetOrCreate(context.Background(), 100); !errors.Is(err, backendErr) {
		t.Fatalf("expected backend error, got %v", err)
	}
}

func TestMemoryStoreAckCooldown(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	ctx := context.Background()

	ok, err := store.ShouldAck(ctx, 100, 50*time.Millisecond)
	if err != nil || !ok {
		t.Fatalf("first ack should pass, got ok=%v err=%v", ok, err)
	}
	ok, err = store.ShouldAck(ctx, 100, 50*time.Millisecond)
	if err != nil || ok {
		t.Fatalf("ack inside cooldown should be suppressed, got ok=%v err=%v", ok, err)
	}
	// A different chat has its own window.
	ok, err = store.ShouldAck(ctx, 200, 50*time.Millisecond)
	if err != nil || !ok {
		t.Fatalf("other chat should ack, got ok=%v err=%v", ok, err)
	}

	time.Sleep(60 * time.Millisecond)
	ok, err = store.ShouldAck(ctx, 100, 50*time.Millisecond)
	if err != nil || !ok {
		t.Fatalf("ack after cooldown should pass, got ok=%v err=%v", ok, err)
	}
}
