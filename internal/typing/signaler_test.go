package typing

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type countingIndicator struct {
	mu    sync.Mutex
	count int
	err   error
}

func (c *countingIndicator) SendTyping(ctx context.Context, chatID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.count++
	return c.err
}

func (c *countingIndicator) sent() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}

func TestSignalerEmitsUntilStopped(t *testing.T) {
	t.Parallel()

	indicator := &countingIndicator{}
	signaler := NewSignaler(nil, indicator, 10*time.Millisecond)

	stop := signaler.Start(context.Background(), 42)
	time.Sleep(55 * time.Millisecond)
	stop()

	sent := indicator.sent()
	if sent < 2 {
		t.Fatalf("expected repeated signals, got %d", sent)
	}
	time.Sleep(30 * time.Millisecond)
	if after := indicator.sent(); after != sent {
		t.Fatalf("signals continued after stop: %d -> %d", sent, after)
	}
}

func TestSignalerStopIsIdempotent(t *testing.T) {
	t.Parallel()

	signaler := NewSignaler(nil, &countingIndicator{}, 10*time.Millisecond)
	stop := signaler.Start(context.Background(), 1)
	stop()
	stop() // must not panic or block
}

func TestSignalerSwallowsIndicatorErrors(t *testing.T) {
	t.Parallel()

	indicator := &countingIndicator{err: errors.New("network down")}
	signaler := NewSignaler(nil, indicator, 10*time.Millisecond)
	stop := signaler.Start(context.Background(), 1)
	time.Sleep(35 * time.Millisecond)
	stop()

	if indicator.sent() < 2 {
		t.Fatal("expected signaler to keep emitting despite errors")
	}
}

func TestSignalerStopsOnContextCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	indicator := &countingIndicator{}
	signaler := NewSignaler(nil, indicator, 10*time.Millisecond)
	stop := signaler.Start(ctx, 1)
	cancel()
	time.Sleep(30 * time.Millisecond)
	sent := indicator.sent()
	time.Sleep(30 * time.Millisecond)
	if after := indicator.sent(); after != sent {
		t.Fatalf("signals continued after cancel: %d -> %d", sent, after)
	}
	stop()
}
