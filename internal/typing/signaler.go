// Package typing keeps the chat's "working" indicator alive while a long
// step runs.
package typing

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Indicator sends one typing signal to a chat. Failures are swallowed by the
// signaler; the indicator is purely cosmetic.
type Indicator interface {
	SendTyping(ctx context.Context, chatID int64) error
}

// Signaler emits the indicator on a fixed interval shorter than the
// platform's own indicator expiry.
type Signaler struct {
	indicator Indicator
	interval  time.Duration
	logger    *slog.Logger
}

// NewSignaler creates a Signaler. interval must stay below the platform's
// indicator lifetime (about five seconds for Telegram).
func NewSignaler(log *slog.Logger, indicator Indicator, interval time.Duration) *Signaler {
	if log == nil {
		log = slog.Default()
	}
	return &Signaler{
		indicator: indicator,
		interval:  interval,
		logger:    log.With(slog.String("service", "typing")),
	}
}

// Start emits the indicator immediately and then on every interval tick
// until the returned stop function is called or ctx is cancelled. stop is
// idempotent, never panics, and waits for the goroutine to exit so no signal
// is sent after it returns.
func (s *Signaler) Start(ctx context.Context, chatID int64) (stop func()) {
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		s.emit(runCtx, chatID)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				s.emit(runCtx, chatID)
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}
}

func (s *Signaler) emit(ctx context.Context, chatID int64) {
	if err := s.indicator.SendTyping(ctx, chatID); err != nil && ctx.Err() == nil {
		s.logger.Debug("typing signal failed", slog.Int64("chat_id", chatID), slog.Any("error", err))
	}
}
