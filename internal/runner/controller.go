// Package runner drives one backend run to a terminal state: idle wait,
// message insertion with bounded conflict retry, run creation, and polling
// under a hard wall-clock timeout.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/medassistai/medassist/internal/assistant"
)

// Options bound every loop in the controller. All waits are explicit so the
// controller is guaranteed to terminate under test.
type Options struct {
	// RunTimeout is the wall-clock limit for one run. Hitting it forces a
	// best-effort cancellation and a non-completed outcome.
	RunTimeout time.Duration
	// PollInterval paces both run polling and idle waiting.
	PollInterval time.Duration
	// IdleWaitTimeout bounds how long to wait for the thread to go idle
	// before evicting the oldest active run and proceeding.
	IdleWaitTimeout time.Duration
	// InsertMaxAttempts caps message-insert retries on active-run conflicts
	// and transient failures.
	InsertMaxAttempts int
	// Observer, when set, receives every observed status transition. It is
	// invoked on its own goroutine and must not be relied on for ordering.
	Observer func(run assistant.Run)
}

func (o Options) withDefaults() Options {
	if o.RunTimeout <= 0 {
		o.RunTimeout = 10 * time.Minute
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 2 * time.Second
	}
	if o.IdleWaitTimeout <= 0 {
		o.IdleWaitTimeout = 90 * time.Second
	}
	if o.InsertMaxAttempts <= 0 {
		o.InsertMaxAttempts = 3
	}
	return o
}

// Outcome is the result of one executed turn. Completed means the run
// finished as completed and an assistant answer was read back; everything
// else is delivered to the user as the fixed apology.
type Outcome struct {
	Status   assistant.RunStatus
	Answer   string
	TimedOut bool
}

func (o Outcome) Completed() bool {
	return o.Status == assistant.RunStatusCompleted && o.Answer != ""
}

// Controller executes turns against the assistant backend.
type Controller struct {
	backend assistant.Backend
	opts    Options
	logger  *slog.Logger
}

func NewController(log *slog.Logger, backend assistant.Backend, opts Options) *Controller {
	if log == nil {
		log = slog.Default()
	}
	return &Controller{
		backend: backend,
		opts:    opts.withDefaults(),
		logger:  log.With(slog.String("service", "runner")),
	}
}

// Execute inserts the turn into the thread, creates exactly one run, and
// polls it to a terminal state. The caller must hold the thread lock.
func (c *Controller) Execute(ctx context.Context, threadID string, msg assistant.UserMessage) (Outcome, error) {
	if err := c.waitIdle(ctx, threadID); err != nil {
		return Outcome{}, err
	}
	if err := c.insertMessage(ctx, threadID, msg); err != nil {
		return Outcome{}, err
	}

	run, err := c.backend.CreateRun(ctx, threadID)
	if err != nil {
		return Outcome{}, fmt.Errorf("create run: %w", err)
	}
	c.logger.Info("run created",
		slog.String("thread_id", threadID), slog.String("run_id", run.ID))

	return c.poll(ctx, run)
}

// waitIdle waits (bounded) until no run on the thread is in an active
// status. On timeout it requests cancellation of the oldest active run and
// proceeds regardless of the confirmed outcome.
func (c *Controller) waitIdle(ctx context.Context, threadID string) error {
	deadline := time.Now().Add(c.opts.IdleWaitTimeout)
	for {
		runs, err := c.backend.ListRuns(ctx, threadID)
		if err != nil {
			return fmt.Errorf("list runs: %w", err)
		}
		active := activeRuns(runs)
		if len(active) == 0 {
			return nil
		}

		if time.Now().After(deadline) {
			stuck := active[0]
			c.logger.Warn("idle wait timed out, evicting oldest active run",
				slog.String("thread_id", threadID),
				slog.String("run_id", stuck.ID),
				slog.String("status", string(stuck.Status)))
			if err := c.backend.CancelRun(ctx, threadID, stuck.ID); err != nil {
				c.logger.Warn("cancel request failed", slog.Any("error", err))
			}
			return nil
		}
		if err := sleep(ctx, c.opts.PollInterval); err != nil {
			return err
		}
	}
}

// insertMessage retries only the active-run conflict and transient backend
// failures, re-checking idleness between attempts. Any other rejection
// propagates immediately.
func (c *Controller) insertMessage(ctx context.Context, threadID string, msg assistant.UserMessage) error {
	var lastErr error
	for attempt := 1; attempt <= c.opts.InsertMaxAttempts; attempt++ {
		err := c.backend.CreateMessage(ctx, threadID, msg)
		if err == nil {
			return nil
		}
		if !assistant.IsActiveRun(err) && !assistant.IsTransient(err) {
			return fmt.Errorf("insert message: %w", err)
		}
		lastErr = err

		c.logger.Warn("message insert rejected, retrying",
			slog.String("thread_id", threadID),
			slog.Int("attempt", attempt),
			slog.Any("error", err))
		if attempt == c.opts.InsertMaxAttempts {
			break
		}
		if err := sleep(ctx, c.opts.PollInterval*time.Duration(attempt)); err != nil {
			return err
		}
		if assistant.IsActiveRun(lastErr) {
			if err := c.waitIdle(ctx, threadID); err != nil {
				return err
			}
		}
	}
	return fmt.Errorf("insert message after %d attempts: %w", c.opts.InsertMaxAttempts, lastErr)
}

// poll refreshes the run until a terminal status or the wall-clock timeout,
// whichever comes first. The timeout forces a cancellation request but does
// not wait for it to be confirmed.
func (c *Controller) poll(ctx context.Context, run assistant.Run) (Outcome, error) {
	started := time.Now()
	last := run.Status
	c.observe(run)

	for !run.Status.IsTerminal() {
		if time.Since(started) > c.opts.RunTimeout {
			c.logger.Warn("run timed out, requesting cancellation",
				slog.String("run_id", run.ID),
				slog.String("status", string(run.Status)))
			if err := c.backend.CancelRun(ctx, run.ThreadID, run.ID); err != nil {
				c.logger.Warn("cancel request failed", slog.Any("error", err))
			}
			return Outcome{Status: run.Status, TimedOut: true}, nil
		}
		if err := sleep(ctx, c.opts.PollInterval); err != nil {
			return Outcome{}, err
		}

		refreshed, err := c.backend.RetrieveRun(ctx, run.ThreadID, run.ID)
		if err != nil {
			return Outcome{}, fmt.Errorf("retrieve run: %w", err)
		}
		run = refreshed
		if run.Status != last {
			last = run.Status
			c.observe(run)
		}
	}

	c.logger.Info("run finished",
		slog.String("run_id", run.ID),
		slog.String("status", string(run.Status)))

	outcome := Outcome{Status: run.Status}
	if run.Status == assistant.RunStatusCompleted {
		messages, err := c.backend.ListMessages(ctx, run.ThreadID)
		if err != nil {
			return Outcome{}, fmt.Errorf("list messages: %w", err)
		}
		outcome.Answer = assistant.LatestAssistantText(messages)
	}
	return outcome, nil
}

func (c *Controller) observe(run assistant.Run) {
	if c.opts.Observer != nil {
		go c.opts.Observer(run)
	}
}

// activeRuns filters and orders active runs oldest first.
func activeRuns(runs []assistant.Run) []assistant.Run {
	var active []assistant.Run
	for _, r := range runs {
		if r.Status.IsActive() {
			active = append(active, r)
		}
	}
	sort.Slice(active, func(i, j int) bool {
		return active[i].CreatedAt.Before(active[j].CreatedAt)
	})
	return active
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
