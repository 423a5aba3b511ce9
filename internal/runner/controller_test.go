package runner

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/medassistai/medassist/internal/assistant"
)

// scriptedBackend is an assistant.Backend with programmable run behavior.
type scriptedBackend struct {
	mu sync.Mutex

	runs          []assistant.Run
	insertErrs    []error // consumed one per CreateMessage call
	insertCalls   int
	cancelCalls   []string
	statusScript  []assistant.RunStatus // consumed one per RetrieveRun call
	scriptPos     int
	answer        string
	listRunsCalls int
}

func (b *scriptedBackend) CreateThread(context.Context) (string, error) { return "thread_1", nil }

func (b *scriptedBackend) CreateMessage(context.Context, string, assistant.UserMessage) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.insertCalls++
	if len(b.insertErrs) > 0 {
		err := b.insertErrs[0]
		b.insertErrs = b.insertErrs[1:]
		return err
	}
	return nil
}

func (b *scriptedBackend) CreateRun(_ context.Context, threadID string) (assistant.Run, error) {
	return assistant.Run{ID: "run_1", ThreadID: threadID, Status: assistant.RunStatusQueued, CreatedAt: time.Now()}, nil
}

func (b *scriptedBackend) RetrieveRun(_ context.Context, threadID, runID string) (assistant.Run, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	status := assistant.RunStatusInProgress
	if b.scriptPos < len(b.statusScript) {
		status = b.statusScript[b.scriptPos]
		b.scriptPos++
	} else if len(b.statusScript) > 0 {
		status = b.statusScript[len(b.statusScript)-1]
	}
	return assistant.Run{ID: runID, ThreadID: threadID, Status: status}, nil
}

func (b *scriptedBackend) CancelRun(_ context.Context, _ string, runID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cancelCalls = append(b.cancelCalls, runID)
	return nil
}

func (b *scriptedBackend) ListRuns(context.Context, string) ([]assistant.Run, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listRunsCalls++
	runs := make([]assistant.Run, len(b.runs))
	copy(runs, b.runs)
	return runs, nil
}

func (b *scriptedBackend) ListMessages(context.Context, string) ([]assistant.ThreadMessage, error) {
	return []assistant.ThreadMessage{
		{ID: "msg_2", Role: assistant.RoleAssistant, Text: b.answer},
		{ID: "msg_1", Role: "user", Text: "question"},
	}, nil
}

func (b *scriptedBackend) UploadFile(context.Context, string, []byte) (string, error) {
	return "file_1", nil
}

func (b *scriptedBackend) Transcribe(context.Context, string, []byte) (string, error) {
	return "", nil
}

func fastOptions() Options {
	return Options{
		RunTimeout:        200 * time.Millisecond,
		PollInterval:      10 * time.Millisecond,
		IdleWaitTimeout:   100 * time.Millisecond,
		InsertMaxAttempts: 3,
	}
}

func TestExecuteCompletedRunReturnsAnswer(t *testing.T) {
	t.Parallel()

	backend := &scriptedBackend{
		answer:       "Drink plenty of fluids.",
		statusScript: []assistant.RunStatus{assistant.RunStatusInProgress, assistant.RunStatusCompleted},
	}
	ctrl := NewController(nil, backend, fastOptions())

	outcome, err := ctrl.Execute(context.Background(), "thread_1", assistant.UserMessage{Text: "hello"})
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if !outcome.Completed() {
		t.Fatalf("expected completed outcome, got %+v", outcome)
	}
	if outcome.Answer != "Drink plenty of fluids." {
		t.Fatalf("unexpected answer: %q", outcome.Answer)
	}
}

func TestExecuteInsertRetriesBoundedOnActiveRunConflict(t *testing.T) {
	t.Parallel()

	conflict := assistant.ErrActiveRun
	backend := &scriptedBackend{
		answer:       "ok",
		insertErrs:   []error{conflict, conflict},
		statusScript: []assistant.RunStatus{assistant.RunStatusCompleted},
	}
	ctrl := NewController(nil, backend, fastOptions())

	outcome, err := ctrl.Execute(context.Background(), "thread_1", assistant.UserMessage{Text: "hello"})
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if !outcome.Completed() {
		t.Fatalf("expected completed outcome, got %+v", outcome)
	}
	if backend.insertCalls != 3 {
		t.Fatalf("insert attempts = %d, want 3", backend.insertCalls)
	}
}

func TestExecuteInsertGivesUpAtAttemptBound(t *testing.T) {
	t.Parallel()

	conflict := assistant.ErrActiveRun
	backend := &scriptedBackend{
		insertErrs: []error{conflict, conflict, conflict, conflict},
	}
	ctrl := NewController(nil, backend, fastOptions())

	_, err := ctrl.Execute(context.Background(), "thread_1", assistant.UserMessage{Text: "hello"})
	if !assistant.IsActiveRun(err) {
		t.Fatalf("expected active-run error after exhausted retries, got %v", err)
	}
	if backend.insertCalls != 3 {
		t.Fatalf("insert attempts = %d, want exactly the configured bound 3", backend.insertCalls)
	}
}

func TestExecuteInsertOtherErrorPropagatesImmediately(t *testing.T) {
	t.Parallel()

	insertErr := errors.New("invalid content")
	backend := &scriptedBackend{insertErrs: []error{insertErr}}
	ctrl := NewController(nil, backend, fastOptions())

	_, err := ctrl.Execute(context.Background(), "thread_1", assistant.UserMessage{Text: "hello"})
	if !errors.Is(err, insertErr) {
		t.Fatalf("expected insert error, got %v", err)
	}
	if backend.insertCalls != 1 {
		t.Fatalf("non-conflict rejection must not retry, got %d attempts", backend.insertCalls)
	}
}

func TestExecuteTimeoutCancelsAndReturnsNonCompleted(t *testing.T) {
	t.Parallel()

	backend := &scriptedBackend{
		statusScript: []assistant.RunStatus{assistant.RunStatusInProgress},
	}
	opts := fastOptions()
	ctrl := NewController(nil, backend, opts)

	started := time.Now()
	outcome, err := ctrl.Execute(context.Background(), "thread_1", assistant.UserMessage{Text: "hello"})
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if outcome.Completed() {
		t.Fatal("timed-out run must not complete")
	}
	if !outcome.TimedOut {
		t.Fatal("outcome should be marked as timed out")
	}
	if len(backend.cancelCalls) != 1 || backend.cancelCalls[0] != "run_1" {
		t.Fatalf("expected one cancellation of run_1, got %v", backend.cancelCalls)
	}
	// Must exit within timeout plus roughly one poll interval.
	if elapsed := time.Since(started); elapsed > opts.RunTimeout+5*opts.PollInterval {
		t.Fatalf("execute took %v, want under %v", elapsed, opts.RunTimeout+5*opts.PollInterval)
	}
}

func TestExecuteIdleWaitEvictsStuckRun(t *testing.T) {
	t.Parallel()

	backend := &scriptedBackend{
		answer: "ok",
		runs: []assistant.Run{
			{ID: "run_old", Status: assistant.RunStatusInProgress, CreatedAt: time.Now().Add(-time.Minute)},
			{ID: "run_new", Status: assistant.RunStatusQueued, CreatedAt: time.Now()},
		},
		statusScript: []assistant.RunStatus{assistant.RunStatusCompleted},
	}
	ctrl := NewController(nil, backend, fastOptions())

	outcome, err := ctrl.Execute(context.Background(), "thread_1", assistant.UserMessage{Text: "hello"})
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if !outcome.Completed() {
		t.Fatalf("expected completed outcome, got %+v", outcome)
	}
	if len(backend.cancelCalls) != 1 || backend.cancelCalls[0] != "run_old" {
		t.Fatalf("expected eviction of the oldest active run, got %v", backend.cancelCalls)
	}
	if backend.listRunsCalls < 2 {
		t.Fatalf("idle wait should poll repeatedly before evicting, got %d calls", backend.listRunsCalls)
	}
}

func TestExecuteWaitsForIdleBeforeInserting(t *testing.T) {
	t.Parallel()

	backend := &scriptedBackend{
		answer: "ok",
		runs: []assistant.Run{
			{ID: "run_prev", Status: assistant.RunStatusInProgress, CreatedAt: time.Now()},
		},
		statusScript: []assistant.RunStatus{assistant.RunStatusCompleted},
	}
	ctrl := NewController(nil, backend, fastOptions())

	// The previous run transitions to terminal shortly after the turn starts.
	go func() {
		time.Sleep(30 * time.Millisecond)
		backend.mu.Lock()
		backend.runs[0].Status = assistant.RunStatusCompleted
		backend.mu.Unlock()
	}()

	outcome, err := ctrl.Execute(context.Background(), "thread_1", assistant.UserMessage{Text: "second turn"})
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if !outcome.Completed() {
		t.Fatalf("expected completed outcome, got %+v", outcome)
	}
	if len(backend.cancelCalls) != 0 {
		t.Fatalf("no eviction expected when the run finishes in time, got %v", backend.cancelCalls)
	}
	if backend.insertCalls != 1 {
		t.Fatalf("insert attempts = %d, want 1", backend.insertCalls)
	}
}

func TestObserverSeesStatusTransitions(t *testing.T) {
	t.Parallel()

	backend := &scriptedBackend{
		answer:       "ok",
		statusScript: []assistant.RunStatus{assistant.RunStatusInProgress, assistant.RunStatusCompleted},
	}

	var mu sync.Mutex
	var seen []assistant.RunStatus
	opts := fastOptions()
	opts.Observer = func(run assistant.Run) {
		mu.Lock()
		seen = append(seen, run.Status)
		mu.Unlock()
	}
	ctrl := NewController(nil, backend, opts)

	if _, err := ctrl.Execute(context.Background(), "thread_1", assistant.UserMessage{Text: "hello"}); err != nil {
		t.Fatalf("execute failed: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for {
		mu.Lock()
		n := len(seen)
		mu.Unlock()
		if n >= 2 || time.Now().After(deadline) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seen) < 2 {
		t.Fatalf("observer saw %d transitions, want at least 2 (%v)", len(seen), seen)
	}
}
