// Package assistant defines the narrow backend surface the orchestrator
// consumes: threads, messages, runs, uploads, and transcription.
package assistant

import (
	"context"
	"time"
)

// RunStatus is the backend-reported state of a run.
type RunStatus string

const (
	RunStatusQueued         RunStatus = "queued"
	RunStatusInProgress     RunStatus = "in_progress"
	RunStatusRequiresAction RunStatus = "requires_action"
	RunStatusCancelling     RunStatus = "cancelling"
	RunStatusCompleted      RunStatus = "completed"
	RunStatusFailed         RunStatus = "failed"
	RunStatusCancelled      RunStatus = "cancelled"
	RunStatusExpired        RunStatus = "expired"
)

// IsTerminal reports whether polling can stop. requires_action is terminal
// here: no tool loop exists, so it can never progress on its own.
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunStatusCompleted, RunStatusFailed, RunStatusCancelled, RunStatusExpired, RunStatusRequiresAction:
		return true
	}
	return false
}

// IsActive reports whether the backend rejects new messages on the run's
// thread while the run is in this status.
func (s RunStatus) IsActive() bool {
	switch s {
	case RunStatusQueued, RunStatusInProgress, RunStatusRequiresAction, RunStatusCancelling:
		return true
	}
	return false
}

// Run is one backend-side execution of the assistant against a thread.
type Run struct {
	ID        string
	ThreadID  string
	Status    RunStatus
	CreatedAt time.Time
}

// FileAttachment references an uploaded file made searchable for the run.
type FileAttachment struct {
	FileID string
}

// UserMessage is one user turn inserted into a thread. Text is always set;
// ImageFileID adds an image content part; Attachments add retrieval files.
type UserMessage struct {
	Text        string
	ImageFileID string
	Attachments []FileAttachment
}

// ThreadMessage is one turn read back from a thread, newest first.
type ThreadMessage struct {
	ID   string
	Role string
	Text string
}

const RoleAssistant = "assistant"

// Backend is the assistant API consumed by the orchestrator. None of the
// operations are assumed idempotent beyond what the backend itself provides.
type Backend interface {
	CreateThread(ctx context.Context) (string, error)
	CreateMessage(ctx context.Context, threadID string, msg UserMessage) error
	CreateRun(ctx context.Context, threadID string) (Run, error)
	RetrieveRun(ctx context.Context, threadID, runID string) (Run, error)
	CancelRun(ctx context.Context, threadID, runID string) error
	ListRuns(ctx context.Context, threadID string) ([]Run, error)
	ListMessages(ctx context.Context, threadID string) ([]ThreadMessage, error)
	UploadFile(ctx context.Context, name string, data []byte) (string, error)
	Transcribe(ctx context.Context, name string, data []byte) (string, error)
}

// LatestAssistantText returns the newest assistant text from a newest-first
// message listing, or "" when none exists.
func LatestAssistantText(messages []ThreadMessage) string {
	for _, m := range messages {
		if m.Role == RoleAssistant && m.Text != "" {
			return m.Text
		}
	}
	return ""
}
