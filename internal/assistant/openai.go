package assistant

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIBackend implements Backend over the OpenAI Assistants API
// (beta threads + runs).
type OpenAIBackend struct {
	client      openai.Client
	assistantID string
	logger      *slog.Logger
}

// NewOpenAIBackend creates a backend bound to one assistant.
func NewOpenAIBackend(log *slog.Logger, apiKey, assistantID string) *OpenAIBackend {
	if log == nil {
		log = slog.Default()
	}
	return &OpenAIBackend{
		client:      openai.NewClient(option.WithAPIKey(apiKey)),
		assistantID: assistantID,
		logger:      log.With(slog.String("service", "assistant")),
	}
}

// CreateThread requests a fresh empty thread.
func (b *OpenAIBackend) CreateThread(ctx context.Context) (string, error) {
	thread, err := b.client.Beta.Threads.New(ctx, openai.BetaThreadNewParams{})
	if err != nil {
		return "", fmt.Errorf("create thread: %w", err)
	}
	return thread.ID, nil
}

// CreateMessage inserts one user turn. An active run on the thread surfaces
// as ErrActiveRun.
func (b *OpenAIBackend) CreateMessage(ctx context.Context, threadID string, msg UserMessage) error {
	parts := []openai.MessageContentPartParamUnion{
		{OfText: &openai.TextContentBlockParam{Text: msg.Text}},
	}
	if msg.ImageFileID != "" {
		parts = append(parts, openai.MessageContentPartParamUnion{
			OfImageFile: &openai.ImageFileContentBlockParam{
				ImageFile: openai.ImageFileParam{FileID: msg.ImageFileID},
			},
		})
	}
	params := openai.BetaThreadMessageNewParams{
		Role: openai.BetaThreadMessageNewParamsRoleUser,
		Content: openai.BetaThreadMessageNewParamsContentUnion{
			OfArrayOfContentParts: parts,
		},
	}
	for _, att := range msg.Attachments {
		params.Attachments = append(params.Attachments, openai.BetaThreadMessageNewParamsAttachment{
			FileID: openai.String(att.FileID),
			Tools: []openai.BetaThreadMessageNewParamsAttachmentToolUnion{
				{OfFileSearch: &openai.BetaThreadMessageNewParamsAttachmentToolFileSearch{}},
			},
		})
	}
	if _, err := b.client.Beta.Threads.Messages.New(ctx, threadID, params); err != nil {
		return classifyMessageInsertError(err)
	}
	return nil
}

// CreateRun starts exactly one run for the bound assistant. Tool handling is
// fully delegated to the backend.
func (b *OpenAIBackend) CreateRun(ctx context.Context, threadID string) (Run, error) {
	run, err := b.client.Beta.Threads.Runs.New(ctx, threadID, openai.BetaThreadRunNewParams{
		AssistantID: b.assistantID,
	})
	if err != nil {
		return Run{}, fmt.Errorf("create run: %w", err)
	}
	return toRun(run), nil
}

// RetrieveRun reads the current status of a run.
func (b *OpenAIBackend) RetrieveRun(ctx context.Context, threadID, runID string) (Run, error) {
	run, err := b.client.Beta.Threads.Runs.Get(ctx, threadID, runID)
	if err != nil {
		return Run{}, fmt.Errorf("retrieve run: %w", err)
	}
	return toRun(run), nil
}

// CancelRun requests cancellation. Best-effort: the outcome is never
// re-confirmed by the caller.
func (b *OpenAIBackend) CancelRun(ctx context.Context, threadID, runID string) error {
	if _, err := b.client.Beta.Threads.Runs.Cancel(ctx, threadID, runID); err != nil {
		return fmt.Errorf("cancel run: %w", err)
	}
	return nil
}

// ListRuns returns the most recent runs of a thread, newest first.
func (b *OpenAIBackend) ListRuns(ctx context.Context, threadID string) ([]Run, error) {
	page, err := b.client.Beta.Threads.Runs.List(ctx, threadID, openai.BetaThreadRunListParams{
		Limit: openai.Int(20),
	})
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	runs := make([]Run, 0, len(page.Data))
	for _, run := range page.Data {
		runs = append(runs, toRun(&run))
	}
	return runs, nil
}

// ListMessages returns the newest turns of a thread, newest first, with each
// message flattened to its first text part.
func (b *OpenAIBackend) ListMessages(ctx context.Context, threadID string) ([]ThreadMessage, error) {
	page, err := b.client.Beta.Threads.Messages.List(ctx, threadID, openai.BetaThreadMessageListParams{
		Order: openai.BetaThreadMessageListParamsOrderDesc,
		Limit: openai.Int(8),
	})
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	messages := make([]ThreadMessage, 0, len(page.Data))
	for _, m := range page.Data {
		text := ""
		for _, part := range m.Content {
			if part.Type == "text" {
				text = part.Text.Value
				break
			}
		}
		messages = append(messages, ThreadMessage{
			ID:   m.ID,
			Role: string(m.Role),
			Text: text,
		})
	}
	return messages, nil
}

// UploadFile stores bytes with the assistants purpose and returns the file id.
func (b *OpenAIBackend) UploadFile(ctx context.Context, name string, data []byte) (string, error) {
	file, err := b.client.Files.New(ctx, openai.FileNewParams{
		File:    openai.File(bytes.NewReader(data), name, "application/octet-stream"),
		Purpose: openai.FilePurposeAssistants,
	})
	if err != nil {
		return "", fmt.Errorf("upload file: %w", err)
	}
	return file.ID, nil
}

// Transcribe runs speech recognition over an audio payload.
func (b *OpenAIBackend) Transcribe(ctx context.Context, name string, data []byte) (string, error) {
	transcription, err := b.client.Audio.Transcriptions.New(ctx, openai.AudioTranscriptionNewParams{
		Model: openai.AudioModelWhisper1,
		File:  openai.File(bytes.NewReader(data), name, "application/octet-stream"),
	})
	if err != nil {
		return "", fmt.Errorf("transcribe: %w", err)
	}
	return transcription.Text, nil
}

// Ping verifies connectivity by retrieving the bound assistant. Used by the
// selftest route only.
func (b *OpenAIBackend) Ping(ctx context.Context) error {
	if _, err := b.client.Beta.Assistants.Get(ctx, b.assistantID); err != nil {
		return fmt.Errorf("assistant selftest: %w", err)
	}
	return nil
}

func toRun(run *openai.Run) Run {
	return Run{
		ID:        run.ID,
		ThreadID:  run.ThreadID,
		Status:    RunStatus(run.Status),
		CreatedAt: time.Unix(run.CreatedAt, 0).UTC(),
	}
}
