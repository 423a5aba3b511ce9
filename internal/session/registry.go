package session

import (
	"context"
	"fmt"
	"log/slog"
)

// ThreadCreator is the single backend operation the registry needs.
type ThreadCreator interface {
	CreateThread(ctx context.Context) (string, error)
}

// Registry resolves the durable thread handle for a chat. Threads are
// created lazily on first use and replaced wholesale on reset.
type Registry struct {
	store   Store
	backend ThreadCreator
	logger  *slog.Logger
}

// NewRegistry creates a Registry over a Store and the thread-creating
// backend.
func NewRegistry(log *slog.Logger, store Store, backend ThreadCreator) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		store:   store,
		backend: backend,
		logger:  log.With(slog.String("service", "session")),
	}
}

// GetOrCreate returns the chat's thread handle, creating and persisting one
// when none exists. Backend failures propagate; no retry happens here.
func (r *Registry) GetOrCreate(ctx context.Context, chatID int64) (string, error) {
	threadID, err := r.store.GetThread(ctx, chatID)
	if err != nil {
		return "", err
	}
	if threadID != "" {
		if err := r.store.TouchThread(ctx, chatID); err != nil {
			r.logger.Warn("touch thread failed", slog.Int64("chat_id", chatID), slog.Any("error", err))
		}
		return threadID, nil
	}

	threadID, err = r.backend.CreateThread(ctx)
	if err != nil {
		return "", fmt.Errorf("create thread for chat %d: %w", chatID, err)
	}
	if err := r.store.PutThread(ctx, chatID, threadID); err != nil {
		return "", err
	}
	r.logger.Info("thread created", slog.Int64("chat_id", chatID), slog.String("thread_id", threadID))
	return threadID, nil
}

// Reset unconditionally creates a fresh thread and overwrites the mapping.
// The previous handle is abandoned, not deleted remotely.
func (r *Registry) Reset(ctx context.Context, chatID int64) (string, error) {
	threadID, err := r.backend.CreateThread(ctx)
	if err != nil {
		return "", fmt.Errorf("reset thread for chat %d: %w", chatID, err)
	}
	if err := r.store.PutThread(ctx, chatID, threadID); err != nil {
		return "", err
	}
	r.logger.Info("thread reset", slog.Int64("chat_id", chatID), slog.String("thread_id", threadID))
	return threadID, nil
}
