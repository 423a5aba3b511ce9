package assistant

import (
	"errors"
	"strings"

	"github.com/openai/openai-go"
)

// ErrActiveRun marks a message-insert rejection caused by a run still being
// active on the thread. Callers retry after re-checking idleness; every
// other rejection propagates as-is.
var ErrActiveRun = errors.New("assistant: thread has an active run")

// activeRunFragments is the documented set of substrings the backend uses in
// its active-run rejection. The API reports this as a plain 400 without a
// dedicated error code, so substring matching against this list is the only
// available classification.
var activeRunFragments = []string{
	"while a run",
	"already has an active run",
}

func classifyMessageInsertError(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) && apiErr.StatusCode == 400 {
		msg := strings.ToLower(apiErr.Message)
		for _, fragment := range activeRunFragments {
			if strings.Contains(msg, fragment) {
				return errors.Join(ErrActiveRun, err)
			}
		}
	}
	return err
}

// IsActiveRun reports whether err is the structured active-run conflict.
func IsActiveRun(err error) bool {
	return errors.Is(err, ErrActiveRun)
}

// IsTransient reports whether err looks like a retriable backend failure
// (5xx or rate limit). Only the message-insert step retries on these.
func IsTransient(err error) bool {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= 500 || apiErr.StatusCode == 429
	}
	return false
}
