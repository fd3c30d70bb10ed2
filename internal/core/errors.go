package core

import (
	"errors"
	"fmt"

	"github.com/relaydesk/relaydesk/internal/models"
)

// Provider-level failures, absorbed by the fallback chain manager and only
// surfaced as ErrChainExhausted once every entry has failed.
var (
	ErrProviderTimeout     = errors.New("provider timeout")
	ErrProviderRateLimited = errors.New("provider rate limited")
	ErrProviderFailed      = errors.New("provider error")
)

// Retrieval/extraction failures, absorbed locally (degraded results).
var (
	ErrRetrievalTimeout = errors.New("retrieval timeout")
	ErrExtractionFailed = errors.New("extraction failed")
)

// Hard failures surfaced directly to the caller, never retried.
var (
	ErrChainExhausted       = errors.New("fallback chain exhausted")
	ErrConcurrentProcessing = errors.New("conversation already processing a message")
	ErrEmptyMessage         = errors.New("message content empty after sanitization")
	ErrConversationNotFound = errors.New("conversation not found")
)

// InvalidTransitionError reports a state transition absent from the table.
// It indicates a caller or data-integrity bug and is never coerced away.
type InvalidTransitionError struct {
	From models.ConversationState
	To   models.ConversationState
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid conversation transition %s -> %s", e.From, e.To)
}

// IsInvalidTransition reports whether err wraps an InvalidTransitionError.
func IsInvalidTransition(err error) bool {
	var ite *InvalidTransitionError
	return errors.As(err, &ite)
}
