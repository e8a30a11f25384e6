package vault

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors for the failure classes callers are expected to branch on.
// Wrap them with fmt.Errorf("...: %w", err) so errors.Is keeps working.
var (
	// ErrInvalidLocator means the locator can never resolve to content.
	ErrInvalidLocator = errors.New("invalid locator")

	// ErrUnreachable means the remote platform could not be reached or
	// answered with a transient failure. Retryable.
	ErrUnreachable = errors.New("platform unreachable")

	// ErrUnsupported means the locator resolves but the content cannot be
	// downloaded (private, removed, region locked, no extractor).
	ErrUnsupported = errors.New("unsupported content")

	// ErrConflict means the identity is already recorded in the ledger.
	ErrConflict = errors.New("identity already recorded")

	// ErrNotFound is returned by stores for absent records.
	ErrNotFound = errors.New("not found")

	// ErrStorageFailure means durable storage rejected a write or delete.
	ErrStorageFailure = errors.New("storage failure")

	// ErrIllegalTransition guards the task lifecycle in stores.
	ErrIllegalTransition = errors.New("illegal status transition")
)

// PartialError reports a collection fetch where some entries succeeded and
// some did not. The succeeded entries are still uploaded; the failures are
// carried as a per-item report, never collapsed into a single failure.
type PartialError struct {
	Succeeded int
	Failed    int
}

func (e *PartialError) Error() string {
	return fmt.Sprintf("partial content: %d succeeded, %d failed", e.Succeeded, e.Failed)
}

// IsRetryable reports whether the error class is worth another attempt.
// Only unreachable-style failures qualify; everything else is deterministic.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrUnreachable)
}

// Classify folds an arbitrary error into the stable record kept on a task.
// Context cancellation and deadline expiry count as unreachable so a timed
// out task stays retryable.
func Classify(err error) *TaskError {
	if err == nil {
		return nil
	}
	var partial *PartialError
	switch {
	case errors.As(err, &partial):
		return &TaskError{Kind: ErrKindPartialContent, Message: err.Error(), Retryable: false}
	case errors.Is(err, ErrInvalidLocator):
		return &TaskError{Kind: ErrKindInvalidLocator, Message: err.Error(), Retryable: false}
	case errors.Is(err, ErrUnsupported):
		return &TaskError{Kind: ErrKindUnsupported, Message: err.Error(), Retryable: false}
	case errors.Is(err, ErrConflict):
		return &TaskError{Kind: ErrKindConflict, Message: err.Error(), Retryable: false}
	case errors.Is(err, ErrStorageFailure):
		return &TaskError{Kind: ErrKindStorageFailure, Message: err.Error(), Retryable: false}
	case errors.Is(err, ErrUnreachable),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return &TaskError{Kind: ErrKindUnreachable, Message: err.Error(), Retryable: true}
	default:
		return &TaskError{Kind: ErrKindInternal, Message: err.Error(), Retryable: false}
	}
}
