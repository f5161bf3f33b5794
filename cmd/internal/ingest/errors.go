package ingest

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingDedupKey is returned when a submit carries no client_message_id.
	ErrMissingDedupKey = errors.New("missing client_message_id")

	// ErrInvalidContent is returned for empty or oversized message content.
	ErrInvalidContent = errors.New("invalid message content")

	// ErrConflictRetry is returned by stores for transient write conflicts
	// that are safe to retry.
	ErrConflictRetry = errors.New("transient write conflict")

	// ErrDuplicate is returned by stores when a unique index rejected an insert.
	ErrDuplicate = errors.New("duplicate message")

	// ErrNoMessage is returned by stores when a lookup matches nothing.
	ErrNoMessage = errors.New("message not found")

	// ErrCanceled is returned when generation was canceled before a reply was committed.
	ErrCanceled = errors.New("generation canceled")

	// ErrInternal wraps every other failure.
	ErrInternal = errors.New("ingest internal error")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("ingest: invalid config")
)

// AttemptsError reports that an operation kept conflicting until the attempt
// budget ran out. It matches both ErrInternal and the last cause.
type AttemptsError struct {
	Op       string
	Attempts int
	Last     error
}

func (e *AttemptsError) Error() string {
	return fmt.Sprintf("%s: gave up after %d attempts: %v", e.Op, e.Attempts, e.Last)
}

func (e *AttemptsError) Unwrap() []error { return []error{ErrInternal, e.Last} }

func internal(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrInternal, err)
}
