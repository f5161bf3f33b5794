package threads

import "errors"

var (
	// ErrNotFound is returned for a missing thread and for a thread owned by
	// someone else. Callers cannot tell the two apart.
	ErrNotFound = errors.New("thread not found")

	// ErrInvalidTitle is returned when a title is blank after trimming or too long.
	ErrInvalidTitle = errors.New("invalid thread title")
)
