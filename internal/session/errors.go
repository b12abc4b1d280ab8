package session

import "errors"

var (
	// ErrAlreadyAttached is returned by a second Listener.Attach.
	ErrAlreadyAttached = errors.New("session: listener already attached")

	// ErrClosed is returned when attaching a listener that was closed.
	ErrClosed = errors.New("session: listener closed")

	// ErrNotFound is returned for an unknown session ID.
	ErrNotFound = errors.New("session: not found")
)
