package arbor

import "errors"

// Misuse errors are surfaced synchronously to the caller. Handler failures
// are never returned as errors; they are routed as HandlingError events.
var (
	// ErrAlreadyAttached is returned by Attach when the child already has
	// a parent.
	ErrAlreadyAttached = errors.New("component is already attached")

	// ErrSubtreeStarted is returned by Attach when the child's tree has
	// been started.
	ErrSubtreeStarted = errors.New("cannot attach a started subtree")

	// ErrSelfAttach is returned by Attach when a component is attached to
	// itself.
	ErrSelfAttach = errors.New("cannot attach a component to itself")

	// ErrNoHandler is returned by AddHandler when no handler function is
	// given.
	ErrNoHandler = errors.New("handler function is required")

	// ErrDrainTimeout is returned by Stop when the generator registry did
	// not drain before the configured timeout.
	ErrDrainTimeout = errors.New("generators did not drain before the timeout")
)
