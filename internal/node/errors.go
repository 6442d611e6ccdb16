package node

import (
	"errors"
	"fmt"
)

// Node lifecycle errors.
var (
	// ErrAlreadyStarted is returned by Start when the node has left the
	// idle state.
	ErrAlreadyStarted = errors.New("node already started")

	// ErrShuttingDown is returned by operations that arrive after a
	// shutdown request.
	ErrShuttingDown = errors.New("node is shutting down")

	// ErrWorkerReleased is returned by Submit after the worker has been
	// released.
	ErrWorkerReleased = errors.New("background worker released")
)

// FatalError is the terminal error delivered to OnSetupFailed when the
// restart budget is exhausted. It carries the total attempt count and the
// last underlying bootstrap or publication error so the operator message
// is actionable.
type FatalError struct {
	// Attempts is the number of consecutive failed attempts, including
	// the final one that broke the budget.
	Attempts int

	// LastErr is the underlying error of the final attempt.
	LastErr error
}

// Error implements the error interface.
func (e *FatalError) Error() string {
	return fmt.Sprintf("network bootstrap failed fatally after %d attempts: %v", e.Attempts, e.LastErr)
}

// Unwrap returns the last underlying error.
func (e *FatalError) Unwrap() error {
	return e.LastErr
}
