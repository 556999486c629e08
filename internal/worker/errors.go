// SPDX-License-Identifier: MPL-2.0

package worker

import (
	"errors"
	"fmt"
)

var (
	// ErrThread is the sentinel wrapped by ThreadError.
	ErrThread = errors.New("execution context thread failure")
	// ErrReaped is wrapped by the ThreadError recorded when a worker that
	// ignored shutdown is forcibly reaped.
	ErrReaped = errors.New("forcibly reaped after shutdown grace period")
	// ErrNoHandler is returned for asyncInvoke requests naming an
	// unregistered handler.
	ErrNoHandler = errors.New("no async handler registered")
)

// ThreadError reports a spawn, join or reap failure. It is fatal to the
// worker and is also surfaced as an error event.
type ThreadError struct {
	WorkerID string
	Op       string
	Err      error
}

// Error implements the error interface for ThreadError.
func (e *ThreadError) Error() string {
	return fmt.Sprintf("worker %s: %s: %v", e.WorkerID, e.Op, e.Err)
}

// Unwrap returns the sentinel and cause for errors.Is() compatibility.
func (e *ThreadError) Unwrap() []error {
	return []error{ErrThread, e.Err}
}
