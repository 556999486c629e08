// SPDX-License-Identifier: MPL-2.0

package lifecycle

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidState is returned when a State value is not one of the defined lifecycle states.
var ErrInvalidState = errors.New("invalid state")

type (
	// State is where an execution context is in its life. Stopped and
	// Failed are terminal.
	State int32

	// InvalidStateError is returned when a State value is not recognized.
	// It wraps ErrInvalidState for errors.Is() compatibility.
	InvalidStateError struct {
		Value State
	}
)

const (
	// StateCreated: the handle exists, no thread yet.
	StateCreated State = iota
	// StateStarting: the thread is loading its source.
	StateStarting
	// StateRunning: messages are being serviced.
	StateRunning
	// StateStopping: shutdown was requested and the exit hook runs.
	StateStopping
	// StateStopped: the thread has been joined.
	StateStopped
	// StateFailed: the thread died or was reaped.
	StateFailed
)

// stateNames is indexed by State.
var stateNames = [...]string{"created", "starting", "running", "stopping", "stopped", "failed"}

func (s State) String() string {
	if err := s.Validate(); err != nil {
		return "unknown"
	}
	return stateNames[s]
}

// Validate returns an *InvalidStateError for values outside the lifecycle.
func (s State) Validate() error {
	if s < 0 || int(s) >= len(stateNames) {
		return &InvalidStateError{Value: s}
	}
	return nil
}

// IsTerminal reports whether no further transition is possible.
func (s State) IsTerminal() bool {
	return s == StateStopped || s == StateFailed
}

func (e *InvalidStateError) Error() string {
	valid := make([]string, len(stateNames))
	for i, name := range stateNames {
		valid[i] = fmt.Sprintf("%d=%s", i, name)
	}
	return fmt.Sprintf("invalid state %d (valid: %s)", e.Value, strings.Join(valid, ", "))
}

// Unwrap returns the sentinel error for errors.Is() compatibility.
func (e *InvalidStateError) Unwrap() error {
	return ErrInvalidState
}
