// SPDX-License-Identifier: MPL-2.0

package protocol

import (
	"errors"
	"fmt"
)

var (
	// ErrProtocol is the sentinel wrapped by every protocol violation.
	ErrProtocol = errors.New("protocol violation")
	// ErrInvalidMethod is returned when a Method value is not recognized.
	ErrInvalidMethod = errors.New("invalid method")
	// ErrClosed is returned for requests on a router or port that has shut down.
	ErrClosed = errors.New("router closed")
	// ErrRemote is the sentinel wrapped by RemoteError.
	ErrRemote = errors.New("remote evaluation failed")
)

type (
	// ProtocolError describes a malformed message. It is fatal to the
	// receiving context.
	ProtocolError struct {
		Method Method
		Reason string
	}

	// InvalidMethodError is returned when a Method value is not recognized.
	// It wraps ErrInvalidMethod and ErrProtocol for errors.Is() compatibility.
	InvalidMethodError struct {
		Value Method
	}

	// RemoteError is the string rendering of a failure raised while the peer
	// evaluated or invoked a request.
	RemoteError struct {
		Report string
	}
)

// Error implements the error interface for ProtocolError.
func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol violation in %q message: %s", e.Method, e.Reason)
}

// Unwrap returns the sentinel error for errors.Is() compatibility.
func (e *ProtocolError) Unwrap() error {
	return ErrProtocol
}

// Error implements the error interface for InvalidMethodError.
func (e *InvalidMethodError) Error() string {
	return fmt.Sprintf("invalid method %q (valid: evaluate, asyncInvoke, deliverMessage, shutdown, response, cancel, error)", e.Value)
}

// Unwrap returns the sentinel errors for errors.Is() compatibility.
func (e *InvalidMethodError) Unwrap() []error {
	return []error{ErrInvalidMethod, ErrProtocol}
}

// Error implements the error interface for RemoteError.
func (e *RemoteError) Error() string {
	return e.Report
}

// Unwrap returns the sentinel error for errors.Is() compatibility.
func (e *RemoteError) Unwrap() error {
	return ErrRemote
}
