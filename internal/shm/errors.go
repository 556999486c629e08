// SPDX-License-Identifier: MPL-2.0

package shm

import (
	"errors"
	"fmt"
)

var (
	// ErrBufferOverflow is the sentinel wrapped by BufferOverflowError.
	ErrBufferOverflow = errors.New("buffer overflow")
	// ErrAlreadySignaled is returned by Signal when the previous frame has not been Reset.
	ErrAlreadySignaled = errors.New("channel already signaled")
	// ErrWaitInProgress is returned when a second Wait starts before the first returned.
	ErrWaitInProgress = errors.New("wait already in progress")
	// ErrWaitTimeout is returned when Wait's deadline expires before a signal arrives.
	ErrWaitTimeout = errors.New("wait timed out")
	// ErrClosed is returned by every operation on a closed channel.
	ErrClosed = errors.New("channel closed")
)

// BufferOverflowError is returned when a payload does not fit in the channel.
// The channel is left untouched and stays usable.
type BufferOverflowError struct {
	Size     int
	Capacity int
}

// Error implements the error interface for BufferOverflowError.
func (e *BufferOverflowError) Error() string {
	return fmt.Sprintf("payload of %d bytes exceeds channel capacity of %d bytes", e.Size, e.Capacity)
}

// Unwrap returns the sentinel error for errors.Is() compatibility.
func (e *BufferOverflowError) Unwrap() error {
	return ErrBufferOverflow
}
