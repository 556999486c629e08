// SPDX-License-Identifier: MPL-2.0

package shm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"unsafe"
)

// HeaderSize is the number of bytes in front of the payload body.
const HeaderSize = 12

const (
	offState  = 0
	offStatus = 4
	offLength = 8
)

const (
	stateUnset uint32 = iota
	stateSet
	stateMore
)

type (
	// Frame is what a waiter receives: the signaller's status and payload.
	// More is true when the signaller sent a partial chunk with SignalMore.
	Frame struct {
		Status  int
		Payload []byte
		More    bool
	}

	// Channel is a two-party rendezvous over a fixed-capacity shared region.
	//
	// ready is open while the state word is unset and is closed by Signal;
	// drained is open while the state word is set and is closed by Reset.
	// Swapping them under mu means a waiter that loaded ready before the
	// signal still observes its close, so no wakeup can be lost.
	Channel struct {
		region   []byte
		release  func([]byte) error
		capacity int

		mu      sync.Mutex
		ready   chan struct{}
		drained chan struct{}
		closed  bool

		waiting atomic.Bool
	}
)

// New allocates a zero-initialized channel whose body holds capacity bytes.
func New(capacity int) (*Channel, error) {
	if capacity < 0 || capacity > math.MaxUint32-HeaderSize {
		return nil, fmt.Errorf("invalid channel capacity %d", capacity)
	}

	region, release, err := allocRegion(HeaderSize + capacity)
	if err != nil {
		return nil, err
	}

	drained := make(chan struct{})
	close(drained)

	return &Channel{
		region:   region,
		release:  release,
		capacity: capacity,
		ready:    make(chan struct{}),
		drained:  drained,
	}, nil
}

// Capacity returns the maximum payload size in bytes.
func (c *Channel) Capacity() int {
	return c.capacity
}

// Signal copies payload into the region, records status and length, then
// marks the state word set and wakes the waiter. An empty payload is valid.
func (c *Channel) Signal(status int, payload []byte) error {
	return c.signal(status, payload, stateSet)
}

// SignalMore is Signal for a partial chunk: the waiter sees Frame.More and
// is expected to Reset and wait again for the next chunk.
func (c *Channel) SignalMore(status int, payload []byte) error {
	return c.signal(status, payload, stateMore)
}

func (c *Channel) signal(status int, payload []byte, state uint32) error {
	if len(payload) > c.capacity {
		return &BufferOverflowError{Size: len(payload), Capacity: c.capacity}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if atomic.LoadUint32(c.word(offState)) != stateUnset {
		return ErrAlreadySignaled
	}

	copy(c.region[HeaderSize:], payload)
	atomic.StoreUint32(c.word(offStatus), uint32(int32(status)))
	atomic.StoreUint32(c.word(offLength), uint32(len(payload)))
	atomic.StoreUint32(c.word(offState), state)

	c.drained = make(chan struct{})
	close(c.ready)
	return nil
}

// Wait parks the calling goroutine until the state word is set, then
// returns a copy of the frame. Only one Wait may be outstanding at a time.
// A ctx deadline yields an error wrapping ErrWaitTimeout.
func (c *Channel) Wait(ctx context.Context) (Frame, error) {
	if !c.waiting.CompareAndSwap(false, true) {
		return Frame{}, ErrWaitInProgress
	}
	defer c.waiting.Store(false)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return Frame{}, ErrClosed
	}
	ready := c.ready
	c.mu.Unlock()

	select {
	case <-ready:
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Frame{}, fmt.Errorf("%w: %w", ErrWaitTimeout, ctx.Err())
		}
		return Frame{}, fmt.Errorf("waiting for signal: %w", ctx.Err())
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return Frame{}, ErrClosed
	}

	state := atomic.LoadUint32(c.word(offState))
	length := int(atomic.LoadUint32(c.word(offLength)))
	payload := make([]byte, length)
	copy(payload, c.region[HeaderSize:HeaderSize+length])

	return Frame{
		Status:  int(int32(atomic.LoadUint32(c.word(offStatus)))),
		Payload: payload,
		More:    state == stateMore,
	}, nil
}

// WaitDrained blocks the signaller until the consumer has called Reset on
// the current frame. It returns immediately when nothing is pending.
func (c *Channel) WaitDrained(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	drained := c.drained
	c.mu.Unlock()

	select {
	case <-drained:
	case <-ctx.Done():
		return fmt.Errorf("waiting for drain: %w", ctx.Err())
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	return nil
}

// Reset clears the header so the channel can carry another frame.
// It must be called between consecutive signals.
func (c *Channel) Reset() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if atomic.LoadUint32(c.word(offState)) == stateUnset {
		return nil
	}

	atomic.StoreUint32(c.word(offStatus), 0)
	atomic.StoreUint32(c.word(offLength), 0)
	atomic.StoreUint32(c.word(offState), stateUnset)

	c.ready = make(chan struct{})
	close(c.drained)
	return nil
}

// Close wakes any parked party with ErrClosed and releases the region.
func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	if atomic.LoadUint32(c.word(offState)) == stateUnset {
		close(c.ready)
	} else {
		close(c.drained)
	}

	region := c.region
	c.region = nil
	return c.release(region)
}

// word returns the header word at off. The region is page-aligned (or
// heap-aligned) so every header offset is 4-byte aligned.
func (c *Channel) word(off int) *uint32 {
	return (*uint32)(unsafe.Pointer(&c.region[off]))
}
