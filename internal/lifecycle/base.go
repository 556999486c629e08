// SPDX-License-Identifier: MPL-2.0

package lifecycle

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// Base provides the lifecycle fields shared by execution contexts.
// Concrete implementations embed this struct.
//
// A Base is single-use: once stopped or failed, create a new instance.
type Base struct {
	// State management (atomic for lock-free reads)
	state atomic.Int32

	// State transition protection
	stateMu sync.Mutex

	// Lifecycle management
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	startedCh chan struct{}
	doneCh    chan struct{}
	doneOnce  sync.Once
	lastErr   error
}

// NewBase creates a new Base in the Created state.
func NewBase() *Base {
	b := &Base{
		startedCh: make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
	b.state.Store(int32(StateCreated))
	return b
}

// State returns the current state (atomic, lock-free read).
func (b *Base) State() State {
	return State(b.state.Load())
}

// LastError returns the error that caused the Failed state, or nil.
func (b *Base) LastError() error {
	b.stateMu.Lock()
	defer b.stateMu.Unlock()
	return b.lastErr
}

// TransitionToStarting attempts to transition from Created to Starting.
// Returns an error if the current state is not Created or if ctx is
// already cancelled. The internal context is derived from ctx's values
// but not its cancellation, so a spawned context outlives its spawner's
// request scope.
func (b *Base) TransitionToStarting(ctx context.Context) error {
	select {
	case <-ctx.Done():
		b.TransitionToFailed(fmt.Errorf("context cancelled before start: %w", ctx.Err()))
		b.closeDone()
		return b.LastError()
	default:
	}

	if !b.state.CompareAndSwap(int32(StateCreated), int32(StateStarting)) {
		currentState := State(b.state.Load())
		return fmt.Errorf("cannot start in state %s", currentState)
	}

	b.stateMu.Lock()
	b.ctx, b.cancel = context.WithCancel(context.WithoutCancel(ctx))
	b.stateMu.Unlock()

	return nil
}

// TransitionToRunning marks the context as running and closes the
// started channel.
func (b *Base) TransitionToRunning() {
	if b.state.CompareAndSwap(int32(StateStarting), int32(StateRunning)) {
		close(b.startedCh)
	}
}

// TransitionToFailed marks the context as failed with the given error.
func (b *Base) TransitionToFailed(err error) {
	b.stateMu.Lock()
	b.lastErr = err
	cancel := b.cancel
	b.stateMu.Unlock()

	b.state.Store(int32(StateFailed))

	if cancel != nil {
		cancel()
	}
}

// TransitionToStopping attempts to transition to Stopping state.
// Returns true if transition occurred, false if already stopped/stopping.
// The internal context is NOT cancelled here: the exit hook still runs
// on it. TransitionToFailed or Finish cancel it.
func (b *Base) TransitionToStopping() bool {
	for {
		currentState := State(b.state.Load())
		switch currentState {
		case StateStopped, StateFailed, StateStopping:
			return false
		case StateCreated:
			if b.state.CompareAndSwap(int32(StateCreated), int32(StateStopped)) {
				b.closeDone()
				return false
			}
			continue
		case StateStarting, StateRunning:
			if !b.state.CompareAndSwap(int32(currentState), int32(StateStopping)) {
				continue
			}
			return true
		default:
			return false
		}
	}
}

// Finish records that the context's thread has exited and been joined.
// A nil err moves a non-failed context to Stopped; a non-nil err moves it
// to Failed. Done is closed in both cases. Finish is idempotent.
func (b *Base) Finish(err error) {
	if err != nil {
		if b.State() != StateFailed {
			b.TransitionToFailed(err)
		}
	} else if b.State() != StateFailed {
		b.state.Store(int32(StateStopped))
	}

	b.stateMu.Lock()
	cancel := b.cancel
	b.stateMu.Unlock()
	if cancel != nil {
		cancel()
	}
	b.closeDone()
}

func (b *Base) closeDone() {
	b.doneOnce.Do(func() { close(b.doneCh) })
}

// WaitForReady blocks until the context is running or ctx is cancelled.
// Returns nil if running, wrapped ctx.Err() if cancelled, or the last
// error if the context ended before becoming ready.
func (b *Base) WaitForReady(ctx context.Context) error {
	select {
	case <-b.startedCh:
		return nil
	case <-b.doneCh:
		if err := b.LastError(); err != nil {
			return err
		}
		return fmt.Errorf("context %s before becoming ready", b.State())
	case <-ctx.Done():
		return fmt.Errorf("waiting for context ready: %w", ctx.Err())
	}
}

// Done returns a channel that is closed once the thread has been joined.
func (b *Base) Done() <-chan struct{} {
	return b.doneCh
}

// WaitForShutdown blocks until all goroutines tracked by the WaitGroup have completed.
func (b *Base) WaitForShutdown() {
	b.wg.Wait()
}

// Context returns the internal context for use in goroutines.
// Returns nil if the context hasn't started.
func (b *Base) Context() context.Context {
	b.stateMu.Lock()
	defer b.stateMu.Unlock()
	return b.ctx
}

// AddGoroutine increments the WaitGroup counter.
// Must be called before starting a goroutine.
func (b *Base) AddGoroutine() {
	b.wg.Add(1)
}

// DoneGoroutine decrements the WaitGroup counter.
// Must be deferred at the start of each goroutine.
func (b *Base) DoneGoroutine() {
	b.wg.Done()
}
