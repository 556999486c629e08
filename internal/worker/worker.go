// SPDX-License-Identifier: MPL-2.0

package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"runtime/debug"
	"time"

	"github.com/charmbracelet/log"
	"github.com/fxamacker/cbor/v2"

	"github.com/workerhost/workerhost/internal/lifecycle"
	"github.com/workerhost/workerhost/internal/protocol"
)

type (
	// ErrorEvent is an uncaught failure forwarded by a worker.
	ErrorEvent struct {
		WorkerID string
		Report   string
	}

	// Worker is the parent's handle on an execution context.
	// A Worker is single-use: once stopped or failed, spawn a new one.
	Worker struct {
		*lifecycle.Base

		id     string
		name   string
		grace  time.Duration
		clock  Clock
		logger *log.Logger
		port   protocol.Port
		router *protocol.Router

		hostHandlers map[string]HandlerFunc
		messages     *relay[Message]
		errors       *relay[ErrorEvent]

		// threadErr is written by the thread goroutine before it calls
		// DoneGoroutine and read by the supervisor after WaitForShutdown.
		threadErr error
	}
)

// Spawn starts an in-process worker running src on its own thread and
// returns without waiting for src to load. Requests issued before the
// worker is ready are queued.
func Spawn(ctx context.Context, src Source, opts ...Option) (*Worker, error) {
	o := newOptions(opts)
	src, base, err := src.resolve(o.base)
	if err != nil {
		return nil, err
	}
	o.base = base

	w := newWorker(o)
	if err := w.TransitionToStarting(ctx); err != nil {
		w.messages.close()
		w.errors.close()
		return nil, &ThreadError{WorkerID: w.id, Op: "spawn", Err: err}
	}

	parentPort, childPort := protocol.Pipe()
	w.connect(parentPort)

	w.AddGoroutine()
	go w.thread(childPort, src, o)

	w.supervise()
	return w, nil
}

// Attach returns a handle on a worker already being served on the other
// end of port, typically in another process. The worker is considered
// running immediately and done when port closes.
func Attach(ctx context.Context, port protocol.Port, opts ...Option) (*Worker, error) {
	o := newOptions(opts)
	w := newWorker(o)
	if err := w.TransitionToStarting(ctx); err != nil {
		w.messages.close()
		w.errors.close()
		return nil, &ThreadError{WorkerID: w.id, Op: "attach", Err: err}
	}

	w.connect(port)
	w.TransitionToRunning()
	w.supervise()
	return w, nil
}

func newWorker(o options) *Worker {
	return &Worker{
		Base:         lifecycle.NewBase(),
		id:           o.id,
		name:         o.name,
		grace:        o.grace,
		clock:        o.clock,
		logger:       o.logger.With("worker", o.id),
		hostHandlers: o.hostHandlers,
		messages:     newRelay[Message](o.queueHint),
		errors:       newRelay[ErrorEvent](o.queueHint),
	}
}

// connect starts the parent-side router pump on port.
func (w *Worker) connect(port protocol.Port) {
	w.port = port
	w.router = protocol.NewRouter(port, hostHandler{w: w}, protocol.WithLogger(w.logger.WithPrefix("router")))

	w.AddGoroutine()
	go func() {
		defer w.DoneGoroutine()
		defer w.router.Wait()
		if err := w.router.Run(w.Context()); err != nil && !errors.Is(err, context.Canceled) {
			w.logger.Error("worker connection failed", "error", err)
			w.emitError(err.Error())
			_ = port.Close()
		}
	}()
}

// thread runs the child side on a dedicated goroutine, locked to an OS
// thread when configured.
func (w *Worker) thread(port protocol.Port, src Source, o options) {
	defer w.DoneGoroutine()
	defer port.Close()

	if o.lockOSThread {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
	}

	defer func() {
		if p := recover(); p != nil {
			w.threadErr = &ThreadError{WorkerID: w.id, Op: "run", Err: fmt.Errorf("panic: %v\n%s", p, debug.Stack())}
		}
	}()

	err := serve(w.Context(), port, src, o, w.TransitionToRunning)
	if err != nil {
		op := "run"
		if errors.Is(err, context.Canceled) {
			op, err = "reap", ErrReaped
		}
		w.threadErr = &ThreadError{WorkerID: w.id, Op: op, Err: err}
	}
}

// supervise joins the worker's goroutines and records the outcome.
func (w *Worker) supervise() {
	go func() {
		w.WaitForShutdown()
		_ = w.port.Close()
		if w.threadErr != nil {
			w.logger.Warn("worker failed", "error", w.threadErr)
			w.emitError(w.threadErr.Error())
		}
		w.messages.close()
		w.errors.close()
		w.Finish(w.threadErr)
		w.logger.Debug("worker joined", "state", w.State())
	}()
}

// ID returns the worker id.
func (w *Worker) ID() string {
	return w.id
}

// Name returns the worker name, or its id when unnamed.
func (w *Worker) Name() string {
	if w.name == "" {
		return w.id
	}
	return w.name
}

// Evaluate runs code in the worker's global state and returns an
// inspectable rendering of the result. A failure raised by the code is
// returned as a *protocol.RemoteError.
func (w *Worker) Evaluate(ctx context.Context, code string) (string, error) {
	return w.router.Evaluate(ctx, code)
}

// AsyncInvoke calls the worker's handler registered under name.
// Cancelling ctx cancels the handler.
func (w *Worker) AsyncInvoke(ctx context.Context, name string, request any) (cbor.RawMessage, error) {
	return w.router.AsyncInvoke(ctx, name, request)
}

// Invoke calls AsyncInvoke on w and decodes the result into T.
func Invoke[T any](ctx context.Context, w *Worker, name string, request any) (T, error) {
	return protocol.Invoke[T](ctx, w.router, name, request)
}

// PostMessage delivers data to the worker's message listeners. Ownership
// of the transfer buffers moves to the worker.
func (w *Worker) PostMessage(data any, transfer ...[]byte) error {
	return w.router.PostMessage(data, transfer...)
}

// Messages returns the messages posted by the worker. The channel is
// closed after the worker is done and every message has been received,
// so it must be drained.
func (w *Worker) Messages() <-chan Message {
	return w.messages.out
}

// Errors returns the error events forwarded by the worker. It is closed
// like Messages.
func (w *Worker) Errors() <-chan ErrorEvent {
	return w.errors.out
}

// Terminate asks the worker to run its exit hook and exit. It does not
// wait; use Done or TerminateAndWait for that.
func (w *Worker) Terminate() {
	if !w.TransitionToStopping() {
		return
	}
	w.logger.Debug("terminating")
	if err := w.router.Shutdown(); err != nil {
		w.logger.Debug("shutdown not delivered", "error", err)
	}
}

// TerminateAndWait terminates the worker and blocks until its thread has
// been joined. If the worker has not exited within the shutdown grace
// period it is force-reaped by cancelling its context.
func (w *Worker) TerminateAndWait(ctx context.Context) error {
	w.Terminate()

	select {
	case <-w.Done():
		return nil
	case <-w.clock.After(w.grace):
		w.logger.Warn("shutdown grace period expired, reaping", "grace", w.grace)
		w.TransitionToFailed(&ThreadError{WorkerID: w.id, Op: "reap", Err: ErrReaped})
		_ = w.port.Close()
	case <-ctx.Done():
		return fmt.Errorf("waiting for worker %s: %w", w.id, ctx.Err())
	}

	select {
	case <-w.Done():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("reaping worker %s: %w", w.id, ctx.Err())
	}
}

func (w *Worker) emitError(report string) {
	w.errors.push(ErrorEvent{WorkerID: w.id, Report: report})
}

// hostHandler serves the parent side of the connection.
type hostHandler struct {
	w *Worker
}

func (h hostHandler) Evaluate(context.Context, string) (string, error) {
	return "", errors.New("the parent context does not accept evaluate requests")
}

func (h hostHandler) Invoke(ctx context.Context, name string, raw cbor.RawMessage) (any, error) {
	fn, ok := h.w.hostHandlers[name]
	if !ok {
		return nil, fmt.Errorf("%w for %q", ErrNoHandler, name)
	}
	return fn(ctx, Request{Name: name, raw: raw})
}

func (h hostHandler) Deliver(d protocol.Delivery) {
	h.w.messages.push(d)
}

func (h hostHandler) Fault(report string) {
	h.w.logger.Warn("worker error", "report", report)
	h.w.emitError(report)
}

func (h hostHandler) Shutdown() {
	h.w.logger.Debug("ignoring shutdown request from worker")
}
