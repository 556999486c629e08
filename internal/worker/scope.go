// SPDX-License-Identifier: MPL-2.0

package worker

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/charmbracelet/log"
	"github.com/fxamacker/cbor/v2"
	"golang.org/x/exp/slices"

	"github.com/workerhost/workerhost/internal/fetch"
	"github.com/workerhost/workerhost/internal/protocol"
	"github.com/workerhost/workerhost/internal/script"
)

type (
	// HandlerFunc serves an asyncInvoke request. It runs on its own
	// goroutine; ctx is cancelled if the requester cancels.
	HandlerFunc func(ctx context.Context, req Request) (any, error)

	// Request is the structured-cloned argument of an asyncInvoke.
	Request struct {
		Name string
		raw  cbor.RawMessage
	}

	// Message is a structured-cloned message and its transferred buffers.
	Message = protocol.Delivery

	// Scope is the child side of an execution context. Its methods are safe
	// to call from the worker's thread and from goroutines started with Go.
	Scope struct {
		id     string
		args   []string
		opts   options
		bridge *fetch.Bridge
		router *protocol.Router
		logger *log.Logger

		evalMu sync.Mutex
		eval   script.Evaluator

		mu        sync.Mutex
		bindings  map[string]script.Binding
		handlers  map[string]HandlerFunc
		listeners []func(Message)
		onExit    []func()
		children  []*Worker

		ctx     context.Context
		stop    context.CancelFunc
		wg      sync.WaitGroup
		closing atomic.Bool
		closeAt atomic.Bool
		exit    sync.Once
	}
)

// Decode unpacks the request into v.
func (r Request) Decode(v any) error {
	return protocol.Decode(r.raw, v)
}

// ID returns the worker id.
func (s *Scope) ID() string {
	return s.id
}

// Args returns the arguments the worker was spawned with.
func (s *Scope) Args() []string {
	return slices.Clone(s.args)
}

// BaseURL returns the URL relative references resolve against, or nil.
func (s *Scope) BaseURL() *url.URL {
	return s.bridge.BaseURL()
}

// Context returns the scope context. It is cancelled when the worker exits.
func (s *Scope) Context() context.Context {
	return s.ctx
}

// Logger returns the worker logger.
func (s *Scope) Logger() *log.Logger {
	return s.logger
}

// Bind exposes fn to evaluated code under name.
func (s *Scope) Bind(name string, fn script.Binding) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bindings[name] = fn
}

// Handle registers the async handler invoked for asyncInvoke requests naming it.
func (s *Scope) Handle(name string, fn HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[name] = fn
}

// OnMessage adds a listener for messages posted by the parent. Listeners
// run on the worker's thread in registration order.
func (s *Scope) OnMessage(fn func(Message)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// OnExit adds a hook run once before the worker exits, both on shutdown
// from the parent and on Close.
func (s *Scope) OnExit(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onExit = append(s.onExit, fn)
}

// PostMessage sends data to the parent as a message event.
func (s *Scope) PostMessage(data any, transfer ...[]byte) error {
	return s.router.PostMessage(data, transfer...)
}

// Invoke calls a host handler registered on the parent with WithHostHandler.
func (s *Scope) Invoke(ctx context.Context, name string, request any) (cbor.RawMessage, error) {
	return s.router.AsyncInvoke(ctx, name, request)
}

// ReportError forwards err to the parent as an error event. The worker
// keeps running.
func (s *Scope) ReportError(err error) {
	if err == nil {
		return
	}
	s.logger.Debug("forwarding error event", "worker", s.id, "error", err)
	if sendErr := s.router.ReportError(err.Error()); sendErr != nil {
		s.logger.Warn("error event not delivered", "worker", s.id, "error", err, "cause", sendErr)
	}
}

// Fetch returns the body of rawURL, resolved against the scope's base URL.
func (s *Scope) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	return s.bridge.Fetch(ctx, rawURL)
}

// Eval runs code in the worker's global state.
func (s *Scope) Eval(ctx context.Context, code string) (string, error) {
	s.evalMu.Lock()
	defer s.evalMu.Unlock()
	return s.eval.Eval(ctx, code)
}

// ImportScripts fetches each URL in order and evaluates it in the worker's
// global state. It stops at the first failure.
func (s *Scope) ImportScripts(ctx context.Context, urls ...string) error {
	for _, raw := range urls {
		code, err := s.Fetch(ctx, raw)
		if err != nil {
			return fmt.Errorf("import %s: %w", raw, err)
		}
		if _, err := s.Eval(ctx, string(code)); err != nil {
			return fmt.Errorf("import %s: %w", raw, err)
		}
	}
	return nil
}

// Spawn starts a nested worker. It inherits this worker's language, bridge
// and base URL unless opts override them. Nested workers are terminated
// when this worker exits.
func (s *Scope) Spawn(src Source, opts ...Option) (*Worker, error) {
	inherited := s.opts.inherit()
	inherited = append(inherited, WithBaseURL(s.BaseURL()))
	w, err := Spawn(s.ctx, src, append(inherited, opts...)...)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.children = append(s.children, w)
	s.mu.Unlock()
	return w, nil
}

// Go runs fn on a new goroutine bound to the scope context. A returned
// error or panic is forwarded to the parent as an error event.
func (s *Scope) Go(fn func(ctx context.Context) error) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.recoverTo("background task")
		if err := fn(s.ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.ReportError(err)
		}
	}()
}

// Close runs the exit hook and ends the worker. Called from evaluated code
// through the close binding, it takes effect once the evaluation returns.
func (s *Scope) Close() {
	if !s.closing.CompareAndSwap(false, true) {
		return
	}
	s.runExit()
	s.stop()
}

func (s *Scope) evaluate(ctx context.Context, code string) (string, error) {
	result, err := s.Eval(ctx, code)
	if s.closeAt.Load() {
		s.Close()
	}
	return result, err
}

func (s *Scope) invoke(ctx context.Context, name string, raw cbor.RawMessage) (any, error) {
	s.mu.Lock()
	fn, ok := s.handlers[name]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w for %q", ErrNoHandler, name)
	}
	return fn(ctx, Request{Name: name, raw: raw})
}

func (s *Scope) deliver(msg Message) {
	s.mu.Lock()
	listeners := slices.Clone(s.listeners)
	s.mu.Unlock()

	for _, fn := range listeners {
		s.safeCall("message listener", func() { fn(msg) })
	}
}

func (s *Scope) runExit() {
	s.exit.Do(func() {
		s.mu.Lock()
		hooks := slices.Clone(s.onExit)
		s.mu.Unlock()

		for _, fn := range hooks {
			s.safeCall("exit hook", fn)
		}
	})
}

func (s *Scope) safeCall(what string, fn func()) {
	defer s.recoverTo(what)
	fn()
}

func (s *Scope) recoverTo(what string) {
	if p := recover(); p != nil {
		s.ReportError(fmt.Errorf("panic in %s: %v\n%s", what, p, debug.Stack()))
	}
}

func (s *Scope) lookupBinding(name string) (script.Binding, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn, ok := s.bindings[name]
	return fn, ok
}

// defaultBindings exposes the scope to evaluated code.
func (s *Scope) defaultBindings() map[string]script.Binding {
	return map[string]script.Binding{
		"postMessage": func(_ context.Context, args []string) (string, error) {
			return "", s.PostMessage(strings.Join(args, " "))
		},
		"fetch": func(ctx context.Context, args []string) (string, error) {
			if len(args) != 1 {
				return "", errors.New("usage: fetch URL")
			}
			body, err := s.Fetch(ctx, args[0])
			return string(body), err
		},
		"close": func(context.Context, []string) (string, error) {
			s.closeAt.Store(true)
			return "", nil
		},
	}
}

// scopeHandler adapts a Scope to protocol.Handler.
type scopeHandler struct {
	s *Scope
}

func (h scopeHandler) Evaluate(ctx context.Context, code string) (string, error) {
	return h.s.evaluate(ctx, code)
}

func (h scopeHandler) Invoke(ctx context.Context, name string, raw cbor.RawMessage) (any, error) {
	return h.s.invoke(ctx, name, raw)
}

func (h scopeHandler) Deliver(d protocol.Delivery) {
	h.s.deliver(d)
}

func (h scopeHandler) Fault(report string) {
	h.s.logger.Warn("unexpected error event from parent", "worker", h.s.id, "report", report)
}

func (h scopeHandler) Shutdown() {
	h.s.closing.Store(true)
	h.s.runExit()
}
