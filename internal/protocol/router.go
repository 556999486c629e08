// SPDX-License-Identifier: MPL-2.0

package protocol

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime/debug"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
)

type (
	// Handler services the requests a Router receives.
	Handler interface {
		// Evaluate runs code on the Router's goroutine. No other message is
		// dispatched until it returns.
		Evaluate(ctx context.Context, code string) (string, error)
		// Invoke runs the named handler on its own goroutine. ctx is
		// cancelled when the requester cancels or the Router stops.
		Invoke(ctx context.Context, name string, request cbor.RawMessage) (any, error)
		// Deliver raises a message event.
		Deliver(d Delivery)
		// Fault raises an error event forwarded by the peer.
		Fault(report string)
		// Shutdown runs when the peer requests shutdown, before Run returns.
		Shutdown()
	}

	// Delivery is a structured-cloned message and its transferred buffers.
	Delivery struct {
		Data     cbor.RawMessage
		Transfer [][]byte
	}

	// RouterOption configures a Router.
	RouterOption func(*Router)

	// Router multiplexes requests, responses and one-way messages over a Port.
	// The same type serves both ends of a channel.
	Router struct {
		port    Port
		handler Handler
		logger  *log.Logger

		mu       sync.Mutex
		pending  map[string]chan Message
		inflight map[string]context.CancelFunc
		closed   bool

		// invokes tracks handler goroutines started by Run.
		invokes sync.WaitGroup
	}
)

// WithLogger sets the logger used for dropped and faulty messages.
func WithLogger(l *log.Logger) RouterOption {
	return func(r *Router) {
		r.logger = l
	}
}

// NewRouter creates a Router that sends on port and dispatches incoming
// requests to handler. A nil handler rejects all requests.
func NewRouter(port Port, handler Handler, opts ...RouterOption) *Router {
	if handler == nil {
		handler = rejectHandler{}
	}
	r := &Router{
		port:     port,
		handler:  handler,
		pending:  make(map[string]chan Message),
		inflight: make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = log.NewWithOptions(os.Stderr, log.Options{
			Prefix: "router",
			Level:  log.WarnLevel,
		})
	}
	return r
}

// Decode unpacks the delivered message into v.
func (d Delivery) Decode(v any) error {
	return Decode(d.Data, v)
}

// Evaluate asks the peer to run code and returns its rendered result.
// A failure raised by the code is returned as a *RemoteError.
func (r *Router) Evaluate(ctx context.Context, code string) (string, error) {
	payload, err := Encode(code)
	if err != nil {
		return "", err
	}
	resp, err := r.request(ctx, Message{Method: MethodEvaluate, Payload: payload})
	if err != nil {
		return "", err
	}
	var result string
	if err := Decode(resp.Payload, &result); err != nil {
		return "", err
	}
	return result, nil
}

// AsyncInvoke calls the peer's named handler and returns its encoded result.
// Cancelling ctx abandons the request and tells the peer to cancel it.
func (r *Router) AsyncInvoke(ctx context.Context, name string, request any) (cbor.RawMessage, error) {
	payload, err := Encode(request)
	if err != nil {
		return nil, err
	}
	resp, err := r.request(ctx, Message{Method: MethodAsyncInvoke, Name: name, Payload: payload})
	if err != nil {
		return nil, err
	}
	return resp.Payload, nil
}

// Invoke calls AsyncInvoke and decodes the result into T.
func Invoke[T any](ctx context.Context, r *Router, name string, request any) (T, error) {
	var out T
	raw, err := r.AsyncInvoke(ctx, name, request)
	if err != nil {
		return out, err
	}
	err = Decode(raw, &out)
	return out, err
}

// PostMessage sends data to the peer as a message event. Ownership of the
// transfer buffers moves to the peer; the caller must not touch them again.
func (r *Router) PostMessage(data any, transfer ...[]byte) error {
	payload, err := Encode(data)
	if err != nil {
		return err
	}
	return r.send(Message{Method: MethodDeliverMessage, Payload: payload, Transfer: transfer})
}

// ReportError forwards an uncaught failure to the peer as an error event.
func (r *Router) ReportError(report string) error {
	return r.send(Message{Method: MethodError, Error: report})
}

// Shutdown asks the peer to run its exit hook and stop. Requests still
// pending fail with ErrClosed and later responses are dropped.
func (r *Router) Shutdown() error {
	err := r.send(Message{Method: MethodShutdown})
	r.close()
	return err
}

// Run receives and dispatches messages until the peer sends shutdown, the
// port closes, ctx is done, or a protocol violation occurs. Only a protocol
// violation or ctx error is returned.
func (r *Router) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer r.close()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		msg, err := r.port.Recv(ctx)
		if err != nil {
			if errors.Is(err, ErrClosed) || errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		stop, err := r.dispatch(ctx, msg)
		if err != nil {
			r.logger.Error("protocol violation", "method", msg.Method, "error", err)
			return err
		}
		if stop {
			return nil
		}
	}
}

// Wait blocks until every asyncInvoke handler started by Run has
// returned. Call it after Run returns; Run cancels their contexts on exit.
func (r *Router) Wait() {
	r.invokes.Wait()
}

// Pending returns the number of requests awaiting a response.
func (r *Router) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

func (r *Router) dispatch(ctx context.Context, msg Message) (stop bool, err error) {
	if err := msg.Validate(); err != nil {
		return false, err
	}

	switch msg.Method {
	case MethodResponse:
		r.resolve(msg)
	case MethodEvaluate:
		var code string
		if err := Decode(msg.Payload, &code); err != nil {
			return false, &ProtocolError{Method: msg.Method, Reason: err.Error()}
		}
		result, evalErr := r.safeEvaluate(ctx, code)
		r.respond(msg.Key, result, evalErr)
	case MethodAsyncInvoke:
		r.serveInvoke(ctx, msg)
	case MethodCancel:
		r.mu.Lock()
		cancel, ok := r.inflight[msg.Key]
		r.mu.Unlock()
		if ok {
			cancel()
		}
	case MethodDeliverMessage:
		r.handler.Deliver(Delivery{Data: msg.Payload, Transfer: msg.Transfer})
	case MethodError:
		r.handler.Fault(msg.Error)
	case MethodShutdown:
		r.handler.Shutdown()
		return true, nil
	}
	return false, nil
}

func (r *Router) serveInvoke(ctx context.Context, msg Message) {
	ictx, cancel := context.WithCancel(ctx)

	r.mu.Lock()
	r.inflight[msg.Key] = cancel
	r.mu.Unlock()

	r.invokes.Add(1)
	go func() {
		defer r.invokes.Done()
		defer func() {
			r.mu.Lock()
			delete(r.inflight, msg.Key)
			r.mu.Unlock()
			cancel()
		}()

		result, err := r.safeInvoke(ictx, msg.Name, msg.Payload)
		if ictx.Err() != nil && err == nil {
			err = ictx.Err()
		}
		r.respond(msg.Key, result, err)
	}()
}

func (r *Router) safeEvaluate(ctx context.Context, code string) (result string, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v\n%s", p, debug.Stack())
		}
	}()
	return r.handler.Evaluate(ctx, code)
}

func (r *Router) safeInvoke(ctx context.Context, name string, request cbor.RawMessage) (result any, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v\n%s", p, debug.Stack())
		}
	}()
	return r.handler.Invoke(ctx, name, request)
}

func (r *Router) respond(key string, result any, err error) {
	resp := Message{Method: MethodResponse, Key: key}
	if err != nil {
		resp.Failed = true
		resp.Error = err.Error()
	} else {
		payload, encErr := Encode(result)
		if encErr != nil {
			resp.Failed = true
			resp.Error = encErr.Error()
		} else {
			resp.Payload = payload
		}
	}
	if sendErr := r.port.Send(resp); sendErr != nil {
		r.logger.Debug("response not sent", "key", key, "error", sendErr)
	}
}

func (r *Router) request(ctx context.Context, msg Message) (Message, error) {
	key := uuid.NewString()
	ch := make(chan Message, 1)

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return Message{}, ErrClosed
	}
	r.pending[key] = ch
	r.mu.Unlock()

	msg.Key = key
	if err := r.port.Send(msg); err != nil {
		r.forget(key)
		return Message{}, err
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return Message{}, ErrClosed
		}
		if resp.Failed {
			return Message{}, &RemoteError{Report: resp.Error}
		}
		return resp, nil
	case <-ctx.Done():
		r.forget(key)
		if msg.Method == MethodAsyncInvoke {
			_ = r.port.Send(Message{Method: MethodCancel, Key: key})
		}
		return Message{}, ctx.Err()
	}
}

// resolve settles the pending request for msg.Key. Responses for unknown or
// already-settled keys are dropped.
func (r *Router) resolve(msg Message) {
	r.mu.Lock()
	ch, ok := r.pending[msg.Key]
	delete(r.pending, msg.Key)
	r.mu.Unlock()

	if !ok {
		r.logger.Debug("dropping response for unknown key", "key", msg.Key)
		return
	}
	ch <- msg
}

func (r *Router) forget(key string) {
	r.mu.Lock()
	delete(r.pending, key)
	r.mu.Unlock()
}

func (r *Router) send(msg Message) error {
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return ErrClosed
	}
	return r.port.Send(msg)
}

// close fails pending requests and cancels in-flight handlers.
func (r *Router) close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}
	r.closed = true
	for key, ch := range r.pending {
		close(ch)
		delete(r.pending, key)
	}
	for _, cancel := range r.inflight {
		cancel()
	}
}

type rejectHandler struct{}

func (rejectHandler) Evaluate(context.Context, string) (string, error) {
	return "", errors.New("evaluate is not supported by this context")
}

func (rejectHandler) Invoke(_ context.Context, name string, _ cbor.RawMessage) (any, error) {
	return nil, fmt.Errorf("no handler registered for %q", name)
}

func (rejectHandler) Deliver(Delivery) {}

func (rejectHandler) Fault(string) {}

func (rejectHandler) Shutdown() {}
