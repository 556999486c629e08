// SPDX-License-Identifier: MPL-2.0

package worker

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"github.com/workerhost/workerhost/internal/lifecycle"
	"github.com/workerhost/workerhost/internal/protocol"
	"github.com/workerhost/workerhost/internal/testutil"
)

const testTimeout = 5 * time.Second

func quietLogger() *log.Logger {
	return log.NewWithOptions(io.Discard, log.Options{})
}

func spawn(t *testing.T, src Source, opts ...Option) *Worker {
	t.Helper()

	opts = append([]Option{WithLogger(quietLogger())}, opts...)
	w, err := Spawn(context.Background(), src, opts...)
	if err != nil {
		t.Fatalf("Spawn failed: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
		defer cancel()
		_ = w.TerminateAndWait(ctx)
		drain(w)
	})
	return w
}

// drain empties the event channels of a finished worker.
func drain(w *Worker) {
	for range w.Messages() {
	}
	for range w.Errors() {
	}
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	t.Cleanup(cancel)
	return ctx
}

func nextMessage(t *testing.T, w *Worker) Message {
	t.Helper()
	select {
	case msg, ok := <-w.Messages():
		if !ok {
			t.Fatal("Messages closed before a message arrived")
		}
		return msg
	case <-time.After(testTimeout):
		t.Fatal("timed out waiting for a message")
	}
	return Message{}
}

func nextError(t *testing.T, w *Worker) ErrorEvent {
	t.Helper()
	select {
	case ev, ok := <-w.Errors():
		if !ok {
			t.Fatal("Errors closed before an event arrived")
		}
		return ev
	case <-time.After(testTimeout):
		t.Fatal("timed out waiting for an error event")
	}
	return ErrorEvent{}
}

func decodeString(t *testing.T, msg Message) string {
	t.Helper()
	var s string
	if err := msg.Decode(&s); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	return s
}

func TestSpawnDoesNotBlock(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	start := time.Now()
	w := spawn(t, ModuleSource(func(*Scope) error {
		<-release
		return nil
	}))
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Spawn took %v while the source was still loading", elapsed)
	}
	if w.State() != lifecycle.StateStarting {
		t.Errorf("State = %s, want starting", w.State())
	}

	close(release)
	if err := w.WaitForReady(testContext(t)); err != nil {
		t.Fatalf("WaitForReady failed: %v", err)
	}
	if w.State() != lifecycle.StateRunning {
		t.Errorf("State = %s, want running", w.State())
	}
}

func TestEvaluateKeepsGlobalState(t *testing.T) {
	t.Parallel()

	w := spawn(t, InlineSource("x=41"))
	ctx := testContext(t)

	got, err := w.Evaluate(ctx, "echo $((x + 1))")
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if got != "42" {
		t.Errorf("Evaluate = %q, want 42", got)
	}

	if _, err := w.Evaluate(ctx, "greet() { echo hi $1; }"); err != nil {
		t.Fatalf("define function failed: %v", err)
	}
	got, err = w.Evaluate(ctx, "greet there")
	if err != nil {
		t.Fatalf("call function failed: %v", err)
	}
	if got != "hi there" {
		t.Errorf("Evaluate = %q, want %q", got, "hi there")
	}
}

func TestEvaluateErrorDoesNotKillWorker(t *testing.T) {
	t.Parallel()

	w := spawn(t, InlineSource(""))
	ctx := testContext(t)

	_, err := w.Evaluate(ctx, "echo oops >&2; false")
	var remote *protocol.RemoteError
	if !errors.As(err, &remote) {
		t.Fatalf("Evaluate = %v, want *protocol.RemoteError", err)
	}
	if !strings.Contains(remote.Report, "oops") {
		t.Errorf("Report = %q, want stderr included", remote.Report)
	}

	if got, err := w.Evaluate(ctx, "echo still here"); err != nil || got != "still here" {
		t.Errorf("Evaluate after error = %q, %v", got, err)
	}
}

func TestAsyncInvoke(t *testing.T) {
	t.Parallel()

	w := spawn(t, ModuleSource(func(s *Scope) error {
		s.Handle("sum", func(_ context.Context, req Request) (any, error) {
			var nums []int
			if err := req.Decode(&nums); err != nil {
				return nil, err
			}
			total := 0
			for _, n := range nums {
				total += n
			}
			return total, nil
		})
		return nil
	}))

	got, err := Invoke[int](testContext(t), w, "sum", []int{1, 2, 3})
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	if got != 6 {
		t.Errorf("sum = %d, want 6", got)
	}

	_, err = w.AsyncInvoke(testContext(t), "missing", nil)
	if !errors.Is(err, protocol.ErrRemote) {
		t.Errorf("AsyncInvoke(missing) = %v, want ErrRemote", err)
	}
}

func TestAsyncInvokePendingDoesNotBlockEvaluate(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	w := spawn(t, ModuleSource(func(s *Scope) error {
		s.Handle("slow", func(ctx context.Context, _ Request) (any, error) {
			select {
			case <-release:
				return "done", nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		})
		return nil
	}))
	ctx := testContext(t)

	result := make(chan string, 1)
	go func() {
		s, err := Invoke[string](ctx, w, "slow", nil)
		if err != nil {
			s = err.Error()
		}
		result <- s
	}()

	if got, err := w.Evaluate(ctx, "echo busy"); err != nil || got != "busy" {
		t.Fatalf("Evaluate while invoke pending = %q, %v", got, err)
	}

	close(release)
	select {
	case s := <-result:
		if s != "done" {
			t.Errorf("Invoke = %q, want done", s)
		}
	case <-ctx.Done():
		t.Fatal("invoke never settled")
	}
}

func TestAsyncInvokeCancel(t *testing.T) {
	t.Parallel()

	cancelled := make(chan struct{})
	w := spawn(t, ModuleSource(func(s *Scope) error {
		s.Handle("wait", func(ctx context.Context, _ Request) (any, error) {
			<-ctx.Done()
			close(cancelled)
			return nil, ctx.Err()
		})
		return nil
	}))
	if err := w.WaitForReady(testContext(t)); err != nil {
		t.Fatalf("WaitForReady failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := w.AsyncInvoke(ctx, "wait", nil)
		errCh <- err
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	if err := <-errCh; !errors.Is(err, context.Canceled) {
		t.Errorf("AsyncInvoke = %v, want context.Canceled", err)
	}
	select {
	case <-cancelled:
	case <-time.After(testTimeout):
		t.Fatal("handler was not cancelled")
	}
}

func TestPostMessageRoundTrip(t *testing.T) {
	t.Parallel()

	w := spawn(t, ModuleSource(func(s *Scope) error {
		s.OnMessage(func(msg Message) {
			var text string
			if err := msg.Decode(&text); err != nil {
				s.ReportError(err)
				return
			}
			_ = s.PostMessage(strings.ToUpper(text), msg.Transfer...)
		})
		return nil
	}))

	for _, text := range []string{"one", "two", "three"} {
		if err := w.PostMessage(text); err != nil {
			t.Fatalf("PostMessage failed: %v", err)
		}
	}
	for _, want := range []string{"ONE", "TWO", "THREE"} {
		if got := decodeString(t, nextMessage(t, w)); got != want {
			t.Errorf("message = %q, want %q", got, want)
		}
	}
}

func TestPostMessageBinding(t *testing.T) {
	t.Parallel()

	w := spawn(t, InlineSource("postMessage hello from sh"))
	if got := decodeString(t, nextMessage(t, w)); got != "hello from sh" {
		t.Errorf("message = %q, want %q", got, "hello from sh")
	}
}

func TestUncaughtErrorsAreForwarded(t *testing.T) {
	t.Parallel()

	w := spawn(t, ModuleSource(func(s *Scope) error {
		s.Go(func(context.Context) error {
			return errors.New("background failure")
		})
		s.OnMessage(func(Message) {
			panic("listener exploded")
		})
		return nil
	}))

	ev := nextError(t, w)
	if ev.Report != "background failure" {
		t.Errorf("Report = %q, want background failure", ev.Report)
	}
	if ev.WorkerID != w.ID() {
		t.Errorf("WorkerID = %q, want %q", ev.WorkerID, w.ID())
	}

	if err := w.PostMessage("boom"); err != nil {
		t.Fatalf("PostMessage failed: %v", err)
	}
	ev = nextError(t, w)
	if !strings.Contains(ev.Report, "listener exploded") {
		t.Errorf("Report = %q, want panic value", ev.Report)
	}

	// Error events do not terminate the worker.
	if got, err := w.Evaluate(testContext(t), "echo alive"); err != nil || got != "alive" {
		t.Errorf("Evaluate after errors = %q, %v", got, err)
	}
	if w.State() != lifecycle.StateRunning {
		t.Errorf("State = %s, want running", w.State())
	}
}

func TestSourceFailureIsForwarded(t *testing.T) {
	t.Parallel()

	w := spawn(t, InlineSource("exit 3"))

	ev := nextError(t, w)
	if !strings.Contains(ev.Report, "exit status 3") {
		t.Errorf("Report = %q, want exit status 3", ev.Report)
	}
	if err := w.WaitForReady(testContext(t)); err != nil {
		t.Errorf("worker should still become ready: %v", err)
	}
}

func TestTerminateAndWaitRunsExitHook(t *testing.T) {
	t.Parallel()

	w := spawn(t, ModuleSource(func(s *Scope) error {
		s.OnExit(func() {
			_ = s.PostMessage("bye")
		})
		return nil
	}))
	if err := w.WaitForReady(testContext(t)); err != nil {
		t.Fatalf("WaitForReady failed: %v", err)
	}

	if err := w.TerminateAndWait(testContext(t)); err != nil {
		t.Fatalf("TerminateAndWait failed: %v", err)
	}
	if w.State() != lifecycle.StateStopped {
		t.Errorf("State = %s, want stopped", w.State())
	}

	var got []string
	for msg := range w.Messages() {
		got = append(got, decodeString(t, msg))
	}
	if len(got) != 1 || got[0] != "bye" {
		t.Errorf("messages = %v, want [bye]", got)
	}

	if _, err := w.Evaluate(testContext(t), "echo late"); !errors.Is(err, protocol.ErrClosed) {
		t.Errorf("Evaluate after terminate = %v, want ErrClosed", err)
	}
}

func TestTerminateAndWaitJoinsInvokeHandlers(t *testing.T) {
	t.Parallel()

	var (
		started  = make(chan struct{})
		finished atomic.Bool
		evalErr  error
	)
	w := spawn(t, ModuleSource(func(s *Scope) error {
		s.Handle("stubborn", func(context.Context, Request) (any, error) {
			close(started)
			time.Sleep(200 * time.Millisecond)
			_, evalErr = s.Eval(context.Background(), "echo still-open")
			finished.Store(true)
			return nil, nil
		})
		return nil
	}))
	ctx := testContext(t)

	go func() { _, _ = w.AsyncInvoke(ctx, "stubborn", nil) }()
	select {
	case <-started:
	case <-ctx.Done():
		t.Fatal("handler did not start")
	}

	if err := w.TerminateAndWait(ctx); err != nil {
		t.Fatalf("TerminateAndWait failed: %v", err)
	}
	if !finished.Load() {
		t.Fatal("worker reported done while a handler was still running")
	}
	if evalErr != nil {
		t.Errorf("Eval from a draining handler = %v, want nil", evalErr)
	}
	if w.State() != lifecycle.StateStopped {
		t.Errorf("State = %s, want stopped", w.State())
	}
}

func TestTerminateIsFireAndForget(t *testing.T) {
	t.Parallel()

	w := spawn(t, InlineSource(""))
	w.Terminate()
	w.Terminate()

	select {
	case <-w.Done():
	case <-time.After(testTimeout):
		t.Fatal("worker did not exit after Terminate")
	}
	if w.State() != lifecycle.StateStopped {
		t.Errorf("State = %s, want stopped", w.State())
	}
}

func TestForceReapAfterGrace(t *testing.T) {
	t.Parallel()

	clock := testutil.NewFakeClock(time.Time{})
	entered := make(chan struct{})
	w := spawn(t, ModuleSource(func(s *Scope) error {
		s.Bind("block", func(ctx context.Context, _ []string) (string, error) {
			close(entered)
			<-ctx.Done()
			return "", ctx.Err()
		})
		return nil
	}), WithShutdownGrace(time.Minute), WithClock(clock))

	go func() {
		_, _ = w.Evaluate(context.Background(), "block")
	}()
	select {
	case <-entered:
	case <-time.After(testTimeout):
		t.Fatal("evaluation never started")
	}

	ctx := testContext(t)
	done := make(chan error, 1)
	go func() { done <- w.TerminateAndWait(ctx) }()

	clock.BlockUntilWaiters(1)
	clock.Advance(time.Minute)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("TerminateAndWait failed: %v", err)
		}
	case <-time.After(testTimeout):
		t.Fatal("worker was not reaped after the grace period")
	}
	if w.State() != lifecycle.StateFailed {
		t.Errorf("State = %s, want failed", w.State())
	}
	if !errors.Is(w.LastError(), ErrReaped) {
		t.Errorf("LastError = %v, want ErrReaped", w.LastError())
	}
}

func TestCloseBindingEndsWorker(t *testing.T) {
	t.Parallel()

	w := spawn(t, ModuleSource(func(s *Scope) error {
		s.OnExit(func() {
			_ = s.PostMessage("exiting")
		})
		return nil
	}))
	ctx := testContext(t)

	if _, err := w.Evaluate(ctx, "close"); err != nil {
		t.Fatalf("Evaluate(close) failed: %v", err)
	}
	select {
	case <-w.Done():
	case <-ctx.Done():
		t.Fatal("worker did not exit after close")
	}
	if w.State() != lifecycle.StateStopped {
		t.Errorf("State = %s, want stopped", w.State())
	}
	if got := decodeString(t, nextMessage(t, w)); got != "exiting" {
		t.Errorf("message = %q, want exiting", got)
	}
}

func TestNestedWorker(t *testing.T) {
	t.Parallel()

	w := spawn(t, ModuleSource(func(s *Scope) error {
		child, err := s.Spawn(InlineSource("y=5"))
		if err != nil {
			return err
		}
		s.Go(func(ctx context.Context) error {
			out, err := child.Evaluate(ctx, "echo $((y * 2))")
			if err != nil {
				return err
			}
			return s.PostMessage(out)
		})
		return nil
	}))

	if got := decodeString(t, nextMessage(t, w)); got != "10" {
		t.Errorf("nested result = %q, want 10", got)
	}
}

func TestFinishedNestedWorkerIsNotReapedAgain(t *testing.T) {
	t.Parallel()

	w := spawn(t, ModuleSource(func(s *Scope) error {
		child, err := s.Spawn(InlineSource("close"))
		if err != nil {
			return err
		}
		s.Go(func(ctx context.Context) error {
			select {
			case <-child.Done():
				return s.PostMessage(child.State().String())
			case <-ctx.Done():
				return ctx.Err()
			}
		})
		return nil
	}))

	if got := decodeString(t, nextMessage(t, w)); got != "stopped" {
		t.Fatalf("nested state = %q, want stopped", got)
	}
	if err := w.TerminateAndWait(testContext(t)); err != nil {
		t.Fatalf("TerminateAndWait failed: %v", err)
	}
	if w.State() != lifecycle.StateStopped {
		t.Errorf("State = %s, want stopped", w.State())
	}
}

func TestURLSourceAndBaseURL(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/app/main.sh":
			_, _ = io.WriteString(w, "name=main")
		case "/app/util.sh":
			_, _ = io.WriteString(w, "helper() { echo from util; }")
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	w := spawn(t, URLSource(srv.URL+"/app/main.sh"))
	ctx := testContext(t)

	if got, err := w.Evaluate(ctx, "echo $name"); err != nil || got != "main" {
		t.Fatalf("Evaluate = %q, %v; want main", got, err)
	}

	// util.sh resolves against the worker's own URL.
	if _, err := w.Evaluate(ctx, `eval "$(fetch util.sh)"`); err != nil {
		t.Fatalf("relative fetch failed: %v", err)
	}
	if got, err := w.Evaluate(ctx, "helper"); err != nil || got != "from util" {
		t.Errorf("helper = %q, %v; want from util", got, err)
	}

	_, err := w.Evaluate(ctx, "fetch missing.sh")
	if err == nil || !strings.Contains(err.Error(), "404") {
		t.Errorf("fetch missing = %v, want 404 failure", err)
	}
}

func TestDataURLSource(t *testing.T) {
	t.Parallel()

	w := spawn(t, URLSource("data:text/plain,greeting=hi"))
	if got, err := w.Evaluate(testContext(t), "echo $greeting"); err != nil || got != "hi" {
		t.Errorf("Evaluate = %q, %v; want hi", got, err)
	}
}

func TestImportScripts(t *testing.T) {
	t.Parallel()

	w := spawn(t, ModuleSource(func(s *Scope) error {
		return s.ImportScripts(s.Context(), "data:,a=1", "data:,b=2")
	}))
	if got, err := w.Evaluate(testContext(t), "echo $a$b"); err != nil || got != "12" {
		t.Errorf("Evaluate = %q, %v; want 12", got, err)
	}
}

func TestHostHandler(t *testing.T) {
	t.Parallel()

	w := spawn(t, ModuleSource(func(s *Scope) error {
		s.Go(func(ctx context.Context) error {
			raw, err := s.Invoke(ctx, "double", 21)
			if err != nil {
				return err
			}
			var n int
			if err := protocol.Decode(raw, &n); err != nil {
				return err
			}
			return s.PostMessage(n)
		})
		return nil
	}), WithHostHandler("double", func(_ context.Context, req Request) (any, error) {
		var n int
		if err := req.Decode(&n); err != nil {
			return nil, err
		}
		return n * 2, nil
	}))

	var got int
	if err := nextMessage(t, w).Decode(&got); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if got != 42 {
		t.Errorf("host handler result = %d, want 42", got)
	}
}

func TestSpawnWithCancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Spawn(ctx, InlineSource(""), WithLogger(quietLogger()))
	if !errors.Is(err, ErrThread) {
		t.Errorf("Spawn = %v, want ErrThread", err)
	}
}

func TestArgsAndVars(t *testing.T) {
	t.Parallel()

	argsSeen := make(chan []string, 1)
	w := spawn(t, ModuleSource(func(s *Scope) error {
		argsSeen <- s.Args()
		return nil
	}), WithArgs("a", "b"), WithVars(map[string]string{"GREETING": "hola"}))

	if got := <-argsSeen; strings.Join(got, ",") != "a,b" {
		t.Errorf("Args = %v, want [a b]", got)
	}
	if got, err := w.Evaluate(testContext(t), "echo $GREETING"); err != nil || got != "hola" {
		t.Errorf("Evaluate = %q, %v; want hola", got, err)
	}
}
