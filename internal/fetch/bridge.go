// SPDX-License-Identifier: MPL-2.0

package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/semaphore"

	"github.com/workerhost/workerhost/internal/shm"
)

const (
	// DefaultChunkSize is the capacity of the shared channel used per request.
	DefaultChunkSize = 5 << 20
	// DefaultTimeout bounds each wait for a chunk from the helper.
	DefaultTimeout = 30 * time.Second
	// DefaultMaxHelpers bounds concurrent network helpers per Bridge.
	DefaultMaxHelpers = 4

	// statusTransportError is signalled when no HTTP response was obtained.
	statusTransportError = 0
)

type (
	// Option configures a Bridge.
	Option func(*Bridge)

	// Bridge performs blocking fetches for an execution context.
	// It is safe for concurrent use.
	Bridge struct {
		client    *http.Client
		chunkSize int
		timeout   time.Duration
		base      *url.URL
		helpers   *semaphore.Weighted
		logger    *log.Logger
	}
)

// WithHTTPClient sets the client used by network helpers.
func WithHTTPClient(c *http.Client) Option {
	return func(b *Bridge) {
		b.client = c
	}
}

// WithChunkSize sets the shared channel capacity. Non-positive values keep the default.
func WithChunkSize(n int) Option {
	return func(b *Bridge) {
		if n > 0 {
			b.chunkSize = n
		}
	}
}

// WithTimeout bounds each wait for the helper. Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(b *Bridge) {
		b.timeout = d
	}
}

// WithBaseURL sets the URL relative references resolve against.
func WithBaseURL(u *url.URL) Option {
	return func(b *Bridge) {
		b.base = u
	}
}

// WithMaxHelpers bounds how many network helpers run at once.
func WithMaxHelpers(n int64) Option {
	return func(b *Bridge) {
		if n > 0 {
			b.helpers = semaphore.NewWeighted(n)
		}
	}
}

// WithLogger sets the bridge logger.
func WithLogger(l *log.Logger) Option {
	return func(b *Bridge) {
		b.logger = l
	}
}

// New creates a Bridge.
func New(opts ...Option) *Bridge {
	b := &Bridge{
		client:    http.DefaultClient,
		chunkSize: DefaultChunkSize,
		timeout:   DefaultTimeout,
		helpers:   semaphore.NewWeighted(DefaultMaxHelpers),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.logger == nil {
		b.logger = log.NewWithOptions(os.Stderr, log.Options{
			Prefix: "fetch",
			Level:  log.WarnLevel,
		})
	}
	return b
}

// Rebase returns a Bridge that shares b's client and helper pool but
// resolves relative references against base.
func (b *Bridge) Rebase(base *url.URL) *Bridge {
	nb := *b
	nb.base = base
	return &nb
}

// BaseURL returns the URL relative references resolve against, or nil.
func (b *Bridge) BaseURL() *url.URL {
	return b.base
}

// Fetch returns the body of rawURL. It blocks the calling goroutine until
// the body is available. Non-2xx responses fail with *FetchError.
func (b *Bridge) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	u, err := Resolve(rawURL, b.base)
	if err != nil {
		return nil, err
	}

	switch u.Scheme {
	case "data":
		return decodeDataURL(u.String())
	case "file":
		return readFile(u)
	default:
		return b.fetchNetwork(ctx, u)
	}
}

func (b *Bridge) fetchNetwork(ctx context.Context, u *url.URL) ([]byte, error) {
	target := u.String()
	b.logger.Debug("fetching", "url", target)

	ch, err := shm.New(b.chunkSize)
	if err != nil {
		return nil, fmt.Errorf("allocate channel: %w", err)
	}
	defer ch.Close()

	if err := b.helpers.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("fetch %s: %w", target, err)
	}

	hctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		defer b.helpers.Release(1)
		b.helper(hctx, ch, target)
	}()

	var (
		body   bytes.Buffer
		status int
	)
	for {
		frame, err := b.wait(ctx, ch)
		if err != nil {
			return nil, fmt.Errorf("fetch %s: %w", target, err)
		}
		status = frame.Status
		body.Write(frame.Payload)
		if err := ch.Reset(); err != nil {
			return nil, fmt.Errorf("fetch %s: %w", target, err)
		}
		if !frame.More {
			break
		}
	}

	if status < 200 || status >= 300 {
		return nil, &FetchError{URL: target, Status: status, Body: body.Bytes()}
	}
	return body.Bytes(), nil
}

func (b *Bridge) wait(ctx context.Context, ch *shm.Channel) (shm.Frame, error) {
	if b.timeout <= 0 {
		return ch.Wait(ctx)
	}
	wctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	return ch.Wait(wctx)
}

// helper performs the request and streams the body through ch. It always
// ends with exactly one final Signal unless the channel is closed first.
func (b *Bridge) helper(ctx context.Context, ch *shm.Channel, target string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		b.fail(ch, err)
		return
	}
	resp, err := b.client.Do(req)
	if err != nil {
		b.fail(ch, err)
		return
	}
	defer resp.Body.Close()

	buf := make([]byte, ch.Capacity())
	for {
		n, err := io.ReadFull(resp.Body, buf)
		switch {
		case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
			if err := ch.Signal(resp.StatusCode, buf[:n]); err != nil {
				b.logger.Debug("final chunk not delivered", "url", target, "error", err)
			}
			return
		case err != nil:
			b.fail(ch, err)
			return
		}

		if err := ch.SignalMore(resp.StatusCode, buf[:n]); err != nil {
			return
		}
		if err := ch.WaitDrained(ctx); err != nil {
			return
		}
	}
}

func (b *Bridge) fail(ch *shm.Channel, cause error) {
	b.logger.Debug("helper failed", "error", cause)
	msg := []byte(cause.Error())
	if len(msg) > ch.Capacity() {
		msg = msg[:ch.Capacity()]
	}
	_ = ch.Signal(statusTransportError, msg)
}
