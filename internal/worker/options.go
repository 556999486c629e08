// SPDX-License-Identifier: MPL-2.0

package worker

import (
	"maps"
	"net/url"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/workerhost/workerhost/internal/fetch"
	"github.com/workerhost/workerhost/internal/script"
)

const (
	// DefaultShutdownGrace is how long TerminateAndWait waits for the exit
	// hook before force-reaping the worker.
	DefaultShutdownGrace = 5 * time.Second
	// DefaultQueueHint is the buffer size of the event channels.
	DefaultQueueHint = 64
)

type (
	// Option configures a worker.
	Option func(*options)

	// Clock supplies the shutdown grace timer.
	Clock interface {
		After(d time.Duration) <-chan time.Time
	}

	realClock struct{}

	options struct {
		id           string
		name         string
		language     script.Language
		bridge       *fetch.Bridge
		base         *url.URL
		args         []string
		vars         map[string]string
		grace        time.Duration
		lockOSThread bool
		queueHint    int
		logger       *log.Logger
		hostHandlers map[string]HandlerFunc
		clock        Clock
	}
)

func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// WithID sets the worker id. By default a random UUID is used.
func WithID(id string) Option {
	return func(o *options) {
		o.id = id
	}
}

// WithName sets a human-readable name used in logs.
func WithName(name string) Option {
	return func(o *options) {
		o.name = name
	}
}

// WithLanguage selects the evaluator backend.
func WithLanguage(lang script.Language) Option {
	return func(o *options) {
		o.language = lang
	}
}

// WithBridge sets the fetch bridge. The worker rebases it onto its own base URL.
func WithBridge(b *fetch.Bridge) Option {
	return func(o *options) {
		o.bridge = b
	}
}

// WithBaseURL sets the base URL sources and fetches resolve against.
func WithBaseURL(u *url.URL) Option {
	return func(o *options) {
		o.base = u
	}
}

// WithArgs sets the arguments exposed to the worker.
func WithArgs(args ...string) Option {
	return func(o *options) {
		o.args = args
	}
}

// WithVars sets variables exported into the evaluator's global state.
func WithVars(vars map[string]string) Option {
	return func(o *options) {
		o.vars = maps.Clone(vars)
	}
}

// WithShutdownGrace sets how long TerminateAndWait waits before force-reaping.
func WithShutdownGrace(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.grace = d
		}
	}
}

// WithLockOSThread controls whether the worker's goroutine is locked to an OS thread.
func WithLockOSThread(lock bool) Option {
	return func(o *options) {
		o.lockOSThread = lock
	}
}

// WithQueueHint sets the buffer size of the Messages and Errors channels.
func WithQueueHint(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.queueHint = n
		}
	}
}

// WithLogger sets the worker logger.
func WithLogger(l *log.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithHostHandler registers a handler the child can call with Scope.Invoke.
func WithHostHandler(name string, h HandlerFunc) Option {
	return func(o *options) {
		if o.hostHandlers == nil {
			o.hostHandlers = make(map[string]HandlerFunc)
		}
		o.hostHandlers[name] = h
	}
}

// WithClock replaces the clock that times the shutdown grace period.
func WithClock(c Clock) Option {
	return func(o *options) {
		if c != nil {
			o.clock = c
		}
	}
}

func newOptions(opts []Option) options {
	o := options{
		language:     script.LanguageShell,
		grace:        DefaultShutdownGrace,
		lockOSThread: true,
		queueHint:    DefaultQueueHint,
		clock:        realClock{},
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.id == "" {
		o.id = uuid.NewString()
	}
	if o.logger == nil {
		o.logger = log.NewWithOptions(os.Stderr, log.Options{
			Prefix: "worker",
			Level:  log.WarnLevel,
		})
	}
	if o.bridge == nil {
		o.bridge = fetch.New(fetch.WithLogger(o.logger.WithPrefix("fetch")))
	}
	return o
}

// inherit returns the options a nested worker starts from.
func (o options) inherit() []Option {
	return []Option{
		WithLanguage(o.language),
		WithBridge(o.bridge),
		WithBaseURL(o.base),
		WithShutdownGrace(o.grace),
		WithLockOSThread(o.lockOSThread),
		WithQueueHint(o.queueHint),
		WithLogger(o.logger),
		WithClock(o.clock),
	}
}
