// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"io"
	"os"

	"github.com/charmbracelet/log"

	"github.com/workerhost/workerhost/internal/config"
	"github.com/workerhost/workerhost/internal/fetch"
	"github.com/workerhost/workerhost/internal/script"
	"github.com/workerhost/workerhost/internal/worker"
)

type (
	// App wires CLI services and shared dependencies. Every Cobra handler
	// receives an App reference.
	App struct {
		Config config.Provider
		stdin  io.Reader
		stdout io.Writer
		stderr io.Writer

		verbose bool
		cfgFile string
	}

	// Dependencies defines the injection points for building an App. Nil fields are
	// replaced with production defaults by NewApp.
	Dependencies struct {
		Config config.Provider
		Stdin  io.Reader
		Stdout io.Writer
		Stderr io.Writer
	}

	// session is the configuration and logging resolved for one command run.
	session struct {
		cfg    *config.Config
		logger *log.Logger
	}
)

// NewApp creates an App, filling unset dependencies with production defaults.
func NewApp(deps Dependencies) *App {
	app := &App{
		Config: deps.Config,
		stdin:  deps.Stdin,
		stdout: deps.Stdout,
		stderr: deps.Stderr,
	}
	if app.Config == nil {
		app.Config = config.NewProvider()
	}
	if app.stdin == nil {
		app.stdin = os.Stdin
	}
	if app.stdout == nil {
		app.stdout = os.Stdout
	}
	if app.stderr == nil {
		app.stderr = os.Stderr
	}
	return app
}

// session loads configuration and builds the root logger. --verbose and
// ui.verbose both lower the log level to debug.
func (a *App) session(ctx context.Context) (*session, error) {
	cfg, err := a.Config.Load(ctx, config.LoadOptions{ConfigFilePath: a.cfgFile})
	if err != nil {
		return nil, err
	}

	level := cfg.Log.Level.Level()
	if a.verbose || cfg.UI.Verbose {
		a.verbose = true
		level = log.DebugLevel
	}

	logger := log.NewWithOptions(a.stderr, log.Options{
		Prefix:          config.AppName,
		Level:           level,
		ReportTimestamp: a.verbose,
	})
	return &session{cfg: cfg, logger: logger}, nil
}

// bridge builds the fetch bridge described by fetch.* settings.
func (s *session) bridge() (*fetch.Bridge, error) {
	base, err := s.cfg.Fetch.ParsedBaseURL()
	if err != nil {
		return nil, err
	}
	return fetch.New(
		fetch.WithChunkSize(s.cfg.Fetch.BufferSize),
		fetch.WithTimeout(s.cfg.Fetch.Timeout),
		fetch.WithMaxHelpers(int64(s.cfg.Fetch.MaxHelpers)),
		fetch.WithBaseURL(base),
		fetch.WithLogger(s.logger.WithPrefix("fetch")),
	), nil
}

// workerOptions translates worker.* and script.* settings. lang overrides
// script.language when set.
func (s *session) workerOptions(lang script.Language) ([]worker.Option, error) {
	if lang == "" {
		lang = s.cfg.Script.Language
	}
	if err := lang.Validate(); err != nil {
		return nil, err
	}

	b, err := s.bridge()
	if err != nil {
		return nil, err
	}

	return []worker.Option{
		worker.WithLanguage(lang),
		worker.WithBridge(b),
		worker.WithBaseURL(b.BaseURL()),
		worker.WithShutdownGrace(s.cfg.Worker.ShutdownGrace),
		worker.WithLockOSThread(s.cfg.Worker.LockOSThread),
		worker.WithQueueHint(s.cfg.Worker.QueueHint),
		worker.WithLogger(s.logger.WithPrefix("worker")),
	}, nil
}

// stop terminates w and waits for its thread, reporting anything other
// than a clean exit.
func stop(ctx context.Context, w *worker.Worker) error {
	if err := w.TerminateAndWait(ctx); err != nil {
		return err
	}
	if err := w.LastError(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
