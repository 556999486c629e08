// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/workerhost/workerhost/internal/protocol"
	"github.com/workerhost/workerhost/internal/script"
	"github.com/workerhost/workerhost/internal/worker"
)

type (
	runFlags struct {
		lang    string
		name    string
		inline  bool
		isolate bool
		wait    bool
	}

	// procConn joins a child process's stdout and stdin into one stream.
	procConn struct {
		io.Reader
		io.Writer
		closers []io.Closer
	}
)

func newRunCommand(app *App) *cobra.Command {
	var f runFlags

	runCmd := &cobra.Command{
		Use:   "run <source> [args...]",
		Short: "Run a worker from a file, URL or inline code",
		Long: `Run a worker from a file, URL or inline code.

The source is loaded into a fresh worker. Messages the worker posts are
printed on stdout and uncaught errors on stderr. Without --wait the worker
is terminated (running its exit hook) as soon as its source has loaded;
with --wait it runs until it closes itself or workerhost is interrupted.`,
		Example: `  workerhost run ./job.sh
  workerhost run --wait https://example.com/worker.sh arg1
  workerhost run -e 'postMessage hello'
  workerhost run --isolate --lang cue ./schema.cue`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.runWorker(cmd, args[0], args[1:], f)
		},
	}

	runCmd.Flags().StringVarP(&f.lang, "lang", "l", "", "script language (sh or cue; default from config)")
	runCmd.Flags().StringVar(&f.name, "name", "", "worker name used in logs")
	runCmd.Flags().BoolVarP(&f.inline, "inline", "e", false, "treat <source> as code instead of a path or URL")
	runCmd.Flags().BoolVar(&f.isolate, "isolate", false, "run the worker in a child process")
	runCmd.Flags().BoolVarP(&f.wait, "wait", "w", false, "keep running until the worker closes itself")

	return runCmd
}

func (a *App) runWorker(cmd *cobra.Command, source string, args []string, f runFlags) error {
	ctx := cmd.Context()

	sess, err := a.session(ctx)
	if err != nil {
		return a.fail(cmd, err)
	}
	opts, err := sess.workerOptions(script.Language(f.lang))
	if err != nil {
		return a.fail(cmd, actionable("configure worker", f.lang, err))
	}
	id := uuid.NewString()
	opts = append(opts, worker.WithID(id), worker.WithName(f.name), worker.WithArgs(args...))

	var (
		w       *worker.Worker
		reapPid func() error
	)
	if f.isolate {
		w, reapPid, err = a.spawnIsolated(ctx, id, source, args, f, opts)
	} else {
		w, err = worker.Spawn(ctx, sourceFor(source, f.inline), opts...)
	}
	if err != nil {
		return a.fail(cmd, actionable("spawn worker", source, err))
	}
	sess.logger.Debug("worker spawned", "id", id, "source", source, "isolated", f.isolate)

	var g errgroup.Group
	faults := a.pumpEvents(&g, w)

	g.Go(func() error {
		if err := w.WaitForReady(ctx); err == nil && f.wait {
			select {
			case <-w.Done():
			case <-ctx.Done():
			}
		}
		err := stop(context.WithoutCancel(ctx), w)
		if reapPid != nil {
			if perr := reapPid(); perr != nil {
				sess.logger.Debug("worker process exited", "error", perr)
			}
		}
		return err
	})

	if err := g.Wait(); err != nil {
		return a.fail(cmd, actionable("run worker", source, err))
	}
	if n := faults.Load(); n > 0 {
		cmd.SilenceErrors = true
		return &ExitError{Code: 1, Err: fmt.Errorf("worker reported %d uncaught error(s)", n)}
	}
	return nil
}

// spawnIsolated starts "workerhost internal serve-worker" and attaches to
// it over the child's stdio. The returned func reaps the process once the
// worker is done.
func (a *App) spawnIsolated(ctx context.Context, id, source string, args []string, f runFlags, opts []worker.Option) (*worker.Worker, func() error, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, nil, fmt.Errorf("locate workerhost binary: %w", err)
	}

	argv := []string{"internal", "serve-worker", "--id", id}
	if f.lang != "" {
		argv = append(argv, "--lang", f.lang)
	}
	if f.inline {
		argv = append(argv, "--inline")
	}
	if a.cfgFile != "" {
		argv = append(argv, "--config", a.cfgFile)
	}
	if a.verbose {
		argv = append(argv, "--verbose")
	}
	argv = append(argv, "--", source)
	argv = append(argv, args...)

	// The child is stopped through the protocol, not by killing it on ctx.
	proc := exec.Command(exe, argv...)
	proc.Stderr = a.stderr

	stdin, err := proc.StdinPipe()
	if err != nil {
		return nil, nil, err
	}
	stdout, err := proc.StdoutPipe()
	if err != nil {
		return nil, nil, err
	}
	if err := proc.Start(); err != nil {
		return nil, nil, fmt.Errorf("start worker process: %w", err)
	}

	port := protocol.NewStreamPort(&procConn{Reader: stdout, Writer: stdin, closers: []io.Closer{stdin}})
	w, err := worker.Attach(ctx, port, opts...)
	if err != nil {
		_ = port.Close()
		_ = proc.Process.Kill()
		_ = proc.Wait()
		return nil, nil, err
	}
	return w, proc.Wait, nil
}

func (c *procConn) Close() error {
	var errs []error
	for _, cl := range c.closers {
		errs = append(errs, cl.Close())
	}
	return errors.Join(errs...)
}

// sourceFor interprets a command-line source argument.
func sourceFor(arg string, inline bool) worker.Source {
	if inline {
		return worker.InlineSource(arg)
	}
	return worker.URLSource(arg)
}
