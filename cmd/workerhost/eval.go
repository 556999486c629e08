// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/workerhost/workerhost/internal/script"
	"github.com/workerhost/workerhost/internal/worker"
)

// sessionFlags are shared by commands that drive a single in-process worker.
type sessionFlags struct {
	lang   string
	source string
}

func (f *sessionFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.lang, "lang", "l", "", "script language (sh or cue; default from config)")
	cmd.Flags().StringVarP(&f.source, "source", "s", "", "file or URL loaded into the worker first")
}

func newEvalCommand(app *App) *cobra.Command {
	var f sessionFlags

	evalCmd := &cobra.Command{
		Use:   "eval <code>...",
		Short: "Evaluate code in a fresh worker",
		Long: `Evaluate code in a fresh worker.

Each argument is evaluated in order in the same worker, so later snippets
see the global state left by earlier ones. Evaluation stops at the first
error.`,
		Example: `  workerhost eval 'x=6' 'echo $((x * 7))'
  workerhost eval --lang cue 'a: 1' 'b: a + 1'`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.withWorker(cmd, f, func(ctx context.Context, w *worker.Worker) error {
				for _, code := range args {
					out, err := w.Evaluate(ctx, code)
					if err != nil {
						return actionable("evaluate code", "", err)
					}
					app.printResult(out)
				}
				return nil
			})
		},
	}
	f.register(evalCmd)

	return evalCmd
}

// withWorker spawns a worker for f, runs fn against it, and stops it.
// Events the worker emits meanwhile are printed.
func (a *App) withWorker(cmd *cobra.Command, f sessionFlags, fn func(context.Context, *worker.Worker) error) error {
	ctx := cmd.Context()

	if !script.Enabled {
		return a.fail(cmd, actionable("start session", "", script.ErrEvalDisabled))
	}

	sess, err := a.session(ctx)
	if err != nil {
		return a.fail(cmd, err)
	}
	opts, err := sess.workerOptions(script.Language(f.lang))
	if err != nil {
		return a.fail(cmd, actionable("configure worker", f.lang, err))
	}

	src := worker.InlineSource("")
	if f.source != "" {
		src = worker.URLSource(f.source)
	}
	w, err := worker.Spawn(ctx, src, opts...)
	if err != nil {
		return a.fail(cmd, actionable("spawn worker", f.source, err))
	}

	var g errgroup.Group
	a.pumpEvents(&g, w)

	runErr := fn(ctx, w)
	stopErr := stop(context.WithoutCancel(ctx), w)
	_ = g.Wait()

	if runErr != nil {
		return a.fail(cmd, runErr)
	}
	if stopErr != nil {
		return a.fail(cmd, actionable("stop worker", w.ID(), stopErr))
	}
	return nil
}

func (a *App) printResult(out string) {
	if out == "" {
		return
	}
	if !strings.HasSuffix(out, "\n") {
		out += "\n"
	}
	fmt.Fprint(a.stdout, out)
}
