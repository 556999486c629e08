// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/workerhost/workerhost/internal/protocol"
	"github.com/workerhost/workerhost/internal/worker"
)

const replPrompt = "› "

func newReplCommand(app *App) *cobra.Command {
	var f sessionFlags

	replCmd := &cobra.Command{
		Use:   "repl",
		Short: "Evaluate lines interactively in one worker",
		Long: `Evaluate lines interactively in one worker.

Every line is sent to the worker as an evaluate request. Results are
printed on stdout and error reports on stderr; the session continues after
an error. End the session with EOF (Ctrl-D) or ".exit".`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return app.withWorker(cmd, f, app.repl)
		},
	}
	f.register(replCmd)

	return replCmd
}

func (a *App) repl(ctx context.Context, w *worker.Worker) error {
	scanner := bufio.NewScanner(a.stdin)
	for {
		fmt.Fprint(a.stderr, PromptStyle.Render(replPrompt))
		if !scanner.Scan() {
			fmt.Fprintln(a.stderr)
			return scanner.Err()
		}

		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case ".exit":
			return nil
		}

		out, err := w.Evaluate(ctx, line)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			fmt.Fprintln(a.stderr, ErrorStyle.Render("Error: ")+errorReport(err))
			continue
		}
		a.printResult(out)
	}
}

// errorReport returns the trace a failure raised inside the worker
// carries, or the error text.
func errorReport(err error) string {
	var remote *protocol.RemoteError
	if errors.As(err, &remote) {
		return remote.Report
	}
	return err.Error()
}
