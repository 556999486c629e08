// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"io"

	"github.com/spf13/cobra"

	"github.com/workerhost/workerhost/internal/protocol"
	"github.com/workerhost/workerhost/internal/script"
	"github.com/workerhost/workerhost/internal/worker"
)

// stdio is the protocol stream of an isolated worker: requests arrive on
// stdin and responses leave on stdout.
type stdio struct {
	io.Reader
	io.Writer
}

func (s stdio) Close() error {
	if c, ok := s.Writer.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// newInternalCommand creates the hidden command tree used between
// workerhost processes.
func newInternalCommand(app *App) *cobra.Command {
	internalCmd := &cobra.Command{
		Use:    "internal",
		Short:  "Internal commands (not for direct use)",
		Hidden: true,
	}

	var (
		lang   string
		id     string
		inline bool
	)
	serveCmd := &cobra.Command{
		Use:   "serve-worker [flags] -- <source> [args...]",
		Short: "Serve a worker over stdin/stdout",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			sess, err := app.session(ctx)
			if err != nil {
				return app.fail(cmd, err)
			}
			opts, err := sess.workerOptions(script.Language(lang))
			if err != nil {
				return app.fail(cmd, err)
			}
			if id != "" {
				opts = append(opts, worker.WithID(id))
			}
			opts = append(opts, worker.WithArgs(args[1:]...))

			port := protocol.NewStreamPort(stdio{Reader: app.stdin, Writer: app.stdout})
			defer port.Close()

			if err := worker.Serve(ctx, port, sourceFor(args[0], inline), opts...); err != nil {
				return app.fail(cmd, actionable("serve worker", args[0], err))
			}
			return nil
		},
	}
	serveCmd.Flags().StringVar(&lang, "lang", "", "script language")
	serveCmd.Flags().StringVar(&id, "id", "", "worker id assigned by the parent")
	serveCmd.Flags().BoolVar(&inline, "inline", false, "treat <source> as code")

	internalCmd.AddCommand(serveCmd)
	return internalCmd
}
