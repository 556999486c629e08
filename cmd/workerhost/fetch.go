// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newFetchCommand(app *App) *cobra.Command {
	var output string

	fetchCmd := &cobra.Command{
		Use:   "fetch <url>",
		Short: "Fetch a URL synchronously through the shared-buffer bridge",
		Long: `Fetch a URL synchronously through the shared-buffer bridge.

Supports data:, file: and network URLs. Relative references resolve
against fetch.base_url, or the current directory when none is set. The
body is written to stdout unless --output is given.`,
		Example: `  workerhost fetch https://example.com/
  workerhost fetch 'data:text/plain;base64,aGVsbG8='
  workerhost fetch -o page.html https://example.com/`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			sess, err := app.session(ctx)
			if err != nil {
				return app.fail(cmd, err)
			}
			bridge, err := sess.bridge()
			if err != nil {
				return app.fail(cmd, actionable("configure fetch bridge", "", err))
			}

			body, err := bridge.Fetch(ctx, args[0])
			if err != nil {
				return app.fail(cmd, actionable("fetch", args[0], err))
			}

			if output != "" {
				if err := os.WriteFile(output, body, 0o644); err != nil {
					return app.fail(cmd, actionable("write", output, err))
				}
				sess.logger.Info("fetched", "url", args[0], "bytes", len(body), "output", output)
				return nil
			}
			if _, err := app.stdout.Write(body); err != nil {
				return fmt.Errorf("write body: %w", err)
			}
			return nil
		},
	}
	fetchCmd.Flags().StringVarP(&output, "output", "o", "", "write the body to a file")

	return fetchCmd
}
