// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/workerhost/workerhost/internal/config"
)

// newConfigCommand creates the `workerhost config` command tree.
func newConfigCommand(app *App) *cobra.Command {
	cfgCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage workerhost configuration",
		Long: `Manage workerhost configuration.

Configuration is stored in:
  - Linux: ~/.config/workerhost/config.cue
  - macOS: ~/Library/Application Support/workerhost/config.cue
  - Windows: %APPDATA%\workerhost\config.cue

Every key can be overridden with a WORKERHOST_* environment variable,
e.g. WORKERHOST_FETCH_TIMEOUT=5s.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	var format string
	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.Config.Load(cmd.Context(), config.LoadOptions{ConfigFilePath: app.cfgFile})
			if err != nil {
				return app.fail(cmd, err)
			}

			switch format {
			case "cue":
				fmt.Fprint(app.stdout, config.GenerateCUE(cfg))
			case "toml":
				out, err := config.RenderTOML(cfg)
				if err != nil {
					return app.fail(cmd, err)
				}
				fmt.Fprint(app.stdout, out)
			default:
				return app.fail(cmd, fmt.Errorf("unknown format %q (valid: cue, toml)", format))
			}
			return nil
		},
	}
	showCmd.Flags().StringVarP(&format, "format", "f", "cue", "output format (cue or toml)")

	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Create the default configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := config.CreateDefaultConfig(force)
			if err != nil {
				return app.fail(cmd, err)
			}
			fmt.Fprintf(app.stdout, "%s %s\n", SuccessStyle.Render("Configuration written to"), path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	pathCmd := &cobra.Command{
		Use:   "path",
		Short: "Show the configuration file path",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, path, err := config.LoadWithPath(cmd.Context(), config.LoadOptions{ConfigFilePath: app.cfgFile})
			if err != nil {
				return app.fail(cmd, err)
			}
			if path != "" {
				fmt.Fprintln(app.stdout, path)
				return nil
			}

			dir, err := config.ConfigDir()
			if err != nil {
				return app.fail(cmd, err)
			}
			fmt.Fprintln(app.stdout, filepath.Join(dir, config.ConfigFileName+"."+config.ConfigFileExt))
			fmt.Fprintln(app.stderr, SubtitleStyle.Render("(not created yet; run 'workerhost config init')"))
			return nil
		},
	}

	cfgCmd.AddCommand(showCmd, initCmd, pathCmd)
	return cfgCmd
}
