// SPDX-License-Identifier: MPL-2.0

package config

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"

	"github.com/workerhost/workerhost/internal/issue"
)

const (
	// AppName is the application name.
	AppName = "workerhost"
	// ConfigFileName is the name of the config file (without extension).
	ConfigFileName = "config"
	// ConfigFileExt is the config file extension.
	ConfigFileExt = "cue"
	// EnvPrefix prefixes environment overrides, e.g. WORKERHOST_FETCH_TIMEOUT.
	EnvPrefix = "WORKERHOST"

	// maxFileSize bounds config.cue before it is handed to the CUE compiler.
	maxFileSize = 1 << 20
)

//go:embed config_schema.cue
var configSchema string

// ConfigDir returns the workerhost configuration directory under the
// platform's user configuration directory.
//
//nolint:revive // ConfigDir is more descriptive than Dir for external callers
func ConfigDir() (string, error) {
	if configDirOverride != "" {
		return configDirOverride, nil
	}

	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to locate user config directory: %w", err)
	}
	return filepath.Join(base, AppName), nil
}

// loadWithOptions performs option-driven config loading without mutating
// package-level state.
func loadWithOptions(ctx context.Context, opts LoadOptions) (*Config, string, error) {
	select {
	case <-ctx.Done():
		return nil, "", fmt.Errorf("load config canceled: %w", ctx.Err())
	default:
	}

	v := viper.New()
	setDefaults(v, DefaultConfig())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	resolvedPath := ""

	if opts.ConfigFilePath != "" {
		if !fileExists(opts.ConfigFilePath) {
			return nil, "", issue.NewErrorContext().
				WithOperation("load configuration").
				WithResource(opts.ConfigFilePath).
				WithSuggestion("Verify the file path is correct").
				WithIssue(issue.ConfigLoadFailedId).
				Wrap(fmt.Errorf("config file not found: %s", opts.ConfigFilePath)).
				BuildError()
		}
		if err := loadCUEIntoViper(v, opts.ConfigFilePath); err != nil {
			return nil, "", loadError(opts.ConfigFilePath, err)
		}
		resolvedPath = opts.ConfigFilePath
	} else {
		cfgDir, err := configDirWithOverride(opts.ConfigDirPath)
		if err != nil {
			return nil, "", err
		}

		cuePath := filepath.Join(cfgDir, ConfigFileName+"."+ConfigFileExt)
		if fileExists(cuePath) {
			if err := loadCUEIntoViper(v, cuePath); err != nil {
				return nil, "", loadError(cuePath, err)
			}
			resolvedPath = cuePath
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, "", fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", issue.NewErrorContext().
			WithOperation("validate configuration").
			WithResource(resolvedPath).
			WithSuggestion("Check WORKERHOST_* environment overrides").
			WithIssue(issue.ConfigLoadFailedId).
			Wrap(err).
			BuildError()
	}

	return &cfg, resolvedPath, nil
}

func loadError(path string, err error) error {
	return issue.NewErrorContext().
		WithOperation("load configuration").
		WithResource(path).
		WithSuggestion("Check that the file contains valid CUE syntax").
		WithSuggestion("Verify the configuration values match the expected schema").
		WithIssue(issue.ConfigLoadFailedId).
		Wrap(err).
		BuildError()
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("fetch.buffer_size", d.Fetch.BufferSize)
	v.SetDefault("fetch.timeout", d.Fetch.Timeout)
	v.SetDefault("fetch.max_helpers", d.Fetch.MaxHelpers)
	v.SetDefault("fetch.base_url", d.Fetch.BaseURL)
	v.SetDefault("worker.shutdown_grace", d.Worker.ShutdownGrace)
	v.SetDefault("worker.lock_os_thread", d.Worker.LockOSThread)
	v.SetDefault("worker.queue_hint", d.Worker.QueueHint)
	v.SetDefault("script.language", string(d.Script.Language))
	v.SetDefault("log.level", string(d.Log.Level))
	v.SetDefault("ui.verbose", d.UI.Verbose)
	v.SetDefault("ui.color_scheme", string(d.UI.ColorScheme))
}

// configDirWithOverride resolves the configuration directory, honoring
// explicit provider options before platform defaults.
func configDirWithOverride(configDirPath string) (string, error) {
	if configDirPath != "" {
		return configDirPath, nil
	}

	return ConfigDir()
}

// loadCUEIntoViper parses a CUE file, validates it against the #Config schema,
// and merges its contents into Viper.
func loadCUEIntoViper(v *viper.Viper, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if len(data) > maxFileSize {
		return fmt.Errorf("%s: file size %d bytes exceeds maximum %d bytes", path, len(data), maxFileSize)
	}

	ctx := cuecontext.New()

	schemaValue := ctx.CompileString(configSchema)
	if schemaValue.Err() != nil {
		return fmt.Errorf("internal error: failed to compile config schema: %w", schemaValue.Err())
	}

	userValue := ctx.CompileBytes(data, cue.Filename(path))
	if userValue.Err() != nil {
		return formatCUEError(userValue.Err(), path)
	}

	// Fields are optional, so only the shape is checked here.
	schema := schemaValue.LookupPath(cue.ParsePath("#Config"))
	unified := schema.Unify(userValue)
	if err := unified.Validate(cue.Concrete(false)); err != nil {
		return formatCUEError(err, path)
	}

	var configMap map[string]any
	if err := unified.Decode(&configMap); err != nil {
		return formatCUEError(err, path)
	}

	if err := v.MergeConfigMap(configMap); err != nil {
		return fmt.Errorf("failed to merge config: %w", err)
	}

	return nil
}

// formatCUEError renders CUE errors as "<file>: <path>: <message>" lines.
func formatCUEError(err error, path string) error {
	list := cueerrors.Errors(err)
	if len(list) == 0 {
		return fmt.Errorf("%s: %w", path, err)
	}

	lines := make([]string, 0, len(list))
	for _, e := range list {
		msg := e.Error()
		if p := strings.Join(cueerrors.Path(e), "."); p != "" && !strings.HasPrefix(msg, p) {
			msg = p + ": " + msg
		}
		lines = append(lines, msg)
	}

	if len(lines) == 1 {
		return fmt.Errorf("%s: %s", path, lines[0])
	}
	return fmt.Errorf("%s: validation failed:\n  %s", path, strings.Join(lines, "\n  "))
}

// fileExists checks if a file exists and is not a directory
func fileExists(path string) bool {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return false
	}
	return err == nil && !info.IsDir()
}

// EnsureConfigDir creates the config directory if it doesn't exist
func EnsureConfigDir() error {
	cfgDir, err := ConfigDir()
	if err != nil {
		return err
	}
	return os.MkdirAll(cfgDir, 0o755)
}

// CreateDefaultConfig writes a default config file and returns its path.
// An existing file is kept unless force is set.
func CreateDefaultConfig(force bool) (string, error) {
	cfgDir, err := ConfigDir()
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(cfgDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}

	cfgPath := filepath.Join(cfgDir, ConfigFileName+"."+ConfigFileExt)

	if _, err := os.Stat(cfgPath); err == nil && !force {
		return cfgPath, nil
	}

	if err := os.WriteFile(cfgPath, []byte(GenerateCUE(DefaultConfig())), 0o644); err != nil {
		return "", fmt.Errorf("failed to write config file: %w", err)
	}

	return cfgPath, nil
}

// GenerateCUE generates a CUE representation of the configuration
func GenerateCUE(cfg *Config) string {
	var sb strings.Builder

	sb.WriteString("// workerhost configuration file\n\n")

	sb.WriteString("fetch: {\n")
	fmt.Fprintf(&sb, "\tbuffer_size: %d\n", cfg.Fetch.BufferSize)
	fmt.Fprintf(&sb, "\ttimeout:     %q\n", cfg.Fetch.Timeout.String())
	fmt.Fprintf(&sb, "\tmax_helpers: %d\n", cfg.Fetch.MaxHelpers)
	if cfg.Fetch.BaseURL != "" {
		fmt.Fprintf(&sb, "\tbase_url:    %q\n", cfg.Fetch.BaseURL)
	}
	sb.WriteString("}\n")

	sb.WriteString("\nworker: {\n")
	fmt.Fprintf(&sb, "\tshutdown_grace: %q\n", cfg.Worker.ShutdownGrace.String())
	fmt.Fprintf(&sb, "\tlock_os_thread: %v\n", cfg.Worker.LockOSThread)
	fmt.Fprintf(&sb, "\tqueue_hint:     %d\n", cfg.Worker.QueueHint)
	sb.WriteString("}\n")

	fmt.Fprintf(&sb, "\nscript: language: %q\n", cfg.Script.Language)
	fmt.Fprintf(&sb, "\nlog: level: %q\n", cfg.Log.Level)

	sb.WriteString("\nui: {\n")
	fmt.Fprintf(&sb, "\tverbose:      %v\n", cfg.UI.Verbose)
	fmt.Fprintf(&sb, "\tcolor_scheme: %q\n", cfg.UI.ColorScheme)
	sb.WriteString("}\n")

	return sb.String()
}

type (
	tomlView struct {
		Fetch  tomlFetch    `toml:"fetch"`
		Worker tomlWorker   `toml:"worker"`
		Script ScriptConfig `toml:"script"`
		Log    LogConfig    `toml:"log"`
		UI     UIConfig     `toml:"ui"`
	}

	tomlFetch struct {
		BufferSize int    `toml:"buffer_size"`
		Timeout    string `toml:"timeout"`
		MaxHelpers int    `toml:"max_helpers"`
		BaseURL    string `toml:"base_url,omitempty"`
	}

	tomlWorker struct {
		ShutdownGrace string `toml:"shutdown_grace"`
		LockOSThread  bool   `toml:"lock_os_thread"`
		QueueHint     int    `toml:"queue_hint"`
	}
)

// RenderTOML renders the configuration as TOML with durations as strings.
func RenderTOML(cfg *Config) (string, error) {
	view := tomlView{
		Fetch: tomlFetch{
			BufferSize: cfg.Fetch.BufferSize,
			Timeout:    cfg.Fetch.Timeout.String(),
			MaxHelpers: cfg.Fetch.MaxHelpers,
			BaseURL:    cfg.Fetch.BaseURL,
		},
		Worker: tomlWorker{
			ShutdownGrace: cfg.Worker.ShutdownGrace.String(),
			LockOSThread:  cfg.Worker.LockOSThread,
			QueueHint:     cfg.Worker.QueueHint,
		},
		Script: cfg.Script,
		Log:    cfg.Log,
		UI:     cfg.UI,
	}

	out, err := toml.Marshal(view)
	if err != nil {
		return "", fmt.Errorf("failed to render TOML: %w", err)
	}
	return string(out), nil
}
