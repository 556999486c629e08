// SPDX-License-Identifier: MPL-2.0

package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/charmbracelet/log"

	"github.com/workerhost/workerhost/internal/fetch"
	"github.com/workerhost/workerhost/internal/script"
	"github.com/workerhost/workerhost/internal/worker"
)

const (
	// ColorSchemeAuto detects the terminal color scheme automatically.
	ColorSchemeAuto ColorScheme = "auto"
	// ColorSchemeDark forces dark color scheme.
	ColorSchemeDark ColorScheme = "dark"
	// ColorSchemeLight forces light color scheme.
	ColorSchemeLight ColorScheme = "light"

	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

var (
	// ErrInvalidColorScheme is returned when a ColorScheme value is not recognized.
	ErrInvalidColorScheme = errors.New("invalid color scheme")
	// ErrInvalidLogLevel is returned when a LogLevel value is not recognized.
	ErrInvalidLogLevel = errors.New("invalid log level")
	// ErrInvalidFetchConfig is the sentinel error wrapped by InvalidFetchConfigError.
	ErrInvalidFetchConfig = errors.New("invalid fetch config")
	// ErrInvalidWorkerConfig is the sentinel error wrapped by InvalidWorkerConfigError.
	ErrInvalidWorkerConfig = errors.New("invalid worker config")
	// ErrInvalidConfig is the sentinel error wrapped by InvalidConfigError.
	ErrInvalidConfig = errors.New("invalid config")
)

type (
	// ColorScheme specifies the terminal color scheme preference.
	ColorScheme string

	// InvalidColorSchemeError is returned when a ColorScheme value is not recognized.
	// It wraps ErrInvalidColorScheme for errors.Is() compatibility.
	InvalidColorSchemeError struct {
		Value ColorScheme
	}

	// LogLevel is the minimum level written by component loggers.
	LogLevel string

	// InvalidLogLevelError is returned when a LogLevel value is not recognized.
	InvalidLogLevelError struct {
		Value LogLevel
	}

	// InvalidFetchConfigError collects the field errors of a FetchConfig.
	InvalidFetchConfigError struct {
		FieldErrors []error
	}

	// InvalidWorkerConfigError collects the field errors of a WorkerConfig.
	InvalidWorkerConfigError struct {
		FieldErrors []error
	}

	// InvalidConfigError collects the field errors of a Config.
	InvalidConfigError struct {
		FieldErrors []error
	}

	// Config holds the application configuration.
	Config struct {
		// Fetch configures the synchronous fetch bridge
		Fetch FetchConfig `json:"fetch" mapstructure:"fetch"`
		// Worker configures execution contexts
		Worker WorkerConfig `json:"worker" mapstructure:"worker"`
		// Script selects the evaluator backend
		Script ScriptConfig `json:"script" mapstructure:"script"`
		// Log configures component loggers
		Log LogConfig `json:"log" mapstructure:"log"`
		// UI configures the user interface
		UI UIConfig `json:"ui" mapstructure:"ui"`
	}

	// FetchConfig configures the synchronous fetch bridge.
	FetchConfig struct {
		// BufferSize is the shared buffer capacity, i.e. the largest chunk moved per rendezvous.
		BufferSize int `json:"buffer_size" mapstructure:"buffer_size"`
		// Timeout bounds each wait on a helper.
		Timeout time.Duration `json:"timeout" mapstructure:"timeout"`
		// MaxHelpers limits concurrent network helpers.
		MaxHelpers int `json:"max_helpers" mapstructure:"max_helpers"`
		// BaseURL resolves relative URLs for top-level workers.
		BaseURL string `json:"base_url" mapstructure:"base_url"`
	}

	// WorkerConfig configures execution contexts.
	WorkerConfig struct {
		// ShutdownGrace is how long TerminateAndWait waits before reaping a thread.
		ShutdownGrace time.Duration `json:"shutdown_grace" mapstructure:"shutdown_grace"`
		// LockOSThread pins each worker thread to an OS thread.
		LockOSThread bool `json:"lock_os_thread" mapstructure:"lock_os_thread"`
		// QueueHint pre-sizes the event relays.
		QueueHint int `json:"queue_hint" mapstructure:"queue_hint"`
	}

	// ScriptConfig selects the evaluator backend.
	ScriptConfig struct {
		Language script.Language `json:"language" mapstructure:"language" toml:"language"`
	}

	// LogConfig configures component loggers.
	LogConfig struct {
		Level LogLevel `json:"level" mapstructure:"level" toml:"level"`
	}

	// UIConfig configures the user interface.
	UIConfig struct {
		// Verbose enables verbose output
		Verbose bool `json:"verbose" mapstructure:"verbose" toml:"verbose"`
		// ColorScheme sets the color scheme
		ColorScheme ColorScheme `json:"color_scheme" mapstructure:"color_scheme" toml:"color_scheme"`
	}
)

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Fetch: FetchConfig{
			BufferSize: fetch.DefaultChunkSize,
			Timeout:    fetch.DefaultTimeout,
			MaxHelpers: fetch.DefaultMaxHelpers,
		},
		Worker: WorkerConfig{
			ShutdownGrace: worker.DefaultShutdownGrace,
			LockOSThread:  true,
			QueueHint:     worker.DefaultQueueHint,
		},
		Script: ScriptConfig{Language: script.LanguageShell},
		Log:    LogConfig{Level: LogLevelWarn},
		UI:     UIConfig{ColorScheme: ColorSchemeAuto},
	}
}

// Validate returns an *InvalidConfigError collecting every invalid field.
func (c Config) Validate() error {
	var errs []error
	if err := c.Fetch.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := c.Worker.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := c.Script.Language.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := c.Log.Level.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := c.UI.ColorScheme.Validate(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return &InvalidConfigError{FieldErrors: errs}
	}
	return nil
}

// Validate checks sizes, durations and the base URL.
func (c FetchConfig) Validate() error {
	var errs []error
	if c.BufferSize <= 0 {
		errs = append(errs, fmt.Errorf("buffer_size must be positive, got %d", c.BufferSize))
	}
	if c.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("timeout must be positive, got %s", c.Timeout))
	}
	if c.MaxHelpers <= 0 {
		errs = append(errs, fmt.Errorf("max_helpers must be positive, got %d", c.MaxHelpers))
	}
	if _, err := c.ParsedBaseURL(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return &InvalidFetchConfigError{FieldErrors: errs}
	}
	return nil
}

// ParsedBaseURL returns the base URL, or nil when none is configured.
// The base must be absolute.
func (c FetchConfig) ParsedBaseURL() (*url.URL, error) {
	if c.BaseURL == "" {
		return nil, nil
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("base_url: %w", err)
	}
	if !u.IsAbs() {
		return nil, fmt.Errorf("base_url %q is not absolute", c.BaseURL)
	}
	return u, nil
}

// Validate checks that durations and sizes are in range.
func (c WorkerConfig) Validate() error {
	var errs []error
	if c.ShutdownGrace < 0 {
		errs = append(errs, fmt.Errorf("shutdown_grace must not be negative, got %s", c.ShutdownGrace))
	}
	if c.QueueHint < 0 {
		errs = append(errs, fmt.Errorf("queue_hint must not be negative, got %d", c.QueueHint))
	}
	if len(errs) > 0 {
		return &InvalidWorkerConfigError{FieldErrors: errs}
	}
	return nil
}

// Error implements the error interface for InvalidFetchConfigError.
func (e *InvalidFetchConfigError) Error() string {
	return fmt.Sprintf("invalid fetch config: %s", errors.Join(e.FieldErrors...))
}

// Unwrap returns ErrInvalidFetchConfig for errors.Is() compatibility.
func (e *InvalidFetchConfigError) Unwrap() error { return ErrInvalidFetchConfig }

// Error implements the error interface for InvalidWorkerConfigError.
func (e *InvalidWorkerConfigError) Error() string {
	return fmt.Sprintf("invalid worker config: %s", errors.Join(e.FieldErrors...))
}

// Unwrap returns ErrInvalidWorkerConfig for errors.Is() compatibility.
func (e *InvalidWorkerConfigError) Unwrap() error { return ErrInvalidWorkerConfig }

// Error implements the error interface for InvalidConfigError.
func (e *InvalidConfigError) Error() string {
	return fmt.Sprintf("invalid config: %d field error(s)", len(e.FieldErrors))
}

// Unwrap returns ErrInvalidConfig and the field errors for errors.Is() compatibility.
func (e *InvalidConfigError) Unwrap() []error {
	return append([]error{ErrInvalidConfig}, e.FieldErrors...)
}

// Error implements the error interface for InvalidColorSchemeError.
func (e *InvalidColorSchemeError) Error() string {
	return fmt.Sprintf("invalid color scheme %q (valid: auto, dark, light)", e.Value)
}

// Unwrap returns ErrInvalidColorScheme for errors.Is() compatibility.
func (e *InvalidColorSchemeError) Unwrap() error { return ErrInvalidColorScheme }

func (cs ColorScheme) String() string { return string(cs) }

// Validate returns nil if the ColorScheme is one of the defined schemes.
func (cs ColorScheme) Validate() error {
	switch cs {
	case ColorSchemeAuto, ColorSchemeDark, ColorSchemeLight:
		return nil
	default:
		return &InvalidColorSchemeError{Value: cs}
	}
}

// Error implements the error interface for InvalidLogLevelError.
func (e *InvalidLogLevelError) Error() string {
	return fmt.Sprintf("invalid log level %q (valid: debug, info, warn, error)", e.Value)
}

// Unwrap returns ErrInvalidLogLevel for errors.Is() compatibility.
func (e *InvalidLogLevelError) Unwrap() error { return ErrInvalidLogLevel }

func (l LogLevel) String() string { return string(l) }

// Validate returns nil if the LogLevel is one of the defined levels.
func (l LogLevel) Validate() error {
	switch l {
	case LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError:
		return nil
	default:
		return &InvalidLogLevelError{Value: l}
	}
}

// Level converts l to a charm log level, defaulting to warn.
func (l LogLevel) Level() log.Level {
	lvl, err := log.ParseLevel(string(l))
	if err != nil {
		return log.WarnLevel
	}
	return lvl
}
