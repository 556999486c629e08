// SPDX-License-Identifier: MPL-2.0

// Package config handles application configuration using Viper with CUE as the file format.
//
// Configuration is loaded from config.cue in the user configuration directory
// ($XDG_CONFIG_HOME/workerhost on Linux, ~/Library/Application Support/workerhost on macOS,
// %APPDATA%\workerhost on Windows) and validated against the embedded config_schema.cue.
// WORKERHOST_* environment variables override file values, e.g. WORKERHOST_FETCH_TIMEOUT=5s.
package config
