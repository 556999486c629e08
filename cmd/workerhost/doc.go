// SPDX-License-Identifier: MPL-2.0

// Package cmd contains all CLI commands for workerhost.
//
// This package implements the Cobra command hierarchy for the workerhost CLI:
// running worker sources, evaluating code and a REPL against a worker,
// synchronous fetches, configuration management, and the hidden internal
// command that serves an isolated worker over stdio.
package cmd
