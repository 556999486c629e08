// SPDX-License-Identifier: MPL-2.0

// Package lifecycle provides the state machine shared by execution contexts.
//
// A context moves Created -> Starting -> Running -> Stopping -> Stopped, or
// into Failed from any non-terminal state. Reads are atomic and lock-free;
// transitions use compare-and-swap so concurrent Terminate calls are safe.
package lifecycle
