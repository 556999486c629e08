// SPDX-License-Identifier: MPL-2.0

// Package script isolates dynamic code evaluation behind the Evaluator
// interface so the rest of the host never assumes arbitrary execution is
// available.
//
// Two backends are provided: "sh" runs POSIX shell through mvdan/sh with one
// persistent interpreter per execution context, and "cue" evaluates CUE
// expressions against an accumulated global value. Building with the
// noeval tag replaces both with an evaluator that always fails with
// ErrEvalDisabled.
package script
