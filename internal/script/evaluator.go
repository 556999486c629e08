// SPDX-License-Identifier: MPL-2.0

package script

import (
	"context"
	"errors"
	"fmt"
)

const (
	// LanguageShell evaluates POSIX shell with mvdan/sh.
	LanguageShell Language = "sh"
	// LanguageCUE evaluates CUE expressions.
	LanguageCUE Language = "cue"
)

var (
	// ErrInvalidLanguage is returned when a Language value is not recognized.
	ErrInvalidLanguage = errors.New("invalid script language")
	// ErrEvaluation is the sentinel wrapped by EvaluationError.
	ErrEvaluation = errors.New("evaluation failed")
	// ErrEvalDisabled is returned by every evaluation in a noeval build.
	ErrEvalDisabled = errors.New("script evaluation is disabled in this build")
)

type (
	// Language names an evaluator backend.
	Language string

	// InvalidLanguageError is returned when a Language value is not recognized.
	// It wraps ErrInvalidLanguage for errors.Is() compatibility.
	InvalidLanguageError struct {
		Value Language
	}

	// EvaluationError carries the string rendering of a failure raised by
	// evaluated code. It never escapes the context as a panic.
	EvaluationError struct {
		// Report is the trace text shown to the requester.
		Report string
		// Cause is the underlying backend error, if any.
		Cause error
	}

	// Binding is a host function callable from evaluated code. Its result is
	// written to the code's standard output.
	Binding func(ctx context.Context, args []string) (string, error)

	// Env is the explicit environment handed to an evaluator at bind time.
	Env struct {
		// Vars are exported into the global state before the first evaluation.
		Vars map[string]string
		// Lookup resolves host bindings by name; nil means no bindings.
		Lookup func(name string) (Binding, bool)
		// Dir is the working directory for backends that touch the filesystem.
		Dir string
		// Args are positional parameters ($1, $2, ...) for backends that have them.
		Args []string
	}

	// Evaluator runs code against one context's global state. Eval must be
	// called from a single goroutine at a time.
	Evaluator interface {
		// Eval runs code and returns an inspectable rendering of its result.
		// Failures are returned as *EvaluationError.
		Eval(ctx context.Context, code string) (string, error)
		// Close releases the evaluator's state.
		Close() error
	}
)

// New creates an evaluator for lang bound to env.
func New(lang Language, env Env) (Evaluator, error) {
	if err := lang.Validate(); err != nil {
		return nil, err
	}
	switch lang {
	case LanguageCUE:
		return newCUE(env)
	default:
		return newShell(env)
	}
}

// Error implements the error interface for InvalidLanguageError.
func (e *InvalidLanguageError) Error() string {
	return fmt.Sprintf("invalid script language %q (valid: sh, cue)", e.Value)
}

// Unwrap returns the sentinel error for errors.Is() compatibility.
func (e *InvalidLanguageError) Unwrap() error {
	return ErrInvalidLanguage
}

// Validate returns nil if the Language is supported.
func (l Language) Validate() error {
	switch l {
	case LanguageShell, LanguageCUE:
		return nil
	default:
		return &InvalidLanguageError{Value: l}
	}
}

// Error implements the error interface for EvaluationError.
func (e *EvaluationError) Error() string {
	return e.Report
}

// Unwrap returns the sentinel error for errors.Is() compatibility.
func (e *EvaluationError) Unwrap() []error {
	if e.Cause != nil {
		return []error{ErrEvaluation, e.Cause}
	}
	return []error{ErrEvaluation}
}
