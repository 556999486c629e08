// SPDX-License-Identifier: MPL-2.0

//go:build noeval

package script

import "context"

// Enabled reports whether this build can evaluate code.
const Enabled = false

type disabledEvaluator struct{}

func newShell(Env) (Evaluator, error) { return disabledEvaluator{}, nil }

func newCUE(Env) (Evaluator, error) { return disabledEvaluator{}, nil }

func (disabledEvaluator) Eval(context.Context, string) (string, error) {
	return "", &EvaluationError{Report: ErrEvalDisabled.Error(), Cause: ErrEvalDisabled}
}

func (disabledEvaluator) Close() error { return nil }
