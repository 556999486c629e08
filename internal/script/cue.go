// SPDX-License-Identifier: MPL-2.0

//go:build !noeval

package script

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
)

// cueEvaluator compiles each snippet in the scope of the accumulated
// global value. Struct results are unified into that value.
type cueEvaluator struct {
	mu     sync.Mutex
	ctx    *cue.Context
	global cue.Value
}

func newCUE(env Env) (Evaluator, error) {
	cctx := cuecontext.New()
	global := cctx.CompileString("{}")
	for _, k := range slices.Sorted(maps.Keys(env.Vars)) {
		global = global.FillPath(cue.MakePath(cue.Str(k)), env.Vars[k])
	}
	if err := global.Err(); err != nil {
		return nil, fmt.Errorf("failed to bind environment: %w", err)
	}
	return &cueEvaluator{ctx: cctx, global: global}, nil
}

// Eval renders the evaluated value as CUE text.
func (e *cueEvaluator) Eval(_ context.Context, code string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	v := e.ctx.CompileString(code, cue.Scope(e.global), cue.Filename("eval"))
	if err := v.Err(); err != nil {
		return "", &EvaluationError{Report: cueerrors.Details(err, nil), Cause: err}
	}
	if err := v.Validate(); err != nil {
		return "", &EvaluationError{Report: cueerrors.Details(err, nil), Cause: err}
	}

	if v.IncompleteKind() == cue.StructKind {
		merged := e.global.Unify(v)
		if err := merged.Validate(); err != nil {
			return "", &EvaluationError{Report: cueerrors.Details(err, nil), Cause: err}
		}
		e.global = merged
	}

	return fmt.Sprint(v), nil
}

// Close drops the global value.
func (e *cueEvaluator) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.global = cue.Value{}
	return nil
}
