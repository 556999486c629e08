// SPDX-License-Identifier: MPL-2.0

//go:build !noeval

package script

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"maps"
	"os"
	"slices"
	"strings"
	"sync"

	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"
)

// Enabled reports whether this build can evaluate code.
const Enabled = true

// shellEvaluator keeps a single interp.Runner alive so variables and
// functions defined by one evaluation are visible to the next.
type shellEvaluator struct {
	mu     sync.Mutex
	parser *syntax.Parser
	runner *interp.Runner
	lookup func(string) (Binding, bool)
	stdout bytes.Buffer
	stderr bytes.Buffer
}

func newShell(env Env) (Evaluator, error) {
	e := &shellEvaluator{
		parser: syntax.NewParser(),
		lookup: env.Lookup,
	}

	environ := os.Environ()
	for _, k := range slices.Sorted(maps.Keys(env.Vars)) {
		environ = append(environ, k+"="+env.Vars[k])
	}

	opts := []interp.RunnerOption{
		interp.Env(expand.ListEnviron(environ...)),
		interp.StdIO(nil, &e.stdout, &e.stderr),
		interp.ExecHandlers(e.execHandler),
	}
	if env.Dir != "" {
		opts = append(opts, interp.Dir(env.Dir))
	}
	if len(env.Args) > 0 {
		// "--" keeps arguments like "-v" from being read as shell options.
		opts = append(opts, interp.Params(append([]string{"--"}, env.Args...)...))
	}

	runner, err := interp.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create interpreter: %w", err)
	}
	e.runner = runner
	return e, nil
}

// Eval parses and runs code. The result is the captured standard output
// without its trailing newline.
func (e *shellEvaluator) Eval(ctx context.Context, code string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	prog, err := e.parser.Parse(strings.NewReader(code), "eval")
	if err != nil {
		return "", &EvaluationError{Report: "SyntaxError: " + err.Error(), Cause: err}
	}

	e.stdout.Reset()
	e.stderr.Reset()

	err = e.runner.Run(ctx, prog)
	if err != nil {
		return "", &EvaluationError{Report: e.report(err), Cause: err}
	}
	return strings.TrimSuffix(e.stdout.String(), "\n"), nil
}

func (e *shellEvaluator) report(err error) string {
	var sb strings.Builder
	var status interp.ExitStatus
	if errors.As(err, &status) {
		fmt.Fprintf(&sb, "exit status %d", uint8(status))
	} else {
		sb.WriteString(err.Error())
	}
	if stderr := strings.TrimSpace(e.stderr.String()); stderr != "" {
		sb.WriteString("\n")
		sb.WriteString(stderr)
	}
	return sb.String()
}

// execHandler resolves host bindings before falling back to external commands.
func (e *shellEvaluator) execHandler(next interp.ExecHandlerFunc) interp.ExecHandlerFunc {
	return func(ctx context.Context, args []string) error {
		if len(args) == 0 || e.lookup == nil {
			return next(ctx, args)
		}
		binding, ok := e.lookup(args[0])
		if !ok {
			return next(ctx, args)
		}

		hc := interp.HandlerCtx(ctx)
		out, err := binding(ctx, args[1:])
		if err != nil {
			fmt.Fprintf(hc.Stderr, "%s: %v\n", args[0], err)
			return interp.ExitStatus(1)
		}
		if out != "" {
			fmt.Fprintln(hc.Stdout, out)
		}
		return nil
	}
}

// Close is a no-op; the runner holds no external resources.
func (e *shellEvaluator) Close() error {
	return nil
}
