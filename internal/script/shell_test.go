// SPDX-License-Identifier: MPL-2.0

//go:build !noeval

package script

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func newTestEvaluator(t *testing.T, lang Language, env Env) Evaluator {
	t.Helper()
	ev, err := New(lang, env)
	if err != nil {
		t.Fatalf("New(%q) failed: %v", lang, err)
	}
	t.Cleanup(func() { _ = ev.Close() })
	return ev
}

func TestShellEvaluator_StatePersists(t *testing.T) {
	t.Parallel()

	ev := newTestEvaluator(t, LanguageShell, Env{})
	ctx := context.Background()

	steps := []struct {
		code string
		want string
	}{
		{"x=5", ""},
		{"greet() { echo \"hi $1\"; }", ""},
		{"echo $x", "5"},
		{"greet there", "hi there"},
		{"x=$((x + 1)); echo $x", "6"},
	}
	for _, step := range steps {
		got, err := ev.Eval(ctx, step.code)
		if err != nil {
			t.Fatalf("Eval(%q) failed: %v", step.code, err)
		}
		if got != step.want {
			t.Errorf("Eval(%q) = %q, want %q", step.code, got, step.want)
		}
	}
}

func TestShellEvaluator_Args(t *testing.T) {
	t.Parallel()

	ev := newTestEvaluator(t, LanguageShell, Env{Args: []string{"-v", "two words"}})

	got, err := ev.Eval(context.Background(), `echo "$#|$1|$2"`)
	if err != nil {
		t.Fatalf("Eval failed: %v", err)
	}
	if want := "2|-v|two words"; got != want {
		t.Errorf("Eval = %q, want %q", got, want)
	}
}

func TestShellEvaluator_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		code       string
		wantReport string
	}{
		{"non-zero exit", "echo boom >&2; false", "exit status 1"},
		{"syntax error", "if then fi (", "SyntaxError"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ev := newTestEvaluator(t, LanguageShell, Env{})
			_, err := ev.Eval(context.Background(), tt.code)
			if !errors.Is(err, ErrEvaluation) {
				t.Fatalf("expected ErrEvaluation, got %v", err)
			}
			var evalErr *EvaluationError
			if !errors.As(err, &evalErr) {
				t.Fatalf("expected *EvaluationError, got %T", err)
			}
			if !strings.Contains(evalErr.Report, tt.wantReport) {
				t.Errorf("report %q does not contain %q", evalErr.Report, tt.wantReport)
			}

			// The evaluator survives a failed evaluation.
			got, err := ev.Eval(context.Background(), "echo alive")
			if err != nil || got != "alive" {
				t.Errorf("Eval after failure = %q, %v", got, err)
			}
		})
	}
}

func TestShellEvaluator_StderrInReport(t *testing.T) {
	t.Parallel()

	ev := newTestEvaluator(t, LanguageShell, Env{})
	_, err := ev.Eval(context.Background(), "echo boom >&2; exit 3")
	var evalErr *EvaluationError
	if !errors.As(err, &evalErr) {
		t.Fatalf("expected *EvaluationError, got %v", err)
	}
	if !strings.Contains(evalErr.Report, "exit status 3") || !strings.Contains(evalErr.Report, "boom") {
		t.Errorf("unexpected report %q", evalErr.Report)
	}
}

func TestShellEvaluator_Bindings(t *testing.T) {
	t.Parallel()

	bindings := map[string]Binding{
		"greet": func(_ context.Context, args []string) (string, error) {
			return "hello " + strings.Join(args, " "), nil
		},
		"fail": func(context.Context, []string) (string, error) {
			return "", errors.New("host refused")
		},
	}
	env := Env{
		Vars: map[string]string{"WORKER_NAME": "alpha"},
		Lookup: func(name string) (Binding, bool) {
			b, ok := bindings[name]
			return b, ok
		},
	}
	ev := newTestEvaluator(t, LanguageShell, env)
	ctx := context.Background()

	got, err := ev.Eval(ctx, "greet big world")
	if err != nil {
		t.Fatalf("Eval failed: %v", err)
	}
	if got != "hello big world" {
		t.Errorf("binding output = %q", got)
	}

	got, err = ev.Eval(ctx, `msg=$(greet "$WORKER_NAME"); echo "[$msg]"`)
	if err != nil {
		t.Fatalf("Eval failed: %v", err)
	}
	if got != "[hello alpha]" {
		t.Errorf("substituted output = %q", got)
	}

	_, err = ev.Eval(ctx, "fail")
	var evalErr *EvaluationError
	if !errors.As(err, &evalErr) || !strings.Contains(evalErr.Report, "host refused") {
		t.Errorf("expected binding failure in report, got %v", err)
	}
}

func TestNew_InvalidLanguage(t *testing.T) {
	t.Parallel()

	_, err := New("lua", Env{})
	if !errors.Is(err, ErrInvalidLanguage) {
		t.Fatalf("expected ErrInvalidLanguage, got %v", err)
	}
	var langErr *InvalidLanguageError
	if !errors.As(err, &langErr) || langErr.Value != "lua" {
		t.Errorf("unexpected error %#v", err)
	}
}
