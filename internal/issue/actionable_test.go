// SPDX-License-Identifier: MPL-2.0

package issue

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestActionableError_Error(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		err      *ActionableError
		expected string
	}{
		{
			name:     "operation only",
			err:      &ActionableError{Operation: "spawn worker"},
			expected: "failed to spawn worker",
		},
		{
			name:     "operation with resource",
			err:      &ActionableError{Operation: "spawn worker", Resource: "./job.sh"},
			expected: "failed to spawn worker: ./job.sh",
		},
		{
			name:     "operation with cause",
			err:      &ActionableError{Operation: "load config", Cause: errors.New("syntax error")},
			expected: "failed to load config: syntax error",
		},
		{
			name: "full context",
			err: &ActionableError{
				Operation: "fetch",
				Resource:  "https://example.com/a",
				Cause:     errors.New("status 404"),
			},
			expected: "failed to fetch: https://example.com/a: status 404",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("Error() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestActionableError_ErrorsIs(t *testing.T) {
	t.Parallel()

	sentinel := errors.New("sentinel")
	err := NewErrorContext().
		WithOperation("evaluate code").
		Wrap(fmt.Errorf("inner: %w", sentinel)).
		BuildError()

	if !errors.Is(err, sentinel) {
		t.Error("errors.Is should find the wrapped sentinel")
	}

	var ae *ActionableError
	if !errors.As(err, &ae) {
		t.Fatal("errors.As should find *ActionableError")
	}
	if ae.Operation != "evaluate code" {
		t.Errorf("Operation = %q, want %q", ae.Operation, "evaluate code")
	}
}

func TestActionableError_Format(t *testing.T) {
	t.Parallel()

	err := &ActionableError{
		Operation:   "spawn worker",
		Resource:    "job.sh",
		Suggestions: []string{"Check the path", "Try --isolate"},
		Cause:       fmt.Errorf("outer: %w", errors.New("inner")),
	}

	short := err.Format(false)
	if !strings.HasPrefix(short, "failed to spawn worker: job.sh") {
		t.Errorf("Format(false) = %q", short)
	}
	for _, s := range err.Suggestions {
		if !strings.Contains(short, s) {
			t.Errorf("Format(false) missing suggestion %q", s)
		}
	}
	if strings.Contains(short, "Error chain") {
		t.Error("Format(false) should not include the error chain")
	}

	verbose := err.Format(true)
	if !strings.Contains(verbose, "Error chain:") {
		t.Error("Format(true) should include the error chain")
	}
	if !strings.Contains(verbose, "1. outer: inner") || !strings.Contains(verbose, "2. inner") {
		t.Errorf("Format(true) chain incomplete: %q", verbose)
	}
}

func TestActionableError_FormatRendersIssue(t *testing.T) {
	originalRender := render
	defer func() { render = originalRender }()

	render = func(in string, _ string) (string, error) {
		return "RENDERED" + in, nil
	}

	err := NewErrorContext().
		WithOperation("evaluate code").
		WithIssue(EvalDisabledId).
		Build()

	if strings.Contains(err.Format(false), "RENDERED") {
		t.Error("Format(false) should not render the issue page")
	}
	if !strings.Contains(err.Format(true), "RENDERED") {
		t.Error("Format(true) should render the issue page")
	}
}

func TestActionableError_HasSuggestions(t *testing.T) {
	t.Parallel()

	if (&ActionableError{Operation: "x"}).HasSuggestions() {
		t.Error("HasSuggestions() = true with no suggestions")
	}
	if !(&ActionableError{Operation: "x", Suggestions: []string{"a"}}).HasSuggestions() {
		t.Error("HasSuggestions() = false with suggestions")
	}
}

func TestErrorContext_Build(t *testing.T) {
	t.Parallel()

	cause := errors.New("boom")
	tests := []struct {
		name    string
		build   func() *ActionableError
		wantNil bool
		want    ActionableError
	}{
		{
			name:    "no operation",
			build:   func() *ActionableError { return NewErrorContext().WithResource("x").Build() },
			wantNil: true,
		},
		{
			name: "all fields",
			build: func() *ActionableError {
				return NewErrorContext().
					WithOperation("fetch").
					WithResource("u").
					WithSuggestion("one").
					WithSuggestion("two").
					Wrap(cause).
					Build()
			},
			want: ActionableError{
				Operation:   "fetch",
				Resource:    "u",
				Suggestions: []string{"one", "two"},
				Cause:       cause,
			},
		},
		{
			name: "issue appends its suggestions",
			build: func() *ActionableError {
				return NewErrorContext().
					WithOperation("fetch").
					WithSuggestion("own").
					WithIssue(FetchFailedId).
					Build()
			},
			want: ActionableError{
				Operation:   "fetch",
				Suggestions: append([]string{"own"}, Get(FetchFailedId).Suggestions()...),
				Issue:       FetchFailedId,
			},
		},
		{
			name: "unknown issue",
			build: func() *ActionableError {
				return NewErrorContext().WithOperation("fetch").WithIssue(Id(500)).Build()
			},
			want: ActionableError{Operation: "fetch", Issue: Id(500)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := tt.build()
			if tt.wantNil {
				if got != nil {
					t.Errorf("Build() = %v, want nil", got)
				}
				return
			}
			if got == nil {
				t.Fatal("Build() returned nil")
			}
			if got.Operation != tt.want.Operation || got.Resource != tt.want.Resource ||
				got.Issue != tt.want.Issue || got.Cause != tt.want.Cause {
				t.Errorf("Build() = %+v, want %+v", *got, tt.want)
			}
			if strings.Join(got.Suggestions, "|") != strings.Join(tt.want.Suggestions, "|") {
				t.Errorf("Suggestions = %v, want %v", got.Suggestions, tt.want.Suggestions)
			}
		})
	}
}

func TestErrorContext_BuildError(t *testing.T) {
	t.Parallel()

	if err := NewErrorContext().BuildError(); err != nil {
		t.Errorf("BuildError() without operation = %v, want nil", err)
	}
	if err := NewErrorContext().WithOperation("x").BuildError(); err == nil {
		t.Error("BuildError() with operation returned nil")
	}
}
