// SPDX-License-Identifier: MPL-2.0

package worker

import (
	"context"
	"fmt"
	"net/url"

	"github.com/workerhost/workerhost/internal/fetch"
)

type (
	// Source describes what a worker runs when it starts.
	Source interface {
		// resolve normalizes the source against the parent's base URL and
		// returns the base URL the child should use.
		resolve(base *url.URL) (Source, *url.URL, error)
		load(ctx context.Context, s *Scope) error
		String() string
	}

	inlineSource struct {
		code string
	}

	moduleSource struct {
		init func(*Scope) error
	}

	urlSource struct {
		raw string
		url *url.URL
	}
)

// InlineSource runs code in the worker's evaluator.
func InlineSource(code string) Source {
	return inlineSource{code: code}
}

// ModuleSource calls init on the worker's thread with the child scope.
func ModuleSource(init func(*Scope) error) Source {
	return moduleSource{init: init}
}

// URLSource fetches raw through the worker's bridge and evaluates it.
// Relative references resolve against the parent's base URL, and the
// resolved URL becomes the child's base URL.
func URLSource(raw string) Source {
	return urlSource{raw: raw}
}

func (s inlineSource) resolve(base *url.URL) (Source, *url.URL, error) {
	return s, base, nil
}

func (s inlineSource) load(ctx context.Context, scope *Scope) error {
	if s.code == "" {
		return nil
	}
	_, err := scope.Eval(ctx, s.code)
	return err
}

func (s inlineSource) String() string {
	return "inline"
}

func (s moduleSource) resolve(base *url.URL) (Source, *url.URL, error) {
	if s.init == nil {
		return nil, nil, fmt.Errorf("module source has no init function")
	}
	return s, base, nil
}

func (s moduleSource) load(_ context.Context, scope *Scope) error {
	return s.init(scope)
}

func (s moduleSource) String() string {
	return "module"
}

func (s urlSource) resolve(base *url.URL) (Source, *url.URL, error) {
	u, err := fetch.Resolve(s.raw, base)
	if err != nil {
		return nil, nil, err
	}
	return urlSource{raw: s.raw, url: u}, u, nil
}

func (s urlSource) load(ctx context.Context, scope *Scope) error {
	return scope.ImportScripts(ctx, s.url.String())
}

func (s urlSource) String() string {
	if s.url != nil {
		return s.url.String()
	}
	return s.raw
}
