// SPDX-License-Identifier: MPL-2.0

package worker

import (
	"context"
	"errors"
	"fmt"
	"os"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/workerhost/workerhost/internal/protocol"
	"github.com/workerhost/workerhost/internal/script"
)

// Serve runs the child side of an execution context over port until the
// parent sends shutdown, the scope is closed, or ctx is done. It is used
// for out-of-process workers whose parent holds a handle from Attach.
func Serve(ctx context.Context, port protocol.Port, src Source, opts ...Option) error {
	o := newOptions(opts)
	src, base, err := src.resolve(o.base)
	if err != nil {
		return err
	}
	o.base = base
	return serve(ctx, port, src, o, nil)
}

// serve is the body of a worker thread. ready is called once the source
// has been loaded and the context starts servicing messages.
func serve(ctx context.Context, port protocol.Port, src Source, o options, ready func()) error {
	sctx, cancel := context.WithCancel(ctx)
	defer cancel()
	runCtx, stop := context.WithCancel(sctx)
	defer stop()

	logger := o.logger.With("worker", o.id)
	s := &Scope{
		id:       o.id,
		args:     o.args,
		opts:     o,
		bridge:   o.bridge.Rebase(o.base),
		logger:   logger,
		bindings: make(map[string]script.Binding),
		handlers: make(map[string]HandlerFunc),
		ctx:      sctx,
		stop:     stop,
	}
	maps.Copy(s.bindings, s.defaultBindings())
	s.router = protocol.NewRouter(port, scopeHandler{s: s}, protocol.WithLogger(logger.WithPrefix("router")))

	dir, _ := os.Getwd()
	eval, err := script.New(o.language, script.Env{
		Vars:   o.vars,
		Lookup: s.lookupBinding,
		Dir:    dir,
		Args:   o.args,
	})
	if err != nil {
		return err
	}
	s.eval = eval
	defer func() {
		if err := eval.Close(); err != nil {
			logger.Debug("closing evaluator", "error", err)
		}
	}()

	logger.Debug("loading source", "source", src.String())
	if err := s.loadSource(sctx, src); err != nil {
		s.ReportError(fmt.Errorf("load %s: %w", src, err))
	}
	if s.closeAt.Load() {
		s.Close()
	}
	if ready != nil {
		ready()
	}

	runErr := s.router.Run(runCtx)
	if s.closing.Load() && errors.Is(runErr, context.Canceled) && sctx.Err() == nil {
		runErr = nil
	}

	s.runExit()
	cancel()
	s.router.Wait()
	s.wg.Wait()
	s.reapChildren()
	logger.Debug("exited", "error", runErr)
	return runErr
}

func (s *Scope) loadSource(ctx context.Context, src Source) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return src.load(ctx, s)
}

// reapChildren terminates nested workers and waits for them.
func (s *Scope) reapChildren() {
	s.mu.Lock()
	children := slices.Clone(s.children)
	s.mu.Unlock()

	for _, child := range children {
		if child.State().IsTerminal() {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), 2*s.opts.grace)
		if err := child.TerminateAndWait(ctx); err != nil {
			s.logger.Warn("nested worker did not stop cleanly", "child", child.ID(), "error", err)
		}
		cancel()
	}
}
