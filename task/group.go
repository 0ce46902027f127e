// Package task implements a Group of long-lived, preemptable tasks which
// run concurrently and are collectively blocked on until all complete.
package task

import (
	"context"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// Group is a set of named tasks which are started together and waited on
// together. The first task to return a non-nil error cancels the Group
// Context, and every task is expected to watch that Context and return
// promptly on its cancellation. Group is not itself thread-safe: Queue,
// GoRun and Wait are driven from one owning goroutine.
type Group struct {
	ctx      context.Context
	cancelFn context.CancelFunc

	descs []string
	fns   []func() error
	eg    *errgroup.Group
	ran   bool
}

// NewGroup returns an empty Group rooted at |ctx|. The Group Context is
// cancelled by the first failing task, by Cancel, or by |ctx| itself.
func NewGroup(ctx context.Context) *Group {
	ctx, cancel := context.WithCancel(ctx)
	eg, ctx := errgroup.WithContext(ctx)
	return &Group{ctx: ctx, eg: eg, cancelFn: cancel}
}

// Context returns the Group Context.
func (g *Group) Context() context.Context { return g.ctx }

// Cancel the Group Context.
func (g *Group) Cancel() { g.cancelFn() }

// Queue |fn| to run with the Group under description |desc|, which
// prefixes a returned error. Queue panics if GoRun was already called.
func (g *Group) Queue(desc string, fn func() error) {
	if g.ran {
		panic("task: Queue after GoRun")
	}
	g.descs = append(g.descs, desc)
	g.fns = append(g.fns, fn)
}

// GoRun starts every queued task. It may be called at most once.
func (g *Group) GoRun() {
	if g.ran {
		panic("task: GoRun called twice")
	}
	g.ran = true

	for i := range g.fns {
		var desc, fn = g.descs[i], g.fns[i]
		g.eg.Go(func() error {
			return errors.WithMessage(fn(), desc)
		})
	}
}

// Wait blocks until all started tasks complete, and returns the first
// encountered task error. GoRun must have been called first.
func (g *Group) Wait() error {
	if !g.ran {
		panic("task: Wait before GoRun")
	}
	return g.eg.Wait()
}
