// Package jobs models the opaque CPU job system the engine dispatches to
// (spec §6: job_create, job_dispatch_task, job_release, job_wait). The
// concrete implementation is golang.org/x/sync/errgroup, the same
// dependency the teacher's own worker pool
// (internal/batch.scheduler.run) uses to fan out package builds.
package jobs

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// System dispatches tasks and can be joined.
type System interface {
	// Dispatch schedules fn to run, subject to the system's concurrency
	// limit. Dispatch itself never blocks past acquiring a slot.
	Dispatch(fn func() error)
	// Wait blocks until every dispatched task has completed and returns the
	// first non-nil error, if any.
	Wait() error
}

// ErrGroup is the errgroup-backed job system used throughout the engine.
type ErrGroup struct {
	g *errgroup.Group
}

// New creates a job system bounded to at most limit concurrent tasks.
// limit <= 0 means unbounded (errgroup's default).
func New(ctx context.Context, limit int) (*ErrGroup, context.Context) {
	g, gctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	return &ErrGroup{g: g}, gctx
}

func (e *ErrGroup) Dispatch(fn func() error) {
	e.g.Go(fn)
}

func (e *ErrGroup) Wait() error {
	return e.g.Wait()
}
