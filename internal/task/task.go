// Package task implements the build task engine (spec §4.5, C4): the
// queue/paused/failed lists, the worker pool that drains them, and the
// per-class, per-step handlers that drive an entry from Building to a
// terminal status. The worker pool is a mutex-and-condition-variable worker
// loop adapted from the teacher's internal/batch.scheduler.run, generalized
// from "build one Debian package" to "advance one resource entry by one
// coroutine-like step".
package task

import (
	"context"
	"log"
	"os"
	"sync"

	"github.com/distriforge/forgepack/internal/entry"
	"github.com/distriforge/forgepack/internal/jobs"
	"github.com/distriforge/forgepack/internal/registry"
	"github.com/distriforge/forgepack/internal/request"
	"github.com/distriforge/forgepack/internal/rule"
	"github.com/distriforge/forgepack/internal/stream"
	"golang.org/x/xerrors"
)

// Dispatcher is the build queue plus the worker pool draining it
// (spec §4.5 "one queue lock guards the build queue, the paused list and
// the failed list together").
type Dispatcher struct {
	mu      sync.Mutex
	cond    *sync.Cond
	queue   []*entry.Entry
	paused  []*entry.Entry
	failed  []*entry.Entry
	busy    int
	stopped bool

	Resolver   *request.Resolver
	RuleDriver *rule.Driver
	Registry   registry.Registry
	Reader     stream.Reader
	Writer     stream.Writer
	Log        *log.Logger
	Workers    int
	// StagingRoot is where newly built artifacts are written before the
	// deployment migrator (C6) moves them into place.
	StagingRoot string

	seq int
}

func New(workers int) *Dispatcher {
	d := &Dispatcher{Workers: workers}
	d.cond = sync.NewCond(&d.mu)
	return d
}

// EnqueueTail and EnqueueHead implement request.Enqueuer.
func (d *Dispatcher) EnqueueTail(e *entry.Entry) {
	d.mu.Lock()
	d.queue = append(d.queue, e)
	d.cond.Broadcast()
	d.mu.Unlock()
}

func (d *Dispatcher) EnqueueHead(e *entry.Entry) {
	d.mu.Lock()
	d.queue = append([]*entry.Entry{e}, d.queue...)
	d.cond.Broadcast()
	d.mu.Unlock()
}

func (d *Dispatcher) pause(e *entry.Entry) {
	d.mu.Lock()
	e.Build.Paused = true
	d.paused = append(d.paused, e)
	d.mu.Unlock()
}

// unblock is the dispatcher's side of the blocking discipline, run once a
// producer entry reaches a terminal outcome (spec §4.5): it drains the
// producer's own blocked-others list, decrements each blocked entry's own
// counter, and re-enqueues any that reach zero while paused.
func (d *Dispatcher) unblock(producer *entry.Entry) {
	producer.BuildMu.Lock()
	producer.Build.Terminal = true
	waiters := producer.Build.BlockedOthers
	producer.Build.BlockedOthers = nil
	producer.BuildMu.Unlock()

	for _, w := range waiters {
		remaining := w.Build.BlockCounter.Add(-1)
		if remaining != 0 {
			continue
		}
		d.mu.Lock()
		if w.Build.Paused {
			w.Build.Paused = false
			for i, p := range d.paused {
				if p == w {
					d.paused = append(d.paused[:i], d.paused[i+1:]...)
					break
				}
			}
			d.queue = append([]*entry.Entry{w}, d.queue...)
			d.cond.Broadcast()
		}
		d.mu.Unlock()
	}
}

// Run drains the queue with Workers goroutines until it and the active
// count both reach zero. If the queue then empties with entries still
// paused, none of them can ever become unblocked (everything that could
// unblock them already ran to completion), so that state is a deadlock:
// every remaining paused entry is failed and logged by its own key (its
// blockers are not listed).
func (d *Dispatcher) Run(ctx context.Context) error {
	n := d.Workers
	if n < 1 {
		n = 1
	}
	sys, jctx := jobs.New(ctx, n)
	for i := 0; i < n; i++ {
		sys.Dispatch(func() error {
			d.worker(jctx)
			return nil
		})
	}
	// worker never returns an error of its own (build failures are recorded
	// on individual entries, not surfaced here), so Wait only ever reports
	// an errgroup/context-propagation failure.
	if err := sys.Wait(); err != nil {
		return err
	}

	d.mu.Lock()
	deadlocked := d.paused
	d.paused = nil
	d.mu.Unlock()
	if len(deadlocked) == 0 {
		return nil
	}
	for _, e := range deadlocked {
		if d.Log != nil {
			d.Log.Printf("deadlock: %s:%s/%s never unblocked", e.Target.Name, e.Type, e.Name)
		}
		e.HeaderMu.Lock()
		e.Header.Status = entry.Unavailable
		e.HeaderMu.Unlock()
		d.mu.Lock()
		d.failed = append(d.failed, e)
		d.mu.Unlock()
	}
	return xerrors.Errorf("build deadlock: %d entries never unblocked", len(deadlocked))
}

// Failed returns every entry the dispatcher committed as failed.
func (d *Dispatcher) Failed() []*entry.Entry {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*entry.Entry, len(d.failed))
	copy(out, d.failed)
	return out
}

func (d *Dispatcher) worker(ctx context.Context) {
	for {
		d.mu.Lock()
		for len(d.queue) == 0 && d.busy == 0 && !d.stopped {
			// Quiescent: no work in flight and none queued. Every other
			// worker observes the same condition simultaneously (they are
			// all here, since busy==0), so it is safe for exactly one of
			// them to end the run.
			d.stopped = true
			d.cond.Broadcast()
			d.mu.Unlock()
			return
		}
		if d.stopped {
			d.mu.Unlock()
			return
		}
		if len(d.queue) == 0 {
			d.cond.Wait()
			d.mu.Unlock()
			continue
		}
		e := d.queue[0]
		d.queue = d.queue[1:]
		d.busy++
		d.mu.Unlock()

		d.run(ctx, e)

		d.mu.Lock()
		d.busy--
		d.cond.Broadcast()
		d.mu.Unlock()
	}
}

// run advances e through its steps (spec §4.5 "coroutine-like" state
// machine), looping immediately into the next step when the current one
// completes without needing to block, and pausing (recording the step to
// resume at and removing e from active work until unblock() re-queues it)
// when it does.
func (d *Dispatcher) run(ctx context.Context, e *entry.Entry) {
	for {
		e.BuildMu.RLock()
		step := e.Build.NextTask
		e.BuildMu.RUnlock()

		outcome, next, err := d.step(ctx, e, step)
		switch outcome {
		case stepPaused:
			e.BuildMu.Lock()
			e.Build.NextTask = next
			e.BuildMu.Unlock()
			d.pause(e)
			return
		case stepContinue:
			e.BuildMu.Lock()
			e.Build.NextTask = next
			e.BuildMu.Unlock()
			continue
		case stepDone:
			if err != nil && d.Log != nil {
				d.Log.Printf("build failed for %s:%s/%s: %v", e.Target.Name, e.Type, e.Name, err)
			}
			d.unblock(e)
			return
		}
	}
}

type stepOutcome int

const (
	stepContinue stepOutcome = iota
	stepPaused
	stepDone
)

func (d *Dispatcher) step(ctx context.Context, e *entry.Entry, s entry.Step) (stepOutcome, entry.Step, error) {
	switch e.Class {
	case entry.Raw:
		return d.stepRaw(e, s)
	case entry.Primary:
		return d.stepPrimary(ctx, e, s)
	case entry.Secondary:
		return d.stepSecondary(ctx, e, s)
	default:
		return stepDone, entry.NoTask, xerrors.Errorf("unknown entry class %d", e.Class)
	}
}

func (d *Dispatcher) stepRaw(e *entry.Entry, s entry.Step) (stepOutcome, entry.Step, error) {
	switch s {
	case entry.BuildStart:
		modTimeNS, ok := statModTimeNS(e.Location)
		if !ok {
			d.fail(e)
			return stepDone, entry.NoTask, xerrors.Errorf("raw source for %s/%s disappeared", e.Type, e.Name)
		}
		info, _ := d.Registry.TypeByName(e.Type)
		version := entry.Version{TypeVersion: info.Version, ModTimeNS: modTimeNS}
		var refs []registry.Reference
		if d.Reader != nil && info.DetectReferences != nil {
			target := info.Init()
			if st, err := readFile(d.Reader, e.Location, e.Type, target); err == nil && st == stream.Finished {
				refs = info.DetectReferences(target)
			}
		}
		e.NewReferences = refs
		e.HeaderMu.Lock()
		e.Header.Status = entry.Available
		e.Header.AvailableVersion = version
		e.HeaderMu.Unlock()
		return stepDone, entry.NoTask, nil
	case entry.Load:
		return d.stepLoad(e, s)
	default:
		return stepDone, entry.NoTask, xerrors.Errorf("unexpected step %s for raw entry", s)
	}
}

func (d *Dispatcher) stepLoad(e *entry.Entry, s entry.Step) (stepOutcome, entry.Step, error) {
	if s != entry.Load {
		return stepDone, entry.NoTask, xerrors.Errorf("unexpected step %s for load-only entry", s)
	}
	if d.Reader == nil || e.Location == "" {
		return stepDone, entry.NoTask, nil
	}
	info, ok := d.Registry.TypeByName(e.Type)
	if !ok {
		return stepDone, entry.NoTask, xerrors.Errorf("type %q not registered", e.Type)
	}
	target := info.Init()
	if _, err := readFile(d.Reader, e.Location, e.Type, target); err != nil {
		return stepDone, entry.NoTask, xerrors.Errorf("load %s/%s: %w", e.Type, e.Name, err)
	}
	e.BuildMu.Lock()
	e.Build.LoadedData = target
	e.BuildMu.Unlock()
	return stepDone, entry.NoTask, nil
}

func (d *Dispatcher) fail(e *entry.Entry) {
	e.HeaderMu.Lock()
	e.Header.Status = entry.Unavailable
	e.HeaderMu.Unlock()
	d.mu.Lock()
	d.failed = append(d.failed, e)
	d.mu.Unlock()
}

func statModTimeNS(path string) (int64, bool) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, false
	}
	return info.ModTime().UnixNano(), true
}

func readFile(r stream.Reader, path, typeName string, out any) (stream.Status, error) {
	f, err := os.Open(path)
	if err != nil {
		return stream.Failed, err
	}
	defer f.Close()
	return r.Read(f, typeName, true, out)
}

func (d *Dispatcher) nextSeq() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seq++
	return d.seq
}
