package task

import (
	"context"

	"github.com/distriforge/forgepack/internal/entry"
	"golang.org/x/xerrors"
)

// stepSecondary drives a Secondary entry through BuildStart (wait on its
// producer) and ProcessPrimary (adopt whatever the producer emitted, if
// anything) — spec §4.5 "Secondary BuildStart"/"Secondary ProcessPrimary".
// Only entries resurrected from the prior log ever reach this state machine:
// a producer's own produce_secondary_output call finishes its secondary
// entries synchronously and never enqueues them.
func (d *Dispatcher) stepSecondary(ctx context.Context, e *entry.Entry, s entry.Step) (stepOutcome, entry.Step, error) {
	switch s {
	case entry.BuildStart:
		return d.secondaryBuildStart(ctx, e)
	case entry.ProcessPrimary:
		return d.secondaryProcessPrimary(e)
	case entry.Load:
		return d.stepLoad(e, s)
	default:
		return stepDone, entry.NoTask, xerrors.Errorf("unexpected step %s for secondary entry", s)
	}
}

// secondaryBuildStart confirms the producer (an Unavailable or
// PlatformUnsupported producer is a valid terminal outcome here, not a
// failure — secondaryProcessPrimary is what turns that into this entry's own
// status) and blocks on it directly, the task-engine-side half of the same
// blocking discipline request.Resolver.block implements for build-rule
// inputs, if it is still building.
func (d *Dispatcher) secondaryBuildStart(ctx context.Context, e *entry.Entry) (stepOutcome, entry.Step, error) {
	e.BuildMu.RLock()
	producer := e.Build.Input.Producer
	e.BuildMu.RUnlock()
	if producer == nil {
		d.fail(e)
		return stepDone, entry.NoTask, xerrors.Errorf("secondary entry %s/%s has no producer", e.Type, e.Name)
	}

	status, err := d.Resolver.Confirm(ctx, nil, producer)
	if err != nil {
		d.fail(e)
		return stepDone, entry.NoTask, err
	}
	if status == entry.Building && d.blockOn(e, producer) {
		return stepPaused, entry.ProcessPrimary, nil
	}
	return stepContinue, entry.ProcessPrimary, nil
}

// blockOn registers requester as blocked on producer. It returns false,
// without blocking, if producer already reached a terminal state before the
// registration could happen — the caller must then re-read producer's
// current status directly instead of waiting for an unblock that already
// ran (mirrors request.Resolver.block).
func (d *Dispatcher) blockOn(requester, producer *entry.Entry) bool {
	producer.BuildMu.Lock()
	if producer.Build.Terminal {
		producer.BuildMu.Unlock()
		return false
	}
	producer.Build.BlockedOthers = append(producer.Build.BlockedOthers, requester)
	producer.BuildMu.Unlock()

	requester.BuildMu.Lock()
	requester.Build.BlockCounter.Add(1)
	requester.BuildMu.Unlock()
	return true
}

// secondaryProcessPrimary implements spec §4.5's "check the producer's
// status" step: an unavailable/unsupported producer drops this secondary
// (not a failure); an available producer that did not re-emit this
// (type, name) this run (its transient slot is still empty) drops it too;
// otherwise produce_secondary_output already populated e in full.
func (d *Dispatcher) secondaryProcessPrimary(e *entry.Entry) (stepOutcome, entry.Step, error) {
	e.BuildMu.RLock()
	producer := e.Build.Input.Producer
	e.BuildMu.RUnlock()
	if producer == nil {
		d.fail(e)
		return stepDone, entry.NoTask, xerrors.Errorf("secondary entry %s/%s has no producer", e.Type, e.Name)
	}

	switch readStatus(producer) {
	case entry.Available:
		// fall through to the transient-slot check below
	case entry.Unavailable, entry.PlatformUnsupported, entry.OutOfScope:
		e.HeaderMu.Lock()
		e.Header.Status = entry.Unavailable
		e.HeaderMu.Unlock()
		return stepDone, entry.NoTask, nil
	default:
		d.fail(e)
		return stepDone, entry.NoTask, xerrors.Errorf("producer for secondary entry %s/%s has unexpected status", e.Type, e.Name)
	}

	e.BuildMu.RLock()
	reemitted := e.Build.SecondaryOutputSlot != nil
	e.BuildMu.RUnlock()
	if !reemitted {
		e.HeaderMu.Lock()
		e.Header.Status = entry.Unavailable
		e.HeaderMu.Unlock()
		return stepDone, entry.NoTask, nil
	}
	// produce_secondary_output already wrote e's location/data and published
	// Available while the producer's build rule was running.
	return stepDone, entry.NoTask, nil
}
