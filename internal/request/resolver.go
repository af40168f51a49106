// Package request implements the status confirmer (spec §4.3, C2) and the
// five-mode resource request resolver (spec §4.4, C3) together: the two are
// mutually recursive in the original design (a request first confirms an
// entry's status; confirming a Primary or Secondary entry recursively
// requests its primary input, secondary inputs, or producer) so they share
// one Go package instead of fighting an import cycle across two.
package request

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/distriforge/forgepack/internal/entry"
	"github.com/distriforge/forgepack/internal/platform"
	"github.com/distriforge/forgepack/internal/registry"
	"golang.org/x/xerrors"
)

// statModTimeNS stats path and returns its modification time in nanoseconds.
func statModTimeNS(path string) (int64, bool) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, false
	}
	return info.ModTime().UnixNano(), true
}

// Mode is one of the five resource request modes (spec §4.4 table).
type Mode int

const (
	BuildRequired Mode = iota
	BuildPlatformOptional
	StatusConfirmation
	MarkDeployment
	MarkDeploymentPlatformOptional
	MarkCache
)

// Enqueuer is the build task engine's queue, as seen by the resolver. It is
// a small interface so this package never imports internal/task; the engine
// package wires a *task.Dispatcher into it.
type Enqueuer interface {
	EnqueueTail(e *entry.Entry)
	EnqueueHead(e *entry.Entry)
}

// Resolver is C2+C3: it owns no entries itself, only the graph, registry,
// platform configuration and queue needed to confirm and request them.
type Resolver struct {
	Graph    *entry.Graph
	Registry registry.Registry
	Platform *platform.Config
	Log      *log.Logger
	Queue    Enqueuer
}

// circularErr is returned by Confirm when the entry being confirmed
// reappears in its own recursion backtrace.
type circularErr struct {
	chain []entry.Key
}

func (e *circularErr) Error() string {
	var b strings.Builder
	b.WriteString("circular resource dependency: ")
	for i := len(e.chain) - 1; i >= 0; i-- {
		fmt.Fprintf(&b, "%s:%s/%s", e.chain[i].Target, e.chain[i].Type, e.chain[i].Name)
		if i > 0 {
			b.WriteString(" -> ")
		}
	}
	return b.String()
}

// Request resolves (from, typ, name) per spec §4.4's mode table. requester
// is nil for root-set (Mark*) calls and non-nil when a build task is asking
// for one of its own inputs (BuildRequired/BuildPlatformOptional).
func (r *Resolver) Request(ctx context.Context, from *entry.Target, typ, name string, mode Mode, requester *entry.Entry) (*entry.Entry, error) {
	e, err := r.findOrCreate(from, typ, name, mode)
	if err != nil {
		return nil, err
	}

	status, err := r.Confirm(ctx, nil, e)
	if err != nil {
		return nil, err
	}

	switch mode {
	case BuildRequired, BuildPlatformOptional:
		return e, r.handleBuildRequired(status, e, requester, mode == BuildPlatformOptional)
	case StatusConfirmation:
		return e, nil
	case MarkDeployment, MarkDeploymentPlatformOptional:
		return e, r.handleMarkDeployment(ctx, status, e, mode == MarkDeploymentPlatformOptional)
	case MarkCache:
		return e, r.handleMarkCache(ctx, status, e)
	default:
		return nil, xerrors.Errorf("unknown request mode %d", mode)
	}
}

// ResolveThirdParty looks up a third-party entry by visibility; third-party
// entries are never confirmed or built, only scanned.
func (r *Resolver) ResolveThirdParty(from *entry.Target, name string) (*entry.ThirdPartyEntry, bool) {
	return from.LookupThirdPartyVisible(name)
}

func (r *Resolver) findOrCreate(from *entry.Target, typ, name string, mode Mode) (*entry.Entry, error) {
	if e, ok := from.LookupVisible(typ, name); ok {
		return e, nil
	}
	if mode == MarkCache {
		return nil, xerrors.Errorf("mark cache: entry (%s, %s) not found and cannot be created", typ, name)
	}
	info, ok := r.Registry.TypeByName(typ)
	if !ok || !info.ProducedFromBuildRule {
		return nil, xerrors.Errorf("entry (%s, %s) not found and type %q has no build rule", from.Name, name, typ)
	}

	// The new Primary entry's target equals the target of its primary
	// input (spec §3 invariant): resolve it first.
	owner, input, err := r.resolvePrimaryInput(from, info, name)
	if err != nil {
		return nil, err
	}

	e, err := owner.CreateNative(typ, name, entry.Primary)
	if err != nil {
		// Lost the race to another goroutine creating the same entry
		// concurrently; use whichever one now exists.
		if existing, ok := owner.LookupLocal(typ, name); ok {
			return existing, nil
		}
		return nil, err
	}
	e.BuildMu.Lock()
	e.Build.Input = input
	e.BuildMu.Unlock()
	e.HeaderMu.Lock()
	e.Header.Status = entry.Building
	e.HeaderMu.Unlock()
	e.BuildMu.Lock()
	e.Build.NextTask = entry.BuildStart
	e.Build.Enqueued = true
	e.BuildMu.Unlock()
	if r.Queue != nil {
		r.Queue.EnqueueTail(e)
	}
	return e, nil
}

func (r *Resolver) resolvePrimaryInput(from *entry.Target, info registry.TypeInfo, name string) (*entry.Target, entry.InputRef, error) {
	if info.BuildRulePrimaryInputType == nil {
		// Import rule: primary input is a third-party blob of the same name.
		tp, ok := from.LookupThirdPartyVisible(name)
		if !ok {
			return nil, entry.InputRef{}, xerrors.Errorf("import rule for type with no primary input type: third-party %q not found from target %q", name, from.Name)
		}
		return tp.Target, entry.InputRef{Kind: entry.InputThirdParty, PrimaryThirdParty: tp}, nil
	}
	primary, ok := from.LookupVisible(*info.BuildRulePrimaryInputType, name)
	if !ok {
		return nil, entry.InputRef{}, xerrors.Errorf("primary input (%s, %s) not found from target %q", *info.BuildRulePrimaryInputType, name, from.Name)
	}
	return primary.Target, entry.InputRef{Kind: entry.InputEntry, PrimaryInput: primary}, nil
}

func (r *Resolver) handleBuildRequired(status entry.Status, e *entry.Entry, requester *entry.Entry, platformOptional bool) error {
	switch status {
	case entry.PlatformUnsupported:
		if platformOptional {
			return nil
		}
		return xerrors.Errorf("required entry (%s, %s, %s) is platform unsupported", e.Target.Name, e.Type, e.Name)
	case entry.Unavailable, entry.OutOfScope:
		return xerrors.Errorf("required entry (%s, %s, %s) is unavailable", e.Target.Name, e.Type, e.Name)
	case entry.Building:
		if requester == nil || r.block(requester, e) {
			return nil
		}
		// e reached a terminal state between our status read and the
		// attempt to block on it; its Header.Status is now authoritative.
		return r.handleBuildRequired(readStatus(e), e, requester, platformOptional)
	case entry.Available:
		e.BuildMu.Lock()
		e.Build.LoadedDataRequestCount++
		notLoaded := e.Build.LoadedData == nil
		startLoad := notLoaded && e.Build.LoadedDataRequestCount == 1
		if startLoad {
			e.Build.NextTask = entry.Load
			e.Build.Enqueued = true
		}
		e.BuildMu.Unlock()
		if !notLoaded {
			return nil
		}
		// Every requester that arrives before the data is actually loaded
		// must block on it, not just the one that happens to trigger the
		// Load task — otherwise a second concurrent requester would run
		// ahead with a nil LoadedData.
		if requester != nil {
			r.block(requester, e) // if false, load finished concurrently; data is ready now
		}
		if startLoad && r.Queue != nil {
			r.Queue.EnqueueHead(e)
		}
		return nil
	default:
		return xerrors.Errorf("entry (%s, %s, %s) has unexpected status %s", e.Target.Name, e.Type, e.Name, status)
	}
}

func readStatus(e *entry.Entry) entry.Status {
	e.HeaderMu.RLock()
	defer e.HeaderMu.RUnlock()
	return e.Header.Status
}

// block records that requester is waiting on producer, per spec §4.5
// blocking discipline: the requester's own block counter is incremented and
// it is appended to the producer's blocked-others list. It returns false,
// without blocking, if producer already reached a terminal state (finished
// building, or finished loading) before the append could happen — the
// caller must then re-read producer's current state directly instead of
// waiting for an unblock that already ran.
func (r *Resolver) block(requester, producer *entry.Entry) bool {
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

func (r *Resolver) handleMarkDeployment(ctx context.Context, status entry.Status, e *entry.Entry, platformOptional bool) error {
	if status == entry.PlatformUnsupported && !platformOptional {
		return xerrors.Errorf("cannot mark (%s, %s, %s) for deployment: platform unsupported", e.Target.Name, e.Type, e.Name)
	}
	if status == entry.Unavailable || status == entry.OutOfScope {
		return xerrors.Errorf("cannot mark (%s, %s, %s) for deployment: unavailable", e.Target.Name, e.Type, e.Name)
	}

	e.HeaderMu.Lock()
	already := e.Header.DeploymentMark
	e.Header.DeploymentMark = true
	e.HeaderMu.Unlock()
	if already {
		return nil // already cascaded from here
	}

	for _, ref := range e.NewReferences {
		if err := r.cascadeReference(ctx, e, ref); err != nil {
			return err
		}
	}
	for _, in := range e.NewSecondaryInputs {
		if err := r.cascadeSecondaryInputAsCache(ctx, in); err != nil {
			return err
		}
	}
	return nil
}

func (r *Resolver) cascadeReference(ctx context.Context, from *entry.Entry, ref registry.Reference) error {
	mode := MarkDeploymentPlatformOptional
	if ref.Required {
		mode = MarkDeployment
	}
	if ref.Type == nil {
		if _, ok := from.Target.LookupThirdPartyVisible(ref.Name); !ok && ref.Required {
			return xerrors.Errorf("required third-party reference %q from (%s, %s, %s) not found", ref.Name, from.Target.Name, from.Type, from.Name)
		}
		return nil
	}
	_, err := r.Request(ctx, from.Target, *ref.Type, ref.Name, mode, nil)
	return err
}

func (r *Resolver) cascadeSecondaryInputAsCache(ctx context.Context, in entry.SecondaryInputRecord) error {
	if in.Entry == nil {
		return nil // third-party build inputs are never cached by the engine
	}
	return r.markCacheEntry(ctx, in.Entry)
}

func (r *Resolver) handleMarkCache(ctx context.Context, status entry.Status, e *entry.Entry) error {
	return r.markCacheEntry(ctx, e)
}

func (r *Resolver) markCacheEntry(ctx context.Context, e *entry.Entry) error {
	status, err := r.Confirm(ctx, nil, e)
	if err != nil {
		return err
	}
	if status != entry.Available && status != entry.PlatformUnsupported {
		return xerrors.Errorf("cannot mark (%s, %s, %s) for cache: status %s", e.Target.Name, e.Type, e.Name, status)
	}
	e.HeaderMu.Lock()
	already := e.Header.CacheMark
	e.Header.CacheMark = true
	e.HeaderMu.Unlock()
	if already {
		return nil
	}
	if e.Class == entry.Primary {
		e.BuildMu.RLock()
		in := e.Build.Input
		e.BuildMu.RUnlock()
		if in.Kind == entry.InputEntry && in.PrimaryInput != nil {
			if err := r.markCacheEntry(ctx, in.PrimaryInput); err != nil {
				return err
			}
		}
	}
	for _, in := range e.NewSecondaryInputs {
		if in.Entry != nil {
			if err := r.markCacheEntry(ctx, in.Entry); err != nil {
				return err
			}
		}
	}
	return nil
}
