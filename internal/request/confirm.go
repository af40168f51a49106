package request

import (
	"context"

	"github.com/distriforge/forgepack/internal/entry"
)

// Confirm is the status confirmer (spec §4.3, C2): it decides whether e's
// previously recorded artifact, if any, is still up to date, recursing into
// e's own dependencies (primary input, secondary inputs, or producer) as
// needed. backtrace carries the chain of entries currently being confirmed
// on this goroutine's call stack, used to detect and report a circular
// resource dependency instead of recursing forever.
//
// Confirm commits its decision to e.Header.Status (and, when the decision is
// Available or PlatformUnsupported, e.Header.AvailableVersion) only while
// holding a write lock and only if the entry is still Unconfirmed under that
// lock — a second caller racing to confirm the same entry sees the first
// caller's committed result instead of recomputing it.
func (r *Resolver) Confirm(ctx context.Context, backtrace []entry.Key, e *entry.Entry) (entry.Status, error) {
	e.HeaderMu.RLock()
	status := e.Header.Status
	e.HeaderMu.RUnlock()
	if status != entry.Unconfirmed {
		return status, nil
	}

	key := e.Key()
	for _, k := range backtrace {
		if k == key {
			chain := append(append([]entry.Key{}, backtrace...), key)
			if r.Log != nil {
				r.Log.Printf("circular resource dependency detected: %v", chain)
			}
			return entry.Unconfirmed, &circularErr{chain: chain}
		}
	}
	nextBacktrace := append(append([]entry.Key{}, backtrace...), key)

	var (
		candidate entry.Status
		version   entry.Version
		err       error
	)
	switch e.Class {
	case entry.Raw:
		candidate, version, err = r.confirmRaw(e)
	case entry.Primary:
		candidate, version, err = r.confirmPrimary(ctx, nextBacktrace, e)
	case entry.Secondary:
		candidate, version, err = r.confirmSecondary(ctx, nextBacktrace, e)
	default:
		candidate, err = entry.Unavailable, nil
	}
	if err != nil {
		return entry.Unavailable, err
	}

	e.HeaderMu.Lock()
	wonRace := e.Header.Status == entry.Unconfirmed
	if wonRace {
		e.Header.Status = candidate
		if candidate == entry.Available || candidate == entry.PlatformUnsupported {
			e.Header.AvailableVersion = version
		}
	}
	committed := e.Header.Status
	e.HeaderMu.Unlock()

	// A fresh Building verdict needs a worker to actually run BuildStart;
	// an entry created by findOrCreate already queued itself and never
	// passes through here Unconfirmed, so this is the only enqueue point
	// for scanned raw entries and stubbed built/secondary entries whose
	// prior artifact turned out stale.
	if wonRace && committed == entry.Building {
		e.BuildMu.Lock()
		alreadyEnqueued := e.Build.Enqueued
		e.Build.Enqueued = true
		e.Build.NextTask = entry.BuildStart
		e.BuildMu.Unlock()
		if !alreadyEnqueued && r.Queue != nil {
			r.Queue.EnqueueTail(e)
		}
	}
	return committed, nil
}

// confirmRaw implements spec §4.3's raw-entry checks: the source file must
// exist and its modification time must still match the prior log entry's.
func (r *Resolver) confirmRaw(e *entry.Entry) (entry.Status, entry.Version, error) {
	if e.Location == "" {
		return entry.Unavailable, entry.Version{}, nil
	}
	modTimeNS, ok := statModTimeNS(e.Location)
	if !ok {
		return entry.Unavailable, entry.Version{}, nil
	}
	var typeVersion uint64
	if info, ok := r.Registry.TypeByName(e.Type); ok {
		typeVersion = info.Version
	}
	current := entry.Version{TypeVersion: typeVersion, ModTimeNS: modTimeNS}
	if e.Prior.Raw == nil || !entry.VersionUpToDate(e.Prior.Raw.Version, current) {
		return entry.Building, entry.Version{}, nil
	}
	return entry.Available, e.Prior.Raw.Version, nil
}

// confirmPrimary implements spec §4.3's built-entry checks: registered rule
// still present, rule/type version unchanged, platform configuration
// unchanged, primary input still available and up to date, and every
// recorded secondary input still available and up to date.
func (r *Resolver) confirmPrimary(ctx context.Context, backtrace []entry.Key, e *entry.Entry) (entry.Status, entry.Version, error) {
	info, ok := r.Registry.TypeByName(e.Type)
	if !ok || !info.ProducedFromBuildRule {
		return entry.Unavailable, entry.Version{}, nil
	}
	prior := e.Prior.Built
	if prior == nil {
		return entry.Building, entry.Version{}, nil
	}
	if prior.RuleVersion != info.BuildRuleVersion || prior.Version.TypeVersion != info.Version {
		return entry.Building, entry.Version{}, nil
	}
	if info.BuildRulePlatformConfigType != nil {
		cfg, ok := r.Platform.Lookup(*info.BuildRulePlatformConfigType)
		if !ok {
			return entry.Unavailable, entry.Version{}, nil
		}
		if cfg.NewestFileTimeNS != prior.PlatformConfigFileTimeNS {
			return entry.Building, entry.Version{}, nil
		}
	}

	status, err := r.confirmPrimaryInput(ctx, backtrace, e, prior)
	if err != nil || status != entry.Available {
		return status, entry.Version{}, err
	}

	for _, rec := range prior.SecondaryInputs {
		status, err := r.confirmRecordedInput(ctx, backtrace, rec)
		if err != nil || status != entry.Available {
			return status, entry.Version{}, err
		}
	}

	if prior.SavedDirectory == entry.SavedUnsupported {
		return entry.PlatformUnsupported, prior.Version, nil
	}
	return entry.Available, prior.Version, nil
}

// confirmPrimaryInput checks e's own build.Input, which was resolved once
// either at on-demand creation (request.findOrCreate) or at log
// materialization time, exactly as the original engine re-checks
// entry->build.internal_primary_input_entry directly rather than
// re-resolving it by name on every confirm.
func (r *Resolver) confirmPrimaryInput(ctx context.Context, backtrace []entry.Key, e *entry.Entry, prior *entry.PriorBuilt) (entry.Status, error) {
	e.BuildMu.RLock()
	input := e.Build.Input
	e.BuildMu.RUnlock()

	switch input.Kind {
	case entry.InputThirdParty:
		if input.PrimaryThirdParty == nil {
			return entry.Unavailable, nil
		}
		if prior.PrimaryInputVersion.ModTimeNS != input.PrimaryThirdParty.ModTimeNS {
			return entry.Building, nil
		}
		return entry.Available, nil
	case entry.InputEntry:
		if input.PrimaryInput == nil {
			return entry.Unavailable, nil
		}
		status, err := r.Confirm(ctx, backtrace, input.PrimaryInput)
		if err != nil {
			return entry.Unavailable, err
		}
		switch status {
		case entry.Building:
			return entry.Building, nil
		case entry.Available:
			if !entry.VersionUpToDate(prior.PrimaryInputVersion, input.PrimaryInput.Header.AvailableVersion) {
				return entry.Building, nil
			}
			return entry.Available, nil
		default:
			return entry.Unavailable, nil
		}
	default:
		return entry.Unavailable, nil
	}
}

// confirmRecordedInput re-checks one secondary input resolved during the
// ProcessPrimary step that produced the prior build.
func (r *Resolver) confirmRecordedInput(ctx context.Context, backtrace []entry.Key, rec entry.SecondaryInputRecord) (entry.Status, error) {
	if rec.Entry == nil {
		if rec.ThirdParty == nil {
			return entry.Unavailable, nil
		}
		if rec.Version.ModTimeNS != rec.ThirdParty.ModTimeNS {
			return entry.Building, nil
		}
		return entry.Available, nil
	}

	status, err := r.Confirm(ctx, backtrace, rec.Entry)
	if err != nil {
		return entry.Unavailable, err
	}
	switch status {
	case entry.Building:
		return entry.Building, nil
	case entry.Available:
		if !entry.VersionUpToDate(rec.Version, rec.Entry.Header.AvailableVersion) {
			return entry.Building, nil
		}
		return entry.Available, nil
	case entry.PlatformUnsupported:
		if !rec.Required {
			return entry.Available, nil
		}
		return entry.Unavailable, nil
	default:
		return entry.Unavailable, nil
	}
}

// confirmSecondary implements spec §4.3's secondary-entry checks: the
// producer must still resolve (secondary entries live in their producer's
// target) and be Available at the recorded version.
func (r *Resolver) confirmSecondary(ctx context.Context, backtrace []entry.Key, e *entry.Entry) (entry.Status, entry.Version, error) {
	prior := e.Prior.Secondary
	if prior == nil || prior.Producer == nil {
		return entry.Unavailable, entry.Version{}, nil
	}
	info, ok := r.Registry.TypeByName(e.Type)
	if !ok || info.Version != prior.Version.TypeVersion {
		return entry.Building, entry.Version{}, nil
	}
	status, err := r.Confirm(ctx, backtrace, prior.Producer)
	if err != nil {
		return entry.Unavailable, entry.Version{}, err
	}
	switch status {
	case entry.Building:
		return entry.Building, entry.Version{}, nil
	case entry.Available:
		if !entry.VersionUpToDate(prior.ProducerVersion, prior.Producer.Header.AvailableVersion) {
			return entry.Unavailable, entry.Version{}, nil
		}
		return entry.Available, prior.Version, nil
	default:
		return entry.Unavailable, entry.Version{}, nil
	}
}
