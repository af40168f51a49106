package task

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/distriforge/forgepack/internal/entry"
	"github.com/distriforge/forgepack/internal/registry"
	"github.com/distriforge/forgepack/internal/request"
	"golang.org/x/xerrors"
)

// stepPrimary drives a Primary entry through BuildStart (resolve and wait
// on the primary input), ProcessPrimary (discover and wait on secondary
// inputs), and ExecuteBuildRule (run the registered build rule and commit
// its result) — spec §4.5.
func (d *Dispatcher) stepPrimary(ctx context.Context, e *entry.Entry, s entry.Step) (stepOutcome, entry.Step, error) {
	info, ok := d.Registry.TypeByName(e.Type)
	if !ok {
		d.fail(e)
		return stepDone, entry.NoTask, xerrors.Errorf("type %q no longer registered", e.Type)
	}

	switch s {
	case entry.BuildStart:
		return d.primaryBuildStart(ctx, e, info)
	case entry.ProcessPrimary:
		return d.primaryProcessSecondary(ctx, e, info)
	case entry.ExecuteBuildRule:
		return d.primaryExecuteBuildRule(ctx, e, info)
	case entry.Load:
		return d.stepLoad(e, s)
	default:
		return stepDone, entry.NoTask, xerrors.Errorf("unexpected step %s for primary entry", s)
	}
}

func (d *Dispatcher) primaryBuildStart(ctx context.Context, e *entry.Entry, info registry.TypeInfo) (stepOutcome, entry.Step, error) {
	e.BuildMu.RLock()
	input := e.Build.Input
	e.BuildMu.RUnlock()

	if input.Kind == entry.InputThirdParty {
		// Import rules have no native primary input to wait on.
		return stepContinue, entry.ProcessPrimary, nil
	}
	if input.Kind != entry.InputEntry || input.PrimaryInput == nil {
		d.fail(e)
		return stepDone, entry.NoTask, xerrors.Errorf("primary input for %s/%s did not resolve", e.Type, e.Name)
	}

	status, err := d.Resolver.Request(ctx, e.Target, *info.BuildRulePrimaryInputType, e.Name, request.BuildRequired, e)
	if err != nil {
		d.fail(e)
		return stepDone, entry.NoTask, err
	}
	_ = status

	primaryStatus := readStatus(input.PrimaryInput)
	if primaryStatus == entry.Building {
		return stepPaused, entry.BuildStart, nil
	}
	if primaryStatus != entry.Available {
		d.fail(e)
		return stepDone, entry.NoTask, xerrors.Errorf("primary input for %s/%s unavailable", e.Type, e.Name)
	}
	return stepContinue, entry.ProcessPrimary, nil
}

func readStatus(e *entry.Entry) entry.Status {
	e.HeaderMu.RLock()
	defer e.HeaderMu.RUnlock()
	return e.Header.Status
}

func (d *Dispatcher) primaryProcessSecondary(ctx context.Context, e *entry.Entry, info registry.TypeInfo) (stepOutcome, entry.Step, error) {
	e.BuildMu.RLock()
	input := e.Build.Input
	e.BuildMu.RUnlock()

	var primaryData any
	if input.Kind == entry.InputEntry && input.PrimaryInput != nil {
		input.PrimaryInput.BuildMu.RLock()
		primaryData = input.PrimaryInput.Build.LoadedData
		input.PrimaryInput.BuildMu.RUnlock()
		if primaryData == nil {
			_, err := d.Resolver.Request(ctx, e.Target, *info.BuildRulePrimaryInputType, e.Name, request.BuildRequired, e)
			if err != nil {
				d.fail(e)
				return stepDone, entry.NoTask, err
			}
			input.PrimaryInput.BuildMu.RLock()
			primaryData = input.PrimaryInput.Build.LoadedData
			input.PrimaryInput.BuildMu.RUnlock()
			if primaryData == nil {
				return stepPaused, entry.ProcessPrimary, nil
			}
		}
	}

	var refs []registry.Reference
	if primaryData != nil && info.DetectReferences != nil {
		refs = info.DetectReferences(primaryData)
	}

	records := make([]entry.SecondaryInputRecord, 0, len(refs))
	allReady := true
	for _, ref := range refs {
		rec, ready, err := d.resolveSecondaryInput(ctx, e, ref)
		if err != nil {
			d.fail(e)
			return stepDone, entry.NoTask, err
		}
		records = append(records, rec)
		if !ready {
			allReady = false
		}
	}
	e.NewSecondaryInputs = records
	if !allReady {
		return stepPaused, entry.ProcessPrimary, nil
	}
	return stepContinue, entry.ExecuteBuildRule, nil
}

// resolveSecondaryInput requests one reference discovered on the primary
// input as a secondary build input. ready is false if the caller must pause
// and retry this step once the requested entry unblocks.
func (d *Dispatcher) resolveSecondaryInput(ctx context.Context, e *entry.Entry, ref registry.Reference) (entry.SecondaryInputRecord, bool, error) {
	if ref.Type == nil {
		tp, ok := e.Target.LookupThirdPartyVisible(ref.Name)
		if !ok {
			if ref.Required {
				return entry.SecondaryInputRecord{}, false, xerrors.Errorf("required third-party input %q not found", ref.Name)
			}
			return entry.SecondaryInputRecord{Name: ref.Name, Required: ref.Required}, true, nil
		}
		return entry.SecondaryInputRecord{Name: ref.Name, ThirdParty: tp, Required: ref.Required, Version: entry.Version{ModTimeNS: tp.ModTimeNS}}, true, nil
	}

	mode := request.BuildRequired
	if !ref.Required {
		mode = request.BuildPlatformOptional
	}
	sub, err := d.Resolver.Request(ctx, e.Target, *ref.Type, ref.Name, mode, e)
	if err != nil {
		return entry.SecondaryInputRecord{}, false, err
	}
	status := readStatus(sub)
	rec := entry.SecondaryInputRecord{Type: *ref.Type, Name: ref.Name, Entry: sub, Required: ref.Required}
	switch status {
	case entry.Available:
		rec.Version = sub.Header.AvailableVersion
		return rec, true, nil
	case entry.PlatformUnsupported:
		return rec, true, nil
	case entry.Building:
		return rec, false, nil
	default:
		if ref.Required {
			return rec, false, xerrors.Errorf("required secondary input (%s, %s) unavailable", *ref.Type, ref.Name)
		}
		return rec, true, nil
	}
}

func (d *Dispatcher) primaryExecuteBuildRule(ctx context.Context, e *entry.Entry, info registry.TypeInfo) (stepOutcome, entry.Step, error) {
	e.BuildMu.RLock()
	input := e.Build.Input
	e.BuildMu.RUnlock()

	rc := &registry.RuleContext{PrimaryName: e.Name}
	switch input.Kind {
	case entry.InputEntry:
		input.PrimaryInput.BuildMu.RLock()
		rc.PrimaryInput = input.PrimaryInput.Build.LoadedData
		input.PrimaryInput.BuildMu.RUnlock()
	case entry.InputThirdParty:
		rc.PrimaryThirdPartyPath = input.PrimaryThirdParty.Path
	}

	if info.BuildRulePlatformConfigType != nil {
		if cfg, ok := d.Resolver.Platform.Lookup(*info.BuildRulePlatformConfigType); ok {
			var decoded any
			if err := cfg.Decode(&decoded); err == nil {
				rc.PlatformConfiguration = decoded
			}
		}
	}

	for _, rec := range e.NewSecondaryInputs {
		in := registry.SecondaryInput{Name: rec.Name}
		if rec.Entry != nil {
			in.Type = rec.Type
			rec.Entry.BuildMu.RLock()
			in.Data = rec.Entry.Build.LoadedData
			rec.Entry.BuildMu.RUnlock()
		} else if rec.ThirdParty != nil {
			in.Path = rec.ThirdParty.Path
		}
		rc.Secondary = append(rc.Secondary, in)
	}

	rc.ProduceSecondaryOutput = func(ctx context.Context, typ, name string, data any) (string, error) {
		return d.produceSecondaryOutput(e, typ, name, data)
	}

	result := d.RuleDriver.Run(ctx, fmt.Sprintf("%s-%s-%s-%d", e.Target.Name, e.Type, e.Name, d.nextSeq()), info.BuildRule, rc)

	switch result.Outcome {
	case registry.Unsupported:
		e.HeaderMu.Lock()
		e.Header.Status = entry.PlatformUnsupported
		e.HeaderMu.Unlock()
		return stepDone, entry.NoTask, nil
	case registry.Failure:
		d.fail(e)
		return stepDone, entry.NoTask, result.Err
	}

	path, version, err := d.persistOutput(e.Target.Name, e.Type, e.Name, info, result.Data)
	if err != nil {
		d.fail(e)
		return stepDone, entry.NoTask, err
	}
	e.Location = path
	e.Build.LoadedData = result.Data
	if info.DetectReferences != nil {
		e.NewReferences = info.DetectReferences(result.Data)
	}
	e.HeaderMu.Lock()
	e.Header.Status = entry.Available
	e.Header.AvailableVersion = version
	e.HeaderMu.Unlock()
	return stepDone, entry.NoTask, nil
}

// persistOutput serializes data to a staging path unique to this (target,
// type, name), then stats it back to learn the version the new artifact
// carries (spec §4.5/§4.7: versions are always derived from on-disk state,
// never from the clock).
func (d *Dispatcher) persistOutput(target, typ, name string, info registry.TypeInfo, data any) (string, entry.Version, error) {
	dir := filepath.Join(d.StagingRoot, target, typ)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", entry.Version{}, err
	}
	path := filepath.Join(dir, name)
	if d.Writer != nil {
		f, err := os.Create(path)
		if err != nil {
			return "", entry.Version{}, err
		}
		_, werr := d.Writer.Write(f, typ, data, true)
		cerr := f.Close()
		if werr != nil {
			return "", entry.Version{}, werr
		}
		if cerr != nil {
			return "", entry.Version{}, cerr
		}
	}
	modTimeNS, ok := statModTimeNS(path)
	if !ok {
		return "", entry.Version{}, xerrors.Errorf("stat produced output %s", path)
	}
	return path, entry.Version{TypeVersion: info.Version, ModTimeNS: modTimeNS}, nil
}

// produceSecondaryOutput implements the produce_secondary_output callback
// (spec §4.5, §8 scenario 5): it reuses whatever entry already exists for
// (typ, name) — whether stubbed from the prior log's incremental rebuild
// case or created fresh here — and only rejects a genuine double emission
// within this run, tracked by the entry's own transient output slot rather
// than by the entry's mere existence.
func (d *Dispatcher) produceSecondaryOutput(producer *entry.Entry, typ, name string, data any) (string, error) {
	info, ok := d.Registry.TypeByName(typ)
	if !ok {
		return "", xerrors.Errorf("secondary output type %q not registered", typ)
	}
	target := producer.Target

	se, ok := target.LookupLocal(typ, name)
	if !ok {
		created, err := target.CreateNative(typ, name, entry.Secondary)
		if err != nil {
			// Lost the race to another goroutine producing the same
			// (type, name) concurrently; use whichever entry now exists.
			existing, ok := target.LookupLocal(typ, name)
			if !ok {
				return "", err
			}
			se = existing
		} else {
			se = created
		}
	}

	se.BuildMu.Lock()
	if se.Build.SecondaryOutputSlot != nil {
		se.BuildMu.Unlock()
		return "", xerrors.Errorf("secondary output (%s, %s) already produced this run", typ, name)
	}
	se.Build.SecondaryOutputSlot = data
	se.Build.Input = entry.InputRef{Kind: entry.InputProducer, Producer: producer}
	se.BuildMu.Unlock()

	path, version, err := d.persistOutput(target.Name, typ, name, info, data)
	if err != nil {
		return "", err
	}
	se.Location = path
	se.Build.LoadedData = data
	if info.DetectReferences != nil {
		se.NewReferences = info.DetectReferences(data)
	}
	se.HeaderMu.Lock()
	se.Header.Status = entry.Available
	se.Header.AvailableVersion = version
	se.HeaderMu.Unlock()
	return path, nil
}
