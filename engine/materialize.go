package engine

import (
	"github.com/distriforge/forgepack/internal/buildlog"
	"github.com/distriforge/forgepack/internal/entry"
	"github.com/distriforge/forgepack/internal/registry"
)

// materialize attaches the previous run's log to this run's entries: Raw
// prior records are matched against entries the scanner already created;
// Primary and Secondary entries that were produced (not scanned) are first
// stubbed in across every target (pass one) and only then have their
// cross-entry references resolved (pass two), so a producer chain that
// spans multiple log records resolves regardless of record order.
func materialize(g *entry.Graph, prevLog *buildlog.Log, reg registry.Registry) {
	for _, t := range g.Targets() {
		tl, ok := prevLog.Targets[t.Name]
		if !ok {
			continue
		}
		attachRaw(t, tl.Raw)
		stubBuilt(t, tl.Built)
		stubSecondary(t, tl.Secondary)
	}
	for _, t := range g.Targets() {
		tl, ok := prevLog.Targets[t.Name]
		if !ok {
			continue
		}
		resolveBuilt(t, tl.Built, reg)
		resolveSecondary(t, tl.Secondary)
	}
}

func attachRaw(t *entry.Target, recs []buildlog.RawRecord) {
	for _, rec := range recs {
		e, ok := t.LookupLocal(rec.Type, rec.Name)
		if !ok {
			continue // source file removed since the last run
		}
		e.Prior.Raw = &entry.PriorRaw{Version: rec.Version, Deployed: rec.Deployed}
		e.NewReferences = rec.References
	}
}

func stubBuilt(t *entry.Target, recs []buildlog.BuiltRecord) {
	for _, rec := range recs {
		if _, exists := t.LookupLocal(rec.Type, rec.Name); exists {
			continue
		}
		if _, err := t.CreateNative(rec.Type, rec.Name, entry.Primary); err != nil {
			continue
		}
	}
}

func stubSecondary(t *entry.Target, recs []buildlog.SecondaryRecord) {
	for _, rec := range recs {
		if _, exists := t.LookupLocal(rec.Type, rec.Name); exists {
			continue
		}
		if _, err := t.CreateNative(rec.Type, rec.Name, entry.Secondary); err != nil {
			continue
		}
	}
}

func resolveBuilt(t *entry.Target, recs []buildlog.BuiltRecord, reg registry.Registry) {
	for _, rec := range recs {
		e, ok := t.LookupLocal(rec.Type, rec.Name)
		if !ok {
			continue
		}
		prior := &entry.PriorBuilt{
			Version:                  rec.Version,
			RuleVersion:              rec.RuleVersion,
			PlatformConfigFileTimeNS: rec.PlatformConfigFileTimeNS,
			PrimaryInputVersion:      rec.PrimaryInputVersion,
			SavedDirectory:           rec.SavedDirectory,
			References:               rec.References,
		}
		for _, sec := range rec.SecondaryInputs {
			prior.SecondaryInputs = append(prior.SecondaryInputs, resolveSecondaryInputRecord(t, sec))
		}
		e.Prior.Built = prior
		e.NewReferences = rec.References

		e.BuildMu.Lock()
		e.Build.Input = resolvePrimaryInputRef(reg, t, e)
		e.BuildMu.Unlock()
	}
}

func resolveSecondaryInputRecord(t *entry.Target, sec buildlog.SecondaryInputLogRecord) entry.SecondaryInputRecord {
	if sec.Type == "" {
		tp, _ := t.LookupThirdPartyVisible(sec.Name)
		return entry.SecondaryInputRecord{Name: sec.Name, ThirdParty: tp, Required: sec.Required, Version: sec.Version}
	}
	in, _ := t.LookupVisible(sec.Type, sec.Name)
	return entry.SecondaryInputRecord{Type: sec.Type, Name: sec.Name, Entry: in, Required: sec.Required, Version: sec.Version}
}

func resolvePrimaryInputRef(reg registry.Registry, t *entry.Target, e *entry.Entry) entry.InputRef {
	info, ok := reg.TypeByName(e.Type)
	if !ok {
		return entry.InputRef{}
	}
	if info.BuildRulePrimaryInputType == nil {
		if tp, ok := t.LookupThirdPartyLocal(e.Name); ok {
			return entry.InputRef{Kind: entry.InputThirdParty, PrimaryThirdParty: tp}
		}
		return entry.InputRef{}
	}
	if in, ok := t.LookupLocal(*info.BuildRulePrimaryInputType, e.Name); ok {
		return entry.InputRef{Kind: entry.InputEntry, PrimaryInput: in}
	}
	return entry.InputRef{}
}

func resolveSecondary(t *entry.Target, recs []buildlog.SecondaryRecord) {
	for _, rec := range recs {
		e, ok := t.LookupLocal(rec.Type, rec.Name)
		if !ok {
			continue
		}
		producer, _ := t.LookupLocal(rec.ProducerType, rec.ProducerName)
		e.Prior.Secondary = &entry.PriorSecondary{
			Version:         rec.Version,
			ProducerType:    rec.ProducerType,
			ProducerName:    rec.ProducerName,
			Producer:        producer,
			ProducerVersion: rec.ProducerVersion,
			SavedDirectory:  rec.SavedDirectory,
			References:      rec.References,
		}
		e.NewReferences = rec.References
		if producer != nil {
			e.BuildMu.Lock()
			e.Build.Input = entry.InputRef{Kind: entry.InputProducer, Producer: producer}
			e.BuildMu.Unlock()
		}
	}
}
