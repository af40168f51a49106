package engine

import (
	"github.com/distriforge/forgepack/internal/buildlog"
	"github.com/distriforge/forgepack/internal/entry"
	"github.com/distriforge/forgepack/internal/platform"
	"github.com/distriforge/forgepack/internal/registry"
)

// appendLogRecord converts e's post-build, post-migration state into the
// record the next run's status confirmation will read back (spec §4.7).
// Entries that never resolved to Available or PlatformUnsupported this run
// (still Unconfirmed, Unavailable, or — should the run have been aborted —
// Building) are omitted, so a partial run never poisons the next one with a
// record claiming up-to-dateness it never earned. An entry that resolved but
// was never marked for deployment or cache is also omitted: nothing records
// its up-to-dateness because nothing will ever read that record back.
func appendLogRecord(tl *buildlog.TargetLog, e *entry.Entry, saved entry.SavedDirectory, reg registry.Registry, platformCfg *platform.Config) {
	e.HeaderMu.RLock()
	status := e.Header.Status
	version := e.Header.AvailableVersion
	deployed := e.Header.DeploymentMark
	cached := e.Header.CacheMark
	e.HeaderMu.RUnlock()

	if status != entry.Available && status != entry.PlatformUnsupported {
		return
	}
	if !deployed && !cached {
		return
	}

	switch e.Class {
	case entry.Raw:
		tl.Raw = append(tl.Raw, buildlog.RawRecord{
			Type: e.Type, Name: e.Name, Version: version, Deployed: deployed, References: e.NewReferences,
		})
	case entry.Primary:
		var secIn []buildlog.SecondaryInputLogRecord
		for _, rec := range e.NewSecondaryInputs {
			secIn = append(secIn, buildlog.SecondaryInputLogRecord{
				Type: rec.Type, Name: rec.Name, Version: rec.Version, Required: rec.Required,
			})
		}
		var primaryInputVersion entry.Version
		e.BuildMu.RLock()
		switch e.Build.Input.Kind {
		case entry.InputEntry:
			if e.Build.Input.PrimaryInput != nil {
				primaryInputVersion = e.Build.Input.PrimaryInput.Header.AvailableVersion
			}
		case entry.InputThirdParty:
			if e.Build.Input.PrimaryThirdParty != nil {
				primaryInputVersion = entry.Version{ModTimeNS: e.Build.Input.PrimaryThirdParty.ModTimeNS}
			}
		}
		e.BuildMu.RUnlock()

		var ruleVersion uint64
		var platformConfigFileTimeNS int64
		var hasPlatformConfig bool
		if info, ok := reg.TypeByName(e.Type); ok {
			ruleVersion = info.BuildRuleVersion
			if info.BuildRulePlatformConfigType != nil {
				hasPlatformConfig = true
				if cfg, ok := platformCfg.Lookup(*info.BuildRulePlatformConfigType); ok {
					platformConfigFileTimeNS = cfg.NewestFileTimeNS
				}
			}
		}

		tl.Built = append(tl.Built, buildlog.BuiltRecord{
			Type: e.Type, Name: e.Name, Version: version,
			RuleVersion:              ruleVersion,
			PlatformConfigFileTimeNS: platformConfigFileTimeNS,
			HasPlatformConfig:        hasPlatformConfig,
			PrimaryInputVersion:      primaryInputVersion,
			SecondaryInputs:          secIn,
			SavedDirectory:           saved,
			References:               e.NewReferences,
		})
	case entry.Secondary:
		var producerType, producerName string
		var producerVersion entry.Version
		e.BuildMu.RLock()
		if e.Build.Input.Kind == entry.InputProducer && e.Build.Input.Producer != nil {
			producerType = e.Build.Input.Producer.Type
			producerName = e.Build.Input.Producer.Name
			producerVersion = e.Build.Input.Producer.Header.AvailableVersion
		}
		e.BuildMu.RUnlock()
		tl.Secondary = append(tl.Secondary, buildlog.SecondaryRecord{
			Type: e.Type, Name: e.Name, Version: version,
			ProducerType: producerType, ProducerName: producerName, ProducerVersion: producerVersion,
			SavedDirectory: saved, References: e.NewReferences,
		})
	}
}
