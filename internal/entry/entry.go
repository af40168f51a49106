// Package entry implements the resource entry model (spec §3): native
// resource entries with their three production classes, third-party blob
// entries, and the per-entry header/build-state locking discipline that the
// rest of the engine (confirm, request, task, deploy, pack) builds on.
//
// Entries live in a per-target arena (Target.arena, a []*Entry) and are
// addressed by direct pointer between packages — the Go-idiomatic rendering
// of "stable index into an arena" from the design notes: appending to the
// arena never invalidates an already-issued *Entry, so pointers are exactly
// as stable as the indices they replace, without an extra indirection layer.
package entry

import (
	"sync"
	"sync/atomic"

	"github.com/distriforge/forgepack/internal/registry"
)

// Class is the production class of a native resource entry.
type Class int

const (
	Raw Class = iota
	Primary
	Secondary
)

func (c Class) String() string {
	switch c {
	case Raw:
		return "raw"
	case Primary:
		return "primary"
	case Secondary:
		return "secondary"
	default:
		return "unknown_class"
	}
}

// Status is the confirmed up-to-dateness state of an entry.
type Status int

const (
	Unconfirmed Status = iota
	Unavailable
	Building
	Available
	PlatformUnsupported
	OutOfScope
)

func (s Status) String() string {
	switch s {
	case Unconfirmed:
		return "unconfirmed"
	case Unavailable:
		return "unavailable"
	case Building:
		return "building"
	case Available:
		return "available"
	case PlatformUnsupported:
		return "platform_unsupported"
	case OutOfScope:
		return "out_of_scope"
	default:
		return "unknown_status"
	}
}

// Step is the coroutine-like continuation of a build task (spec §4.5,
// §9 "coroutine-like task state"): the engine simulates cooperative
// yielding by returning Paused and recording which Step to resume at.
type Step int

const (
	NoTask Step = iota
	BuildStart
	ProcessPrimary
	ExecuteBuildRule
	Load
)

func (s Step) String() string {
	switch s {
	case NoTask:
		return "none"
	case BuildStart:
		return "build_start"
	case ProcessPrimary:
		return "process_primary"
	case ExecuteBuildRule:
		return "execute_build_rule"
	case Load:
		return "load"
	default:
		return "unknown_step"
	}
}

// Version identifies a produced artifact's freshness.
type Version struct {
	TypeVersion   uint64
	ModTimeNS     int64
}

// VersionUpToDate mirrors the log's log_version_up_to_date comparison: the
// type version and modification time must both match exactly.
func VersionUpToDate(prior, current Version) bool {
	return prior.TypeVersion == current.TypeVersion && prior.ModTimeNS == current.ModTimeNS
}

// InputKind discriminates the tagged union of what a Primary or Secondary
// entry is produced from (spec §3 "internal_primary_input_entry |
// internal_primary_input_third_party | internal_producer_entry").
type InputKind int

const (
	InputNone InputKind = iota
	InputEntry
	InputThirdParty
	InputProducer
)

// InputRef is the sum type for an entry's production source.
type InputRef struct {
	Kind            InputKind
	PrimaryInput    *Entry
	PrimaryThirdParty *ThirdPartyEntry
	Producer        *Entry
}

// SecondaryInputRecord is one resolved secondary input gathered during
// ProcessPrimary (spec §4.5), recorded so the log writer can persist it and
// so status confirmation can re-check it without a second name lookup.
type SecondaryInputRecord struct {
	Type       string
	Name       string
	Entry      *Entry // nil if ThirdParty is set
	ThirdParty *ThirdPartyEntry
	Required   bool
	Version    Version // the input's version at the time it was consumed
}

// Header holds the fields guarded by Entry.HeaderMu (spec §3).
type Header struct {
	Status                 Status
	AvailableVersion       Version
	DeploymentMark         bool
	CacheMark              bool
	PassedBuildRoutineMark bool
}

// BuildState holds the fields guarded by Entry.BuildMu (spec §3). Per the
// locking invariant (spec §5), BuildMu is never taken before HeaderMu on the
// same entry.
type BuildState struct {
	NextTask               Step
	LoadedData             any
	LoadedDataRequestCount int
	BlockedOthers          []*Entry
	Paused                 bool
	BlockCounter           atomic.Int32
	SecondaryOutputSlot    any
	Input                  InputRef
	Enqueued               bool
	// Terminal is set once this entry will never again drain its
	// BlockedOthers list (build finished, or data finished loading) — a
	// requester that finds it already set must re-read this entry's state
	// directly instead of blocking on an unblock that already happened.
	Terminal bool
}

// PriorLog is the tagged prior-log-record pointer used by the status
// confirmer (spec §3 "pointers into the previous log").
type PriorLog struct {
	Raw       *PriorRaw
	Built     *PriorBuilt
	Secondary *PriorSecondary
}

type PriorRaw struct {
	Version Version
	Deployed bool
}

type PriorBuilt struct {
	Version                 Version
	RuleVersion              uint64
	PlatformConfigFileTimeNS int64
	PrimaryInputVersion      Version
	SecondaryInputs          []SecondaryInputRecord
	SavedDirectory           SavedDirectory
	References               []registry.Reference
}

type PriorSecondary struct {
	Version         Version
	ProducerType    string
	ProducerName    string
	Producer        *Entry // resolved during log materialization, same target
	ProducerVersion Version
	SavedDirectory  SavedDirectory
	References      []registry.Reference
}

// SavedDirectory is where an entry's file physically lives (spec §3 log).
type SavedDirectory int

const (
	SavedNone SavedDirectory = iota
	SavedDeploy
	SavedCache
	SavedUnsupported
)

// Entry is a native resource entry, identified by (Target, Type, Name).
type Entry struct {
	ID     int // position in Target.arena, stable for the run's lifetime
	Target *Target
	Type   string
	Name   string
	Class  Class

	HeaderMu sync.RWMutex
	Header   Header

	BuildMu sync.RWMutex
	Build   BuildState

	// Location is the entry's current on-disk path: a workspace-temporary
	// path during a run, then the deploy/cache path after migration.
	Location string

	Prior PriorLog

	NewReferences      []registry.Reference
	NewSecondaryInputs []SecondaryInputRecord
}

// ThirdPartyEntry is an opaque blob entry the engine never deserializes.
type ThirdPartyEntry struct {
	Target    *Target
	Name      string
	Path      string
	ModTimeNS int64
}

// Key identifies a native entry for error messages and log indexing.
type Key struct {
	Target string
	Type   string
	Name   string
}

func (e *Entry) Key() Key {
	return Key{Target: e.Target.Name, Type: e.Type, Name: e.Name}
}
