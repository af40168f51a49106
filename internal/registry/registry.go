// Package registry models the reflection/type registry the engine consumes
// but never implements (spec §6): per-type size/alignment/init/shutdown,
// optional move/reset, reference detection and the build-rule function
// pointer. Only the interface lives in this module; a real registry is
// populated by plugin-loaded type descriptors outside the engine's scope.
package registry

import "context"

// RuleOutcome is the three-way result a build rule function can produce.
type RuleOutcome int

const (
	Success RuleOutcome = iota
	Unsupported
	Failure
)

// Reference is a (type?, name, flags) edge detected in a resource's
// serialized form. A nil Type denotes a third-party reference.
type Reference struct {
	Type     *string
	Name     string
	Required bool
}

// RuleContext is the value the engine builds and a build rule consumes (spec
// §6 build-rule context). ProduceSecondaryOutput lets the rule emit side
// outputs; Workspace is a rule-private scratch directory the engine creates
// and the rule-execution driver removes on exit.
type RuleContext struct {
	PrimaryName            string
	PrimaryInput           any    // nil iff this is an import rule
	PrimaryThirdPartyPath  string // set iff this is an import rule
	Secondary              []SecondaryInput
	PlatformConfiguration  any
	Workspace              string
	ProduceSecondaryOutput func(ctx context.Context, typ, name string, data any) (string, error)
}

// SecondaryInput is one entry of the secondary-input linked list handed to a
// build rule: either loaded native data (Type set) or a third-party path.
type SecondaryInput struct {
	Type string // empty string denotes third-party
	Name string
	Data any
	Path string
}

// RuleFunc is the per-type build rule function pointer.
type RuleFunc func(ctx context.Context, rc *RuleContext) (any, RuleOutcome, error)

// TypeInfo is the per-type descriptor the reflection registry exposes.
type TypeInfo struct {
	Name    string
	Version uint64

	Init     func() any
	Shutdown func(any)
	Move     func(dst, src any) any
	Reset    func(any)

	ProducedFromBuildRule           bool
	BuildRuleVersion                uint64
	BuildRulePrimaryInputType       *string // nil => import rule
	BuildRulePlatformConfigType     *string
	BuildRuleSecondaryTypes         []string
	BuildRule                       RuleFunc
	DetectReferences                func(data any) []Reference
}

// Registry is the read-only view the engine depends on.
type Registry interface {
	TypeByName(name string) (TypeInfo, bool)
}

// Static is an in-memory Registry, the concrete instance used by the CLI and
// by tests in lieu of a plugin-loaded one.
type Static struct {
	types map[string]TypeInfo
}

func NewStatic() *Static {
	return &Static{types: make(map[string]TypeInfo)}
}

func (s *Static) Register(info TypeInfo) {
	s.types[info.Name] = info
}

func (s *Static) TypeByName(name string) (TypeInfo, bool) {
	t, ok := s.types[name]
	return t, ok
}
