package entry

import (
	"log"
	"sync"

	"github.com/distriforge/forgepack/internal/codec"
	"golang.org/x/xerrors"
	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
)

// Target is a named collection of source directories and its
// transitively-visible peer set (spec §3, §4.1).
type Target struct {
	Name string

	mu         sync.RWMutex
	native     map[string]map[string]*Entry // type -> name -> entry
	thirdParty map[string]*ThirdPartyEntry  // name -> entry
	arena      []*Entry

	VisibleNames   []string  // directly declared visibility (C1 "link" input)
	Visible        []*Target // resolved directly-visible targets
	Linear         []*Target // engine-computed transitive linearization
	MarkedForBuild bool
	SourceDirs     []string

	// Intern is the optional per-target string-intern registry the pack
	// emitter uses in interned mode (spec §3 Target, §4.8).
	Intern *codec.Intern

	gid int64 // node id in the visibility graph, assigned by the Graph
}

func newTarget(name string, gid int64) *Target {
	return &Target{
		Name:       name,
		native:     make(map[string]map[string]*Entry),
		thirdParty: make(map[string]*ThirdPartyEntry),
		gid:        gid,
	}
}

func (t *Target) ID() int64 { return t.gid }

// LookupLocal finds a native entry declared directly on t.
func (t *Target) LookupLocal(typ, name string) (*Entry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	byName, ok := t.native[typ]
	if !ok {
		return nil, false
	}
	e, ok := byName[name]
	return e, ok
}

// LookupThirdPartyLocal finds a third-party entry declared directly on t.
func (t *Target) LookupThirdPartyLocal(name string) (*ThirdPartyEntry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.thirdParty[name]
	return e, ok
}

// LookupVisible resolves (type, name) using local-first, then linearized
// visibility order, first match wins (spec §4.1).
func (t *Target) LookupVisible(typ, name string) (*Entry, bool) {
	if e, ok := t.LookupLocal(typ, name); ok {
		return e, true
	}
	for _, v := range t.Linear {
		if e, ok := v.LookupLocal(typ, name); ok {
			return e, true
		}
	}
	return nil, false
}

// LookupThirdPartyVisible is the third-party analogue of LookupVisible.
func (t *Target) LookupThirdPartyVisible(name string) (*ThirdPartyEntry, bool) {
	if e, ok := t.LookupThirdPartyLocal(name); ok {
		return e, true
	}
	for _, v := range t.Linear {
		if e, ok := v.LookupThirdPartyLocal(name); ok {
			return e, true
		}
	}
	return nil, false
}

// CreateNative inserts a newly materialized entry into the target's arena
// and index. Returns an error if (type, name) already exists.
func (t *Target) CreateNative(typ, name string, class Class) (*Entry, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	byName, ok := t.native[typ]
	if !ok {
		byName = make(map[string]*Entry)
		t.native[typ] = byName
	}
	if _, exists := byName[name]; exists {
		return nil, xerrors.Errorf("entry (%s, %s, %s) already exists", t.Name, typ, name)
	}
	e := &Entry{
		ID:     len(t.arena),
		Target: t,
		Type:   typ,
		Name:   name,
		Class:  class,
	}
	t.arena = append(t.arena, e)
	byName[name] = e
	return e, nil
}

// CreateThirdParty inserts a newly scanned third-party entry.
func (t *Target) CreateThirdParty(name, path string, modTimeNS int64) (*ThirdPartyEntry, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.thirdParty[name]; exists {
		return nil, xerrors.Errorf("third-party entry (%s, %s) already exists", t.Name, name)
	}
	e := &ThirdPartyEntry{Target: t, Name: name, Path: path, ModTimeNS: modTimeNS}
	t.thirdParty[name] = e
	return e, nil
}

// AllEntries returns a snapshot of every native entry in arena order, used
// by the deployment migrator, the pack emitter, and the log writer.
func (t *Target) AllEntries() []*Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*Entry, len(t.arena))
	copy(out, t.arena)
	return out
}

// AllThirdParty returns a snapshot of every third-party entry.
func (t *Target) AllThirdParty() []*ThirdPartyEntry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*ThirdPartyEntry, 0, len(t.thirdParty))
	for _, e := range t.thirdParty {
		out = append(out, e)
	}
	return out
}

// Graph owns every Target for one engine run and computes the visibility
// linearization (spec §4.1, C1).
type Graph struct {
	Log     *log.Logger
	byName  map[string]*Target
	order   []*Target
	g       *simple.DirectedGraph
	nextGID int64
}

func NewGraph(logger *log.Logger) *Graph {
	return &Graph{
		Log:    logger,
		byName: make(map[string]*Target),
		g:      simple.NewDirectedGraph(),
	}
}

// CreateTarget creates one Target per project-defined target; duplicate
// names are an error (spec §4.1).
func (g *Graph) CreateTarget(name string) (*Target, error) {
	if _, exists := g.byName[name]; exists {
		return nil, xerrors.Errorf("duplicate target %q", name)
	}
	t := newTarget(name, g.nextGID)
	g.nextGID++
	g.byName[name] = t
	g.order = append(g.order, t)
	g.g.AddNode(t)
	return t, nil
}

func (g *Graph) Target(name string) (*Target, bool) {
	t, ok := g.byName[name]
	return t, ok
}

func (g *Graph) Targets() []*Target {
	out := make([]*Target, len(g.order))
	copy(out, g.order)
	return out
}

// Link resolves each target's declared visible names into *Target pointers
// and records a visibility edge; a missing name is an error (spec §4.1).
func (g *Graph) Link() error {
	for _, t := range g.order {
		for _, name := range t.VisibleNames {
			v, ok := g.byName[name]
			if !ok {
				return xerrors.Errorf("target %q: visible target %q not found", t.Name, name)
			}
			t.Visible = append(t.Visible, v)
			g.g.SetEdge(g.g.NewEdge(t, v))
		}
	}
	return nil
}

// Linearize extends each target's visible list by the union of its visible
// targets' visible lists (transitive closure, skipping self), using an
// expanding-array walk: iteration uses the live length of the accumulator so
// newly-appended targets are themselves expanded (spec §4.1).
func (g *Graph) Linearize() {
	for _, t := range g.order {
		seen := map[string]bool{t.Name: true}
		acc := make([]*Target, 0, len(t.Visible))
		for _, v := range t.Visible {
			if !seen[v.Name] {
				seen[v.Name] = true
				acc = append(acc, v)
			}
		}
		for i := 0; i < len(acc); i++ {
			for _, v := range acc[i].Visible {
				if !seen[v.Name] {
					seen[v.Name] = true
					acc = append(acc, v)
				}
			}
		}
		t.Linear = acc
	}
}

// DetectVisibilityCycle reports whether the visibility graph is
// unorderable, the way internal/batch.Ctx.Build uses topo.Sort on the
// package dependency graph to find cyclic components.
func (g *Graph) DetectVisibilityCycle() ([][]graph.Node, bool) {
	if _, err := topo.Sort(g.g); err != nil {
		if uo, ok := err.(topo.Unorderable); ok {
			return uo, true
		}
	}
	return nil, false
}

// MarkForBuild flags t as directly selected and propagates the mark along
// visibility: if A is marked and B is visible from A, B is marked too
// (spec §4.1; logged at debug level on each inherited propagation).
func (g *Graph) MarkForBuild(names []string) error {
	for _, name := range names {
		t, ok := g.byName[name]
		if !ok {
			return xerrors.Errorf("mark for build: target %q not found", name)
		}
		t.MarkedForBuild = true
	}
	// Propagate marks after linearization so visibility is already
	// transitive: every directly-visible-or-further target of a marked one
	// inherits the mark.
	for _, t := range g.order {
		if !t.MarkedForBuild {
			continue
		}
		for _, v := range t.Linear {
			if !v.MarkedForBuild {
				v.MarkedForBuild = true
				if g.Log != nil {
					g.Log.Printf("target %q marked for build (inherited visibility from %q)", v.Name, t.Name)
				}
			}
		}
	}
	return nil
}
