package entry

import (
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func names(ts []*Target) []string {
	out := make([]string, len(ts))
	for i, t := range ts {
		out[i] = t.Name
	}
	sort.Strings(out)
	return out
}

func TestLinearizeTransitiveClosure(t *testing.T) {
	g := NewGraph(nil)
	a, _ := g.CreateTarget("a")
	b, _ := g.CreateTarget("b")
	c, _ := g.CreateTarget("c")
	d, _ := g.CreateTarget("d")
	a.VisibleNames = []string{"b"}
	b.VisibleNames = []string{"c"}
	c.VisibleNames = []string{"d"}

	if err := g.Link(); err != nil {
		t.Fatalf("Link: %v", err)
	}
	g.Linearize()

	got := names(a.Linear)
	want := []string{"b", "c", "d"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("a.Linear mismatch (-want +got):\n%s", diff)
	}
	if len(d.Linear) != 0 {
		t.Errorf("d.Linear = %v, want empty", names(d.Linear))
	}
}

func TestLinearizeSkipsSelfReference(t *testing.T) {
	g := NewGraph(nil)
	a, _ := g.CreateTarget("a")
	b, _ := g.CreateTarget("b")
	a.VisibleNames = []string{"b"}
	b.VisibleNames = []string{"a"}

	if err := g.Link(); err != nil {
		t.Fatalf("Link: %v", err)
	}
	g.Linearize()

	if got := names(a.Linear); len(got) != 1 || got[0] != "b" {
		t.Errorf("a.Linear = %v, want [b]", got)
	}
}

func TestDetectVisibilityCycle(t *testing.T) {
	g := NewGraph(nil)
	a, _ := g.CreateTarget("a")
	b, _ := g.CreateTarget("b")
	a.VisibleNames = []string{"b"}
	b.VisibleNames = []string{"a"}
	if err := g.Link(); err != nil {
		t.Fatalf("Link: %v", err)
	}
	if _, cyclic := g.DetectVisibilityCycle(); !cyclic {
		t.Error("expected a visibility cycle to be detected")
	}
}

func TestLinkUnknownVisibleTargetFails(t *testing.T) {
	g := NewGraph(nil)
	a, _ := g.CreateTarget("a")
	a.VisibleNames = []string{"ghost"}
	if err := g.Link(); err == nil {
		t.Error("expected Link to fail on an undeclared visible target")
	}
}

func TestCreateNativeRejectsDuplicates(t *testing.T) {
	g := NewGraph(nil)
	tgt, _ := g.CreateTarget("a")
	if _, err := tgt.CreateNative("document", "x", Raw); err != nil {
		t.Fatalf("first CreateNative: %v", err)
	}
	if _, err := tgt.CreateNative("document", "x", Raw); err == nil {
		t.Error("expected duplicate CreateNative to fail")
	}
}

func TestLookupVisibleFallsBackToVisibility(t *testing.T) {
	g := NewGraph(nil)
	base, _ := g.CreateTarget("base")
	derived, _ := g.CreateTarget("derived")
	derived.VisibleNames = []string{"base"}
	if err := g.Link(); err != nil {
		t.Fatalf("Link: %v", err)
	}
	g.Linearize()

	e, err := base.CreateNative("document", "shared", Raw)
	if err != nil {
		t.Fatalf("CreateNative: %v", err)
	}
	got, ok := derived.LookupVisible("document", "shared")
	if !ok || got != e {
		t.Errorf("LookupVisible from derived = (%v, %v), want (%v, true)", got, ok, e)
	}
	if _, ok := base.LookupVisible("document", "nonexistent"); ok {
		t.Error("LookupVisible found an entry that was never created")
	}
}

func TestMarkForBuildPropagatesAlongVisibility(t *testing.T) {
	g := NewGraph(nil)
	root, _ := g.CreateTarget("root")
	dep, _ := g.CreateTarget("dep")
	root.VisibleNames = []string{"dep"}
	if err := g.Link(); err != nil {
		t.Fatalf("Link: %v", err)
	}
	g.Linearize()

	if err := g.MarkForBuild([]string{"root"}); err != nil {
		t.Fatalf("MarkForBuild: %v", err)
	}
	if !root.MarkedForBuild || !dep.MarkedForBuild {
		t.Errorf("MarkedForBuild = (root:%v dep:%v), want both true", root.MarkedForBuild, dep.MarkedForBuild)
	}
}
