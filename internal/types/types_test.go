package types

import (
	"context"
	"testing"

	"github.com/distriforge/forgepack/internal/registry"
)

func TestBuildWordIndexCountsAndDigests(t *testing.T) {
	doc := &Document{Title: "greeting", Body: "hello world hello Go"}

	var gotType string
	var gotName string
	var gotData any
	rc := &registry.RuleContext{
		PrimaryName:  "greeting",
		PrimaryInput: doc,
		ProduceSecondaryOutput: func(ctx context.Context, typ, name string, data any) (string, error) {
			gotType, gotName, gotData = typ, name, data
			return "", nil
		},
	}

	data, outcome, err := buildWordIndex(context.Background(), rc)
	if err != nil {
		t.Fatalf("buildWordIndex: %v", err)
	}
	if outcome != registry.Success {
		t.Fatalf("outcome = %v, want Success", outcome)
	}
	idx, ok := data.(*WordIndex)
	if !ok {
		t.Fatalf("data is %T, want *WordIndex", data)
	}
	if idx.Count["hello"] != 2 {
		t.Errorf("count[hello] = %d, want 2", idx.Count["hello"])
	}
	want := []string{"go", "hello", "world"}
	got := sortedWords(idx)
	if len(got) != len(want) {
		t.Fatalf("sortedWords = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sortedWords[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	if gotType != "digest" || gotName != "greeting" {
		t.Errorf("secondary output = (%q, %q), want (digest, greeting)", gotType, gotName)
	}
	digest, ok := gotData.(*Digest)
	if !ok {
		t.Fatalf("secondary output data is %T, want *Digest", gotData)
	}
	if digest.UniqueWords != 3 || digest.TotalWords != 4 {
		t.Errorf("digest = %+v, want {UniqueWords:3 TotalWords:4}", digest)
	}
}

func TestBuildWordIndexRejectsWrongInputType(t *testing.T) {
	rc := &registry.RuleContext{PrimaryInput: "not a document"}
	_, outcome, err := buildWordIndex(context.Background(), rc)
	if err == nil {
		t.Fatal("expected error for wrong primary input type")
	}
	if outcome != registry.Failure {
		t.Errorf("outcome = %v, want Failure", outcome)
	}
}

func TestRegisterAllRegistersEveryType(t *testing.T) {
	reg := registry.NewStatic()
	RegisterAll(reg)
	for _, name := range []string{"document", "wordindex", "digest"} {
		if _, ok := reg.TypeByName(name); !ok {
			t.Errorf("type %q not registered", name)
		}
	}
	info, _ := reg.TypeByName("wordindex")
	if info.BuildRulePrimaryInputType == nil || *info.BuildRulePrimaryInputType != "document" {
		t.Errorf("wordindex primary input type = %v, want document", info.BuildRulePrimaryInputType)
	}
}
