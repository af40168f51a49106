// Package types registers the example resource types the stock forgepack
// binary builds with: a minimal chain exercising every production class
// (Raw, Primary, Secondary) through one native-style build rule (no
// import-style rule is registered), the way the teacher's own cmd/distri build rules
// (cmd/distri/internal/shrinkwrap-style package builds) are plugged into a
// reflection registry rather than hardcoded into the engine.
package types

import (
	"context"
	"sort"
	"strings"

	"github.com/distriforge/forgepack/internal/registry"
	"golang.org/x/xerrors"
)

// Document is a raw, authored `.rd.yaml` resource: a title and a body.
type Document struct {
	Title string
	Body  string
}

// WordIndex is produced from a Document by the "wordindex" build rule: each
// distinct lower-cased word in its body mapped to its occurrence count. The
// map has no order; sortedWords gives a sorted view.
type WordIndex struct {
	Title string
	Count map[string]int
}

// Digest is produced as a secondary output of the "wordindex" build rule:
// a compact summary side artifact (spec §4.5 ProduceSecondaryOutput), one
// per WordIndex, named after it.
type Digest struct {
	UniqueWords int
	TotalWords  int
}

// RegisterAll installs every example type into reg.
func RegisterAll(reg *registry.Static) {
	reg.Register(registry.TypeInfo{
		Name:    "document",
		Version: 1,
		Init:    func() any { return &Document{} },
	})
	reg.Register(registry.TypeInfo{
		Name:                       "wordindex",
		Version:                    1,
		Init:                       func() any { return &WordIndex{} },
		ProducedFromBuildRule:      true,
		BuildRuleVersion:           1,
		BuildRulePrimaryInputType:  strPtr("document"),
		BuildRuleSecondaryTypes:    nil,
		BuildRule:                  buildWordIndex,
		DetectReferences:           nil,
	})
	reg.Register(registry.TypeInfo{
		Name:    "digest",
		Version: 1,
		Init:    func() any { return &Digest{} },
	})
}

func strPtr(s string) *string { return &s }

// buildWordIndex is the "wordindex" build rule (spec §6 RuleFunc): it
// tallies the body's words and, as a side effect, produces a Digest
// secondary output summarizing the tally.
func buildWordIndex(ctx context.Context, rc *registry.RuleContext) (any, registry.RuleOutcome, error) {
	doc, ok := rc.PrimaryInput.(*Document)
	if !ok || doc == nil {
		return nil, registry.Failure, xerrors.Errorf("wordindex: primary input is not a *Document")
	}

	counts := make(map[string]int)
	for _, w := range strings.Fields(doc.Body) {
		counts[strings.ToLower(w)]++
	}
	idx := &WordIndex{Title: doc.Title, Count: counts}

	if rc.ProduceSecondaryOutput != nil {
		total := 0
		for _, n := range counts {
			total += n
		}
		digest := &Digest{UniqueWords: len(counts), TotalWords: total}
		if _, err := rc.ProduceSecondaryOutput(ctx, "digest", rc.PrimaryName, digest); err != nil {
			return nil, registry.Failure, xerrors.Errorf("wordindex: produce digest: %w", err)
		}
	}

	return idx, registry.Success, nil
}

// sortedWords is a small helper kept for callers (e.g. tests) that want a
// deterministic view of a WordIndex's vocabulary.
func sortedWords(idx *WordIndex) []string {
	words := make([]string, 0, len(idx.Count))
	for w := range idx.Count {
		words = append(words, w)
	}
	sort.Strings(words)
	return words
}
