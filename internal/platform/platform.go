// Package platform implements the layered platform-configuration loader
// (spec §3 "Platform configuration", §4.2 C: platform configuration
// loader). Configuration entries are tag-gated and merged across layers in
// priority order into a single type → (data, newest contributing file time)
// mapping, consulted later by status confirmation and the build-rule
// driver.
package platform

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/xerrors"
	"gopkg.in/yaml.v3"
)

// setupDoc is the root file enumerating layers in priority order.
type setupDoc struct {
	Layers []string `yaml:"layers"`
}

// entryDoc is one configuration-directory entry.
type entryDoc struct {
	Layer string     `yaml:"layer"`
	Tags  []string   `yaml:"tags"`
	Type  string     `yaml:"type"`
	Patch yaml.Node `yaml:"patch"`
}

// Entry is one merged configuration type's data plus the most recent
// modification time among its contributing files.
type Entry struct {
	Type          string
	Data          yaml.Node
	NewestFileTimeNS int64
}

// Decode unmarshals this entry's merged data into out.
func (e Entry) Decode(out any) error {
	return e.Data.Decode(out)
}

// Config is the merged type → Entry mapping for one active tag set.
type Config struct {
	byType map[string]Entry
}

func (c *Config) Lookup(typ string) (Entry, bool) {
	e, ok := c.byType[typ]
	return e, ok
}

func (c *Config) Types() []string {
	out := make([]string, 0, len(c.byType))
	for t := range c.byType {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Err* are the sentinel causes mapped to result.Code by the engine phase
// wrapper; they are returned wrapped with additional context.
var (
	ErrNotFound       = xerrors.Errorf("platform configuration setup file not found")
	ErrUnknownFile    = xerrors.Errorf("platform configuration directory contains a non-readable-data file")
	ErrUnknownLayer   = xerrors.Errorf("platform configuration entry references an undeclared layer")
	ErrDuplicateLayer = xerrors.Errorf("platform configuration setup file declares the same layer twice")
	ErrDuplicateType  = xerrors.Errorf("platform configuration layer enables the same type twice")
)

// Load reads setupPath (a YAML document with a `layers` list in priority
// order), walks dir for `*.rd.yaml` entry files, drops entries whose
// required tags are not all present in activeTags, rejects duplicate
// enabled types within one layer, and merges layers in setup order (later
// layers override earlier ones) into a single Config (spec §4.2).
func Load(setupPath, dir string, activeTags map[string]bool) (*Config, error) {
	setupBytes, err := os.ReadFile(setupPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, xerrors.Errorf("%w: %s", ErrNotFound, setupPath)
		}
		return nil, xerrors.Errorf("read setup file: %w", err)
	}
	var setup setupDoc
	if err := yaml.Unmarshal(setupBytes, &setup); err != nil {
		return nil, xerrors.Errorf("parse setup file: %w", err)
	}

	layerIndex := make(map[string]int, len(setup.Layers))
	for i, l := range setup.Layers {
		if _, exists := layerIndex[l]; exists {
			return nil, xerrors.Errorf("%w: %q", ErrDuplicateLayer, l)
		}
		layerIndex[l] = i
	}

	type parsed struct {
		doc      entryDoc
		fileTime int64
	}
	byLayer := make(map[string][]parsed)

	walkErr := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if !strings.HasSuffix(path, ".rd.yaml") {
			return xerrors.Errorf("%w: %s", ErrUnknownFile, path)
		}
		b, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		var doc entryDoc
		if err := yaml.Unmarshal(b, &doc); err != nil {
			return xerrors.Errorf("parse %s: %w", path, err)
		}
		if _, ok := layerIndex[doc.Layer]; !ok {
			return xerrors.Errorf("%w: %q (in %s)", ErrUnknownLayer, doc.Layer, path)
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		byLayer[doc.Layer] = append(byLayer[doc.Layer], parsed{doc: doc, fileTime: info.ModTime().UnixNano()})
		return nil
	})
	if walkErr != nil {
		if os.IsNotExist(walkErr) {
			return nil, xerrors.Errorf("%w: %s", ErrNotFound, dir)
		}
		return nil, walkErr
	}

	merged := make(map[string]Entry)
	for _, layer := range setup.Layers {
		enabledTypes := make(map[string]bool)
		for _, p := range byLayer[layer] {
			if !tagsSatisfied(p.doc.Tags, activeTags) {
				continue
			}
			if enabledTypes[p.doc.Type] {
				return nil, xerrors.Errorf("%w: %q in layer %q", ErrDuplicateType, p.doc.Type, layer)
			}
			enabledTypes[p.doc.Type] = true

			existing, had := merged[p.doc.Type]
			newest := p.fileTime
			if had && existing.NewestFileTimeNS > newest {
				newest = existing.NewestFileTimeNS
			}
			merged[p.doc.Type] = Entry{Type: p.doc.Type, Data: p.doc.Patch, NewestFileTimeNS: newest}
		}
	}

	return &Config{byType: merged}, nil
}

func tagsSatisfied(required []string, active map[string]bool) bool {
	for _, tag := range required {
		if !active[tag] {
			return false
		}
	}
	return true
}
