// Package project loads the project file describing targets, their source
// directories, visibility, and the platform tags active for a run. It is
// the YAML configuration layer of the ambient stack, in the same library
// (gopkg.in/yaml.v3) the platform configuration loader already depends on.
package project

import (
	"os"
	"sort"

	"golang.org/x/xerrors"
	"gopkg.in/yaml.v3"
)

// TargetDecl is one target's declaration in the project file.
type TargetDecl struct {
	Name       string   `yaml:"name"`
	SourceDirs []string `yaml:"sourceDirs"`
	Visible    []string `yaml:"visible"`
}

// Config is the parsed project file (spec §4.1 "project file").
type Config struct {
	Targets  []TargetDecl      `yaml:"targets"`
	Roots    []string          `yaml:"roots"`
	Tags     []string          `yaml:"tags"`
	Platform PlatformPaths     `yaml:"platform"`
	Log      string            `yaml:"log"`
	Deploy   string            `yaml:"deploy"`
	Cache    string            `yaml:"cache"`
	Staging  string            `yaml:"staging"`
	Scratch  string            `yaml:"scratch"`
}

// PlatformPaths locates the platform configuration setup file and its
// layered configuration directory (spec §4.2).
type PlatformPaths struct {
	Setup string `yaml:"setup"`
	Dir   string `yaml:"dir"`
}

// Load reads and parses the project file at path.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, xerrors.Errorf("read project file: %w", err)
	}
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, xerrors.Errorf("parse project file: %w", err)
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) validate() error {
	seen := make(map[string]bool, len(c.Targets))
	for _, t := range c.Targets {
		if seen[t.Name] {
			return xerrors.Errorf("duplicate target %q in project file", t.Name)
		}
		seen[t.Name] = true
	}
	for _, root := range c.Roots {
		if !seen[root] {
			return xerrors.Errorf("root target %q not declared", root)
		}
	}
	return nil
}

// ActiveTags returns c.Tags as a set, for platform.Load.
func (c *Config) ActiveTags() map[string]bool {
	out := make(map[string]bool, len(c.Tags))
	for _, t := range c.Tags {
		out[t] = true
	}
	return out
}

// SortedTargetNames returns every declared target name, sorted, for
// deterministic iteration in logs and tests.
func (c *Config) SortedTargetNames() []string {
	names := make([]string, len(c.Targets))
	for i, t := range c.Targets {
		names[i] = t.Name
	}
	sort.Strings(names)
	return names
}
