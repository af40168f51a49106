// Package rule implements the build-rule driver (spec §4.6, C5): it
// materializes a registry.RuleContext, gives the rule function a scratch
// workspace directory, invokes it, and interprets the RuleOutcome.
package rule

import (
	"context"
	"os"
	"path/filepath"

	"github.com/distriforge/forgepack/internal/registry"
	"golang.org/x/xerrors"
)

// Driver owns the root scratch directory rules get their per-invocation
// subdirectories under.
type Driver struct {
	ScratchRoot string
}

// New ensures the scratch root exists.
func New(scratchRoot string) (*Driver, error) {
	if err := os.MkdirAll(scratchRoot, 0o755); err != nil {
		return nil, xerrors.Errorf("create rule scratch root: %w", err)
	}
	return &Driver{ScratchRoot: scratchRoot}, nil
}

// Result is the outcome of one ExecuteBuildRule step (spec §4.6).
type Result struct {
	Data    any
	Outcome registry.RuleOutcome
	Err     error
}

// Run creates a fresh per-invocation workspace directory, invokes fn with a
// RuleContext pointed at it, and tears the workspace down afterward
// regardless of outcome — rules are not permitted to leave scratch state
// behind between invocations (spec §4.6 "workspace torn down on every
// exit path").
func (d *Driver) Run(ctx context.Context, invocationID string, fn registry.RuleFunc, rc *registry.RuleContext) Result {
	ws := filepath.Join(d.ScratchRoot, invocationID)
	if err := os.MkdirAll(ws, 0o755); err != nil {
		return Result{Outcome: registry.Failure, Err: xerrors.Errorf("create rule workspace: %w", err)}
	}
	defer os.RemoveAll(ws)

	rc.Workspace = ws
	data, outcome, err := fn(ctx, rc)
	if err != nil && outcome == registry.Success {
		outcome = registry.Failure
	}
	return Result{Data: data, Outcome: outcome, Err: err}
}
