package rule

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/distriforge/forgepack/internal/registry"
)

func TestRunTearsDownWorkspaceAfterSuccess(t *testing.T) {
	d, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	var sawWorkspace string
	fn := func(ctx context.Context, rc *registry.RuleContext) (any, registry.RuleOutcome, error) {
		sawWorkspace = rc.Workspace
		if _, err := os.Stat(rc.Workspace); err != nil {
			t.Fatalf("workspace does not exist during rule execution: %v", err)
		}
		return "ok", registry.Success, nil
	}
	res := d.Run(context.Background(), "inv-1", fn, &registry.RuleContext{})
	if res.Outcome != registry.Success || res.Data != "ok" {
		t.Fatalf("res = %+v, want Success/ok", res)
	}
	if _, err := os.Stat(sawWorkspace); !os.IsNotExist(err) {
		t.Errorf("workspace %q still exists after Run returned", sawWorkspace)
	}
}

func TestRunForcesFailureOutcomeOnError(t *testing.T) {
	d, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	fn := func(ctx context.Context, rc *registry.RuleContext) (any, registry.RuleOutcome, error) {
		return nil, registry.Success, os.ErrInvalid
	}
	res := d.Run(context.Background(), "inv-2", fn, &registry.RuleContext{})
	if res.Outcome != registry.Failure {
		t.Errorf("Outcome = %v, want Failure when fn returns a non-nil error", res.Outcome)
	}
	if res.Err != os.ErrInvalid {
		t.Errorf("Err = %v, want os.ErrInvalid", res.Err)
	}
}

func TestRunPropagatesUnsupportedOutcome(t *testing.T) {
	d, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	fn := func(ctx context.Context, rc *registry.RuleContext) (any, registry.RuleOutcome, error) {
		return nil, registry.Unsupported, nil
	}
	res := d.Run(context.Background(), "inv-3", fn, &registry.RuleContext{})
	if res.Outcome != registry.Unsupported {
		t.Errorf("Outcome = %v, want Unsupported", res.Outcome)
	}
}

func TestEachInvocationGetsASeparateWorkspace(t *testing.T) {
	d, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	var first, second string
	fn := func(id *string) registry.RuleFunc {
		return func(ctx context.Context, rc *registry.RuleContext) (any, registry.RuleOutcome, error) {
			*id = rc.Workspace
			return nil, registry.Success, nil
		}
	}
	d.Run(context.Background(), "a", fn(&first), &registry.RuleContext{})
	d.Run(context.Background(), "b", fn(&second), &registry.RuleContext{})
	if first == second {
		t.Error("two invocations got the same workspace path")
	}
	if filepath.Dir(first) != filepath.Dir(second) {
		t.Error("workspaces should share the same scratch root")
	}
}
