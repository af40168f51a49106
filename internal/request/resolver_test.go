package request

import (
	"context"
	"testing"

	"github.com/distriforge/forgepack/internal/entry"
	"github.com/distriforge/forgepack/internal/registry"
)

type fakeQueue struct {
	tail []*entry.Entry
	head []*entry.Entry
}

func (q *fakeQueue) EnqueueTail(e *entry.Entry) { q.tail = append(q.tail, e) }
func (q *fakeQueue) EnqueueHead(e *entry.Entry) { q.head = append(q.head, e) }

func newResolver(t *testing.T, reg registry.Registry) (*Resolver, *entry.Graph, *entry.Target, *fakeQueue) {
	t.Helper()
	g := entry.NewGraph(nil)
	tgt, err := g.CreateTarget("core")
	if err != nil {
		t.Fatal(err)
	}
	q := &fakeQueue{}
	return &Resolver{Graph: g, Registry: reg, Queue: q}, g, tgt, q
}

func TestBlockReturnsFalseOnceProducerIsTerminal(t *testing.T) {
	reg := registry.NewStatic()
	r, _, tgt, _ := newResolver(t, reg)
	producer, err := tgt.CreateNative("wordindex", "x", entry.Primary)
	if err != nil {
		t.Fatal(err)
	}
	requester, err := tgt.CreateNative("other", "y", entry.Primary)
	if err != nil {
		t.Fatal(err)
	}

	if ok := r.block(requester, producer); !ok {
		t.Fatal("block should succeed while producer is not terminal")
	}
	if requester.Build.BlockCounter.Load() != 1 {
		t.Errorf("BlockCounter = %d, want 1", requester.Build.BlockCounter.Load())
	}
	if len(producer.Build.BlockedOthers) != 1 || producer.Build.BlockedOthers[0] != requester {
		t.Errorf("BlockedOthers = %v, want [requester]", producer.Build.BlockedOthers)
	}

	producer.BuildMu.Lock()
	producer.Build.Terminal = true
	producer.BuildMu.Unlock()

	other, err := tgt.CreateNative("other", "z", entry.Primary)
	if err != nil {
		t.Fatal(err)
	}
	if ok := r.block(other, producer); ok {
		t.Error("block should report false once the producer is terminal")
	}
	if other.Build.BlockCounter.Load() != 0 {
		t.Errorf("BlockCounter for a rejected block = %d, want 0", other.Build.BlockCounter.Load())
	}
}

func TestFindOrCreateRejectsUnknownType(t *testing.T) {
	reg := registry.NewStatic()
	r, _, tgt, _ := newResolver(t, reg)
	if _, err := r.findOrCreate(tgt, "nosuchtype", "x", BuildRequired); err == nil {
		t.Error("expected an error for a type with no registered build rule")
	}
}

func TestFindOrCreateBuildsPrimaryFromImportRule(t *testing.T) {
	reg := registry.NewStatic()
	reg.Register(registry.TypeInfo{Name: "blob", ProducedFromBuildRule: true})
	r, _, tgt, q := newResolver(t, reg)
	if _, err := tgt.CreateThirdParty("x", "/dev/null", 42); err != nil {
		t.Fatal(err)
	}

	e, err := r.findOrCreate(tgt, "blob", "x", BuildRequired)
	if err != nil {
		t.Fatalf("findOrCreate: %v", err)
	}
	if e.Build.Input.Kind != entry.InputThirdParty {
		t.Errorf("Input.Kind = %v, want InputThirdParty", e.Build.Input.Kind)
	}
	if len(q.tail) != 1 || q.tail[0] != e {
		t.Errorf("queue.tail = %v, want [e]", q.tail)
	}
	e.HeaderMu.RLock()
	status := e.Header.Status
	e.HeaderMu.RUnlock()
	if status != entry.Building {
		t.Errorf("Status = %v, want Building", status)
	}
}

func TestHandleBuildRequiredFirstRequesterTriggersLoad(t *testing.T) {
	reg := registry.NewStatic()
	r, _, tgt, q := newResolver(t, reg)
	e, err := tgt.CreateNative("document", "x", entry.Raw)
	if err != nil {
		t.Fatal(err)
	}
	e.HeaderMu.Lock()
	e.Header.Status = entry.Available
	e.HeaderMu.Unlock()

	if err := r.handleBuildRequired(entry.Available, e, nil, false); err != nil {
		t.Fatalf("handleBuildRequired: %v", err)
	}
	if len(q.head) != 1 {
		t.Fatalf("queue.head = %v, want one Load enqueued", q.head)
	}
	if e.Build.NextTask != entry.Load {
		t.Errorf("NextTask = %v, want Load", e.Build.NextTask)
	}

	// A second requester, arriving before the load completes, must not
	// re-trigger the load.
	if err := r.handleBuildRequired(entry.Available, e, nil, false); err != nil {
		t.Fatalf("handleBuildRequired (second): %v", err)
	}
	if len(q.head) != 1 {
		t.Errorf("queue.head = %v, want still one entry (no duplicate load)", q.head)
	}
}

func TestHandleBuildRequiredPlatformUnsupported(t *testing.T) {
	reg := registry.NewStatic()
	r, _, tgt, _ := newResolver(t, reg)
	e, err := tgt.CreateNative("document", "x", entry.Raw)
	if err != nil {
		t.Fatal(err)
	}

	if err := r.handleBuildRequired(entry.PlatformUnsupported, e, nil, true); err != nil {
		t.Errorf("platform-optional request should succeed: %v", err)
	}
	if err := r.handleBuildRequired(entry.PlatformUnsupported, e, nil, false); err == nil {
		t.Error("required request for a platform-unsupported entry should fail")
	}
}

func TestHandleMarkDeploymentRejectsUnavailable(t *testing.T) {
	reg := registry.NewStatic()
	r, _, tgt, _ := newResolver(t, reg)
	e, err := tgt.CreateNative("document", "x", entry.Raw)
	if err != nil {
		t.Fatal(err)
	}
	if err := r.handleMarkDeployment(context.Background(), entry.Unavailable, e, false); err == nil {
		t.Error("expected MarkDeployment on an unavailable entry to fail")
	}
}

func TestHandleMarkDeploymentIsIdempotent(t *testing.T) {
	reg := registry.NewStatic()
	r, _, tgt, _ := newResolver(t, reg)
	e, err := tgt.CreateNative("document", "x", entry.Raw)
	if err != nil {
		t.Fatal(err)
	}
	e.HeaderMu.Lock()
	e.Header.Status = entry.Available
	e.HeaderMu.Unlock()

	if err := r.handleMarkDeployment(context.Background(), entry.Available, e, false); err != nil {
		t.Fatalf("first mark: %v", err)
	}
	if err := r.handleMarkDeployment(context.Background(), entry.Available, e, false); err != nil {
		t.Fatalf("second mark (idempotent): %v", err)
	}
	if !e.Header.DeploymentMark {
		t.Error("DeploymentMark not set")
	}
}
