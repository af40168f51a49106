package task

import (
	"context"
	"testing"

	"github.com/distriforge/forgepack/internal/entry"
	"github.com/distriforge/forgepack/internal/registry"
)

func TestRunDropsSecondaryEntryWhoseProducerDidNotReemitIt(t *testing.T) {
	d, _, tgt := newDispatcher(t, registry.NewStatic())
	producer, err := tgt.CreateNative("atlas", "a", entry.Primary)
	if err != nil {
		t.Fatal(err)
	}
	producer.Build.LoadedData = "already loaded"
	producer.HeaderMu.Lock()
	producer.Header.Status = entry.Available
	producer.HeaderMu.Unlock()

	se, err := tgt.CreateNative("atlas_page", "a_1", entry.Secondary)
	if err != nil {
		t.Fatal(err)
	}
	se.BuildMu.Lock()
	se.Build.Input = entry.InputRef{Kind: entry.InputProducer, Producer: producer}
	se.Build.NextTask = entry.BuildStart
	se.BuildMu.Unlock()
	se.HeaderMu.Lock()
	se.Header.Status = entry.Building
	se.HeaderMu.Unlock()

	d.EnqueueTail(se)
	if err := d.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	se.HeaderMu.RLock()
	status := se.Header.Status
	se.HeaderMu.RUnlock()
	if status != entry.Unavailable {
		t.Errorf("Status = %v, want Unavailable (producer never re-emitted this run)", status)
	}
}

func TestRunAdoptsSecondaryEntryAlreadyReemittedByItsProducer(t *testing.T) {
	d, _, tgt := newDispatcher(t, registry.NewStatic())
	producer, err := tgt.CreateNative("atlas", "a", entry.Primary)
	if err != nil {
		t.Fatal(err)
	}
	producer.Build.LoadedData = "already loaded"
	producer.HeaderMu.Lock()
	producer.Header.Status = entry.Available
	producer.HeaderMu.Unlock()

	se, err := tgt.CreateNative("atlas_page", "a_0", entry.Secondary)
	if err != nil {
		t.Fatal(err)
	}
	se.Location = "/workspace/atlas_page/a_0"
	se.BuildMu.Lock()
	se.Build.Input = entry.InputRef{Kind: entry.InputProducer, Producer: producer}
	se.Build.SecondaryOutputSlot = "page data"
	se.Build.NextTask = entry.BuildStart
	se.BuildMu.Unlock()
	se.HeaderMu.Lock()
	// produce_secondary_output already published this, exactly as it would
	// have for a real rule run; BuildStart/ProcessPrimary must leave it be.
	se.Header.Status = entry.Available
	se.HeaderMu.Unlock()

	d.EnqueueTail(se)
	if err := d.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	se.HeaderMu.RLock()
	status := se.Header.Status
	se.HeaderMu.RUnlock()
	if status != entry.Available {
		t.Errorf("Status = %v, want Available (producer re-emitted this run)", status)
	}
}

func TestRunDropsSecondaryEntryWhoseProducerWentUnavailable(t *testing.T) {
	d, _, tgt := newDispatcher(t, registry.NewStatic())
	producer, err := tgt.CreateNative("atlas", "a", entry.Primary)
	if err != nil {
		t.Fatal(err)
	}
	producer.Build.LoadedData = "already loaded"
	producer.HeaderMu.Lock()
	producer.Header.Status = entry.Unavailable
	producer.HeaderMu.Unlock()

	se, err := tgt.CreateNative("atlas_page", "a_0", entry.Secondary)
	if err != nil {
		t.Fatal(err)
	}
	se.BuildMu.Lock()
	se.Build.Input = entry.InputRef{Kind: entry.InputProducer, Producer: producer}
	se.Build.NextTask = entry.BuildStart
	se.BuildMu.Unlock()
	se.HeaderMu.Lock()
	se.Header.Status = entry.Building
	se.HeaderMu.Unlock()

	d.EnqueueTail(se)
	if err := d.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	se.HeaderMu.RLock()
	status := se.Header.Status
	se.HeaderMu.RUnlock()
	if status != entry.Unavailable {
		t.Errorf("Status = %v, want Unavailable", status)
	}
}
