package scan

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/distriforge/forgepack/internal/codec"
	"github.com/distriforge/forgepack/internal/entry"
)

func TestScanClassifiesReadableBinaryAndThirdParty(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "readme.rd.yaml"), []byte("type: document\ndata:\n  Title: hi\n  Body: hello\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "icon.png"), []byte{0x89, 'P', 'N', 'G'}, 0o644); err != nil {
		t.Fatal(err)
	}
	var bin bytes.Buffer
	if _, err := (&codec.GobBinary{}).Write(&bin, "document", map[string]string{"Title": "notes"}, true); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.bin"), bin.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}

	g := entry.NewGraph(nil)
	tgt, err := g.CreateTarget("core")
	if err != nil {
		t.Fatal(err)
	}
	tgt.SourceDirs = []string{dir}

	if err := Scan(tgt); err != nil {
		t.Fatalf("Scan: %v", err)
	}

	if _, ok := tgt.LookupLocal("document", "readme"); !ok {
		t.Error("expected a document/readme entry from the .rd.yaml file")
	}
	if _, ok := tgt.LookupLocal("document", "notes"); !ok {
		t.Error("expected a document/notes entry from the .bin file")
	}
	if _, ok := tgt.LookupThirdPartyLocal("icon.png"); !ok {
		t.Error("expected icon.png to be scanned as a third-party entry")
	}
}

func TestScanRejectsDuplicateRawResource(t *testing.T) {
	dirA := t.TempDir()
	dirB := t.TempDir()
	body := []byte("type: document\ndata:\n  Title: x\n  Body: y\n")
	if err := os.WriteFile(filepath.Join(dirA, "readme.rd.yaml"), body, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dirB, "readme.rd.yaml"), body, 0o644); err != nil {
		t.Fatal(err)
	}

	g := entry.NewGraph(nil)
	tgt, err := g.CreateTarget("core")
	if err != nil {
		t.Fatal(err)
	}
	tgt.SourceDirs = []string{dirA, dirB}

	if err := Scan(tgt); err == nil {
		t.Error("expected a name collision across source directories to fail the scan")
	}
}
