package pack

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/distriforge/forgepack/internal/entry"
)

func makeDeployedEntry(t *testing.T, tgt *entry.Target, typ, name, content string) {
	t.Helper()
	e, err := tgt.CreateNative(typ, name, entry.Raw)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	e.Location = path
	e.Header.Status = entry.Available
	e.Header.DeploymentMark = true
}

func untarNames(t *testing.T, gzBytes []byte) []string {
	t.Helper()
	gz, err := gzip.NewReader(bytes.NewReader(gzBytes))
	if err != nil {
		t.Fatalf("gzip.NewReader: %v", err)
	}
	tr := tar.NewReader(gz)
	var names []string
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("tar.Next: %v", err)
		}
		names = append(names, hdr.Name)
	}
	return names
}

func TestEmitWritesIndexFirstThenSortedEntries(t *testing.T) {
	g := entry.NewGraph(nil)
	tgt, err := g.CreateTarget("core")
	if err != nil {
		t.Fatal(err)
	}
	makeDeployedEntry(t, tgt, "document", "zeta", "z")
	makeDeployedEntry(t, tgt, "document", "alpha", "a")

	var buf bytes.Buffer
	if err := Emit(&buf, tgt, false); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	names := untarNames(t, buf.Bytes())
	want := []string{indexName, "document/alpha", "document/zeta"}
	if len(names) != len(want) {
		t.Fatalf("names = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("names[%d] = %q, want %q", i, names[i], want[i])
		}
	}
}

func TestEmitSkipsUndeployedEntries(t *testing.T) {
	g := entry.NewGraph(nil)
	tgt, err := g.CreateTarget("core")
	if err != nil {
		t.Fatal(err)
	}
	e, err := tgt.CreateNative("document", "hidden", entry.Raw)
	if err != nil {
		t.Fatal(err)
	}
	e.Header.Status = entry.Available // never marked for deployment

	var buf bytes.Buffer
	if err := Emit(&buf, tgt, false); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	names := untarNames(t, buf.Bytes())
	if len(names) != 1 || names[0] != indexName {
		t.Errorf("names = %v, want only the index", names)
	}
}
