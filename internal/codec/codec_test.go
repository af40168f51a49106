package codec

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/distriforge/forgepack/internal/stream"
)

type sample struct {
	Title string
	Count int
}

func TestGobBinaryRoundTripsWithHeader(t *testing.T) {
	var buf bytes.Buffer
	c := &GobBinary{}
	if _, err := c.Write(&buf, "sample", &sample{Title: "hi", Count: 3}, true); err != nil {
		t.Fatalf("Write: %v", err)
	}
	var got sample
	status, err := c.Read(&buf, "sample", true, &got)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if status != stream.Finished {
		t.Errorf("status = %v, want Finished", status)
	}
	if got != (sample{Title: "hi", Count: 3}) {
		t.Errorf("got = %+v, want {hi 3}", got)
	}
}

func TestGobBinaryRejectsTypeHeaderMismatch(t *testing.T) {
	var buf bytes.Buffer
	c := &GobBinary{}
	if _, err := c.Write(&buf, "sample", &sample{Title: "x"}, true); err != nil {
		t.Fatalf("Write: %v", err)
	}
	var got sample
	if _, err := c.Read(&buf, "other", true, &got); err == nil {
		t.Error("expected a type header mismatch error")
	}
}

func TestYAMLReadableRoundTripsWithHeader(t *testing.T) {
	var buf bytes.Buffer
	c := YAMLReadable{}
	if _, err := c.Write(&buf, "sample", &sample{Title: "hi", Count: 2}, true); err != nil {
		t.Fatalf("Write: %v", err)
	}
	var got sample
	if _, err := c.Read(&buf, "sample", true, &got); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got != (sample{Title: "hi", Count: 2}) {
		t.Errorf("got = %+v, want {hi 2}", got)
	}
}

func TestCompositeWritesBinaryAndReadsItBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "entry")
	c := &Composite{}
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Write(f, "sample", &sample{Title: "a", Count: 1}, false); err != nil {
		t.Fatal(err)
	}
	f.Close()

	rf, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer rf.Close()
	var got sample
	status, err := c.Read(rf, "sample", false, &got)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if status != stream.Finished {
		t.Errorf("status = %v, want Finished", status)
	}
	if got != (sample{Title: "a", Count: 1}) {
		t.Errorf("got = %+v, want {a 1}", got)
	}
}

func TestCompositeSniffsReadableFormatAheadOfBinary(t *testing.T) {
	path := filepath.Join(t.TempDir(), "entry")
	if err := os.WriteFile(path, []byte("Title: b\nCount: 7\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	rf, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer rf.Close()

	c := &Composite{}
	var got sample
	status, err := c.Read(rf, "sample", false, &got)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if status != stream.Finished {
		t.Errorf("status = %v, want Finished", status)
	}
	if got != (sample{Title: "b", Count: 7}) {
		t.Errorf("got = %+v, want {b 7}", got)
	}
}
