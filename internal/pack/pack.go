// Package pack implements the deployable pack emitter (spec §4.8, C8): it
// walks every deployed entry of a target, writes a sorted resource index
// plus each entry's bytes into a tar stream, and gzips the result — the
// same archive/tar + compress/gzip combination the teacher's own pack
// command (cmd/distri pack.go) uses, the one place the teacher itself
// reaches for the stdlib archive stack rather than a third-party one.
package pack

import (
	"archive/tar"
	"compress/gzip"
	"encoding/binary"
	"io"
	"os"
	"sort"

	"github.com/distriforge/forgepack/internal/entry"
	"golang.org/x/xerrors"
)

// indexEntry is one line of the pack's resource index, written before any
// resource bytes so a reader can map (type, name) to its byte range without
// scanning the whole archive.
type indexEntry struct {
	Type string
	Name string
	Size int64
}

const indexName = "index"

// Emit writes a gzip-compressed tar pack for every deployed, Available
// entry of t to w, in sorted (type, name) order for reproducibility. In
// interned mode a "strings" member holding t.Intern's table follows last.
func Emit(w io.Writer, t *entry.Target, intern bool) error {
	gz := gzip.NewWriter(w)
	defer gz.Close()
	tw := tar.NewWriter(gz)
	defer tw.Close()

	entries := t.AllEntries()
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Type != entries[j].Type {
			return entries[i].Type < entries[j].Type
		}
		return entries[i].Name < entries[j].Name
	})

	var index []indexEntry
	var bodies [][]byte
	for _, e := range entries {
		e.HeaderMu.RLock()
		status := e.Header.Status
		deployed := e.Header.DeploymentMark
		e.HeaderMu.RUnlock()
		if status != entry.Available || !deployed || e.Location == "" {
			continue
		}
		data, err := os.ReadFile(e.Location)
		if err != nil {
			return xerrors.Errorf("read %s/%s for pack: %w", e.Type, e.Name, err)
		}
		index = append(index, indexEntry{Type: e.Type, Name: e.Name, Size: int64(len(data))})
		bodies = append(bodies, data)
	}

	indexBytes := encodeIndex(index, intern, t)
	if err := writeTarEntry(tw, indexName, indexBytes); err != nil {
		return err
	}
	for i, e := range index {
		if err := writeTarEntry(tw, e.Type+"/"+e.Name, bodies[i]); err != nil {
			return err
		}
	}
	if intern && t.Intern != nil {
		// The intern-string table goes last: the index above may have added
		// strings. Record stream: count, then each string by id order.
		strs := t.Intern.Strings()
		table := binary.LittleEndian.AppendUint32(nil, uint32(len(strs)))
		for _, s := range strs {
			table = binary.LittleEndian.AppendUint32(table, uint32(len(s)))
			table = append(table, s...)
		}
		if err := writeTarEntry(tw, "strings", table); err != nil {
			return err
		}
	}
	return nil
}

func writeTarEntry(tw *tar.Writer, name string, data []byte) error {
	hdr := &tar.Header{Name: name, Size: int64(len(data)), Mode: 0o644}
	if err := tw.WriteHeader(hdr); err != nil {
		return xerrors.Errorf("write tar header %s: %w", name, err)
	}
	_, err := tw.Write(data)
	return err
}

// encodeIndex renders the resource index as a simple length-prefixed
// record stream; in interned mode type and name strings are looked up
// through t.Intern so the pack body carries integer ids instead of
// repeated strings (spec §4.8 "optional interned-string mode").
func encodeIndex(index []indexEntry, intern bool, t *entry.Target) []byte {
	var buf []byte
	appendUint32 := func(v uint32) {
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], v)
		buf = append(buf, b[:]...)
	}
	appendString := func(s string) {
		if intern && t.Intern != nil {
			appendUint32(t.Intern.Intern(s))
			return
		}
		appendUint32(uint32(len(s)))
		buf = append(buf, s...)
	}

	appendUint32(uint32(len(index)))
	for _, e := range index {
		appendString(e.Type)
		appendString(e.Name)
		var szb [8]byte
		binary.LittleEndian.PutUint64(szb[:], uint64(e.Size))
		buf = append(buf, szb[:]...)
	}
	return buf
}
