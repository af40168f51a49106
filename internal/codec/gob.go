// Package codec supplies concrete, default implementations of the stream
// codec interfaces for the two resource serialization formats named in
// spec §6 (a binary codec and a textual "readable-data" codec). The real
// codecs are external collaborators the engine only ever depends on through
// the stream.Reader/Writer interface; these implementations exist so the
// engine is exercisable end to end without a plugin-loaded pair.
package codec

import (
	"bufio"
	"encoding/binary"
	"encoding/gob"
	"io"

	"github.com/distriforge/forgepack/internal/stream"
	"golang.org/x/xerrors"
)

// GobBinary is the binary codec: a length-prefixed, optionally
// type-headered, optionally string-interned gob stream.
type GobBinary struct {
	Intern *Intern // optional; nil disables interning
}

func (g *GobBinary) Write(w io.Writer, typeName string, value any, writeHeader bool) (stream.Status, error) {
	bw := bufio.NewWriter(w)
	if writeHeader {
		name := typeName
		if g.Intern != nil {
			id := g.Intern.Intern(typeName)
			if err := binary.Write(bw, binary.LittleEndian, id); err != nil {
				return stream.Failed, err
			}
		} else {
			if err := writeString(bw, name); err != nil {
				return stream.Failed, err
			}
		}
	}
	enc := gob.NewEncoder(bw)
	if err := enc.Encode(value); err != nil {
		return stream.Failed, xerrors.Errorf("encode %s: %w", typeName, err)
	}
	if err := bw.Flush(); err != nil {
		return stream.Failed, err
	}
	return stream.Finished, nil
}

func (g *GobBinary) Read(r io.Reader, typeName string, checkHeader bool, out any) (stream.Status, error) {
	br := bufio.NewReader(r)
	if checkHeader {
		var got string
		if g.Intern != nil {
			var id uint32
			if err := binary.Read(br, binary.LittleEndian, &id); err != nil {
				return stream.Failed, err
			}
			s, ok := g.Intern.Lookup(id)
			if !ok {
				return stream.Failed, xerrors.Errorf("unknown interned type id %d", id)
			}
			got = s
		} else {
			s, err := readString(br)
			if err != nil {
				return stream.Failed, err
			}
			got = s
		}
		if got != typeName {
			return stream.Failed, xerrors.Errorf("type header mismatch: got %q, want %q", got, typeName)
		}
	}
	dec := gob.NewDecoder(br)
	if err := dec.Decode(out); err != nil {
		return stream.Failed, xerrors.Errorf("decode %s: %w", typeName, err)
	}
	return stream.Finished, nil
}

// PeekGobTypeName reads just the length-prefixed type name a binary raw
// resource file begins with, without decoding the gob payload that follows
// it — used by the raw resource scanner (spec §4.9) to classify a `.bin`
// file before any entry for it exists.
func PeekGobTypeName(r io.Reader) (string, error) {
	return readString(r)
}

func writeString(w io.Writer, s string) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

func readString(r io.Reader) (string, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}
