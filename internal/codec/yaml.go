package codec

import (
	"bufio"
	"io"

	"github.com/distriforge/forgepack/internal/stream"
	"golang.org/x/xerrors"
	"gopkg.in/yaml.v3"
)

// YAMLReadable is the textual "readable-data" codec: a document of the form
//
//	type: <typeName>
//	data: <arbitrary YAML>
//
// used both for resource entries authored as .rd files and for the platform
// configuration tree (spec §4.2).
type YAMLReadable struct{}

type readableDoc struct {
	Type string `yaml:"type"`
	Data yaml.Node `yaml:"data"`
}

func (YAMLReadable) Write(w io.Writer, typeName string, value any, writeHeader bool) (stream.Status, error) {
	bw := bufio.NewWriter(w)
	enc := yaml.NewEncoder(bw)
	defer enc.Close()
	if writeHeader {
		if err := enc.Encode(readableDoc{Type: typeName, Data: encodeNode(value)}); err != nil {
			return stream.Failed, err
		}
	} else {
		if err := enc.Encode(value); err != nil {
			return stream.Failed, err
		}
	}
	if err := bw.Flush(); err != nil {
		return stream.Failed, err
	}
	return stream.Finished, nil
}

func (YAMLReadable) Read(r io.Reader, typeName string, checkHeader bool, out any) (stream.Status, error) {
	if checkHeader {
		var doc readableDoc
		if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
			return stream.Failed, err
		}
		if doc.Type != typeName {
			return stream.Failed, xerrors.Errorf("type header mismatch: got %q, want %q", doc.Type, typeName)
		}
		if err := doc.Data.Decode(out); err != nil {
			return stream.Failed, err
		}
		return stream.Finished, nil
	}
	if err := yaml.NewDecoder(r).Decode(out); err != nil {
		return stream.Failed, err
	}
	return stream.Finished, nil
}

func encodeNode(value any) yaml.Node {
	var node yaml.Node
	if err := node.Encode(value); err != nil {
		// Encode only fails on unsupported types, which would be a
		// programming error in a registered build rule's output type.
		panic(err)
	}
	return node
}

// PeekType reads only the readable-data header's type field, used by the
// raw resource scanner (spec §4.9) to classify .rd files without fully
// decoding their payload.
func PeekType(r io.Reader) (string, error) {
	var doc struct {
		Type string `yaml:"type"`
	}
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		return "", err
	}
	return doc.Type, nil
}
