// Package buildlog implements the persisted build log (spec §3 "Log",
// §4.7 C7): the record of the previous run that status confirmation (C2)
// decides up-to-dateness against, and the new record the engine writes once
// a run completes.
//
// The log's own on-disk envelope — a version sentinel followed by a gob
// stream — is deliberately not one of the two resource serialization
// codecs named in spec §6: those are external collaborators the engine only
// reaches through the stream.Reader/Writer interface, reserved for resource
// *content*. The engine's bookkeeping about its own previous run has no
// such collaborator in scope, so it is encoded directly with encoding/gob;
// see DESIGN.md for why this one spot does not reach for a third-party
// serializer.
package buildlog

import (
	"bufio"
	"encoding/binary"
	"encoding/gob"
	"io"
	"os"

	"github.com/distriforge/forgepack/internal/entry"
	"github.com/distriforge/forgepack/internal/registry"
	"github.com/google/renameio"
	"golang.org/x/xerrors"
)

// ResourceBuildVersion is the sentinel word that begins every log file. A
// mismatch (or a missing file) forces a full rebuild (spec §4.7, §8).
const ResourceBuildVersion uint64 = 0x4B414E5250_0002

type SecondaryInputLogRecord struct {
	Type     string // empty denotes third-party
	Name     string
	Version  entry.Version
	Required bool
}

type RawRecord struct {
	Type       string
	Name       string
	Version    entry.Version
	Deployed   bool
	References []registry.Reference
}

type BuiltRecord struct {
	Type                     string
	Name                     string
	Version                  entry.Version
	RuleVersion              uint64
	PlatformConfigFileTimeNS int64
	HasPlatformConfig        bool
	PrimaryInputVersion      entry.Version
	SecondaryInputs          []SecondaryInputLogRecord
	SavedDirectory           entry.SavedDirectory
	References               []registry.Reference
}

type SecondaryRecord struct {
	Type            string
	Name            string
	Version         entry.Version
	ProducerType    string
	ProducerName    string
	ProducerVersion entry.Version
	SavedDirectory  entry.SavedDirectory
	References      []registry.Reference
}

// TargetLog is the per-target slice of records (spec §3 Log).
type TargetLog struct {
	Raw       []RawRecord
	Built     []BuiltRecord
	Secondary []SecondaryRecord
}

// Log is the full persisted state for one project (spec §3 Log).
type Log struct {
	Targets map[string]TargetLog
}

func Empty() *Log {
	return &Log{Targets: make(map[string]TargetLog)}
}

// Read loads the previous log. If the file is absent or the sentinel does
// not match, it returns an empty log and fresh=true, signaling the caller to
// clean the workspace and proceed as if nothing was ever built (spec §4.7).
func Read(path string) (lg *Log, fresh bool, err error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Empty(), true, nil
		}
		return nil, false, xerrors.Errorf("open log: %w", err)
	}
	defer f.Close()

	br := bufio.NewReader(f)
	var sentinel uint64
	if err := binary.Read(br, binary.LittleEndian, &sentinel); err != nil {
		if err == io.EOF {
			return Empty(), true, nil
		}
		return nil, false, xerrors.Errorf("read log sentinel: %w", err)
	}
	if sentinel != ResourceBuildVersion {
		return Empty(), true, nil
	}

	var lgv Log
	dec := gob.NewDecoder(br)
	if err := dec.Decode(&lgv); err != nil {
		return nil, false, xerrors.Errorf("decode log: %w", err)
	}
	return &lgv, false, nil
}

// Write emits the sentinel followed by the serialized log, atomically
// (spec §4.7), using renameio the way the teacher's own output-writing code
// (cmd/distri) depends on it for atomic renames-into-place.
func Write(path string, lg *Log) error {
	t, err := renameio.TempFile("", path)
	if err != nil {
		return xerrors.Errorf("create temp log: %w", err)
	}
	defer t.Cleanup()

	bw := bufio.NewWriter(t)
	if err := binary.Write(bw, binary.LittleEndian, ResourceBuildVersion); err != nil {
		return xerrors.Errorf("write log sentinel: %w", err)
	}
	enc := gob.NewEncoder(bw)
	if err := enc.Encode(lg); err != nil {
		return xerrors.Errorf("encode log: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	return t.CloseAtomicallyReplace()
}
