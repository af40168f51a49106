// Package scan implements the raw resource scan (spec §4.9): it walks each
// target's declared source directories, classifies every file as a typed
// raw resource (`*.rd.yaml`, readable data), a binary raw resource
// (`*.bin`, gob-encoded) or a third-party blob, and materializes the
// corresponding entries for this run.
package scan

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/distriforge/forgepack/internal/codec"
	"github.com/distriforge/forgepack/internal/entry"
	"golang.org/x/xerrors"
)

const (
	readableSuffix = ".rd.yaml"
	binarySuffix   = ".bin"
)

// Scan walks t's declared source directories and creates a Raw or
// third-party entry for each file found (spec §4.9). A (name) collision
// between two source directories, or between a scanned file and an entry
// already materialized from the log, is an error.
func Scan(t *entry.Target) error {
	for _, dir := range t.SourceDirs {
		err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			rel, err := filepath.Rel(dir, path)
			if err != nil {
				return err
			}
			return classify(t, path, rel)
		})
		if err != nil {
			return xerrors.Errorf("scan %s: %w", dir, err)
		}
	}
	return nil
}

func classify(t *entry.Target, path, rel string) error {
	switch {
	case strings.HasSuffix(rel, readableSuffix):
		typeName, err := peekReadableType(path)
		if err != nil {
			return xerrors.Errorf("classify %s: %w", path, err)
		}
		name := strings.TrimSuffix(rel, readableSuffix)
		return createRaw(t, typeName, name, path)
	case strings.HasSuffix(rel, binarySuffix):
		name := strings.TrimSuffix(rel, binarySuffix)
		typeName, err := peekBinaryType(path)
		if err != nil {
			return xerrors.Errorf("classify %s: %w", path, err)
		}
		return createRaw(t, typeName, name, path)
	default:
		modTimeNS, ok := statModTimeNS(path)
		if !ok {
			return xerrors.Errorf("stat %s", path)
		}
		_, err := t.CreateThirdParty(rel, path, modTimeNS)
		if err != nil {
			return xerrors.Errorf("third-party %s: %w", path, err)
		}
		return nil
	}
}

// createRaw materializes a Raw entry in Unconfirmed status; status
// confirmation stats the file itself to learn its version, so the scan
// step only needs to record where it lives.
func createRaw(t *entry.Target, typeName, name, path string) error {
	e, err := t.CreateNative(typeName, name, entry.Raw)
	if err != nil {
		return err
	}
	e.Location = path
	return nil
}

func peekReadableType(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return codec.PeekType(f)
}

func peekBinaryType(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return codec.PeekGobTypeName(f)
}

func statModTimeNS(path string) (int64, bool) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, false
	}
	return info.ModTime().UnixNano(), true
}
