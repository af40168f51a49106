// Package deploy implements the deployment and cache migrator (spec §4.6,
// C6): it moves a run's staged artifacts into their final deploy or cache
// directories, atomically, using the same renameio dependency the teacher
// relies on for crash-safe output writes.
package deploy

import (
	"bytes"
	"os"
	"path/filepath"

	"github.com/distriforge/forgepack/internal/entry"
	"github.com/distriforge/forgepack/internal/registry"
	"github.com/distriforge/forgepack/internal/stream"
	"github.com/google/renameio"
	"golang.org/x/xerrors"
)

// Migrator moves staged artifacts (written under a run's staging root by
// the task engine) into the deploy directory (entries marked for
// deployment) or the cache directory (entries marked for cache, and not
// already deployed).
type Migrator struct {
	DeployDir string
	CacheDir  string

	// Registry, Reader and Writer are only needed to re-serialize Raw
	// entries through the binary codec on deploy (spec §4.6); Primary and
	// Secondary entries are already in that form and are copied as-is.
	Registry registry.Registry
	Reader   stream.Reader
	Writer   stream.Writer
}

func New(deployDir, cacheDir string) (*Migrator, error) {
	if err := os.MkdirAll(deployDir, 0o755); err != nil {
		return nil, xerrors.Errorf("create deploy directory: %w", err)
	}
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return nil, xerrors.Errorf("create cache directory: %w", err)
	}
	return &Migrator{DeployDir: deployDir, CacheDir: cacheDir}, nil
}

// Migrate moves e's current Location into the appropriate final directory
// based on its marks, and records which directory it ended up in (spec §3
// "saved_directory", consulted by the next run's status confirmation).
func (m *Migrator) Migrate(e *entry.Entry) (entry.SavedDirectory, error) {
	e.HeaderMu.RLock()
	status := e.Header.Status
	deploy := e.Header.DeploymentMark
	cache := e.Header.CacheMark
	e.HeaderMu.RUnlock()

	if status == entry.PlatformUnsupported {
		return entry.SavedUnsupported, nil
	}
	if status != entry.Available {
		return entry.SavedNone, nil
	}
	if e.Location == "" {
		return entry.SavedNone, nil
	}

	var dest string
	var saved entry.SavedDirectory
	switch {
	case deploy:
		dest = filepath.Join(m.DeployDir, e.Target.Name, e.Type, e.Name)
		saved = entry.SavedDeploy
	case e.Class == entry.Raw:
		// Raw entries are never physically cached (spec §4.6): only a
		// deployment mark moves a raw source anywhere.
		return entry.SavedNone, nil
	case cache:
		dest = filepath.Join(m.CacheDir, e.Target.Name, e.Type, e.Name)
		saved = entry.SavedCache
	default:
		return entry.SavedNone, nil
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return entry.SavedNone, xerrors.Errorf("create destination directory for %s: %w", e.Name, err)
	}

	if e.Class == entry.Raw {
		if err := m.deployRaw(e, dest); err != nil {
			return entry.SavedNone, xerrors.Errorf("migrate %s/%s/%s: %w", e.Target.Name, e.Type, e.Name, err)
		}
		e.Location = dest
		return saved, nil
	}

	if dest == e.Location {
		return saved, nil
	}
	if err := copyAtomic(e.Location, dest); err != nil {
		return entry.SavedNone, xerrors.Errorf("migrate %s/%s/%s: %w", e.Target.Name, e.Type, e.Name, err)
	}
	e.Location = dest
	return saved, nil
}

// deployRaw re-serializes a raw source through the binary codec with a type
// header into dest (spec §4.6), rather than copying its original
// readable/binary source encoding byte for byte, so every deployed artifact
// shares one uniform on-disk representation regardless of how its raw
// source was authored.
func (m *Migrator) deployRaw(e *entry.Entry, dest string) error {
	info, ok := m.Registry.TypeByName(e.Type)
	if !ok {
		return xerrors.Errorf("type %q not registered", e.Type)
	}
	src, err := os.Open(e.Location)
	if err != nil {
		return err
	}
	data := info.Init()
	_, err = m.Reader.Read(src, e.Type, true, data)
	src.Close()
	if err != nil {
		return xerrors.Errorf("read raw source: %w", err)
	}

	var buf bytes.Buffer
	if _, err := m.Writer.Write(&buf, e.Type, data, true); err != nil {
		return xerrors.Errorf("encode raw destination: %w", err)
	}
	return renameio.WriteFile(dest, buf.Bytes(), 0o644)
}

// copyAtomic copies src to dest via renameio so a crash mid-copy never
// leaves a half-written file at dest (spec §4.6).
func copyAtomic(src, dest string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return renameio.WriteFile(dest, data, 0o644)
}
