// Package backup keeps previous versions of mirrored files that a sync
// replaced or deleted, and restores or prunes them on request.
package backup

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	gosync "sync"
	"time"

	"github.com/google/uuid"

	"github.com/geogram-dev/geomirror/internal/logging"
	"github.com/geogram-dev/geomirror/internal/util"
)

// BackupFilePerm is the permission for backup files (rw-r-----)
const BackupFilePerm = 0o640

// ErrNotFound is returned for unknown backup ids.
var ErrNotFound = errors.New("backup not found")

// Store keeps file versions under one directory with a JSON index.
// It is safe for concurrent use within one process.
type Store struct {
	root string
	now  func() time.Time

	mu gosync.Mutex
}

// Open returns a store rooted at dir. Nothing is created until the first Save.
func Open(dir string) *Store {
	return &Store{root: dir, now: time.Now}
}

// Root returns the backup directory.
func (s *Store) Root() string {
	return s.root
}

// Save copies the file at src into the store as a version of scope/rel.
func (s *Store) Save(scope, rel, src, reason string) (Metadata, error) {
	info, err := os.Stat(src)
	if err != nil {
		return Metadata{}, fmt.Errorf("failed to stat %q: %w", src, err)
	}
	if !info.Mode().IsRegular() {
		return Metadata{}, fmt.Errorf("%q is not a regular file", src)
	}

	// #nosec G304 - src is a scoped path inside an app folder
	f, err := os.Open(src)
	if err != nil {
		return Metadata{}, fmt.Errorf("failed to open %q: %w", src, err)
	}
	defer func() { _ = f.Close() }()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return Metadata{}, fmt.Errorf("failed to hash %q: %w", src, err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return Metadata{}, fmt.Errorf("failed to rewind %q: %w", src, err)
	}
	hash := hex.EncodeToString(h.Sum(nil))

	created := s.now().UTC()
	id := created.Format("20060102-150405-") + uuid.NewString()[:8]
	dir := filepath.Join(s.root, "files", filepath.FromSlash(scope), filepath.FromSlash(path.Dir(rel)))
	backupPath := filepath.Join(dir, path.Base(rel)+"~"+id)

	n, err := util.WriteAtomic(backupPath, f, BackupFilePerm, func(tmpPath string) error {
		return os.Chtimes(tmpPath, info.ModTime(), info.ModTime())
	})
	if err != nil {
		return Metadata{}, fmt.Errorf("failed to store backup of %q: %w", src, err)
	}

	m := Metadata{
		ID:         id,
		Scope:      scope,
		Path:       rel,
		BackupPath: backupPath,
		Reason:     reason,
		CreatedAt:  created,
		ModifiedAt: info.ModTime().UTC(),
		Hash:       hash,
		Size:       n,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	index, err := s.loadIndex()
	if err != nil {
		return Metadata{}, err
	}
	index.Backups[m.ID] = m
	if err := s.saveIndex(index); err != nil {
		return Metadata{}, err
	}
	logging.Debug("kept previous version", logging.Path(scope+"/"+rel), "reason", reason, logging.Bytes(n))
	return m, nil
}

// List returns versions newest first. A non-empty scope keeps only versions
// under it; "B2" matches every app of callsign B2.
func (s *Store) List(scope string) ([]Metadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	index, err := s.loadIndex()
	if err != nil {
		return nil, err
	}
	var out []Metadata
	for _, m := range index.sorted() {
		if inScope(m.Scope, scope) {
			out = append(out, m)
		}
	}
	return out, nil
}

// History returns the versions of one file, newest first.
func (s *Store) History(scope, rel string) ([]Metadata, error) {
	all, err := s.List(scope)
	if err != nil {
		return nil, err
	}
	var out []Metadata
	for _, m := range all {
		if m.Scope == scope && m.Path == rel {
			out = append(out, m)
		}
	}
	return out, nil
}

// Get returns one version by id.
func (s *Store) Get(id string) (Metadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	index, err := s.loadIndex()
	if err != nil {
		return Metadata{}, err
	}
	m, ok := index.Backups[id]
	if !ok {
		return Metadata{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return m, nil
}

// Restore writes the version id to target, verifying its hash, and stamps
// the original modification time.
func (s *Store) Restore(id, target string) error {
	m, err := s.Get(id)
	if err != nil {
		return err
	}
	// #nosec G304 - BackupPath comes from the store's own index
	f, err := os.Open(m.BackupPath)
	if err != nil {
		return fmt.Errorf("failed to read backup file: %w", err)
	}
	defer func() { _ = f.Close() }()

	h := sha256.New()
	_, err = util.WriteAtomic(target, io.TeeReader(f, h), 0o644, func(tmpPath string) error {
		if got := hex.EncodeToString(h.Sum(nil)); got != m.Hash {
			return fmt.Errorf("backup file corrupted: hash mismatch (expected %s, got %s)", m.Hash, got)
		}
		return os.Chtimes(tmpPath, m.ModifiedAt, m.ModifiedAt)
	})
	if err != nil {
		return err
	}
	logging.Info("restored version", logging.Path(target), "backup", id)
	return nil
}

// Verify checks that the version's file is present and matches its hash.
func (s *Store) Verify(id string) error {
	m, err := s.Get(id)
	if err != nil {
		return err
	}
	// #nosec G304 - BackupPath comes from the store's own index
	f, err := os.Open(m.BackupPath)
	if err != nil {
		return fmt.Errorf("backup file missing: %w", err)
	}
	defer func() { _ = f.Close() }()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return fmt.Errorf("failed to read backup file: %w", err)
	}
	if got := hex.EncodeToString(h.Sum(nil)); got != m.Hash {
		return fmt.Errorf("backup file corrupted: hash mismatch (expected %s, got %s)", m.Hash, got)
	}
	return nil
}

// Delete removes one version and its file.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	index, err := s.loadIndex()
	if err != nil {
		return err
	}
	if err := s.deleteLocked(index, id); err != nil {
		return err
	}
	return s.saveIndex(index)
}

func (s *Store) deleteLocked(index *Index, id string) error {
	m, ok := index.Backups[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err := os.Remove(m.BackupPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete backup file: %w", err)
	}
	delete(index.Backups, id)
	return nil
}
