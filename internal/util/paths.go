package util

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// TempPrefix marks in-flight files written by WriteAtomic. Manifest scans skip them.
const TempPrefix = ".geomirror-"

// TempSuffix is appended to in-flight temp files.
const TempSuffix = ".part"

// ErrOutsideRoot is returned when a relative path would escape its root folder.
var ErrOutsideRoot = errors.New("path escapes root folder")

// HomeDir returns the user's home directory
func HomeDir() string {
	home, _ := os.UserHomeDir()
	return home
}

// GeomirrorConfigPath returns the geomirror configuration directory.
// GEOMIRROR_HOME overrides the default of ~/.geomirror.
func GeomirrorConfigPath() string {
	if v := os.Getenv("GEOMIRROR_HOME"); v != "" {
		return v
	}
	return filepath.Join(HomeDir(), ".geomirror")
}

// ExpandPath expands a leading ~ and resolves relative paths against baseDir.
func ExpandPath(path, baseDir string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return ""
	}
	if path == "~" {
		return HomeDir()
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(HomeDir(), path[2:])
	}
	if filepath.IsAbs(path) || baseDir == "" {
		return filepath.Clean(path)
	}
	return filepath.Join(baseDir, path)
}

// ScopedPath joins a slash-separated relative path onto root and guarantees the
// result stays inside root.
func ScopedPath(root, rel string) (string, error) {
	if rel == "" || strings.HasPrefix(rel, "/") || strings.Contains(rel, "\\") {
		return "", fmt.Errorf("%w: %q", ErrOutsideRoot, rel)
	}
	for _, part := range strings.Split(rel, "/") {
		if part == ".." || part == "." || part == "" {
			return "", fmt.Errorf("%w: %q", ErrOutsideRoot, rel)
		}
	}
	cleanRoot := filepath.Clean(root)
	full := filepath.Join(cleanRoot, filepath.FromSlash(rel))
	if !strings.HasPrefix(full, cleanRoot+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrOutsideRoot, rel)
	}
	return full, nil
}

// IsTempFile reports whether name is an in-flight file created by WriteAtomic.
func IsTempFile(name string) bool {
	base := filepath.Base(name)
	return strings.HasPrefix(base, TempPrefix) && strings.HasSuffix(base, TempSuffix)
}

// WriteAtomic streams r into a temp file next to path and renames it into place.
// The temp file is removed on every failure path, so path either keeps its old
// content or receives the complete new content. The verify hook, when non-nil,
// runs after the data is flushed and before the rename.
func WriteAtomic(path string, r io.Reader, perm os.FileMode, verify func(tmpPath string) error) (n int64, err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return 0, fmt.Errorf("failed to create directory %q: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, TempPrefix+"*"+TempSuffix)
	if err != nil {
		return 0, fmt.Errorf("failed to create temp file in %q: %w", dir, err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	n, err = io.Copy(tmp, r)
	if err != nil {
		return n, fmt.Errorf("failed to write %q: %w", tmpPath, err)
	}
	if err := tmp.Sync(); err != nil {
		return n, fmt.Errorf("failed to sync %q: %w", tmpPath, err)
	}
	if err := tmp.Close(); err != nil {
		return n, fmt.Errorf("failed to close %q: %w", tmpPath, err)
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		return n, fmt.Errorf("failed to chmod %q: %w", tmpPath, err)
	}
	if verify != nil {
		if err := verify(tmpPath); err != nil {
			return n, err
		}
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return n, fmt.Errorf("failed to rename into %q: %w", path, err)
	}
	committed = true
	return n, nil
}
