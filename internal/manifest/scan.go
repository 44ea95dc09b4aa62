package manifest

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/geogram-dev/geomirror/internal/cache"
	"github.com/geogram-dev/geomirror/internal/logging"
	"github.com/geogram-dev/geomirror/internal/util"
)

// Scan walks dir and returns the manifest of its regular files.
// A missing dir yields an empty manifest. Symlinks and in-flight temp files are
// skipped. Hashes are taken from c when size and mtime are unchanged and the
// entry is younger than cache.DefaultTTL; c may be nil.
func Scan(dir string, c *cache.Cache) (Manifest, error) {
	m := make(Manifest)
	info, err := os.Stat(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return m, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to stat %q: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%q is not a directory", dir)
	}

	c.Prune(cache.DefaultTTL)
	seen := make(map[string]bool)
	err = filepath.WalkDir(dir, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || !d.Type().IsRegular() || util.IsTempFile(d.Name()) {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if !ValidPath(rel) {
			logging.Debug("skipping unsafe path", logging.Path(rel))
			return nil
		}

		fi, err := d.Info()
		if err != nil {
			return err
		}
		modTime := fi.ModTime()
		hash, ok := c.Get(rel, fi.Size(), modTime)
		if !ok {
			hash, err = HashFile(p)
			if err != nil {
				return err
			}
			c.Set(rel, fi.Size(), modTime, hash)
		}
		seen[rel] = true
		m[rel] = Entry{
			Path:       rel,
			Size:       fi.Size(),
			ModifiedAt: modTime,
			Hash:       hash,
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan %q: %w", dir, err)
	}

	c.Retain(seen)
	if err := c.Save(); err != nil {
		logging.Warn("failed to save hash cache", logging.Err(err))
	}
	return m, nil
}

// HashFile returns the hex sha256 of the file at path.
func HashFile(path string) (string, error) {
	// #nosec G304 - path comes from a directory walk or a scoped join
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()
	return HashReader(f)
}

// HashReader returns the hex sha256 of everything read from r.
func HashReader(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
