// Package cache keeps content hashes of scanned files so unchanged files are
// not re-hashed on every manifest scan.
package cache

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/geogram-dev/geomirror/internal/util"
)

// Entry is the cached hash of one file, valid while size and mtime are unchanged.
type Entry struct {
	Size       int64     `json:"size"`
	ModifiedAt time.Time `json:"modified_at"`
	Hash       string    `json:"hash"`
	CachedAt   time.Time `json:"cached_at"`
}

// Cache maps relative paths of one app folder to their hashes.
type Cache struct {
	Version string           `json:"version"`
	Entries map[string]Entry `json:"entries"`

	mu    sync.Mutex
	path  string
	dirty bool
}

const (
	cacheVersion = "1.0"
	// DefaultTTL bounds how long a hash is trusted without re-reading the file,
	// even when size and mtime are unchanged.
	DefaultTTL = 7 * 24 * time.Hour
)

// New creates or loads the hash cache with the given name (e.g. "X1ABCD-chat").
// If cacheDir is empty, defaults to ~/.geomirror/cache.
func New(name string, cacheDir string) (*Cache, error) {
	if cacheDir == "" {
		cacheDir = filepath.Join(util.GeomirrorConfigPath(), "cache")
	}
	if err := os.MkdirAll(cacheDir, 0o750); err != nil {
		return nil, err
	}

	cachePath := filepath.Join(cacheDir, name+".json")
	c := &Cache{
		Version: cacheVersion,
		Entries: make(map[string]Entry),
		path:    cachePath,
	}

	// #nosec G304 - cachePath is constructed from trusted configuration path
	if data, err := os.ReadFile(cachePath); err == nil {
		if err := json.Unmarshal(data, c); err != nil {
			// Corrupted cache, start fresh
			c.Entries = make(map[string]Entry)
		}
		if c.Version != cacheVersion {
			c.Entries = make(map[string]Entry)
			c.Version = cacheVersion
		}
		if c.Entries == nil {
			c.Entries = make(map[string]Entry)
		}
	}

	c.path = cachePath
	return c, nil
}

// Memory returns a cache that is never persisted.
func Memory() *Cache {
	return &Cache{Version: cacheVersion, Entries: make(map[string]Entry)}
}

// Get returns the cached hash for rel if size and mtime still match.
func (c *Cache) Get(rel string, size int64, modTime time.Time) (string, bool) {
	if c == nil {
		return "", false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.Entries[rel]
	if !ok {
		return "", false
	}
	if entry.Size != size || !entry.ModifiedAt.Equal(modTime) {
		delete(c.Entries, rel)
		c.dirty = true
		return "", false
	}
	return entry.Hash, true
}

// Set stores the hash of rel.
func (c *Cache) Set(rel string, size int64, modTime time.Time, hash string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.Entries[rel] = Entry{
		Size:       size,
		ModifiedAt: modTime,
		Hash:       hash,
		CachedAt:   time.Now(),
	}
	c.dirty = true
}

// Retain drops entries whose path is not in keep. Returns the number removed.
func (c *Cache) Retain(keep map[string]bool) int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for rel := range c.Entries {
		if !keep[rel] {
			delete(c.Entries, rel)
			removed++
		}
	}
	if removed > 0 {
		c.dirty = true
	}
	return removed
}

// Save persists the cache to disk if it changed. Memory caches are never written.
func (c *Cache) Save() error {
	if c == nil || c.path == "" {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.dirty {
		return nil
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(c.path, data, 0o600); err != nil {
		return err
	}
	c.dirty = false
	return nil
}

// Clear removes all entries from the cache
func (c *Cache) Clear() error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.Entries = make(map[string]Entry)
	c.dirty = false
	if c.path == "" {
		return nil
	}
	if err := os.Remove(c.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Size returns the number of entries in the cache
func (c *Cache) Size() int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.Entries)
}

// Prune removes entries cached longer ago than ttl
func (c *Cache) Prune(ttl time.Duration) int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	pruned := 0
	for key, entry := range c.Entries {
		if time.Since(entry.CachedAt) > ttl {
			delete(c.Entries, key)
			pruned++
		}
	}
	if pruned > 0 {
		c.dirty = true
	}
	return pruned
}
