package cache

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestNew(t *testing.T) {
	c, err := New("test", t.TempDir())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if c.Version != cacheVersion {
		t.Errorf("cache.Version = %q, want %q", c.Version, cacheVersion)
	}
	if c.Entries == nil {
		t.Error("cache.Entries should not be nil")
	}
	if c.Size() != 0 {
		t.Errorf("cache.Size() = %d, want 0", c.Size())
	}
}

func TestNew_DefaultDir(t *testing.T) {
	home := t.TempDir()
	t.Setenv("GEOMIRROR_HOME", home)

	c, err := New("X1ABCD-chat", "")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	c.Set("a.txt", 1, time.Unix(100, 0), "h")
	if err := c.Save(); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(home, "cache", "X1ABCD-chat.json")); err != nil {
		t.Errorf("cache file not written under GEOMIRROR_HOME: %v", err)
	}
}

func TestCacheSetAndGet(t *testing.T) {
	c := Memory()
	mod := time.Unix(1700000000, 0)

	c.Set("notes/a.txt", 12, mod, "abc123")

	hash, ok := c.Get("notes/a.txt", 12, mod)
	if !ok || hash != "abc123" {
		t.Errorf("Get() = %q, %v; want abc123, true", hash, ok)
	}

	if _, ok := c.Get("notes/a.txt", 13, mod); ok {
		t.Error("Get() should miss when size changed")
	}
	if _, ok := c.Get("notes/a.txt", 12, mod); ok {
		t.Error("stale entry should have been evicted")
	}
	if _, ok := c.Get("missing", 1, mod); ok {
		t.Error("Get() should miss for unknown path")
	}
}

func TestCacheSaveAndReload(t *testing.T) {
	dir := t.TempDir()
	mod := time.Unix(1700000000, 0).UTC()

	c, err := New("peer-places", dir)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	c.Set("p.json", 5, mod, "deadbeef")
	if err := c.Save(); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	reloaded, err := New("peer-places", dir)
	if err != nil {
		t.Fatalf("New() reload error = %v", err)
	}
	hash, ok := reloaded.Get("p.json", 5, mod)
	if !ok || hash != "deadbeef" {
		t.Errorf("reloaded Get() = %q, %v; want deadbeef, true", hash, ok)
	}
}

func TestCacheCorruptedFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "bad.json"), []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	c, err := New("bad", dir)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if c.Size() != 0 {
		t.Errorf("corrupted cache should start empty, got %d entries", c.Size())
	}
}

func TestCacheRetain(t *testing.T) {
	c := Memory()
	mod := time.Now()
	c.Set("keep.txt", 1, mod, "a")
	c.Set("gone.txt", 1, mod, "b")

	removed := c.Retain(map[string]bool{"keep.txt": true})
	if removed != 1 {
		t.Errorf("Retain() removed %d, want 1", removed)
	}
	if c.Size() != 1 {
		t.Errorf("Size() = %d, want 1", c.Size())
	}
}

func TestCachePrune(t *testing.T) {
	c := Memory()
	c.Entries["old"] = Entry{Hash: "x", CachedAt: time.Now().Add(-48 * time.Hour)}
	c.Entries["new"] = Entry{Hash: "y", CachedAt: time.Now()}

	if pruned := c.Prune(24 * time.Hour); pruned != 1 {
		t.Errorf("Prune() = %d, want 1", pruned)
	}
	if _, ok := c.Entries["new"]; !ok {
		t.Error("fresh entry should survive pruning")
	}
}

func TestCacheClear(t *testing.T) {
	dir := t.TempDir()
	c, err := New("clear", dir)
	if err != nil {
		t.Fatal(err)
	}
	c.Set("a", 1, time.Now(), "h")
	if err := c.Save(); err != nil {
		t.Fatal(err)
	}
	if err := c.Clear(); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	if c.Size() != 0 {
		t.Error("Clear() should empty entries")
	}
	if _, err := os.Stat(filepath.Join(dir, "clear.json")); !os.IsNotExist(err) {
		t.Error("Clear() should remove the cache file")
	}
}

func TestNilCacheIsSafe(t *testing.T) {
	var c *Cache
	c.Set("a", 1, time.Now(), "h")
	if _, ok := c.Get("a", 1, time.Now()); ok {
		t.Error("nil cache should always miss")
	}
	if err := c.Save(); err != nil {
		t.Errorf("nil Save() error = %v", err)
	}
}
