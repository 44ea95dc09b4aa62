package cache

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestNewWithCustomCacheDir(t *testing.T) {
	tmpDir := t.TempDir()
	customCacheDir := filepath.Join(tmpDir, "custom", "cache")

	cache, err := New("test", customCacheDir)
	if err != nil {
		t.Fatalf("New() with custom cache dir error = %v", err)
	}

	// Verify cache directory was created
	if _, err := os.Stat(customCacheDir); os.IsNotExist(err) {
		t.Errorf("custom cache directory was not created at %s", customCacheDir)
	}

	expectedPath := filepath.Join(customCacheDir, "test.json")
	if cache.path != expectedPath {
		t.Errorf("cache.path = %q, want %q", cache.path, expectedPath)
	}
}

func TestNewWithEmptyCacheDirUsesDefault(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("GEOMIRROR_HOME", tmpDir)

	cache, err := New("test", "")
	if err != nil {
		t.Fatalf("New() with empty cache dir error = %v", err)
	}

	expectedPath := filepath.Join(tmpDir, "cache", "test.json")
	if cache.path != expectedPath {
		t.Errorf("cache.path = %q, want %q", cache.path, expectedPath)
	}
}

func TestCacheVersionMismatchStartsFresh(t *testing.T) {
	dir := t.TempDir()
	doc := `{"version":"0.1","entries":{"a.txt":{"size":1,"hash":"x"}}}`
	if err := os.WriteFile(filepath.Join(dir, "old.json"), []byte(doc), 0o600); err != nil {
		t.Fatal(err)
	}

	cache, err := New("old", dir)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if cache.Size() != 0 {
		t.Errorf("cache.Size() = %d, want 0 after version mismatch", cache.Size())
	}
	if cache.Version != cacheVersion {
		t.Errorf("cache.Version = %q, want %q", cache.Version, cacheVersion)
	}
}

func TestSaveSkipsUnchangedCache(t *testing.T) {
	dir := t.TempDir()
	cache, err := New("clean", dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := cache.Save(); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "clean.json")); !os.IsNotExist(err) {
		t.Error("Save() of an unchanged cache should not write a file")
	}

	cache.Set("a.txt", 3, time.Unix(10, 0), "h")
	if err := cache.Save(); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "clean.json")); err != nil {
		t.Errorf("Save() after Set should write the file: %v", err)
	}
}
