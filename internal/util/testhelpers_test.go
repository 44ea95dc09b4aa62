//nolint:revive // var-naming - package name is meaningful
package util

import (
	"os"
	"path/filepath"
	"testing"
)

func TestCreateTempDirIsRemovedAfterTest(t *testing.T) {
	var dir string
	t.Run("inner", func(t *testing.T) {
		dir = CreateTempDir(t)
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			t.Fatalf("CreateTempDir() = %s, stat err = %v", dir, err)
		}
	})
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Errorf("temp dir %s should be removed after the subtest, stat err = %v", dir, err)
	}
}

func TestWriteFileCreatesParents(t *testing.T) {
	path := filepath.Join(CreateTempDir(t), "X1TEST", "chat", "2026", "note.txt")
	WriteFile(t, path, "hello")
	WriteFile(t, path, "again")

	got, err := os.ReadFile(path) //nolint:gosec // G304 - temp directory
	AssertNoError(t, err)
	AssertEqual(t, string(got), "again")

	info, err := os.Stat(path)
	AssertNoError(t, err)
	AssertEqual(t, info.Mode().Perm(), os.FileMode(0o600))
}

func TestAssertEqualComparesValues(t *testing.T) {
	AssertEqual(t, "chat", "chat")
	AssertEqual(t, int64(42), int64(42))
	AssertEqual(t, struct{ Path string }{"a.txt"}, struct{ Path string }{"a.txt"})
	AssertNoError(t, nil)
}
