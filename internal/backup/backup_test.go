package backup

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/geogram-dev/geomirror/internal/util"
)

// newTestStore returns a store whose clock advances one minute per call.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	s := Open(filepath.Join(util.CreateTempDir(t), "backups"))
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time {
		clock = clock.Add(time.Minute)
		return clock
	}
	return s
}

func writeSource(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	util.WriteFile(t, p, content)
	return p
}

func TestSave(t *testing.T) {
	s := newTestStore(t)
	src := writeSource(t, util.CreateTempDir(t), "note.txt", "first draft")
	mtime := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)
	util.AssertNoError(t, os.Chtimes(src, mtime, mtime))

	m, err := s.Save("B2/chat", "2026/note.txt", src, ReasonReplaced)
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	util.AssertEqual(t, m.Scope, "B2/chat")
	util.AssertEqual(t, m.Path, "2026/note.txt")
	util.AssertEqual(t, m.Reason, ReasonReplaced)
	util.AssertEqual(t, m.Size, int64(len("first draft")))
	util.AssertEqual(t, len(m.Hash), 64)
	if !m.ModifiedAt.Equal(mtime) {
		t.Errorf("ModifiedAt = %v, want %v", m.ModifiedAt, mtime)
	}

	data, err := os.ReadFile(m.BackupPath)
	util.AssertNoError(t, err)
	util.AssertEqual(t, string(data), "first draft")

	rel, err := filepath.Rel(s.Root(), m.BackupPath)
	util.AssertNoError(t, err)
	util.AssertEqual(t, filepath.Dir(rel), filepath.Join("files", "B2", "chat", "2026"))

	if _, err := os.Stat(filepath.Join(s.Root(), IndexFilename)); err != nil {
		t.Errorf("index not written: %v", err)
	}
}

func TestSaveRejectsMissingSource(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Save("B2/chat", "gone.txt", filepath.Join(util.CreateTempDir(t), "gone.txt"), ReasonDeleted); err == nil {
		t.Fatal("expected error for missing source")
	}
}

func TestListAndHistory(t *testing.T) {
	s := newTestStore(t)
	dir := util.CreateTempDir(t)
	a := writeSource(t, dir, "a.txt", "a")
	b := writeSource(t, dir, "b.txt", "b")

	first, err := s.Save("B2/chat", "a.txt", a, ReasonReplaced)
	util.AssertNoError(t, err)
	util.WriteFile(t, a, "a2")
	second, err := s.Save("B2/chat", "a.txt", a, ReasonDeleted)
	util.AssertNoError(t, err)
	_, err = s.Save("B2/blog", "b.txt", b, ReasonReplaced)
	util.AssertNoError(t, err)
	_, err = s.Save("C3/chat", "b.txt", b, ReasonReplaced)
	util.AssertNoError(t, err)

	tests := []struct {
		scope string
		want  int
	}{
		{"", 4},
		{"B2", 3},
		{"B2/chat", 2},
		{"B2/ch", 0},
		{"C3/chat", 1},
	}
	for _, tt := range tests {
		t.Run(tt.scope, func(t *testing.T) {
			got, err := s.List(tt.scope)
			util.AssertNoError(t, err)
			util.AssertEqual(t, len(got), tt.want)
		})
	}

	history, err := s.History("B2/chat", "a.txt")
	util.AssertNoError(t, err)
	if len(history) != 2 {
		t.Fatalf("expected 2 versions, got %d", len(history))
	}
	util.AssertEqual(t, history[0].ID, second.ID)
	util.AssertEqual(t, history[1].ID, first.ID)
}

func TestRestore(t *testing.T) {
	s := newTestStore(t)
	dir := util.CreateTempDir(t)
	src := writeSource(t, dir, "a.txt", "original")
	mtime := time.Date(2026, 1, 15, 10, 30, 0, 0, time.UTC)
	util.AssertNoError(t, os.Chtimes(src, mtime, mtime))

	m, err := s.Save("B2/chat", "a.txt", src, ReasonReplaced)
	util.AssertNoError(t, err)
	util.WriteFile(t, src, "overwritten")

	util.AssertNoError(t, s.Restore(m.ID, src))

	data, err := os.ReadFile(src)
	util.AssertNoError(t, err)
	util.AssertEqual(t, string(data), "original")
	info, err := os.Stat(src)
	util.AssertNoError(t, err)
	if !info.ModTime().Equal(mtime) {
		t.Errorf("restored mtime = %v, want %v", info.ModTime(), mtime)
	}
}

func TestRestoreRejectsCorruptedBackup(t *testing.T) {
	s := newTestStore(t)
	dir := util.CreateTempDir(t)
	src := writeSource(t, dir, "a.txt", "original")

	m, err := s.Save("B2/chat", "a.txt", src, ReasonReplaced)
	util.AssertNoError(t, err)
	util.AssertNoError(t, os.WriteFile(m.BackupPath, []byte("tampered"), 0o600))

	target := filepath.Join(dir, "restored.txt")
	if err := s.Restore(m.ID, target); err == nil {
		t.Fatal("expected hash mismatch error")
	}
	if _, err := os.Stat(target); !os.IsNotExist(err) {
		t.Errorf("target should not exist after failed restore, stat err = %v", err)
	}
	if err := s.Verify(m.ID); err == nil {
		t.Error("Verify should report corruption")
	}
}

func TestUnknownID(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Get("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get: expected ErrNotFound, got %v", err)
	}
	if err := s.Restore("nope", filepath.Join(util.CreateTempDir(t), "x")); !errors.Is(err, ErrNotFound) {
		t.Errorf("Restore: expected ErrNotFound, got %v", err)
	}
	if err := s.Delete("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Delete: expected ErrNotFound, got %v", err)
	}
}

func TestDelete(t *testing.T) {
	s := newTestStore(t)
	src := writeSource(t, util.CreateTempDir(t), "a.txt", "a")
	m, err := s.Save("B2/chat", "a.txt", src, ReasonDeleted)
	util.AssertNoError(t, err)

	util.AssertNoError(t, s.Verify(m.ID))
	util.AssertNoError(t, s.Delete(m.ID))

	if _, err := os.Stat(m.BackupPath); !os.IsNotExist(err) {
		t.Errorf("backup file should be removed, stat err = %v", err)
	}
	list, err := s.List("")
	util.AssertNoError(t, err)
	util.AssertEqual(t, len(list), 0)
}

func TestIndexSurvivesReopen(t *testing.T) {
	s := newTestStore(t)
	src := writeSource(t, util.CreateTempDir(t), "a.txt", "a")
	m, err := s.Save("B2/chat", "a.txt", src, ReasonReplaced)
	util.AssertNoError(t, err)

	reopened := Open(s.Root())
	got, err := reopened.Get(m.ID)
	util.AssertNoError(t, err)
	util.AssertEqual(t, got.Hash, m.Hash)
	util.AssertEqual(t, got.BackupPath, m.BackupPath)
}

func TestCorruptIndex(t *testing.T) {
	s := newTestStore(t)
	util.WriteFile(t, filepath.Join(s.Root(), IndexFilename), "{not json")
	if _, err := s.List(""); err == nil {
		t.Fatal("expected parse error")
	}
}
