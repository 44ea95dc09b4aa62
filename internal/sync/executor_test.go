package sync

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/geogram-dev/geomirror/internal/backup"
	"github.com/geogram-dev/geomirror/internal/manifest"
	"github.com/geogram-dev/geomirror/internal/util"
)

func TestExecutorDeletes(t *testing.T) {
	root := t.TempDir()
	util.WriteFile(t, filepath.Join(root, "old.txt"), "old")
	remote := newFakeRemote()
	remote.put("gone.txt", "x", t0)

	exec := &Executor{Root: root, AppID: "chat", Transport: remote}
	actions := []Action{
		{Kind: ActionDeleteLocal, Path: "old.txt", Reason: ReasonRemoteOnly},
		{Kind: ActionDeleteLocal, Path: "never-existed.txt", Reason: ReasonRemoteOnly},
		{Kind: ActionDeleteRemote, Path: "gone.txt", Reason: ReasonLocalOnly},
	}
	c, err := exec.Execute(context.Background(), actions, newReporter("p", "chat", nil, 0))
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if c.Deleted != 3 || len(c.Failures) != 0 {
		t.Errorf("counts = %+v, want 3 deletes", c)
	}
	if _, err := os.Stat(filepath.Join(root, "old.txt")); !os.IsNotExist(err) {
		t.Error("old.txt should be removed")
	}
	if _, ok := remote.get("gone.txt"); ok {
		t.Error("gone.txt should be removed on the peer")
	}
}

func TestExecutorRejectsEscapingPaths(t *testing.T) {
	parent := t.TempDir()
	root := filepath.Join(parent, "app")
	victim := filepath.Join(parent, "victim.txt")
	util.WriteFile(t, victim, "keep me")
	remote := newFakeRemote()
	remote.put("../victim.txt", "pwned", t0)

	exec := &Executor{Root: root, AppID: "chat", Transport: remote}
	actions := []Action{
		{Kind: ActionDeleteLocal, Path: "../victim.txt"},
		{Kind: ActionDownload, Path: "../victim.txt", Entry: entry("../victim.txt", "pwned", t0)},
		{Kind: ActionUpload, Path: "/etc/passwd", Entry: entry("/etc/passwd", "x", t0)},
	}
	c, err := exec.Execute(context.Background(), actions, newReporter("p", "chat", nil, 0))
	if err != nil {
		t.Fatal(err)
	}
	if len(c.Failures) != 3 {
		t.Fatalf("failures = %d, want 3", len(c.Failures))
	}
	for _, f := range c.Failures {
		if !errors.Is(f, util.ErrOutsideRoot) {
			t.Errorf("failure %v should be ErrOutsideRoot", f)
		}
	}
	data, _ := os.ReadFile(victim)
	if string(data) != "keep me" {
		t.Error("file outside the app folder was modified")
	}
}

func TestExecutorCountsSkips(t *testing.T) {
	exec := &Executor{Root: t.TempDir(), AppID: "chat", Transport: newFakeRemote()}
	c, err := exec.Execute(context.Background(), []Action{
		{Kind: ActionSkip, Path: "a"},
		{Kind: ActionSkip, Path: "b"},
	}, newReporter("p", "chat", nil, 0))
	if err != nil || c.Skipped != 2 {
		t.Errorf("Execute() = %+v, %v", c, err)
	}
}

func TestExecutorKeepsVersions(t *testing.T) {
	root := t.TempDir()
	util.WriteFile(t, filepath.Join(root, "note.txt"), "mine")
	util.WriteFile(t, filepath.Join(root, "old.txt"), "old")
	remote := newFakeRemote()
	remote.put("note.txt", "theirs", t0)
	remote.put("new.txt", "fresh", t0)

	store := backup.Open(t.TempDir())
	exec := &Executor{Root: root, AppID: "chat", Transport: remote, Versions: store, Scope: "B2/chat"}
	actions := []Action{
		{Kind: ActionDownload, Path: "note.txt", Entry: entry("note.txt", "theirs", t0), Replaces: true},
		{Kind: ActionDownload, Path: "new.txt", Entry: entry("new.txt", "fresh", t0)},
		{Kind: ActionDeleteLocal, Path: "old.txt"},
	}
	c, err := exec.Execute(context.Background(), actions, newReporter("p", "chat", nil, 0))
	if err != nil || len(c.Failures) != 0 {
		t.Fatalf("Execute() = %+v, %v", c, err)
	}

	versions, err := store.List("B2/chat")
	util.AssertNoError(t, err)
	if len(versions) != 2 {
		t.Fatalf("versions = %d, want 2 (new.txt had no previous content)", len(versions))
	}
	kept := map[string]string{}
	for _, m := range versions {
		data, err := os.ReadFile(m.BackupPath)
		util.AssertNoError(t, err)
		kept[m.Path] = m.Reason + ":" + string(data)
	}
	util.AssertEqual(t, kept["note.txt"], backup.ReasonReplaced+":mine")
	util.AssertEqual(t, kept["old.txt"], backup.ReasonDeleted+":old")

	data, err := os.ReadFile(filepath.Join(root, "note.txt"))
	util.AssertNoError(t, err)
	util.AssertEqual(t, string(data), "theirs")
}

// retryingRemote makes the first upload attempt fail after reading part of
// the body, like a transport failing over to its next address.
type retryingRemote struct {
	*fakeRemote
	partial int
}

func (r *retryingRemote) Upload(ctx context.Context, appID string, e manifest.Entry, open func() (io.ReadCloser, error)) error {
	first, err := open()
	if err != nil {
		return err
	}
	_, _ = io.CopyN(io.Discard, first, int64(r.partial))
	_ = first.Close()
	return r.fakeRemote.Upload(ctx, appID, e, open)
}

func TestExecutorUploadRetryCountsLastAttempt(t *testing.T) {
	root := t.TempDir()
	util.WriteFile(t, filepath.Join(root, "up.txt"), "0123456789")
	remote := &retryingRemote{fakeRemote: newFakeRemote(), partial: 4}

	rep := newReporter("p", "chat", nil, 0)
	exec := &Executor{Root: root, AppID: "chat", Transport: remote}
	c, err := exec.Execute(context.Background(), []Action{
		{Kind: ActionUpload, Path: "up.txt", Entry: entry("up.txt", "0123456789", t0)},
	}, rep)
	if err != nil || len(c.Failures) != 0 {
		t.Fatalf("Execute() = %+v, %v", c, err)
	}
	util.AssertEqual(t, c.Bytes, int64(10))
	util.AssertEqual(t, rep.snapshot().BytesTransferred, int64(10))
	if got, ok := remote.get("up.txt"); !ok || got.content != "0123456789" {
		t.Errorf("peer copy = %q, %v", got.content, ok)
	}
}

type failingVersioner struct{}

func (failingVersioner) Save(scope, rel, src, reason string) (backup.Metadata, error) {
	return backup.Metadata{}, errors.New("disk full")
}

func TestExecutorVersionFailureKeepsLocalFile(t *testing.T) {
	root := t.TempDir()
	util.WriteFile(t, filepath.Join(root, "note.txt"), "mine")
	util.WriteFile(t, filepath.Join(root, "old.txt"), "old")
	remote := newFakeRemote()
	remote.put("note.txt", "theirs", t0)

	exec := &Executor{Root: root, AppID: "chat", Transport: remote, Versions: failingVersioner{}, Scope: "B2/chat"}
	actions := []Action{
		{Kind: ActionDownload, Path: "note.txt", Entry: entry("note.txt", "theirs", t0), Replaces: true},
		{Kind: ActionDeleteLocal, Path: "old.txt"},
	}
	c, err := exec.Execute(context.Background(), actions, newReporter("p", "chat", nil, 0))
	if err != nil {
		t.Fatal(err)
	}
	if len(c.Failures) != 2 {
		t.Fatalf("failures = %d, want 2", len(c.Failures))
	}
	for name, want := range map[string]string{"note.txt": "mine", "old.txt": "old"} {
		data, err := os.ReadFile(filepath.Join(root, name))
		util.AssertNoError(t, err)
		util.AssertEqual(t, string(data), want)
	}
}
