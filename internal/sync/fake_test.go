package sync

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	gosync "sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/geogram-dev/geomirror/internal/manifest"
	"github.com/geogram-dev/geomirror/internal/model"
	"github.com/geogram-dev/geomirror/internal/peerclient"
	"github.com/geogram-dev/geomirror/internal/registry"
	"github.com/geogram-dev/geomirror/internal/util"
)

type fakeFile struct {
	content string
	modTime time.Time
}

// fakeRemote is an in-memory peer folder implementing Transport.
type fakeRemote struct {
	mu    gosync.Mutex
	files map[string]fakeFile

	fetchErr    error
	failPaths   map[string]error
	corruptPath string
	// fetchGate, when set, blocks FetchManifest until closed.
	fetchGate    chan struct{}
	fetchEntered chan struct{}
	// stallPath streams half of the file, signals stalled, then waits for ctx.
	stallPath string
	stalled   chan struct{}

	active    atomic.Int32
	maxActive atomic.Int32
	deleted   []string
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{files: make(map[string]fakeFile), failPaths: make(map[string]error)}
}

func (f *fakeRemote) put(path, content string, modTime time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[path] = fakeFile{content: content, modTime: time.UnixMilli(modTime.UnixMilli()).UTC()}
}

func (f *fakeRemote) get(path string) (fakeFile, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ff, ok := f.files[path]
	return ff, ok
}

func (f *fakeRemote) FetchManifest(ctx context.Context, appID string) (manifest.Manifest, error) {
	n := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		cur := f.maxActive.Load()
		if n <= cur || f.maxActive.CompareAndSwap(cur, n) {
			break
		}
	}
	if f.fetchEntered != nil {
		f.fetchEntered <- struct{}{}
	}
	if f.fetchGate != nil {
		select {
		case <-f.fetchGate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	m := make(manifest.Manifest, len(f.files))
	for p, ff := range f.files {
		m[p] = manifest.Entry{Path: p, Size: int64(len(ff.content)), ModifiedAt: ff.modTime, Hash: hashOf(ff.content)}
	}
	return m, nil
}

func (f *fakeRemote) Download(ctx context.Context, appID, path string) (io.ReadCloser, peerclient.RemoteFile, error) {
	if err := f.failPaths[path]; err != nil {
		return nil, peerclient.RemoteFile{}, err
	}
	ff, ok := f.get(path)
	if !ok {
		return nil, peerclient.RemoteFile{}, &peerclient.RejectedError{Status: 404, Message: "not found"}
	}
	info := peerclient.RemoteFile{Size: int64(len(ff.content)), ModifiedAt: ff.modTime}
	content := ff.content
	if path == f.corruptPath {
		content = strings.ToUpper(content)
	}
	if path == f.stallPath {
		return io.NopCloser(&stallReader{ctx: ctx, head: content[:len(content)/2], stalled: f.stalled}), info, nil
	}
	return io.NopCloser(strings.NewReader(content)), info, nil
}

func (f *fakeRemote) Upload(ctx context.Context, appID string, entry manifest.Entry, open func() (io.ReadCloser, error)) error {
	if err := f.failPaths[entry.Path]; err != nil {
		return err
	}
	rc, err := open()
	if err != nil {
		return err
	}
	defer func() { _ = rc.Close() }()
	data, err := io.ReadAll(rc)
	if err != nil {
		return err
	}
	f.put(entry.Path, string(data), entry.ModifiedAt)
	return nil
}

func (f *fakeRemote) Delete(ctx context.Context, appID, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.files, path)
	f.deleted = append(f.deleted, path)
	return nil
}

type stallReader struct {
	ctx     context.Context
	head    string
	sent    bool
	stalled chan struct{}
}

func (s *stallReader) Read(p []byte) (int, error) {
	if !s.sent {
		s.sent = true
		return copy(p, s.head), nil
	}
	if s.stalled != nil {
		close(s.stalled)
		s.stalled = nil
	}
	<-s.ctx.Done()
	return 0, s.ctx.Err()
}

func hashOf(content string) string {
	h, err := manifest.HashReader(strings.NewReader(content))
	if err != nil {
		panic(err)
	}
	return h
}

// testEnv wires an engine to a fake remote for peer "laptop" (callsign X1TEST).
type testEnv struct {
	engine  *Engine
	reg     *registry.Registry
	remote  *fakeRemote
	peerID  string
	dataDir string
	appDir  string
}

func newTestEnv(t *testing.T, style model.SyncStyle, patterns ...string) *testEnv {
	t.Helper()
	reg, err := registry.Open(&registry.MemoryStore{})
	if err != nil {
		t.Fatal(err)
	}
	peer, err := reg.AddPeer(model.Peer{
		Name:      "laptop",
		Callsign:  "X1TEST",
		Addresses: []string{"127.0.0.1:1"},
		Apps: map[string]model.AppSyncConfig{
			"chat": {Enabled: true, Style: style, IgnorePatterns: patterns},
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	remote := newFakeRemote()
	dataDir := t.TempDir()
	engine := NewEngine(reg, func(model.Peer) (Transport, error) { return remote, nil }, Config{
		DataDir:  dataDir,
		Callsign: "X1SELF",
	})
	return &testEnv{
		engine:  engine,
		reg:     reg,
		remote:  remote,
		peerID:  peer.ID,
		dataDir: dataDir,
		appDir:  filepath.Join(dataDir, "X1TEST", "chat"),
	}
}

func (e *testEnv) writeLocal(t *testing.T, rel, content string, modTime time.Time) {
	t.Helper()
	p := filepath.Join(e.appDir, filepath.FromSlash(rel))
	util.WriteFile(t, p, content)
	if err := os.Chtimes(p, modTime, modTime); err != nil {
		t.Fatal(err)
	}
}

func (e *testEnv) readLocal(t *testing.T, rel string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(e.appDir, filepath.FromSlash(rel)))
	if err != nil {
		t.Fatalf("read %s: %v", rel, err)
	}
	return string(data)
}

// collect runs SyncFolder with an updates channel and returns every status received.
func (e *testEnv) collect(ctx context.Context, appID string) (Result, []Status, error) {
	updates := make(chan Status, 64)
	var statuses []Status
	done := make(chan struct{})
	go func() {
		defer close(done)
		for st := range updates {
			statuses = append(statuses, st)
		}
	}()
	res, err := e.engine.SyncFolder(ctx, e.peerID, appID, updates)
	<-done
	return res, statuses, err
}

func assertNoTempFiles(t *testing.T, dir string) {
	t.Helper()
	err := filepath.WalkDir(dir, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil
			}
			return err
		}
		if util.IsTempFile(d.Name()) {
			t.Errorf("temp file left behind: %s", p)
		}
		return nil
	})
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		t.Fatal(err)
	}
}
