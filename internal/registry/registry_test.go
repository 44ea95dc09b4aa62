package registry

import (
	"errors"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/geogram-dev/geomirror/internal/model"
)

func openMemory(t *testing.T) (*Registry, *MemoryStore) {
	t.Helper()
	store := &MemoryStore{}
	r, err := Open(store)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	return r, store
}

func TestAddPeerGeneratesID(t *testing.T) {
	r, store := openMemory(t)

	p, err := r.AddPeer(model.Peer{Name: "laptop", Callsign: "X1ABCD", Addresses: []string{"10.0.0.2:3456"}})
	if err != nil {
		t.Fatalf("AddPeer() error = %v", err)
	}
	if p.ID == "" {
		t.Error("AddPeer() should generate an id")
	}
	if p.PairedAt.IsZero() {
		t.Error("AddPeer() should set PairedAt")
	}
	if store.Saves != 1 {
		t.Errorf("store saves = %d, want 1", store.Saves)
	}
	if _, ok := r.Get(p.ID); !ok {
		t.Error("Get() should find the added peer")
	}
}

func TestAddPeerRejectsDuplicateAndInvalid(t *testing.T) {
	r, _ := openMemory(t)
	if _, err := r.AddPeer(model.Peer{ID: "p1", Callsign: "X1"}); err != nil {
		t.Fatal(err)
	}
	if _, err := r.AddPeer(model.Peer{ID: "p1", Callsign: "X1"}); !errors.Is(err, ErrPeerExists) {
		t.Errorf("duplicate AddPeer() error = %v, want ErrPeerExists", err)
	}
	if _, err := r.AddPeer(model.Peer{ID: "p2"}); err == nil {
		t.Error("AddPeer() without callsign or address should fail")
	}
	bad := model.Peer{ID: "p3", Callsign: "X3", Apps: map[string]model.AppSyncConfig{
		"nope": {Enabled: true},
	}}
	if _, err := r.AddPeer(bad); err == nil {
		t.Error("AddPeer() with unknown app should fail")
	}
}

func TestRemovePeer(t *testing.T) {
	r, _ := openMemory(t)
	p, _ := r.AddPeer(model.Peer{Callsign: "X1"})

	if err := r.RemovePeer(p.ID); err != nil {
		t.Fatalf("RemovePeer() error = %v", err)
	}
	if _, ok := r.Get(p.ID); ok {
		t.Error("peer should be gone")
	}
	if err := r.RemovePeer(p.ID); !errors.Is(err, ErrPeerNotFound) {
		t.Errorf("second RemovePeer() error = %v, want ErrPeerNotFound", err)
	}
}

func TestUpdatePeerAppConfigAndEnabledApps(t *testing.T) {
	r, _ := openMemory(t)
	p, _ := r.AddPeer(model.Peer{Callsign: "X1"})

	configs := map[string]model.AppSyncConfig{
		"places": {Enabled: true, Style: model.StyleReceiveOnly},
		"chat":   {Enabled: true, Style: model.StyleSendReceive, IgnorePatterns: []string{"*.tmp", "*.tmp", " "}},
		"blog":   {Enabled: true, Style: model.StylePaused},
		"wallet": {Enabled: false, Style: model.StyleSendReceive},
	}
	for appID, cfg := range configs {
		if err := r.UpdatePeerAppConfig(p.ID, appID, cfg); err != nil {
			t.Fatalf("UpdatePeerAppConfig(%s) error = %v", appID, err)
		}
	}

	got := r.GetEnabledAppsForPeer(p.ID)
	want := []string{"chat", "places"}
	if !slices.Equal(got, want) {
		t.Errorf("GetEnabledAppsForPeer() = %v, want %v", got, want)
	}

	stored, _ := r.Get(p.ID)
	if pats := stored.Apps["chat"].IgnorePatterns; !slices.Equal(pats, []string{"*.tmp"}) {
		t.Errorf("ignore patterns = %v, want deduplicated [*.tmp]", pats)
	}

	if r.GetEnabledAppsForPeer("missing") != nil {
		t.Error("unknown peer should have no enabled apps")
	}
}

func TestUpdatePeerAppConfigValidation(t *testing.T) {
	r, _ := openMemory(t)
	p, _ := r.AddPeer(model.Peer{Callsign: "X1"})

	tests := []struct {
		name  string
		id    string
		appID string
		cfg   model.AppSyncConfig
	}{
		{"unknown app", p.ID, "nope", model.AppSyncConfig{Enabled: true}},
		{"bad style", p.ID, "chat", model.AppSyncConfig{Style: "sideways"}},
		{"bad pattern", p.ID, "chat", model.AppSyncConfig{IgnorePatterns: []string{"[unclosed"}}},
		{"unknown peer", "missing", "chat", model.AppSyncConfig{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := r.UpdatePeerAppConfig(tt.id, tt.appID, tt.cfg); err == nil {
				t.Error("UpdatePeerAppConfig() should fail")
			}
		})
	}
}

func TestPersistenceFailureRollsBack(t *testing.T) {
	r, store := openMemory(t)
	p, _ := r.AddPeer(model.Peer{Name: "phone", Callsign: "X1"})

	store.SaveErr = errors.New("disk full")
	renamed := p
	renamed.Name = "tablet"
	err := r.UpdatePeer(renamed)

	if !errors.Is(err, ErrPersistence) {
		t.Fatalf("UpdatePeer() error = %v, want ErrPersistence", err)
	}
	var perr *PersistenceError
	if !errors.As(err, &perr) || perr.Op != "update" {
		t.Errorf("error = %#v, want *PersistenceError{Op: update}", err)
	}
	got, _ := r.Get(p.ID)
	if got.Name != "phone" {
		t.Errorf("Name = %q after failed write, want rollback to phone", got.Name)
	}

	if _, err := r.AddPeer(model.Peer{ID: "other", Callsign: "X2"}); !errors.Is(err, ErrPersistence) {
		t.Errorf("AddPeer() error = %v, want ErrPersistence", err)
	}
	if _, ok := r.Get("other"); ok {
		t.Error("failed AddPeer() must not be visible")
	}
}

func TestMarkPeerSyncedAndSeen(t *testing.T) {
	r, _ := openMemory(t)
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return fixed }
	p, _ := r.AddPeer(model.Peer{Callsign: "X1"})

	if err := r.MarkPeerSynced(p.ID); err != nil {
		t.Fatal(err)
	}
	got, _ := r.Get(p.ID)
	if got.LastSyncAt == nil || !got.LastSyncAt.Equal(fixed) || !got.IsOnline {
		t.Errorf("after MarkPeerSynced: %+v", got)
	}

	if err := r.MarkPeerSeen(p.ID, false); err != nil {
		t.Fatal(err)
	}
	got, _ = r.Get(p.ID)
	if got.IsOnline {
		t.Error("MarkPeerSeen(false) should mark offline")
	}
	if err := r.MarkPeerSynced("missing"); !errors.Is(err, ErrPeerNotFound) {
		t.Errorf("MarkPeerSynced(missing) error = %v", err)
	}
}

func TestReadsAreCopies(t *testing.T) {
	r, _ := openMemory(t)
	p, _ := r.AddPeer(model.Peer{Callsign: "X1", Addresses: []string{"a:1"}})

	got, _ := r.Get(p.ID)
	got.Addresses[0] = "mutated"
	again, _ := r.Get(p.ID)
	if again.Addresses[0] != "a:1" {
		t.Error("mutating a returned peer changed registry state")
	}
}

func TestLookup(t *testing.T) {
	r, _ := openMemory(t)
	p, _ := r.AddPeer(model.Peer{Name: "Laptop", Callsign: "X1ABCD", PublicKey: "ABCDEF"})

	for _, ref := range []string{p.ID, "x1abcd", "laptop"} {
		if got, ok := r.Lookup(ref); !ok || got.ID != p.ID {
			t.Errorf("Lookup(%q) = %v, %v", ref, got.ID, ok)
		}
	}
	if got, ok := r.FindByPublicKey("abcdef"); !ok || got.ID != p.ID {
		t.Error("FindByPublicKey() should match case-insensitively")
	}
	if _, ok := r.Lookup("nobody"); ok {
		t.Error("Lookup(nobody) should miss")
	}
}

func TestConcurrentMutations(t *testing.T) {
	r, _ := openMemory(t)
	p, _ := r.AddPeer(model.Peer{Callsign: "X1"})

	var wg sync.WaitGroup
	for _, appID := range model.KnownApps {
		wg.Add(1)
		go func(appID string) {
			defer wg.Done()
			_ = r.UpdatePeerAppConfig(p.ID, appID, model.AppSyncConfig{Enabled: true})
		}(appID)
	}
	wg.Wait()

	if got := r.GetEnabledAppsForPeer(p.ID); len(got) != len(model.KnownApps) {
		t.Errorf("enabled apps = %d, want %d", len(got), len(model.KnownApps))
	}
}

func testStoreRoundTrip(t *testing.T, open func() Store) {
	t.Helper()
	store := open()
	r, err := Open(store)
	if err != nil {
		t.Fatal(err)
	}
	p, err := r.AddPeer(model.Peer{Name: "laptop", Callsign: "X1ABCD", Addresses: []string{"10.0.0.2:3456"}})
	if err != nil {
		t.Fatal(err)
	}
	if err := r.UpdatePeerAppConfig(p.ID, "chat", model.AppSyncConfig{Enabled: true, Style: model.StyleSendOnly, IgnorePatterns: []string{"*.log"}}); err != nil {
		t.Fatal(err)
	}
	if err := r.MarkPeerSynced(p.ID); err != nil {
		t.Fatal(err)
	}
	if err := r.Close(); err != nil {
		t.Fatal(err)
	}

	reopened, err := Open(open())
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer func() { _ = reopened.Close() }()

	got, ok := reopened.Get(p.ID)
	if !ok {
		t.Fatal("peer not persisted")
	}
	if got.Callsign != "X1ABCD" || got.LastSyncAt == nil {
		t.Errorf("reloaded peer = %+v", got)
	}
	cfg := got.Apps["chat"]
	if cfg.Style != model.StyleSendOnly || !cfg.Enabled || !slices.Equal(cfg.IgnorePatterns, []string{"*.log"}) {
		t.Errorf("reloaded app config = %+v", cfg)
	}
}

func TestJSONStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "peers.json")
	testStoreRoundTrip(t, func() Store { return NewJSONStore(path) })
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "peers.db")
	testStoreRoundTrip(t, func() Store {
		s, err := OpenSQLiteStore(path)
		if err != nil {
			t.Fatalf("OpenSQLiteStore() error = %v", err)
		}
		return s
	})
}

func TestJSONStoreMissingFile(t *testing.T) {
	peers, err := NewJSONStore(filepath.Join(t.TempDir(), "none.json")).Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(peers) != 0 {
		t.Errorf("Load() = %d peers, want 0", len(peers))
	}
}
