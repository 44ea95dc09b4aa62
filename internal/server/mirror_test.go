package server

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/geogram-dev/geomirror/internal/auth"
	"github.com/geogram-dev/geomirror/internal/model"
	"github.com/geogram-dev/geomirror/internal/registry"
	msync "github.com/geogram-dev/geomirror/internal/sync"
	"github.com/geogram-dev/geomirror/internal/util"
)

// Two devices of the same profile mirror the chat folder over HTTP.
func TestMirrorBetweenDevices(t *testing.T) {
	const callsign = "X1SAME"

	// Device B serves its folder and trusts device A's key.
	keyA, err := auth.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	signerA := auth.NewEd25519Signer(keyA)
	regB, _ := registry.Open(&registry.MemoryStore{})
	if _, err := regB.AddPeer(model.Peer{Name: "device A", Callsign: callsign, PublicKey: signerA.PublicKey()}); err != nil {
		t.Fatal(err)
	}
	serverB, urlB := startServer(t, Options{Callsign: callsign, RequireAuth: true, Registry: regB})
	rootB := serverB.Root("chat")
	util.WriteFile(t, filepath.Join(rootB, "from-b.txt"), "written on B")

	// Device A syncs chat with B.
	dataA := t.TempDir()
	rootA := filepath.Join(dataA, callsign, "chat")
	util.WriteFile(t, filepath.Join(rootA, "from-a.txt"), "written on A")

	regA, _ := registry.Open(&registry.MemoryStore{})
	peerB, err := regA.AddPeer(model.Peer{
		Name:      "device B",
		Callsign:  callsign,
		Addresses: []string{urlB},
		Apps: map[string]model.AppSyncConfig{
			"chat": {Enabled: true, Style: model.StyleSendReceive, IgnorePatterns: []string{"*.lock"}},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	util.WriteFile(t, filepath.Join(rootA, "session.lock"), "local only")

	engine := msync.NewEngine(regA, msync.NewClientFactory(callsign, signerA, 5*time.Second), msync.Config{
		DataDir:  dataA,
		Callsign: callsign,
		CacheDir: t.TempDir(),
	})

	res, err := engine.SyncFolder(context.Background(), peerB.ID, "chat", nil)
	if err != nil {
		t.Fatalf("SyncFolder() error = %v", err)
	}
	if res.FilesAdded != 1 || res.FilesUploaded != 1 || res.Errors() != 0 {
		t.Errorf("first sync = %+v, want 1 added and 1 uploaded", res)
	}

	assertFile(t, filepath.Join(rootA, "from-b.txt"), "written on B")
	assertFile(t, filepath.Join(rootB, "from-a.txt"), "written on A")
	if _, err := os.Stat(filepath.Join(rootB, "session.lock")); !os.IsNotExist(err) {
		t.Error("ignored file was uploaded")
	}

	again, err := engine.SyncFolder(context.Background(), peerB.ID, "chat", nil)
	if err != nil {
		t.Fatal(err)
	}
	if again.Changed() != 0 {
		t.Errorf("second sync changed %d files, want 0", again.Changed())
	}
}

func assertFile(t *testing.T, path, want string) {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	if string(data) != want {
		t.Errorf("%s = %q, want %q", path, data, want)
	}
}
