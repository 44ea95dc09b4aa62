package progress

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/geogram-dev/geomirror/internal/sync"
	"github.com/geogram-dev/geomirror/internal/ui"
)

func TestNewDisabledForNonTerminal(t *testing.T) {
	var buf bytes.Buffer
	b := New(Options{Max: 10, Description: "test", Writer: &buf})
	if b.Enabled() {
		t.Fatal("bar should be disabled for a non-terminal writer")
	}
	if err := b.Set64(5); err != nil {
		t.Errorf("Set64 on disabled bar: %v", err)
	}
	b.SetMax(20)
	b.Describe("other")
	if err := b.Finish(); err != nil {
		t.Errorf("Finish on disabled bar: %v", err)
	}
	if buf.Len() != 0 {
		t.Errorf("disabled bar wrote %q", buf.String())
	}
}

func TestForcedBarRenders(t *testing.T) {
	ui.EnableColors()
	var buf bytes.Buffer
	b := New(Options{Max: 100, Description: "chat", Writer: &buf, Force: true})
	if !b.Enabled() {
		t.Fatal("forced bar should be enabled")
	}
	if err := b.Set64(100); err != nil {
		t.Fatalf("Set64: %v", err)
	}
	if err := b.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if !strings.Contains(buf.String(), "chat") {
		t.Errorf("expected description in output, got %q", buf.String())
	}
}

func TestTrackReturnsTerminalStatus(t *testing.T) {
	updates := make(chan sync.Status, 4)
	updates <- sync.Status{PeerID: "p", AppID: "chat", State: sync.StateRequesting}
	updates <- sync.Status{PeerID: "p", AppID: "chat", State: sync.StateSyncing, TotalFiles: 2, TotalBytes: 10, CurrentFile: "a.txt"}
	updates <- sync.Status{PeerID: "p", AppID: "chat", State: sync.StateError, Err: errors.New("boom")}
	close(updates)

	var buf bytes.Buffer
	last := Track(&buf, updates)
	if last.State != sync.StateError || last.Err == nil {
		t.Errorf("Track() last = %+v", last)
	}
}

func TestLabel(t *testing.T) {
	st := sync.Status{PeerID: "p", AppID: "blog", State: sync.StateSyncing, FilesProcessed: 1, TotalFiles: 3}
	if got := label(st, "post.md"); got != "p/blog syncing 1/3 post.md" {
		t.Errorf("label() = %q", got)
	}
	if got := label(sync.Status{PeerID: "p", AppID: "blog", State: sync.StateRequesting}, ""); got != "p/blog requesting" {
		t.Errorf("label() = %q", got)
	}
}
