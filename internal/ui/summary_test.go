package ui

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/geogram-dev/geomirror/internal/sync"
)

func TestFormatResult(t *testing.T) {
	DisableColors()
	defer EnableColors()

	tests := []struct {
		name   string
		result sync.Result
		prefix string
		want   []string
	}{
		{
			name:   "changes",
			result: sync.Result{PeerID: "p1", AppID: "chat", Success: true, FilesAdded: 2, BytesTransferred: 2048, Duration: time.Second},
			prefix: SymbolSuccess,
			want:   []string{"p1/chat", "+2 new", "2.0 kB"},
		},
		{
			name:   "nothing to do",
			result: sync.Result{PeerID: "p1", AppID: "blog", Success: true},
			prefix: SymbolSkipped,
			want:   []string{"+0 new"},
		},
		{
			name: "partial failure",
			result: sync.Result{PeerID: "p1", AppID: "chat", Success: true, FilesAdded: 1,
				Failures: []*sync.TransferError{{Kind: sync.ActionDownload, Path: "x", Err: errors.New("boom")}}},
			prefix: SymbolWarning,
			want:   []string{"1 errors"},
		},
		{
			name:   "failed session",
			result: sync.Result{PeerID: "p1", AppID: "chat", Err: errors.New("peer unreachable")},
			prefix: SymbolError,
			want:   []string{"peer unreachable"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FormatResult(tt.result)
			if !strings.HasPrefix(got, tt.prefix) {
				t.Errorf("FormatResult() = %q, want prefix %q", got, tt.prefix)
			}
			for _, w := range tt.want {
				if !strings.Contains(got, w) {
					t.Errorf("FormatResult() = %q, missing %q", got, w)
				}
			}
		})
	}
}

func TestFormatTotals(t *testing.T) {
	DisableColors()
	defer EnableColors()

	got := FormatTotals(sync.Totals{Sessions: 3, Failed: 1, FilesAdded: 4, FilesUploaded: 1, Errors: 1, BytesTransferred: 1000})
	for _, w := range []string{"+4 new", "↑1 uploaded", "1 errors", "1.0 kB", "1 of 3 sessions failed"} {
		if !strings.Contains(got, w) {
			t.Errorf("FormatTotals() = %q, missing %q", got, w)
		}
	}
}

func TestFormatFailures(t *testing.T) {
	DisableColors()
	defer EnableColors()

	if got := FormatFailures(sync.Result{}); got != "" {
		t.Errorf("expected empty output, got %q", got)
	}
	r := sync.Result{Failures: []*sync.TransferError{
		{Kind: sync.ActionUpload, Path: "a.txt", Err: errors.New("rejected")},
		{Kind: sync.ActionDownload, Path: "b.txt", Err: errors.New("hash mismatch")},
	}}
	got := FormatFailures(r)
	if strings.Count(got, "\n") != 2 || !strings.Contains(got, "a.txt") || !strings.Contains(got, "hash mismatch") {
		t.Errorf("FormatFailures() = %q", got)
	}
}

func TestRelativeTime(t *testing.T) {
	if got := RelativeTime(nil); got != "never" {
		t.Errorf("RelativeTime(nil) = %q", got)
	}
	past := time.Now().Add(-3 * time.Hour)
	if got := RelativeTime(&past); !strings.Contains(got, "ago") {
		t.Errorf("RelativeTime(3h ago) = %q", got)
	}
}
