package sync

import (
	"fmt"
	"strings"
	"time"
)

// Result is the outcome of one SyncFolder call. It is not modified after return.
type Result struct {
	PeerID string
	AppID  string

	// Success is true when the session reached the done state. Per-file
	// failures do not clear it; they are counted in Errors.
	Success bool

	FilesAdded       int
	FilesModified    int
	FilesUploaded    int
	FilesDeleted     int
	Skipped          int
	BytesTransferred int64

	// Failures lists the per-file errors of the session.
	Failures []*TransferError
	// Err is the reason the session ended in error.
	Err error

	Duration time.Duration
}

// Errors returns the number of failed file actions.
func (r Result) Errors() int {
	return len(r.Failures)
}

// Changed returns the number of files written or removed on either side.
func (r Result) Changed() int {
	return r.FilesAdded + r.FilesModified + r.FilesUploaded + r.FilesDeleted
}

// Summary returns a one-line human-readable summary.
func (r Result) Summary() string {
	if !r.Success {
		return fmt.Sprintf("%s/%s failed: %v", r.PeerID, r.AppID, r.Err)
	}
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("+%d new, ~%d updated, ↑%d uploaded", r.FilesAdded, r.FilesModified, r.FilesUploaded))
	if r.FilesDeleted > 0 {
		sb.WriteString(fmt.Sprintf(", -%d deleted", r.FilesDeleted))
	}
	if n := r.Errors(); n > 0 {
		sb.WriteString(fmt.Sprintf(", %d errors", n))
	}
	return sb.String()
}

// Totals aggregates results across apps and peers of a sweep.
type Totals struct {
	Sessions         int
	Failed           int
	FilesAdded       int
	FilesModified    int
	FilesUploaded    int
	FilesDeleted     int
	Errors           int
	BytesTransferred int64
}

// Add folds r into t. A failed session counts as one error.
func (t *Totals) Add(r Result) {
	t.Sessions++
	t.FilesAdded += r.FilesAdded
	t.FilesModified += r.FilesModified
	t.FilesUploaded += r.FilesUploaded
	t.FilesDeleted += r.FilesDeleted
	t.Errors += r.Errors()
	t.BytesTransferred += r.BytesTransferred
	if !r.Success {
		t.Failed++
		t.Errors++
	}
}

// Summary renders "+N new, ~M updated, ↑K uploaded, E errors".
func (t Totals) Summary() string {
	return fmt.Sprintf("+%d new, ~%d updated, ↑%d uploaded, %d errors",
		t.FilesAdded, t.FilesModified, t.FilesUploaded, t.Errors)
}
