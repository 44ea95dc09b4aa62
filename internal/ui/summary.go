package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/geogram-dev/geomirror/internal/sync"
)

// FormatResult renders one session outcome as a status line.
func FormatResult(r sync.Result) string {
	label := r.PeerID + "/" + r.AppID
	if !r.Success {
		return StatusError(fmt.Sprintf("%s: %v", label, r.Err))
	}
	line := fmt.Sprintf("%s: %s", label, r.Summary())
	if r.BytesTransferred > 0 {
		line += Dim(fmt.Sprintf(" (%s in %s)", humanize.Bytes(uint64(r.BytesTransferred)), r.Duration.Round(time.Millisecond))) // #nosec G115 - byte counts are non-negative
	}
	switch {
	case r.Errors() > 0:
		return StatusWarning(line)
	case r.Changed() == 0:
		return StatusSkipped(line)
	default:
		return StatusSuccess(line)
	}
}

// FormatTotals renders the aggregate of a sweep.
func FormatTotals(t sync.Totals) string {
	var sb strings.Builder
	sb.WriteString(Bold(t.Summary()))
	if t.BytesTransferred > 0 {
		sb.WriteString(Dim(fmt.Sprintf(" · %s transferred", humanize.Bytes(uint64(t.BytesTransferred))))) // #nosec G115 - byte counts are non-negative
	}
	if t.Failed > 0 {
		sb.WriteString(" " + Error(fmt.Sprintf("(%d of %d sessions failed)", t.Failed, t.Sessions)))
	}
	return sb.String()
}

// FormatFailures lists per-file failures, one per line, indented.
func FormatFailures(r sync.Result) string {
	if len(r.Failures) == 0 {
		return ""
	}
	var sb strings.Builder
	for _, f := range r.Failures {
		sb.WriteString("    ")
		sb.WriteString(Error(SymbolError))
		sb.WriteString(" ")
		sb.WriteString(f.Error())
		sb.WriteString("\n")
	}
	return sb.String()
}

// RelativeTime renders a nullable timestamp like "3 minutes ago", or "never".
func RelativeTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "never"
	}
	return humanize.Time(*t)
}
