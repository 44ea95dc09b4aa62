// Package progress renders sync session progress on the terminal.
package progress

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/geogram-dev/geomirror/internal/logging"
	"github.com/geogram-dev/geomirror/internal/sync"
	"github.com/geogram-dev/geomirror/internal/ui"
)

// Bar wraps progressbar with geomirror's UI and logging conventions.
type Bar struct {
	bar     *progressbar.ProgressBar
	enabled bool
	desc    string
	max     int64
}

// Options configures the progress bar behavior.
type Options struct {
	// Max is the total number of bytes (or steps) expected. Zero renders a spinner.
	Max int64
	// Description is the prefix text shown before the bar.
	Description string
	// Writer is the output destination. Defaults to os.Stderr.
	Writer io.Writer
	// Force shows the bar even when Writer is not a terminal.
	Force bool
}

// New creates a progress bar. The bar is only drawn when colors are enabled,
// the writer is a terminal, and debug logging is off. Otherwise the bar logs
// start and finish at debug level.
func New(opts Options) *Bar {
	if opts.Writer == nil {
		opts.Writer = os.Stderr
	}

	b := &Bar{
		enabled: opts.Force || shouldShowProgress(opts.Writer),
		desc:    opts.Description,
		max:     opts.Max,
	}
	if !b.enabled {
		logging.Debug(opts.Description+" started", logging.Bytes(opts.Max))
		return b
	}

	max := opts.Max
	if max <= 0 {
		max = -1
	}
	b.bar = progressbar.NewOptions64(
		max,
		progressbar.OptionSetDescription(opts.Description),
		progressbar.OptionSetWriter(opts.Writer),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetWidth(15),
		progressbar.OptionThrottle(65*time.Millisecond),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionOnCompletion(func() {
			_, _ = fmt.Fprint(opts.Writer, "\n")
		}),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionFullWidth(),
		progressbar.OptionSetRenderBlankState(true),
		progressbar.OptionEnableColorCodes(ui.IsColorEnabled()),
	)
	return b
}

// Enabled reports whether the bar is drawn.
func (b *Bar) Enabled() bool {
	return b.enabled
}

// SetMax changes the expected total, e.g. once a session has planned its work.
func (b *Bar) SetMax(max int64) {
	b.max = max
	if !b.enabled || max <= 0 {
		return
	}
	b.bar.ChangeMax64(max)
}

// Set64 moves the bar to n.
func (b *Bar) Set64(n int64) error {
	if !b.enabled {
		return nil
	}
	return b.bar.Set64(n)
}

// Describe updates the bar description.
func (b *Bar) Describe(desc string) {
	b.desc = desc
	if !b.enabled {
		return
	}
	b.bar.Describe(desc)
}

// Finish completes the bar and logs completion.
func (b *Bar) Finish() error {
	if !b.enabled {
		logging.Debug(b.desc + " completed")
		return nil
	}
	return b.bar.Finish()
}

// Clear removes the bar from the terminal.
func (b *Bar) Clear() error {
	if !b.enabled {
		return nil
	}
	return b.bar.Clear()
}

// Track renders a session's status stream until the channel closes and
// returns the last status seen.
func Track(w io.Writer, updates <-chan sync.Status) sync.Status {
	var (
		bar  *Bar
		last sync.Status
	)
	for st := range updates {
		last = st
		if bar == nil {
			bar = New(Options{Description: label(st, ""), Writer: w})
		}
		if st.TotalBytes > 0 && st.TotalBytes != bar.max {
			bar.SetMax(st.TotalBytes)
		}
		bar.Describe(label(st, st.CurrentFile))
		_ = bar.Set64(st.BytesTransferred)
		if st.State.IsTerminal() {
			if st.State == sync.StateDone {
				_ = bar.Finish()
			} else {
				_ = bar.Clear()
			}
		}
	}
	return last
}

func label(st sync.Status, file string) string {
	desc := fmt.Sprintf("%s/%s %s", st.PeerID, st.AppID, st.State)
	if st.TotalFiles > 0 {
		desc += fmt.Sprintf(" %d/%d", st.FilesProcessed, st.TotalFiles)
	}
	if file != "" {
		desc += " " + file
	}
	return desc
}

// shouldShowProgress determines if progress bars should be displayed.
func shouldShowProgress(w io.Writer) bool {
	if !ui.IsColorEnabled() {
		return false
	}
	if !ui.IsTerminal(w) {
		return false
	}
	// Avoid interleaving with debug logs.
	return !logging.Default().Enabled(context.Background(), logging.LevelDebug)
}
