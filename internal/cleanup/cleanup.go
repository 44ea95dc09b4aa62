// Package cleanup removes mirrored data of callsigns that are no longer
// paired, or that have not been touched for a long time.
package cleanup

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/geogram-dev/geomirror/internal/logging"
)

// ErrNoOwnCallsign is returned when the local callsign is unknown. Without
// it the local profile's folder could not be protected.
var ErrNoOwnCallsign = errors.New("own callsign is not configured")

// Reasons a callsign folder is removed.
const (
	ReasonUnpaired = "unpaired"
	ReasonStale    = "stale"
)

// Options configures a cleanup pass.
type Options struct {
	// DataDir holds one folder per callsign.
	DataDir string
	// OwnCallsign is the local profile's folder. It is never removed.
	OwnCallsign string
	// Paired lists callsigns of registered peers.
	Paired []string
	// MaxAge removes paired folders whose newest file is older. Zero disables it.
	MaxAge time.Duration
	// DryRun reports candidates without removing anything.
	DryRun bool
	// Now defaults to time.Now.
	Now func() time.Time
}

// Candidate is a callsign folder selected for removal.
type Candidate struct {
	Callsign   string
	Path       string
	Reason     string
	Size       int64
	Files      int
	ModifiedAt time.Time
}

// Report lists what a pass removed, or would remove in dry-run mode.
type Report struct {
	Removed []Candidate
	Freed   int64
	DryRun  bool
}

// Plan returns the callsign folders Run would remove, sorted by callsign.
func Plan(opts Options) ([]Candidate, error) {
	if strings.TrimSpace(opts.OwnCallsign) == "" {
		return nil, ErrNoOwnCallsign
	}
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}

	entries, err := os.ReadDir(opts.DataDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read data dir: %w", err)
	}

	paired := make(map[string]bool, len(opts.Paired))
	for _, c := range opts.Paired {
		paired[strings.ToUpper(c)] = true
	}

	var out []Candidate
	for _, e := range entries {
		name := e.Name()
		// Only real directories; symlinks are never followed.
		if !e.IsDir() || e.Type()&fs.ModeSymlink != 0 || strings.HasPrefix(name, ".") {
			continue
		}
		if strings.EqualFold(name, opts.OwnCallsign) {
			continue
		}

		path := filepath.Join(opts.DataDir, name)
		c := Candidate{Callsign: name, Path: path}
		if err := measure(path, &c); err != nil {
			logging.Warn("cleanup: cannot inspect folder", logging.Path(path), logging.Err(err))
			continue
		}

		switch {
		case !paired[strings.ToUpper(name)]:
			c.Reason = ReasonUnpaired
		case opts.MaxAge > 0 && now().Sub(c.ModifiedAt) > opts.MaxAge:
			c.Reason = ReasonStale
		default:
			continue
		}
		out = append(out, c)
	}

	slices.SortFunc(out, func(a, b Candidate) int { return strings.Compare(a.Callsign, b.Callsign) })
	return out, nil
}

// Run removes the planned folders unless DryRun is set. It stops at the first
// removal error and reports what was removed before it.
func Run(opts Options) (Report, error) {
	candidates, err := Plan(opts)
	if err != nil {
		return Report{}, err
	}
	report := Report{DryRun: opts.DryRun}
	for _, c := range candidates {
		if filepath.Dir(c.Path) != filepath.Clean(opts.DataDir) {
			return report, fmt.Errorf("refusing to remove %s: outside %s", c.Path, opts.DataDir)
		}
		if !opts.DryRun {
			if err := os.RemoveAll(c.Path); err != nil {
				return report, fmt.Errorf("remove %s: %w", c.Callsign, err)
			}
			logging.Info("removed mirrored callsign folder",
				logging.Path(c.Path),
				"reason", c.Reason,
				logging.Bytes(c.Size),
			)
		}
		report.Removed = append(report.Removed, c)
		report.Freed += c.Size
	}
	return report, nil
}

// measure sums file sizes and finds the newest modification time of any
// entry under dir. Directory times are included because mirrored files keep
// their remote mtime while the rename that delivered them touches the parent.
func measure(dir string, c *Candidate) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && !d.Type().IsRegular() {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		if fi.ModTime().After(c.ModifiedAt) {
			c.ModifiedAt = fi.ModTime()
		}
		if d.Type().IsRegular() {
			c.Files++
			c.Size += fi.Size()
		}
		return nil
	})
}
