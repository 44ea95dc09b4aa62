package backup

import (
	"fmt"
	"strings"
	"time"
)

// PruneOptions configures which versions Prune removes.
type PruneOptions struct {
	// MaxPerFile limits the versions kept per file (0 = unlimited)
	MaxPerFile int

	// MaxAge is the maximum age of versions to keep (0 = unlimited)
	MaxAge time.Duration

	// KeepAtLeastOne keeps the newest version of each file regardless of age
	KeepAtLeastOne bool

	// Scope limits pruning to one callsign or callsign/app (empty = all)
	Scope string

	// DryRun reports what would be removed without removing it
	DryRun bool
}

// PruneReport lists what Prune removed, or would remove on a dry run.
type PruneReport struct {
	Removed []Metadata
	Freed   int64
	DryRun  bool
}

// Prune removes versions beyond MaxPerFile or older than MaxAge.
func (s *Store) Prune(opts PruneOptions) (PruneReport, error) {
	report := PruneReport{DryRun: opts.DryRun}

	s.mu.Lock()
	defer s.mu.Unlock()
	index, err := s.loadIndex()
	if err != nil {
		return report, fmt.Errorf("failed to load backup index: %w", err)
	}

	// sorted is newest first, so each group is too.
	groups := make(map[string][]Metadata)
	var order []string
	for _, m := range index.sorted() {
		if !inScope(m.Scope, opts.Scope) {
			continue
		}
		key := m.Scope + "\x00" + m.Path
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], m)
	}

	now := s.now()
	var doomed []Metadata
	for _, key := range order {
		for i, m := range groups[key] {
			if i == 0 && opts.KeepAtLeastOne {
				continue
			}
			expired := opts.MaxAge > 0 && now.Sub(m.CreatedAt) > opts.MaxAge
			overflow := opts.MaxPerFile > 0 && i >= opts.MaxPerFile
			if expired || overflow {
				doomed = append(doomed, m)
			}
		}
	}

	for _, m := range doomed {
		if !opts.DryRun {
			if err := s.deleteLocked(index, m.ID); err != nil {
				_ = s.saveIndex(index)
				return report, fmt.Errorf("failed to delete backup %q: %w", m.ID, err)
			}
		}
		report.Removed = append(report.Removed, m)
		report.Freed += m.Size
	}

	if !opts.DryRun && len(doomed) > 0 {
		if err := s.saveIndex(index); err != nil {
			return report, err
		}
	}
	return report, nil
}

// inScope reports whether scope is filter or lies under it. An empty filter matches all.
func inScope(scope, filter string) bool {
	return filter == "" || scope == filter || strings.HasPrefix(scope, filter+"/")
}

// Stats contains totals over the kept versions.
type Stats struct {
	TotalBackups  int
	TotalSize     int64
	BackupsByPeer map[string]int
	OldestBackup  time.Time
	NewestBackup  time.Time
}

// Stats returns totals over the whole store. Versions are counted by the
// callsign half of their scope.
func (s *Store) Stats() (*Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	index, err := s.loadIndex()
	if err != nil {
		return nil, fmt.Errorf("failed to load backup index: %w", err)
	}

	stats := &Stats{
		TotalBackups:  len(index.Backups),
		BackupsByPeer: make(map[string]int),
	}
	for _, m := range index.Backups {
		stats.TotalSize += m.Size
		stats.BackupsByPeer[callsignOf(m.Scope)]++
		if stats.OldestBackup.IsZero() || m.CreatedAt.Before(stats.OldestBackup) {
			stats.OldestBackup = m.CreatedAt
		}
		if m.CreatedAt.After(stats.NewestBackup) {
			stats.NewestBackup = m.CreatedAt
		}
	}
	return stats, nil
}

func callsignOf(scope string) string {
	callsign, _, _ := strings.Cut(scope, "/")
	return callsign
}
