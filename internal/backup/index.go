package backup

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/geogram-dev/geomirror/internal/util"
)

// Reasons a version was kept.
const (
	ReasonReplaced = "replaced"
	ReasonDeleted  = "deleted"
)

// Metadata describes one kept version of a mirrored file.
type Metadata struct {
	ID string `json:"id"`
	// Scope is "<callsign>/<app>", the app folder the file belongs to.
	Scope string `json:"scope"`
	// Path is slash-separated and relative to the app folder.
	Path       string    `json:"path"`
	BackupPath string    `json:"backup_path"`
	Reason     string    `json:"reason"`
	CreatedAt  time.Time `json:"created_at"`
	ModifiedAt time.Time `json:"modified_at"`
	Hash       string    `json:"hash"`
	Size       int64     `json:"size"`
}

// Index lists every kept version by id.
type Index struct {
	Version string              `json:"version"`
	Updated time.Time           `json:"updated"`
	Backups map[string]Metadata `json:"backups"`
}

const (
	// IndexVersion is the current version of the backup index format
	IndexVersion = "1.0"
	// IndexFilename is the name of the index file
	IndexFilename = "index.json"
)

func (s *Store) indexPath() string {
	return filepath.Join(s.root, IndexFilename)
}

// loadIndex reads the index, returning an empty one when it does not exist.
func (s *Store) loadIndex() (*Index, error) {
	// #nosec G304 - the index lives in the configured backup directory
	data, err := os.ReadFile(s.indexPath())
	if os.IsNotExist(err) {
		return &Index{Version: IndexVersion, Backups: make(map[string]Metadata)}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read index file: %w", err)
	}

	var index Index
	if err := json.Unmarshal(data, &index); err != nil {
		return nil, fmt.Errorf("failed to parse index file: %w", err)
	}
	if index.Backups == nil {
		index.Backups = make(map[string]Metadata)
	}
	return &index, nil
}

func (s *Store) saveIndex(index *Index) error {
	index.Version = IndexVersion
	index.Updated = s.now().UTC()

	data, err := json.MarshalIndent(index, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal index: %w", err)
	}
	if _, err := util.WriteAtomic(s.indexPath(), bytes.NewReader(data), 0o640, nil); err != nil {
		return fmt.Errorf("failed to write index file: %w", err)
	}
	return nil
}

// sorted returns the entries newest first, ties broken by id.
func (idx *Index) sorted() []Metadata {
	out := make([]Metadata, 0, len(idx.Backups))
	for _, m := range idx.Backups {
		out = append(out, m)
	}
	slices.SortFunc(out, func(a, b Metadata) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		if a.ID < b.ID {
			return -1
		}
		if a.ID > b.ID {
			return 1
		}
		return 0
	})
	return out
}
