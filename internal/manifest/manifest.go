// Package manifest describes the files of one app folder as exchanged between peers.
package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"
)

// ErrInvalid is returned by Validate and Decode when a manifest cannot be trusted.
var ErrInvalid = errors.New("invalid manifest")

// Entry describes one file in an app folder.
type Entry struct {
	Path       string    // slash separated, relative to the app folder
	Size       int64     // bytes
	ModifiedAt time.Time // last modification, millisecond precision on the wire
	Hash       string    // hex sha256 of the content
}

// wireEntry is the JSON form served by /api/mirror/manifest.
type wireEntry struct {
	Path       string `json:"path"`
	Size       int64  `json:"size"`
	ModifiedAt int64  `json:"modifiedAt"`
	Hash       string `json:"hash"`
}

// MarshalJSON encodes modifiedAt as Unix milliseconds.
func (e Entry) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireEntry{
		Path:       e.Path,
		Size:       e.Size,
		ModifiedAt: e.ModifiedAt.UnixMilli(),
		Hash:       e.Hash,
	})
}

// UnmarshalJSON decodes the wire form.
func (e *Entry) UnmarshalJSON(data []byte) error {
	var w wireEntry
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*e = Entry{
		Path:       w.Path,
		Size:       w.Size,
		ModifiedAt: time.UnixMilli(w.ModifiedAt).UTC(),
		Hash:       w.Hash,
	}
	return nil
}

// Manifest maps relative path to entry.
type Manifest map[string]Entry

// Paths returns the manifest paths sorted.
func (m Manifest) Paths() []string {
	return slices.Sorted(maps.Keys(m))
}

// TotalSize returns the sum of all entry sizes.
func (m Manifest) TotalSize() int64 {
	var total int64
	for _, e := range m {
		total += e.Size
	}
	return total
}

// Entries returns the entries sorted by path.
func (m Manifest) Entries() []Entry {
	out := make([]Entry, 0, len(m))
	for _, p := range m.Paths() {
		out = append(out, m[p])
	}
	return out
}

// MarshalJSON encodes the manifest as a path-sorted array.
func (m Manifest) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.Entries())
}

// FromEntries builds a manifest, rejecting duplicate and invalid entries.
func FromEntries(entries []Entry) (Manifest, error) {
	m := make(Manifest, len(entries))
	for i, e := range entries {
		if err := ValidateEntry(e); err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		if _, dup := m[e.Path]; dup {
			return nil, fmt.Errorf("%w: duplicate path %q", ErrInvalid, e.Path)
		}
		m[e.Path] = e
	}
	return m, nil
}

// Decode parses the JSON array form into a validated manifest.
func Decode(data []byte) (Manifest, error) {
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return FromEntries(entries)
}

// ValidateEntry checks that the entry can be applied safely.
func ValidateEntry(e Entry) error {
	if e.Path == "" {
		return fmt.Errorf("%w: missing path", ErrInvalid)
	}
	if !ValidPath(e.Path) {
		return fmt.Errorf("%w: unsafe path %q", ErrInvalid, e.Path)
	}
	if e.Size < 0 {
		return fmt.Errorf("%w: negative size for %q", ErrInvalid, e.Path)
	}
	if !validHash(e.Hash) {
		return fmt.Errorf("%w: bad hash for %q", ErrInvalid, e.Path)
	}
	return nil
}

// ValidPath reports whether p is a clean slash-separated relative path that
// cannot escape its folder.
func ValidPath(p string) bool {
	if p == "" || strings.HasPrefix(p, "/") || strings.Contains(p, "\\") {
		return false
	}
	for _, part := range strings.Split(p, "/") {
		if part == "" || part == "." || part == ".." {
			return false
		}
	}
	return true
}

func validHash(h string) bool {
	if len(h) != 64 {
		return false
	}
	for _, c := range h {
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f') {
			return false
		}
	}
	return true
}
