package registry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/geogram-dev/geomirror/internal/model"
	"github.com/geogram-dev/geomirror/internal/util"
)

// Store persists the whole peer snapshot.
type Store interface {
	Load() (map[string]model.Peer, error)
	Save(peers map[string]model.Peer) error
	Close() error
}

const documentVersion = 1

type document struct {
	Version int                   `json:"version"`
	Peers   map[string]model.Peer `json:"peers"`
}

// JSONStore keeps peers in one JSON document, replaced atomically on save.
type JSONStore struct {
	path string
}

// NewJSONStore returns a store backed by the file at path.
func NewJSONStore(path string) *JSONStore {
	return &JSONStore{path: path}
}

// Load reads the document. A missing file is an empty registry.
func (s *JSONStore) Load() (map[string]model.Peer, error) {
	// #nosec G304 - registry path comes from configuration
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]model.Peer{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read registry %q: %w", s.path, err)
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse registry %q: %w", s.path, err)
	}
	if doc.Version > documentVersion {
		return nil, fmt.Errorf("registry %q has unsupported version %d", s.path, doc.Version)
	}
	if doc.Peers == nil {
		doc.Peers = map[string]model.Peer{}
	}
	return doc.Peers, nil
}

// Save writes the document through a temp file and rename.
func (s *JSONStore) Save(peers map[string]model.Peer) error {
	data, err := json.MarshalIndent(document{Version: documentVersion, Peers: peers}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode registry: %w", err)
	}
	if _, err := util.WriteAtomic(s.path, bytes.NewReader(data), 0o600, nil); err != nil {
		return err
	}
	return nil
}

// Close is a no-op.
func (s *JSONStore) Close() error { return nil }

// MemoryStore keeps peers in memory only. SaveErr, when set, makes Save fail.
type MemoryStore struct {
	Peers   map[string]model.Peer
	SaveErr error
	Saves   int
}

// Load returns a copy of the stored peers.
func (s *MemoryStore) Load() (map[string]model.Peer, error) {
	return clonePeers(s.Peers), nil
}

// Save stores a copy of peers unless SaveErr is set.
func (s *MemoryStore) Save(peers map[string]model.Peer) error {
	if s.SaveErr != nil {
		return s.SaveErr
	}
	s.Saves++
	s.Peers = clonePeers(peers)
	return nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }

func clonePeers(in map[string]model.Peer) map[string]model.Peer {
	out := make(map[string]model.Peer, len(in))
	for id, p := range in {
		out[id] = p.Clone()
	}
	return out
}
