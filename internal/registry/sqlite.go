package registry

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/geogram-dev/geomirror/internal/model"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS peers (
	id         TEXT PRIMARY KEY,
	callsign   TEXT NOT NULL,
	document   TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_peers_callsign ON peers(callsign);
`

// SQLiteStore keeps one row per peer with the peer document as JSON.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens or creates the database at path.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, fmt.Errorf("failed to create registry directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open registry database: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate registry database: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Load reads every peer row.
func (s *SQLiteStore) Load() (map[string]model.Peer, error) {
	rows, err := s.db.Query(`SELECT id, document FROM peers`)
	if err != nil {
		return nil, fmt.Errorf("failed to query peers: %w", err)
	}
	defer func() { _ = rows.Close() }()

	peers := make(map[string]model.Peer)
	for rows.Next() {
		var id, doc string
		if err := rows.Scan(&id, &doc); err != nil {
			return nil, err
		}
		var p model.Peer
		if err := json.Unmarshal([]byte(doc), &p); err != nil {
			return nil, fmt.Errorf("failed to decode peer %q: %w", id, err)
		}
		peers[id] = p
	}
	return peers, rows.Err()
}

// Save replaces the table contents in one transaction.
func (s *SQLiteStore) Save(peers map[string]model.Peer) error {
	return s.withTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`DELETE FROM peers`); err != nil {
			return err
		}
		now := time.Now().UTC()
		for id, p := range peers {
			doc, err := json.Marshal(p)
			if err != nil {
				return fmt.Errorf("failed to encode peer %q: %w", id, err)
			}
			if _, err := tx.Exec(
				`INSERT INTO peers (id, callsign, document, updated_at) VALUES (?, ?, ?, ?)`,
				id, p.Callsign, string(doc), now,
			); err != nil {
				return err
			}
		}
		return nil
	})
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) withTx(fn func(tx *sql.Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
