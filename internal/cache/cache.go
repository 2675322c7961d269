// Package cache persists compiled-script snapshots in a SQLite database,
// keyed by a content hash of the source. A hit skips scanning and
// compilation entirely.
package cache

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"

	"github.com/tliron/commonlog"
	_ "modernc.org/sqlite"

	"github.com/cinder-lang/cinder/pkg/bytecode"
)

var log = commonlog.GetLogger("cinder.cache")

const schema = `
CREATE TABLE IF NOT EXISTS scripts (
	hash       TEXT PRIMARY KEY,
	snapshot   BLOB NOT NULL,
	created_at TEXT NOT NULL DEFAULT (datetime('now'))
);
`

// Store is a compiled-script cache backed by a SQLite file.
type Store struct {
	db *sql.DB
}

// Open creates or opens the cache database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("cache: open %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("cache: create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Key returns the content hash used to address a source text.
func Key(source []byte) string {
	sum := sha256.Sum256(source)
	return hex.EncodeToString(sum[:])
}

// Load looks up the snapshot for source and rebuilds it in heap. A corrupt
// row is dropped and treated as a miss.
func (s *Store) Load(heap *bytecode.Heap, source []byte) (bytecode.Handle, bool) {
	key := Key(source)

	var blob []byte
	err := s.db.QueryRow(`SELECT snapshot FROM scripts WHERE hash = ?`, key).Scan(&blob)
	if err == sql.ErrNoRows {
		return bytecode.NilHandle, false
	}
	if err != nil {
		log.Errorf("lookup %s: %v", key, err)
		return bytecode.NilHandle, false
	}

	fn, err := bytecode.DecodeFunction(heap, blob)
	if err != nil {
		log.Warningf("dropping corrupt snapshot %s: %v", key, err)
		s.db.Exec(`DELETE FROM scripts WHERE hash = ?`, key)
		return bytecode.NilHandle, false
	}

	log.Debugf("hit %s", key)
	return fn, true
}

// Store encodes a compiled script and inserts or replaces its row.
func (s *Store) Store(heap *bytecode.Heap, source []byte, fn bytecode.Handle) error {
	blob, err := bytecode.EncodeFunction(heap, fn)
	if err != nil {
		return fmt.Errorf("cache: encode: %w", err)
	}

	key := Key(source)
	if _, err := s.db.Exec(
		`INSERT OR REPLACE INTO scripts (hash, snapshot) VALUES (?, ?)`, key, blob); err != nil {
		return fmt.Errorf("cache: store %s: %w", key, err)
	}

	log.Debugf("stored %s (%d bytes)", key, len(blob))
	return nil
}
