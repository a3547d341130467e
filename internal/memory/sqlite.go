package memory

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

const schema = `
CREATE TABLE IF NOT EXISTS fluents (
	id          TEXT PRIMARY KEY,
	description TEXT NOT NULL DEFAULT '',
	rules       TEXT NOT NULL,
	score       REAL NOT NULL,
	created_at  TEXT NOT NULL,
	metadata    TEXT NOT NULL DEFAULT '{}'
);
`

// SQLiteStore persists accepted definitions across CLI invocations.
// It mirrors the Store contract (unconditional overwrite on Put, silent
// omission of missing ids) but backs every operation with SQLite, so batch
// runs resumed later still see earlier concepts.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) a definition database at path
func OpenSQLite(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", "file:"+path+"?_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close releases the underlying database handle
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Put stores a definition, replacing any existing row for the id
func (s *SQLiteStore) Put(id, description, rules string, score float64, metadata map[string]string) error {
	meta, err := json.Marshal(orEmpty(metadata))
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO fluents (id, description, rules, score, created_at, metadata)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			description = excluded.description,
			rules       = excluded.rules,
			score       = excluded.score,
			created_at  = excluded.created_at,
			metadata    = excluded.metadata`,
		id, description, rules, score, time.Now().UTC().Format(time.RFC3339Nano), string(meta))
	if err != nil {
		return fmt.Errorf("failed to store definition for %q: %w", id, err)
	}
	return nil
}

// Get returns the entry for the concept, if present
func (s *SQLiteStore) Get(id string) (Entry, bool, error) {
	row := s.db.QueryRow(
		`SELECT id, description, rules, score, created_at, metadata FROM fluents WHERE id = ?`, id)
	e, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("failed to load definition for %q: %w", id, err)
	}
	return e, true, nil
}

// LoadAll reads every persisted entry into a fresh in-memory Store.
// Runs operate on the in-memory store; callers sync accepted entries back
// with Put.
func (s *SQLiteStore) LoadAll() (*Store, error) {
	rows, err := s.db.Query(
		`SELECT id, description, rules, score, created_at, metadata FROM fluents`)
	if err != nil {
		return nil, fmt.Errorf("failed to list definitions: %w", err)
	}
	defer rows.Close()

	store := New()
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan definition: %w", err)
		}
		store.entries[e.ID] = e
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate definitions: %w", err)
	}
	return store, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (Entry, error) {
	var e Entry
	var createdAt, meta string
	if err := row.Scan(&e.ID, &e.Description, &e.Rules, &e.Score, &createdAt, &meta); err != nil {
		return Entry{}, err
	}
	if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		e.CreatedAt = t
	}
	if err := json.Unmarshal([]byte(meta), &e.Metadata); err != nil {
		return Entry{}, fmt.Errorf("corrupt metadata for %q: %w", e.ID, err)
	}
	if len(e.Metadata) == 0 {
		e.Metadata = nil
	}
	return e, nil
}

func orEmpty(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
