// Package session persists the brokerage credential blob across restarts.
// The token is opaque to everything above this boundary; business logic
// only sees Load/Save/Clear.
package session

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNoSession is returned by Load when no credential has been saved.
var ErrNoSession = errors.New("no stored session")

// Store reads and writes the session credential.
type Store interface {
	Load() (token string, savedAt time.Time, err error)
	Save(token string) error
	Clear() error
	Close() error
}

// SQLiteStore keeps the credential in a single-row SQLite table.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// Open opens (or creates) the database and runs migrations.
func Open(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS session (
		id       INTEGER PRIMARY KEY CHECK (id = 1),
		token    TEXT NOT NULL,
		saved_at INTEGER NOT NULL
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate session table: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Load returns the stored token and when it was saved.
func (s *SQLiteStore) Load() (string, time.Time, error) {
	var token string
	var savedAt int64
	err := s.db.QueryRow(`SELECT token, saved_at FROM session WHERE id = 1`).Scan(&token, &savedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return "", time.Time{}, ErrNoSession
	}
	if err != nil {
		return "", time.Time{}, fmt.Errorf("load session: %w", err)
	}
	return token, time.Unix(savedAt, 0).UTC(), nil
}

// Save stores the token, replacing any previous one.
func (s *SQLiteStore) Save(token string) error {
	_, err := s.db.Exec(
		`INSERT INTO session (id, token, saved_at) VALUES (1, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET token = excluded.token, saved_at = excluded.saved_at`,
		token, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// Clear removes the stored credential, forcing re-authentication.
func (s *SQLiteStore) Clear() error {
	if _, err := s.db.Exec(`DELETE FROM session WHERE id = 1`); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
