package snapshot

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	_ "modernc.org/sqlite"

	"github.com/bnema/waybar-pulse/internal/github"
	"github.com/bnema/waybar-pulse/internal/logger"
)

// FileName is the database file shared by the daemon and the widget
const FileName = "snapshot.db"

// Keys of the shared_kv table
const (
	KeyContributions   = "contributions"
	KeyLastUpdated     = "lastUpdated"
	KeyIsAuthenticated = "isAuthenticated"
)

// Store is the contribution snapshot shared between the daemon that writes
// it and the widget process that renders it. Every write is committed with
// synchronous=FULL so a reader in another process sees it once the call returns.
type Store struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

type Option func(*Store)

// WithClock replaces time.Now for freshness checks and timestamps
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// DefaultPath returns the snapshot location inside cacheDir
func DefaultPath(cacheDir string) string {
	return filepath.Join(cacheDir, FileName)
}

// Open opens or creates the snapshot database at path
func Open(path string, opts ...Option) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, &OpenError{Path: path, Err: err}
		}
	}

	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, &OpenError{Path: path, Err: err}
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, &OpenError{Path: path, Err: err}
	}

	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Store{db: db, path: path, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS shared_kv (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		)
	`)
	if err != nil {
		return &QueryError{Operation: "create shared_kv", Err: err}
	}
	return nil
}

// Path returns the database file location
func (s *Store) Path() string {
	return s.path
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// Save stores contributions, stamps lastUpdated and marks the user
// authenticated in one transaction
func (s *Store) Save(c *github.Contributions) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal contributions: %w", err)
	}

	now := s.now()
	return s.withTx("save", func(tx *sql.Tx) error {
		if err := put(tx, KeyContributions, string(data), now); err != nil {
			return err
		}
		if err := put(tx, KeyLastUpdated, now.UTC().Format(time.RFC3339Nano), now); err != nil {
			return err
		}
		return put(tx, KeyIsAuthenticated, strconv.FormatBool(true), now)
	})
}

// Retrieve returns the stored contributions. Absent or malformed data
// reports ok=false.
func (s *Store) Retrieve() (*github.Contributions, bool) {
	value, ok := s.get(KeyContributions)
	if !ok {
		return nil, false
	}

	var c github.Contributions
	if err := json.Unmarshal([]byte(value), &c); err != nil {
		logger.Warn("Ignoring malformed contributions snapshot", "error", err)
		return nil, false
	}
	return &c, true
}

// LastUpdated returns when contributions were last saved
func (s *Store) LastUpdated() (time.Time, bool) {
	value, ok := s.get(KeyLastUpdated)
	if !ok {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// IsFresh reports whether the last save happened less than maxAge ago.
// A store that was never written is not fresh.
func (s *Store) IsFresh(maxAge time.Duration) bool {
	last, ok := s.LastUpdated()
	if !ok {
		return false
	}
	return s.now().Sub(last) < maxAge
}

// SetAuthenticated records whether a user is signed in
func (s *Store) SetAuthenticated(authenticated bool) error {
	now := s.now()
	return s.withTx("set authenticated", func(tx *sql.Tx) error {
		return put(tx, KeyIsAuthenticated, strconv.FormatBool(authenticated), now)
	})
}

// IsAuthenticated returns the recorded flag, false when absent
func (s *Store) IsAuthenticated() bool {
	value, ok := s.get(KeyIsAuthenticated)
	if !ok {
		return false
	}
	authenticated, err := strconv.ParseBool(value)
	return err == nil && authenticated
}

// ClearAll removes every key in one transaction
func (s *Store) ClearAll() error {
	return s.withTx("clear", func(tx *sql.Tx) error {
		_, err := tx.Exec(`DELETE FROM shared_kv WHERE key IN (?, ?, ?)`,
			KeyContributions, KeyLastUpdated, KeyIsAuthenticated)
		return err
	})
}

func (s *Store) get(key string) (string, bool) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM shared_kv WHERE key = ?`, key).Scan(&value)
	if err != nil {
		if err != sql.ErrNoRows {
			logger.Warn("Snapshot read failed", "key", key, "error", err)
		}
		return "", false
	}
	return value, true
}

func put(tx *sql.Tx, key, value string, now time.Time) error {
	_, err := tx.Exec(`
		INSERT INTO shared_kv (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, now.Unix())
	return err
}

func (s *Store) withTx(op string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return &QueryError{Operation: op, Err: err}
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return &QueryError{Operation: op, Err: err}
	}
	if err := tx.Commit(); err != nil {
		return &QueryError{Operation: op, Err: err}
	}
	return nil
}
