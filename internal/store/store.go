// Package store implements the durable state model for daftar memories.
// A single SQLite file holds the versioned memory rows, the settings
// overrides, the rate limit windows, and the conversation turn log. The
// partial unique index over active (user_id, content_hash) pairs is the
// concurrency oracle: it turns the check-then-insert race between parallel
// writers into a deterministic constraint violation.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// ErrDuplicate is the distinguished sentinel for an insert rejected by the
// active-uniqueness index. The policy engine treats it as the native signal
// that another writer committed the same active content first.
var ErrDuplicate = errors.New("duplicate active memory")

// Lifecycle states for a memory row.
type State string

const (
	StateActive     State = "active"
	StateSuperseded State = "superseded"
	StateArchived   State = "archived"
	StateDeleted    State = "deleted"
)

// ValidStates is the closed set accepted by the retrieval contract.
var ValidStates = map[State]bool{
	StateActive:     true,
	StateSuperseded: true,
	StateArchived:   true,
	StateDeleted:    true,
}

// Memory sources, in precedence order.
type Source string

const (
	SourceManual   Source = "manual"
	SourceImported Source = "imported"
	SourceInferred Source = "inferred"
)

// SourceWeight maps a source to its precedence weight. Unknown sources
// rank below inferred, matching the retrieval ORDER BY.
func SourceWeight(s Source) int {
	switch s {
	case SourceManual:
		return 3
	case SourceImported:
		return 2
	case SourceInferred:
		return 1
	default:
		return 0
	}
}

// Access modes.
const (
	AccessPrivate = "private"
	AccessShared  = "shared"
)

// Store wraps the SQLite database holding all durable state.
type Store struct {
	db   *sql.DB
	path string
	log  *zap.Logger
}

// Open initializes the SQLite database at the given path, applying the
// durability pragmas and forward-only schema migrations. The resulting
// store is safe for concurrent use; SQLite's own locking plus the
// 15 second busy timeout arbitrate parallel writers.
func Open(path string, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// A single pooled connection keeps WAL writers from tripping over each
	// other inside one process; cross-process writers are arbitrated by the
	// busy timeout.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 15000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	s := &Store{db: db, path: path, log: log}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	log.Debug("store opened", zap.String("path", path))
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	s.log.Debug("closing store", zap.String("path", s.path))
	return s.db.Close()
}

// DB exposes the underlying handle for independent readers (the storage
// layout is normative and designed to be opened by external tools).
func (s *Store) DB() *sql.DB {
	return s.db
}

// isUniqueViolation reports whether err is the driver's unique constraint
// error. The active-uniqueness partial index is the only UNIQUE constraint
// a memory insert can hit.
func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
