package store

import (
	"database/sql"
	"fmt"

	"go.uber.org/zap"
)

// Schema history:
// v1: memories + memory_versions + settings_overrides
// v2: lifecycle columns (state, supersedes_memory_id, confidence_score, source)
// v3: content_hash + active-uniqueness partial index
// v4: rate_limits, session_history
//
// Migration is forward-only and idempotent: fresh databases get the full
// modern schema, old databases get missing columns added with safe
// defaults, then placeholder hashes are rewritten and colliding active
// rows de-duplicated before the partial unique index is created.

const placeholderHash = "legacy_hash"

// migration adds one column to an existing table.
type migration struct {
	Table  string
	Column string
	Def    string
}

var pendingMigrations = []migration{
	{"memories", "state", "TEXT NOT NULL DEFAULT 'active'"},
	{"memories", "supersedes_memory_id", "INTEGER NULL"},
	{"memories", "confidence_score", "REAL NOT NULL DEFAULT 1.0"},
	{"memories", "source", "TEXT NOT NULL DEFAULT 'inferred'"},
	{"memories", "content_hash", "TEXT NOT NULL DEFAULT '" + placeholderHash + "'"},
}

func (s *Store) migrate() error {
	base := []string{
		`CREATE TABLE IF NOT EXISTS memories (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			user_id TEXT NOT NULL DEFAULT 'default_user',
			memory_date TEXT NOT NULL,
			subject TEXT NOT NULL,
			importance INTEGER NOT NULL,
			access_mode TEXT NOT NULL DEFAULT 'private',
			state TEXT NOT NULL DEFAULT 'active',
			supersedes_memory_id INTEGER NULL,
			confidence_score REAL NOT NULL DEFAULT 1.0,
			source TEXT NOT NULL DEFAULT 'inferred',
			content_hash TEXT NOT NULL DEFAULT '` + placeholderHash + `',
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS memory_versions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			memory_id INTEGER NOT NULL,
			content TEXT NOT NULL,
			version INTEGER NOT NULL,
			timestamp TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY(memory_id) REFERENCES memories(id) ON DELETE CASCADE,
			UNIQUE(memory_id, version)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_memory_versions_lookup
			ON memory_versions(memory_id, version DESC)`,
		`CREATE TABLE IF NOT EXISTS settings_overrides (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS rate_limits (
			user_id TEXT NOT NULL,
			endpoint TEXT NOT NULL,
			window_start INTEGER NOT NULL,
			request_count INTEGER NOT NULL DEFAULT 1,
			PRIMARY KEY (user_id, endpoint, window_start)
		)`,
		`CREATE TABLE IF NOT EXISTS session_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			turn_number INTEGER NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(session_id, turn_number)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_session_history ON session_history(session_id)`,
	}

	for _, stmt := range base {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	applied := 0
	for _, m := range pendingMigrations {
		if !tableExists(s.db, m.Table) {
			continue
		}
		if columnExists(s.db, m.Table, m.Column) {
			continue
		}
		query := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", m.Table, m.Column, m.Def)
		if _, err := s.db.Exec(query); err != nil {
			return fmt.Errorf("migration %s.%s failed: %w", m.Table, m.Column, err)
		}
		s.log.Info("migration applied",
			zap.String("table", m.Table),
			zap.String("column", m.Column))
		applied++
	}
	if applied > 0 {
		s.log.Info("schema migrations complete", zap.Int("applied", applied))
	}

	// Rewrite placeholder hashes to random uniqueness-preserving blobs so
	// the partial index can be created over partially migrated data.
	if _, err := s.db.Exec(
		`UPDATE memories SET content_hash = hex(randomblob(16)) WHERE content_hash = ?`,
		placeholderHash,
	); err != nil {
		return fmt.Errorf("failed to backfill content hashes: %w", err)
	}

	// De-duplicate active rows that would collide under the new index:
	// keep the minimum rowid per (user_id, content_hash) active pair and
	// force the rest to distinct hashes.
	if _, err := s.db.Exec(
		`UPDATE memories SET content_hash = hex(randomblob(16))
		 WHERE rowid NOT IN (
			SELECT MIN(rowid) FROM memories
			WHERE state = 'active'
			GROUP BY user_id, content_hash
		 ) AND state = 'active'`,
	); err != nil {
		return fmt.Errorf("failed to de-duplicate active rows: %w", err)
	}

	if _, err := s.db.Exec(
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_active_memories_hash
		 ON memories(user_id, content_hash) WHERE state = 'active'`,
	); err != nil {
		return fmt.Errorf("failed to create active-uniqueness index: %w", err)
	}

	return nil
}

// columnExists checks if a column exists in a table using PRAGMA table_info.
func columnExists(db *sql.DB, table, column string) bool {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dfltValue interface{}
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			continue
		}
		if name == column {
			return true
		}
	}
	return false
}

// tableExists checks if a table exists in the database.
func tableExists(db *sql.DB, table string) bool {
	var count int
	query := "SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?"
	if err := db.QueryRow(query, table).Scan(&count); err != nil {
		return false
	}
	return count > 0
}
