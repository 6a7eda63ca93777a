package store

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"daftar/internal/logging"
)

// InsertParams carries everything needed to create a memory row and its
// version-1 content in one transaction.
type InsertParams struct {
	SessionID     string
	UserID        string
	MemoryDate    string
	Subject       string
	Importance    int
	AccessMode    string
	State         State
	Supersedes    sql.NullInt64
	Confidence    float64
	Source        Source
	Content       string
	CorrelationID string
}

// ActiveMemory is the projection the policy engine evaluates conflicts
// against: the latest content of every active row for one subject.
type ActiveMemory struct {
	ID         int64
	Content    string
	Confidence float64
	Source     Source
	Importance int
}

// Memory is a row as returned by the governed retrieval contract,
// joined to its latest version content.
type Memory struct {
	ID         int64   `json:"id"`
	SessionID  string  `json:"session_id"`
	Subject    string  `json:"subject"`
	Content    string  `json:"content"`
	Confidence float64 `json:"confidence_score"`
	Source     Source  `json:"source"`
	CreatedAt  string  `json:"created_at"`
	State      State   `json:"state"`
}

// ContentHash computes the concurrency token for a content string:
// hex SHA-256 over the UTF-8 bytes.
func ContentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// InsertMemory appends a new memory row together with its version-1
// content, committing both or neither. If the active-uniqueness index
// rejects the row, ErrDuplicate is returned and nothing is written.
func (s *Store) InsertMemory(p InsertParams) (int64, error) {
	start := time.Now()
	hash := ContentHash(p.Content)

	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin insert: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(
		`INSERT INTO memories (session_id, user_id, memory_date, subject, importance,
			access_mode, state, supersedes_memory_id, confidence_score, source, content_hash)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.SessionID, p.UserID, p.MemoryDate, p.Subject, p.Importance,
		p.AccessMode, string(p.State), p.Supersedes, p.Confidence, string(p.Source), hash,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, ErrDuplicate
		}
		s.logMutationFailed(p, err)
		return 0, fmt.Errorf("failed to insert memory: %w", err)
	}

	memoryID, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read inserted id: %w", err)
	}

	if _, err := tx.Exec(
		`INSERT INTO memory_versions (memory_id, content, version) VALUES (?, ?, 1)`,
		memoryID, p.Content,
	); err != nil {
		s.logMutationFailed(p, err)
		return 0, fmt.Errorf("failed to insert version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		if isUniqueViolation(err) {
			return 0, ErrDuplicate
		}
		s.logMutationFailed(p, err)
		return 0, fmt.Errorf("failed to commit insert: %w", err)
	}

	s.log.Info("memory committed",
		logging.EventStateMutationCommitted.Field(),
		logging.Correlation(p.CorrelationID),
		zap.Int64("memory_id", memoryID),
		zap.String("session_id", p.SessionID),
		zap.String("user_id", p.UserID),
		zap.String("subject", p.Subject),
		zap.String("state", string(p.State)),
		zap.String("content_hash", hash[:8]),
		zap.Int64("duration_ms", time.Since(start).Milliseconds()),
	)
	return memoryID, nil
}

func (s *Store) logMutationFailed(p InsertParams, err error) {
	s.log.Error("memory insert failed",
		logging.EventStateMutationFailed.Field(),
		logging.Correlation(p.CorrelationID),
		zap.String("session_id", p.SessionID),
		zap.String("user_id", p.UserID),
		zap.Error(err),
	)
}

// SetMemoryState is the OCC primitive: a single-predicate compare-and-set
// that updates state only where the current state differs and the row is
// not frozen. Rows in archived or deleted never transition again. Returns
// true iff exactly one row changed; a false return means another writer
// got there first (or the transition is forbidden) and the caller must
// re-read before deciding anything.
func (s *Store) SetMemoryState(memoryID int64, newState State) (bool, error) {
	res, err := s.db.Exec(
		`UPDATE memories SET state = ?
		 WHERE id = ? AND state != ? AND state NOT IN ('archived', 'deleted')`,
		string(newState), memoryID, string(newState),
	)
	if err != nil {
		s.log.Error("state update failed",
			logging.EventUpdateStateFailed.Field(),
			zap.Int64("memory_id", memoryID),
			zap.String("new_state", string(newState)),
			zap.Error(err),
		)
		return false, fmt.Errorf("failed to update state: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n > 0, nil
}

// ActiveMemoriesBySubject returns every active memory for the given
// session/user/subject joined to its latest version content. Ascending id
// order is contractual: conflict detection treats the first colliding row
// in scan order as the conflict target.
func (s *Store) ActiveMemoriesBySubject(sessionID, userID, subject string) ([]ActiveMemory, error) {
	rows, err := s.db.Query(
		`SELECT m.id, mv.content, m.confidence_score, m.source, m.importance
		 FROM memories m
		 JOIN (
			SELECT memory_id, MAX(version) AS max_version
			FROM memory_versions
			GROUP BY memory_id
		 ) latest ON m.id = latest.memory_id
		 JOIN memory_versions mv
			ON mv.memory_id = latest.memory_id AND mv.version = latest.max_version
		 WHERE m.session_id = ? AND m.user_id = ? AND m.subject = ? AND m.state = 'active'
		 ORDER BY m.id ASC`,
		sessionID, userID, subject,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query active memories: %w", err)
	}
	defer rows.Close()

	var result []ActiveMemory
	for rows.Next() {
		var m ActiveMemory
		var source string
		if err := rows.Scan(&m.ID, &m.Content, &m.Confidence, &source, &m.Importance); err != nil {
			return nil, fmt.Errorf("failed to scan active memory: %w", err)
		}
		m.Source = Source(source)
		result = append(result, m)
	}
	return result, rows.Err()
}

// RetrieveQuery parameterizes the deterministic retrieval contract.
type RetrieveQuery struct {
	UserID      string
	Query       string   // optional case-insensitive substring over content
	Scope       []string // normalized subjects; ["*"] admits any
	StateFilter State
	Limit       int
}

// RetrieveMemories executes the deterministic ordered query. The ORDER BY
// sequence (source weight, confidence, created_at, id, all descending) is
// part of the external contract and must not change.
func (s *Store) RetrieveMemories(q RetrieveQuery) ([]Memory, error) {
	scope := q.Scope
	if len(scope) == 0 {
		scope = []string{"*"}
	}
	allowAll := false
	for _, sub := range scope {
		if sub == "*" {
			allowAll = true
		}
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(scope)), ",")

	query := fmt.Sprintf(
		`SELECT m.id, m.session_id, m.subject, mv.content, m.confidence_score,
			m.source, m.created_at, m.state
		 FROM memories m
		 JOIN (
			SELECT memory_id, MAX(version) AS max_version
			FROM memory_versions
			GROUP BY memory_id
		 ) latest ON m.id = latest.memory_id
		 JOIN memory_versions mv
			ON mv.memory_id = latest.memory_id AND mv.version = latest.max_version
		 WHERE m.user_id = ?
		   AND m.state = ?
		   AND (? OR m.subject IN (%s))`,
		placeholders,
	)

	args := []interface{}{q.UserID, string(q.StateFilter), allowAll}
	for _, sub := range scope {
		args = append(args, sub)
	}

	if q.Query != "" {
		query += " AND mv.content LIKE ? COLLATE NOCASE"
		args = append(args, "%"+q.Query+"%")
	}

	query += `
		 ORDER BY
			CASE m.source
				WHEN 'manual' THEN 3
				WHEN 'imported' THEN 2
				WHEN 'inferred' THEN 1
				ELSE 0
			END DESC,
			m.confidence_score DESC,
			m.created_at DESC,
			m.id DESC
		 LIMIT ?`
	args = append(args, q.Limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve memories: %w", err)
	}
	defer rows.Close()

	var result []Memory
	for rows.Next() {
		var m Memory
		var source, state string
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Subject, &m.Content,
			&m.Confidence, &source, &m.CreatedAt, &state); err != nil {
			return nil, fmt.Errorf("failed to scan memory: %w", err)
		}
		m.Source = Source(source)
		m.State = State(state)
		result = append(result, m)
	}
	return result, rows.Err()
}

// EditMemory appends a new content version for an existing memory.
// Versions form a dense prefix of the positive integers; edits always
// write version max+1.
func (s *Store) EditMemory(memoryID int64, newContent string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin edit: %w", err)
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRow(`SELECT COUNT(*) FROM memories WHERE id = ?`, memoryID).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check memory: %w", err)
	}
	if exists == 0 {
		return fmt.Errorf("memory %d not found", memoryID)
	}

	if _, err := tx.Exec(
		`INSERT INTO memory_versions (memory_id, content, version)
		 SELECT ?, ?, COALESCE(MAX(version), 0) + 1
		 FROM memory_versions WHERE memory_id = ?`,
		memoryID, newContent, memoryID,
	); err != nil {
		return fmt.Errorf("failed to append version: %w", err)
	}

	return tx.Commit()
}

// MemoryState returns the current lifecycle state of a row.
func (s *Store) MemoryState(memoryID int64) (State, error) {
	var state string
	err := s.db.QueryRow(`SELECT state FROM memories WHERE id = ?`, memoryID).Scan(&state)
	if err != nil {
		return "", fmt.Errorf("failed to read state: %w", err)
	}
	return State(state), nil
}

// CountActiveByHash reports how many rows are active for one
// (user, content_hash) pair. The partial unique index keeps this at 0 or 1.
func (s *Store) CountActiveByHash(userID, contentHash string) (int, error) {
	var n int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM memories WHERE user_id = ? AND content_hash = ? AND state = 'active'`,
		userID, contentHash,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count active rows: %w", err)
	}
	return n, nil
}

// Versions returns the version numbers recorded for a memory, ascending.
func (s *Store) Versions(memoryID int64) ([]int, error) {
	rows, err := s.db.Query(
		`SELECT version FROM memory_versions WHERE memory_id = ? ORDER BY version ASC`,
		memoryID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query versions: %w", err)
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}
