package store

import (
	"fmt"
)

// Turn is one recorded message of a conversation.
type Turn struct {
	Number  int    `json:"turn_number"`
	Role    string `json:"role"`
	Content string `json:"content"`
}

// AppendSessionTurn records the next turn of a session. Turn numbers are
// assigned monotonically per session inside one transaction so concurrent
// appenders cannot collide on the (session_id, turn_number) key.
func (s *Store) AppendSessionTurn(sessionID, role, content string) (int, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin turn append: %w", err)
	}
	defer tx.Rollback()

	var next int
	if err := tx.QueryRow(
		`SELECT COALESCE(MAX(turn_number), 0) + 1 FROM session_history WHERE session_id = ?`,
		sessionID,
	).Scan(&next); err != nil {
		return 0, fmt.Errorf("failed to compute turn number: %w", err)
	}

	if _, err := tx.Exec(
		`INSERT INTO session_history (session_id, turn_number, role, content)
		 VALUES (?, ?, ?, ?)`,
		sessionID, next, role, content,
	); err != nil {
		return 0, fmt.Errorf("failed to append turn: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit turn: %w", err)
	}
	return next, nil
}

// SessionHistory returns the most recent turns of a session in
// chronological order. A limit of 0 returns everything.
func (s *Store) SessionHistory(sessionID string, limit int) ([]Turn, error) {
	query := `SELECT turn_number, role, content FROM session_history
		 WHERE session_id = ? ORDER BY turn_number DESC`
	args := []interface{}{sessionID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var t Turn
		if err := rows.Scan(&t.Number, &t.Role, &t.Content); err != nil {
			return nil, fmt.Errorf("failed to scan turn: %w", err)
		}
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Flip newest-first into chronological order.
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

// PruneSessionHistory deletes everything but the newest keep turns.
func (s *Store) PruneSessionHistory(sessionID string, keep int) error {
	_, err := s.db.Exec(
		`DELETE FROM session_history
		 WHERE session_id = ? AND turn_number <= (
			SELECT COALESCE(MAX(turn_number), 0) - ? FROM session_history WHERE session_id = ?
		 )`,
		sessionID, keep, sessionID,
	)
	if err != nil {
		return fmt.Errorf("failed to prune history: %w", err)
	}
	return nil
}
