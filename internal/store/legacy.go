package store

import (
	"fmt"
	"strings"
)

// The aggregation queries below predate the governed retrieval contract
// and keep its older visibility rule: a row is visible when it belongs to
// the caller OR is marked shared, and its subject passes the allow-list.
// The governed contract in RetrieveMemories deliberately does not honor
// shared rows; callers that want cross-user visibility must use this
// path. See DESIGN.md for the recorded decision.

// accessFilter builds the WHERE-clause fragment for the legacy visibility
// rule. Returns the clause (prefixed with AND) and its parameters.
func accessFilter(userID string, allowedSubjects []string) (string, []interface{}) {
	if len(allowedSubjects) == 0 {
		allowedSubjects = []string{"*"}
	}
	allowAll := false
	for _, s := range allowedSubjects {
		if s == "*" {
			allowAll = true
		}
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(allowedSubjects)), ",")

	clause := fmt.Sprintf(
		" AND (m.user_id = ? OR m.access_mode = 'shared') AND (? OR m.subject IN (%s))",
		placeholders,
	)
	params := []interface{}{userID, allowAll}
	for _, s := range allowedSubjects {
		params = append(params, s)
	}
	return clause, params
}

// RecentMemories returns the latest-version content of the most recent
// memories in a session, newest first, filtered by the legacy access rule.
func (s *Store) RecentMemories(sessionID, userID string, allowedSubjects []string, limit int) ([]string, error) {
	clause, params := accessFilter(userID, allowedSubjects)

	query := `SELECT mv.content
		 FROM memory_versions mv
		 JOIN (
			SELECT memory_id, MAX(version) AS max_version
			FROM memory_versions
			GROUP BY memory_id
		 ) latest ON mv.memory_id = latest.memory_id AND mv.version = latest.max_version
		 JOIN memories m ON m.id = mv.memory_id
		 WHERE m.session_id = ?` + clause + `
		 ORDER BY m.created_at DESC
		 LIMIT ?`

	args := append([]interface{}{sessionID}, params...)
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent memories: %w", err)
	}
	defer rows.Close()

	var contents []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, fmt.Errorf("failed to scan content: %w", err)
		}
		contents = append(contents, c)
	}
	return contents, rows.Err()
}

// DailyEntry is one aggregated memory for a day.
type DailyEntry struct {
	Content    string `json:"content"`
	Importance int    `json:"importance"`
}

// DailyAggregation groups a day's memories by subject at or above the
// importance floor, most important first.
func (s *Store) DailyAggregation(sessionID, memoryDate, userID string, allowedSubjects []string, minImportance int) (map[string][]DailyEntry, error) {
	clause, params := accessFilter(userID, allowedSubjects)

	query := `SELECT m.subject, m.importance, mv.content
		 FROM memory_versions mv
		 JOIN (
			SELECT memory_id, MAX(version) AS max_version
			FROM memory_versions
			GROUP BY memory_id
		 ) latest ON mv.memory_id = latest.memory_id AND mv.version = latest.max_version
		 JOIN memories m ON m.id = mv.memory_id
		 WHERE m.session_id = ?
		   AND m.memory_date = ?
		   AND m.importance >= ?` + clause + `
		 ORDER BY m.importance DESC, m.created_at DESC`

	args := append([]interface{}{sessionID, memoryDate, minImportance}, params...)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query daily aggregation: %w", err)
	}
	defer rows.Close()

	result := make(map[string][]DailyEntry)
	for rows.Next() {
		var subject, content string
		var importance int
		if err := rows.Scan(&subject, &importance, &content); err != nil {
			return nil, fmt.Errorf("failed to scan aggregation row: %w", err)
		}
		result[subject] = append(result[subject], DailyEntry{Content: content, Importance: importance})
	}
	return result, rows.Err()
}
