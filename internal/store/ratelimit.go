package store

import (
	"fmt"
	"time"
)

// CheckRateLimit counts a request against the fixed window for
// (user, endpoint) and reports whether it is admitted. The window bucket
// is the wall-clock second rounded down to a multiple of the window
// width. The count is an atomic upsert with RETURNING; expired windows
// are pruned opportunistically in the same transaction.
//
// Infrastructure failures are returned to the caller, which is expected
// to fail open: the engine's availability matters more than strict
// throttling.
func (s *Store) CheckRateLimit(userID, endpoint string, maxRequests, windowSeconds int) (bool, error) {
	now := time.Now().Unix()
	windowStart := now - (now % int64(windowSeconds))

	tx, err := s.db.Begin()
	if err != nil {
		return false, fmt.Errorf("failed to begin rate check: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		`DELETE FROM rate_limits WHERE window_start < ?`,
		now-int64(windowSeconds),
	); err != nil {
		return false, fmt.Errorf("failed to prune windows: %w", err)
	}

	var count int
	err = tx.QueryRow(
		`INSERT INTO rate_limits (user_id, endpoint, window_start, request_count)
		 VALUES (?, ?, ?, 1)
		 ON CONFLICT(user_id, endpoint, window_start)
		 DO UPDATE SET request_count = request_count + 1
		 RETURNING request_count`,
		userID, endpoint, windowStart,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to count request: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit rate check: %w", err)
	}

	return count <= maxRequests, nil
}
