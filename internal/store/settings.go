package store

import "fmt"

// AllOverrides returns every (key, value) pair from settings_overrides.
func (s *Store) AllOverrides() (map[string]string, error) {
	rows, err := s.db.Query(`SELECT key, value FROM settings_overrides`)
	if err != nil {
		return nil, fmt.Errorf("failed to query overrides: %w", err)
	}
	defer rows.Close()

	overrides := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("failed to scan override: %w", err)
		}
		overrides[k] = v
	}
	return overrides, rows.Err()
}

// SetSettingOverride upserts a setting override, last writer wins.
func (s *Store) SetSettingOverride(key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO settings_overrides (key, value, updated_at)
		 VALUES (?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_at = CURRENT_TIMESTAMP`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("failed to set override %q: %w", key, err)
	}
	return nil
}
