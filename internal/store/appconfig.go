package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// GetConfigValue reads one app_config row.
func (s *Store) GetConfigValue(key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM app_config WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("config key %q: %w", key, ErrNotFound)
	}
	return value, err
}

// SetConfigValue upserts one app_config row.
func (s *Store) SetConfigValue(key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO app_config (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at`,
		key, value, time.Now())
	return err
}

// DeleteConfigValue removes one app_config row; missing keys are not an error.
func (s *Store) DeleteConfigValue(key string) error {
	_, err := s.db.Exec(`DELETE FROM app_config WHERE key = ?`, key)
	return err
}
