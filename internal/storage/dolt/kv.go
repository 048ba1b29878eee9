package dolt

import (
	"context"
	"database/sql"
)

func (s *Store) GetConfig(ctx context.Context, key string) (string, error) {
	var value string
	err := s.queryRowContext(ctx, func(row *sql.Row) error {
		return row.Scan(&value)
	}, `SELECT config_value FROM app_config WHERE config_key = ?`, key)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

func (s *Store) SetConfig(ctx context.Context, key, value string) error {
	_, err := s.execContext(ctx, `
		INSERT INTO app_config (config_key, config_value) VALUES (?, ?)
		ON DUPLICATE KEY UPDATE config_value = VALUES(config_value)`, key, value)
	return err
}
