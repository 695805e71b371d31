package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

func (s *Storage) GetConfig(ctx context.Context, name string) (string, error) {
	var value string
	err := s.db.GetContext(ctx, &value, s.db.Rebind(`SELECT value FROM security_config WHERE name = ?`), name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", err
	}
	return value, nil
}

// SetConfig overwrites the value; settings are never merged.
func (s *Storage) SetConfig(ctx context.Context, name, value string) error {
	query := s.db.Rebind(`
		INSERT INTO security_config (name, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (name)
		DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`)
	_, err := s.db.ExecContext(ctx, query, name, value, time.Now().UTC())
	return err
}
