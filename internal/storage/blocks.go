package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"marketguard-backend/internal/models"
)

func (s *Storage) GetBlock(ctx context.Context, ip string) (*models.BlockedIP, error) {
	query := s.db.Rebind(`
		SELECT ip, reason, expires_at, is_permanent, created_at, updated_at
		FROM blocked_ips
		WHERE ip = ?
	`)
	var block models.BlockedIP
	if err := s.db.GetContext(ctx, &block, query, ip); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &block, nil
}

func (s *Storage) UpsertBlock(ctx context.Context, block models.BlockedIP) error {
	now := time.Now().UTC()
	if block.CreatedAt.IsZero() {
		block.CreatedAt = now
	}
	if block.UpdatedAt.IsZero() {
		block.UpdatedAt = now
	}
	var expiresAt *time.Time
	if block.ExpiresAt != nil {
		t := block.ExpiresAt.UTC()
		expiresAt = &t
	}

	query := s.db.Rebind(`
		INSERT INTO blocked_ips (ip, reason, expires_at, is_permanent, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (ip)
		DO UPDATE SET reason = excluded.reason, expires_at = excluded.expires_at,
			is_permanent = excluded.is_permanent, updated_at = excluded.updated_at
	`)
	_, err := s.db.ExecContext(ctx, query,
		block.IP, block.Reason, expiresAt, block.IsPermanent, block.CreatedAt.UTC(), block.UpdatedAt.UTC())
	return err
}

func (s *Storage) DeleteBlock(ctx context.Context, ip string) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM blocked_ips WHERE ip = ?`), ip)
	return err
}

func (s *Storage) DeleteExpiredBlock(ctx context.Context, ip string, now time.Time) (bool, error) {
	query := s.db.Rebind(`
		DELETE FROM blocked_ips
		WHERE ip = ? AND is_permanent = ? AND expires_at IS NOT NULL AND expires_at <= ?
	`)
	res, err := s.db.ExecContext(ctx, query, ip, false, now.UTC())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Storage) ListBlocks(ctx context.Context) ([]models.BlockedIP, error) {
	query := `
		SELECT ip, reason, expires_at, is_permanent, created_at, updated_at
		FROM blocked_ips
		ORDER BY created_at DESC
	`
	blocks := make([]models.BlockedIP, 0)
	if err := s.db.SelectContext(ctx, &blocks, query); err != nil {
		return nil, err
	}
	return blocks, nil
}
