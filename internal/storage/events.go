package storage

import (
	"context"
	"time"

	"marketguard-backend/internal/models"
)

func (s *Storage) AppendEvent(ctx context.Context, ev *models.SecurityEvent) error {
	query := s.db.Rebind(`
		INSERT INTO security_events
			(id, level, event_type, description, ip, user_id, path, method, payload, headers, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	_, err := s.db.ExecContext(ctx, query,
		ev.ID, ev.Level, ev.EventType, ev.Description, ev.IP, ev.UserID,
		ev.Path, ev.Method, ev.Payload, ev.Headers, ev.Metadata, ev.CreatedAt.UTC())
	return err
}

func (s *Storage) RecentEvents(ctx context.Context, limit int) ([]models.SecurityEvent, error) {
	query := s.db.Rebind(`
		SELECT id, level, event_type, description, ip, user_id, path, method, payload, headers, metadata, created_at
		FROM security_events
		ORDER BY created_at DESC
		LIMIT ?
	`)
	events := make([]models.SecurityEvent, 0, limit)
	if err := s.db.SelectContext(ctx, &events, query, limit); err != nil {
		return nil, err
	}
	return events, nil
}

func (s *Storage) CountEventsSince(ctx context.Context, eventType string, since time.Time) (map[string]int, error) {
	query := s.db.Rebind(`
		SELECT ip, COUNT(*) AS count
		FROM security_events
		WHERE event_type = ? AND created_at >= ? AND ip IS NOT NULL
		GROUP BY ip
	`)
	var rows []struct {
		IP    string `db:"ip"`
		Count int    `db:"count"`
	}
	if err := s.db.SelectContext(ctx, &rows, query, eventType, since.UTC()); err != nil {
		return nil, err
	}

	counts := make(map[string]int, len(rows))
	for _, row := range rows {
		counts[row.IP] = row.Count
	}
	return counts, nil
}
