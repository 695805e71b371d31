package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"marketguard-backend/internal/models"
)

var ErrNotFound = errors.New("not found")

// EventStore is the append-only security event log.
type EventStore interface {
	AppendEvent(ctx context.Context, ev *models.SecurityEvent) error
	RecentEvents(ctx context.Context, limit int) ([]models.SecurityEvent, error)
	// CountEventsSince groups matching events by ip inside the store.
	CountEventsSince(ctx context.Context, eventType string, since time.Time) (map[string]int, error)
}

// BlockStore holds at most one BlockedIP per address.
type BlockStore interface {
	GetBlock(ctx context.Context, ip string) (*models.BlockedIP, error)
	UpsertBlock(ctx context.Context, block models.BlockedIP) error
	DeleteBlock(ctx context.Context, ip string) error
	// DeleteExpiredBlock removes the row only if it is still expired at now,
	// so a concurrent refresh is never lost. Deleting a missing row is not an error.
	DeleteExpiredBlock(ctx context.Context, ip string, now time.Time) (bool, error)
	ListBlocks(ctx context.Context) ([]models.BlockedIP, error)
}

// ConfigStore holds named settings such as EMERGENCY_LOCKDOWN.
type ConfigStore interface {
	GetConfig(ctx context.Context, name string) (string, error)
	SetConfig(ctx context.Context, name, value string) error
}

// Store is everything the security engine persists.
type Store interface {
	EventStore
	BlockStore
	ConfigStore
	Ping(ctx context.Context) error
}

type Storage struct {
	db *sqlx.DB
}

func NewStorage(db *sqlx.DB) *Storage {
	return &Storage{db: db}
}

// Connect opens the database, retrying every two seconds up to attempts
// times.
func Connect(driver, dsn string, attempts int, logger *zap.Logger) (*sqlx.DB, error) {
	if attempts < 1 {
		attempts = 1
	}
	var db *sqlx.DB
	var err error
	for i := 0; i < attempts; i++ {
		db, err = sqlx.Connect(driver, dsn)
		if err == nil {
			return db, nil
		}
		logger.Warn("database connection attempt failed", zap.Int("attempt", i+1), zap.Error(err))
		if i < attempts-1 {
			time.Sleep(2 * time.Second)
		}
	}
	return nil, fmt.Errorf("connect %s: %w", driver, err)
}

func (s *Storage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Storage) DB() *sqlx.DB {
	return s.db
}
