package storage

import (
	"context"
	_ "embed"
	"fmt"
	"strings"
)

var (
	//go:embed schema_postgres.sql
	schemaPostgres string
	//go:embed schema_sqlite.sql
	schemaSQLite string
)

// Migrate creates the security tables if they do not exist yet.
func (s *Storage) Migrate(ctx context.Context) error {
	schema := schemaPostgres
	if s.db.DriverName() == "sqlite3" {
		schema = schemaSQLite
	}

	for _, stmt := range strings.Split(schema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
