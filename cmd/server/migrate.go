package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"marketguard-backend/internal/storage"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the security tables and indexes",
	RunE:  runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.Database.Driver == driverMemory {
		return fmt.Errorf("nothing to migrate for the %s driver", driverMemory)
	}

	db, err := storage.Connect(cfg.Database.Driver, cfg.Database.DSN, cfg.Database.Attempts, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()
	if err := storage.NewStorage(db).Migrate(ctx); err != nil {
		return err
	}
	logger.Info("schema applied", zap.String("driver", cfg.Database.Driver))
	return nil
}
