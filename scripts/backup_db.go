package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"slotbook/internal/config"
	"slotbook/internal/database"

	"github.com/rs/zerolog"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run takes one backup outside the service schedule, e.g. before a migration.
func run() error {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	var (
		dbPath        = flag.String("db", "./data/slotbook.db", "path to sqlite db")
		outDir        = flag.String("out", "./data/backups", "backup directory")
		retentionDays = flag.Int("retention-days", 0, "also delete backups older than this many days")
	)
	flag.Parse()

	if _, err := os.Stat(*dbPath); err != nil {
		return fmt.Errorf("open db: %w", err)
	}

	db, err := database.NewDB(*dbPath, &logger)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	backups := database.NewBackupService(db, config.BackupConfig{
		Enabled:       true,
		RetentionDays: *retentionDays,
		StoragePath:   *outDir,
	}, &logger)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	path, err := backups.PerformBackup(ctx)
	if err != nil {
		return fmt.Errorf("backup: %w", err)
	}
	if *retentionDays > 0 {
		backups.CleanupOldBackups()
	}

	logger.Info().Str("path", path).Msg("backup written")
	return nil
}
