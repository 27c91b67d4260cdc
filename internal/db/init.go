// Package db owns schema creation. Migration scripts are embedded in the
// binary and applied in filename order under a distributed lock, so several
// workers starting at once run the migration exactly once.
package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"

	"go.uber.org/zap"

	"github.com/outreachiq/jobengine/internal/lock"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

const schema = "jobengine"

// Init creates the schema and applies every embedded migration. Scripts are
// idempotent (CREATE ... IF NOT EXISTS), so reapplying on every startup is
// safe and keeps the engine free of a migration-version table.
func Init(ctx context.Context, db *sql.DB, locks lock.DistributedLockManager, log *zap.Logger) error {
	if err := locks.Acquire(lock.MigrationLock); err != nil {
		return fmt.Errorf("acquire migration lock: %w", err)
	}
	defer locks.Release(lock.MigrationLock)

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}

	if _, err := db.ExecContext(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", schema)); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}

	scripts, err := readMigrations()
	if err != nil {
		return err
	}
	for _, script := range scripts {
		log.Info("applying migration", zap.String("file", script.name))
		if _, err := db.ExecContext(ctx, script.sql); err != nil {
			return fmt.Errorf("apply %s: %w", script.name, err)
		}
	}
	return nil
}

type migration struct {
	name string
	sql  string
}

// readMigrations returns the embedded scripts in filename order, which
// fs.ReadDir guarantees.
func readMigrations() ([]migration, error) {
	entries, err := fs.ReadDir(migrationFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("read migrations: %w", err)
	}

	var scripts []migration
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		content, err := migrationFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}
		scripts = append(scripts, migration{name: entry.Name(), sql: string(content)})
	}
	return scripts, nil
}
