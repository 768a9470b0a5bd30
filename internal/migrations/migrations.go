package migrations

import (
	"database/sql"
	_ "embed"

	"github.com/dextrack/chainsight/internal/db"
	"github.com/dextrack/chainsight/internal/logger"
	"github.com/dextrack/chainsight/pkg/config"
)

//go:embed 001_tracker.sql
var mig001 string

//go:embed 002_index_store.sql
var mig002 string

func all() []db.Migration {
	return []db.Migration{
		{
			ID:  "001_tracker.sql",
			SQL: mig001,
		},
		{
			ID:  "002_index_store.sql",
			SQL: mig002,
		},
	}
}

// RunMigrations runs all migrations against the configured database.
func RunMigrations(cfg config.DatabaseConfig) error {
	return db.RunMigrations(cfg.Path, all())
}

// RunMigrationsDB runs all migrations on an already opened database.
func RunMigrationsDB(log *logger.Logger, database *sql.DB) error {
	return db.RunMigrationsDB(log, database, all())
}
