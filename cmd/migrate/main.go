package main

import (
	"database/sql"
	"fmt"
	"os"

	_ "github.com/lib/pq"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"bounty-escrow/internal/config"
	"bounty-escrow/internal/logger"
	"bounty-escrow/internal/migrations"
)

const schemaTable = `CREATE TABLE IF NOT EXISTS schema_migrations (
	version VARCHAR(255) PRIMARY KEY,
	applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

func main() {
	envFile := pflag.String("env-file", "", "path to a .env file")
	dryRun := pflag.Bool("dry-run", false, "list pending migrations without applying them")
	pflag.Parse()

	cfg, err := config.Load(*envFile, "")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	log, err := logger.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if cfg.Database.Driver != "postgres" {
		log.Fatal("migrations target postgres only; sqlite uses AutoMigrate", zap.String("driver", cfg.Database.Driver))
	}

	db, err := sql.Open("postgres", cfg.GetDSN())
	if err != nil {
		log.Fatal("failed to open database", zap.Error(err))
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		log.Fatal("failed to ping database", zap.Error(err))
	}

	applied, err := apply(db, *dryRun, log)
	if err != nil {
		log.Fatal("migration failed", zap.Error(err))
	}
	log.Info("migrations complete", zap.Int("applied", applied), zap.Bool("dry_run", *dryRun))
}

// apply runs every embedded migration not yet recorded in schema_migrations,
// each in its own transaction
func apply(db *sql.DB, dryRun bool, log *zap.Logger) (int, error) {
	if _, err := db.Exec(schemaTable); err != nil {
		return 0, fmt.Errorf("failed to create schema_migrations: %w", err)
	}

	all, err := migrations.All()
	if err != nil {
		return 0, fmt.Errorf("failed to read migrations: %w", err)
	}

	applied := 0
	for _, m := range all {
		var exists bool
		if err := db.QueryRow(`SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE version = $1)`, m.Version).Scan(&exists); err != nil {
			return applied, fmt.Errorf("failed to check %s: %w", m.Version, err)
		}
		if exists {
			continue
		}
		if dryRun {
			log.Info("pending migration", zap.String("version", m.Version))
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return applied, err
		}
		if _, err := tx.Exec(m.SQL); err != nil {
			_ = tx.Rollback()
			return applied, fmt.Errorf("failed to apply %s: %w", m.Version, err)
		}
		if _, err := tx.Exec(`INSERT INTO schema_migrations (version) VALUES ($1)`, m.Version); err != nil {
			_ = tx.Rollback()
			return applied, fmt.Errorf("failed to record %s: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return applied, fmt.Errorf("failed to commit %s: %w", m.Version, err)
		}

		log.Info("applied migration", zap.String("version", m.Version))
		applied++
	}
	return applied, nil
}
