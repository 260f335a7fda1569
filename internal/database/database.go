package database

import (
	"fmt"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"bounty-escrow/internal/config"
	"bounty-escrow/internal/models"
)

// liveTransactionIndex backs the one-live-transaction-per-listing invariant
// at the storage level. Both PostgreSQL and SQLite support partial indexes.
const liveTransactionIndex = `CREATE UNIQUE INDEX IF NOT EXISTS idx_transactions_live_listing
	ON transactions (listing_id)
	WHERE state IN ('PENDING', 'FUNDED', 'DELIVERED', 'DISPUTED')`

// fundingRefIndex keeps one funding reference from paying for two transactions
const fundingRefIndex = `CREATE UNIQUE INDEX IF NOT EXISTS idx_transactions_funding_ref
	ON transactions (funding_ref)
	WHERE funding_ref IS NOT NULL`

// Connect opens the configured database
func Connect(cfg *config.Config, log *zap.Logger) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Database.Driver {
	case "sqlite":
		dialector = sqlite.Open(cfg.Database.Path + "?_busy_timeout=5000&_journal_mode=WAL")
	default:
		dialector = postgres.Open(cfg.GetDSN())
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Error),
		DisableForeignKeyConstraintWhenMigrating: true,
		TranslateError:                           true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	log.Info("database connection established", zap.String("driver", cfg.Database.Driver))
	return db, nil
}

// AutoMigrate runs automatic migrations for all models
func AutoMigrate(db *gorm.DB) error {
	allModels := []interface{}{
		&models.Agent{},
		&models.Listing{},
		&models.Proposal{},
		&models.Transaction{},
		&models.TransactionEvent{},
		&models.ReputationCache{},
		&models.Feedback{},
	}

	for _, model := range allModels {
		if err := db.AutoMigrate(model); err != nil {
			return fmt.Errorf("migration failed for %T: %w", model, err)
		}
	}

	if err := db.Exec(liveTransactionIndex).Error; err != nil {
		return fmt.Errorf("failed to create live transaction index: %w", err)
	}
	if err := db.Exec(fundingRefIndex).Error; err != nil {
		return fmt.Errorf("failed to create funding reference index: %w", err)
	}
	return nil
}
