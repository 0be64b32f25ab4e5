package database

import (
	"fmt"
	"strings"

	"github.com/wekeepgrowing/semo-dunning/internal/domain/entity"
	"github.com/wekeepgrowing/semo-dunning/internal/domain/model"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Migrate runs database migrations
func Migrate(db *gorm.DB, logger *zap.Logger) error {
	logger.Info("Running database migrations...")

	// Auto-migrate all models
	err := db.AutoMigrate(
		&model.DunningEpisode{},
		&model.DunningRetryTask{},
		&model.DunningWebhookEvent{},
	)
	if err != nil {
		logger.Error("Failed to run migrations", zap.Error(err))
		return err
	}
	logger.Info("GORM auto-migrations completed successfully")

	// Create custom indexes and constraints
	if err := createCustomIndexes(db); err != nil {
		logger.Error("Failed to create custom indexes", zap.Error(err))
		return err
	}
	logger.Info("Custom indexes created successfully")

	if db.Dialector.Name() == "postgres" {
		if err := createStateConstraint(db); err != nil {
			logger.Error("Failed to create state constraint", zap.Error(err))
			return err
		}
	}

	logger.Info("Database migrations completed successfully")
	return nil
}

// createCustomIndexes creates custom indexes that GORM doesn't handle automatically
func createCustomIndexes(db *gorm.DB) error {
	// At most one open episode per subscription
	if err := db.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS unique_open_episode_per_subscription ON dunning_episodes (subscription_id) WHERE state <> 'RESOLVED'`).Error; err != nil {
		return err
	}

	// Sweep scans open episodes by next retry time
	if err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_dunning_episodes_open_next_retry ON dunning_episodes (next_retry_at) WHERE state NOT IN ('SUSPENDED', 'RESOLVED')`).Error; err != nil {
		return err
	}

	// Create index for webhook events
	if err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_dunning_webhook_events_unprocessed ON dunning_webhook_events (created_at) WHERE status IN ('pending', 'failed')`).Error; err != nil {
		return err
	}

	return nil
}

// createStateConstraint restricts episode states to the known set
func createStateConstraint(db *gorm.DB) error {
	var exists bool
	if err := db.Raw(`SELECT EXISTS (SELECT 1 FROM pg_constraint WHERE conname = 'chk_dunning_episodes_state')`).Scan(&exists).Error; err != nil {
		return err
	}
	if exists {
		return nil
	}

	states := make([]string, 0, len(entity.AllStates))
	for _, s := range entity.AllStates {
		states = append(states, fmt.Sprintf("'%s'", s))
	}
	return db.Exec(fmt.Sprintf(
		`ALTER TABLE dunning_episodes ADD CONSTRAINT chk_dunning_episodes_state CHECK (state IN (%s))`,
		strings.Join(states, ", "),
	)).Error
}
