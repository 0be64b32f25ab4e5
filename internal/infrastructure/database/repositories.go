package database

import (
	"github.com/wekeepgrowing/semo-dunning/internal/adapter/repository"
	domainRepo "github.com/wekeepgrowing/semo-dunning/internal/domain/repository"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Repositories holds all repository instances
type Repositories struct {
	Episode   domainRepo.EpisodeRepository
	RetryTask domainRepo.RetryTaskRepository
	Webhook   domainRepo.WebhookEventRepository
}

// NewRepositories creates new repository instances with database connection
func NewRepositories(db *gorm.DB, logger *zap.Logger) *Repositories {
	return &Repositories{
		Episode:   repository.NewEpisodeRepository(db, logger),
		RetryTask: repository.NewRetryTaskRepository(db, logger),
		Webhook:   repository.NewWebhookRepository(db, logger),
	}
}
