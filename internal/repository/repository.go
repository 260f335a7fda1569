package repository

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"bounty-escrow/internal/models"
)

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Transaction runs fn inside a database transaction. Every method called on
// the Repository passed to fn uses that transaction.
func (r *Repository) Transaction(ctx context.Context, fn func(tx *Repository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Repository{db: tx})
	})
}

// CreateAgent creates a new agent
func (r *Repository) CreateAgent(ctx context.Context, agent *models.Agent) error {
	return r.db.WithContext(ctx).Create(agent).Error
}

// GetAgentByID retrieves an agent by ID
func (r *Repository) GetAgentByID(ctx context.Context, agentID uuid.UUID) (*models.Agent, error) {
	var agent models.Agent
	err := r.db.WithContext(ctx).Where("id = ?", agentID).First(&agent).Error
	if err != nil {
		return nil, err
	}
	return &agent, nil
}

// GetAgentByWallet retrieves an agent by wallet address
func (r *Repository) GetAgentByWallet(ctx context.Context, wallet string) (*models.Agent, error) {
	var agent models.Agent
	err := r.db.WithContext(ctx).Where("wallet_address = ?", wallet).First(&agent).Error
	if err != nil {
		return nil, err
	}
	return &agent, nil
}
