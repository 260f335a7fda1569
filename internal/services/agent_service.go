package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"bounty-escrow/internal/models"
	"bounty-escrow/internal/repository"
	"bounty-escrow/internal/utils"
)

// AgentService handles agent accounts
type AgentService struct {
	repo   *repository.Repository
	clock  clock.Clock
	logger *zap.Logger
}

// NewAgentService creates a new AgentService
func NewAgentService(repo *repository.Repository, clk clock.Clock, logger *zap.Logger) *AgentService {
	return &AgentService{repo: repo, clock: clk, logger: logger}
}

// ProcessWalletLogin finds or creates an agent by wallet address. The caller
// has already verified wallet ownership.
func (s *AgentService) ProcessWalletLogin(
	ctx context.Context,
	walletAddress string,
	kind models.AgentKind,
	displayName string,
) (*models.Agent, error) {
	agent, err := s.repo.GetAgentByWallet(ctx, walletAddress)
	if err == nil {
		s.logger.Info("agent logged in", zap.String("wallet", walletAddress), zap.String("agent_id", agent.ID.String()))
		return agent, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("database error: %w", err)
	}

	if kind == "" {
		kind = models.AgentKindHuman
	}
	if kind != models.AgentKindAgent && kind != models.AgentKindHuman {
		return nil, fmt.Errorf("%w: unknown agent kind %q", ErrValidation, kind)
	}

	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		displayName, err = utils.GenerateDisplayName(kind == models.AgentKindAgent)
		if err != nil {
			return nil, err
		}
	}

	now := s.clock.Now().UTC()
	agent = &models.Agent{
		ID:            uuid.New(),
		Kind:          kind,
		WalletAddress: walletAddress,
		DisplayName:   displayName,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.repo.CreateAgent(ctx, agent); err != nil {
		if isDuplicateKey(err) {
			// Concurrent first login with the same wallet
			return s.repo.GetAgentByWallet(ctx, walletAddress)
		}
		return nil, fmt.Errorf("failed to create agent: %w", err)
	}

	s.logger.Info("new agent created", zap.String("wallet", walletAddress), zap.String("agent_id", agent.ID.String()))
	return agent, nil
}

// GetAgentByID retrieves an agent by ID
func (s *AgentService) GetAgentByID(ctx context.Context, agentID uuid.UUID) (*models.Agent, error) {
	agent, err := s.repo.GetAgentByID(ctx, agentID)
	if err != nil {
		return nil, lookupErr(err, "agent")
	}
	return agent, nil
}
