package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"

	"bounty-escrow/internal/metrics"
	"bounty-escrow/internal/models"
	"bounty-escrow/internal/reputation"
	"bounty-escrow/internal/repository"
)

// ReputationView is the public reputation of an agent
type ReputationView struct {
	AgentID            uuid.UUID            `json:"agent_id"`
	Score              float64              `json:"score"`
	Tier               reputation.Tier      `json:"tier"`
	TransactionCount   int64                `json:"transaction_count"`
	Released           int64                `json:"released"`
	Disputed           int64                `json:"disputed"`
	Refunded           int64                `json:"refunded"`
	AsBuyer            int64                `json:"as_buyer"`
	AsSeller           int64                `json:"as_seller"`
	VolumeUSD          decimal.Decimal      `json:"volume_usd"`
	AvgCompletionHours float64              `json:"avg_completion_hours"`
	Breakdown          reputation.Breakdown `json:"breakdown"`
	Stale              bool                 `json:"stale"`
	CalculatedAt       time.Time            `json:"calculated_at"`
}

// FeedbackSummary is the display-only feedback score of an agent
type FeedbackSummary struct {
	AgentID uuid.UUID `json:"agent_id"`
	Score   *float64  `json:"score"`
	Count   int       `json:"count"`
}

// ReputationService owns the reputation cache: reads, recomputation and
// feedback. Counters are always derived from the transactions table.
type ReputationService struct {
	repo    *repository.Repository
	engine  *reputation.Engine
	clock   clock.Clock
	maxAge  time.Duration
	logger  *zap.Logger
	metrics *metrics.Metrics
	group   singleflight.Group
}

func NewReputationService(
	repo *repository.Repository,
	engine *reputation.Engine,
	clk clock.Clock,
	maxAge time.Duration,
	logger *zap.Logger,
	m *metrics.Metrics,
) *ReputationService {
	return &ReputationService{
		repo:    repo,
		engine:  engine,
		clock:   clk,
		maxAge:  maxAge,
		logger:  logger,
		metrics: m,
	}
}

// Score returns the current reputation of an agent. Invalidated or missing
// entries are recomputed first; entries that merely aged are served as cached
// and left to the refresh job.
func (s *ReputationService) Score(ctx context.Context, agentID uuid.UUID) (*ReputationView, error) {
	entry, err := s.repo.GetReputationCache(ctx, agentID)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to load reputation: %w", err)
	}
	if err == nil && !entry.Stale {
		return s.view(entry), nil
	}
	if err != nil {
		// No entry yet: only agents that exist get one.
		if _, err := s.repo.GetAgentByID(ctx, agentID); err != nil {
			return nil, lookupErr(err, "agent")
		}
	}

	entry, err = s.recompute(ctx, agentID, "read")
	if err != nil {
		return nil, err
	}
	return s.view(entry), nil
}

// DisputeWindowFor returns the dispute window a new transaction with this
// seller gets, from the seller's current tier.
func (s *ReputationService) DisputeWindowFor(ctx context.Context, sellerID uuid.UUID) (int, reputation.Tier, error) {
	rep, err := s.Score(ctx, sellerID)
	if err != nil {
		return 0, "", err
	}
	return s.engine.DisputeWindowHours(rep.Tier), rep.Tier, nil
}

// Refresh recomputes and stores the entry of one agent
func (s *ReputationService) Refresh(ctx context.Context, agentID uuid.UUID) (*models.ReputationCache, error) {
	if _, err := s.repo.GetAgentByID(ctx, agentID); err != nil {
		return nil, lookupErr(err, "agent")
	}
	return s.recompute(ctx, agentID, "refresh")
}

// RefreshAged recomputes up to limit entries that are stale or older than the
// configured max age. Returns how many were refreshed.
func (s *ReputationService) RefreshAged(ctx context.Context, limit int) (int, error) {
	cutoff := s.clock.Now().UTC().Add(-s.maxAge)
	ids, err := s.repo.ListRefreshCandidates(ctx, cutoff, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to list refresh candidates: %w", err)
	}

	refreshed := 0
	for _, agentID := range ids {
		if ctx.Err() != nil {
			return refreshed, ctx.Err()
		}
		if _, err := s.recompute(ctx, agentID, "background"); err != nil {
			s.logger.Warn("reputation refresh failed", zap.String("agent_id", agentID.String()), zap.Error(err))
			continue
		}
		refreshed++
	}
	return refreshed, nil
}

func (s *ReputationService) recompute(ctx context.Context, agentID uuid.UUID, trigger string) (*models.ReputationCache, error) {
	v, err, _ := s.group.Do(agentID.String(), func() (interface{}, error) {
		return s.computeAndStore(ctx, agentID, trigger)
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.ReputationCache), nil
}

func (s *ReputationService) computeAndStore(ctx context.Context, agentID uuid.UUID, trigger string) (*models.ReputationCache, error) {
	// The generation is read before the transactions so that an invalidation
	// racing with this computation makes the store a no-op.
	var generation int64
	current, err := s.repo.GetReputationCache(ctx, agentID)
	switch {
	case err == nil:
		generation = current.Generation
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, fmt.Errorf("failed to load reputation: %w", err)
	}

	rows, err := s.repo.ListOutcomeRows(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load transaction outcomes: %w", err)
	}

	entry := s.aggregate(agentID, rows)
	result := s.engine.Score(s.stats(entry))
	entry.Score = result.Score
	entry.Tier = string(result.Tier)
	entry.Generation = generation
	entry.CalculatedAt = s.clock.Now().UTC()

	stored, err := s.repo.StoreReputation(ctx, entry)
	if err != nil {
		return nil, fmt.Errorf("failed to store reputation: %w", err)
	}
	if !stored {
		entry.Stale = true
		s.logger.Debug("reputation invalidated during recompute", zap.String("agent_id", agentID.String()))
	}

	s.metrics.ReputationRecompute.WithLabelValues(trigger).Inc()
	return entry, nil
}

func (s *ReputationService) aggregate(agentID uuid.UUID, rows []repository.OutcomeRow) *models.ReputationCache {
	entry := &models.ReputationCache{AgentID: agentID, VolumeUSD: decimal.Zero}

	var volume int64
	var completionHours float64
	var completed int
	for _, row := range rows {
		entry.Total++
		if row.BuyerID == agentID {
			entry.AsBuyer++
		} else {
			entry.AsSeller++
		}
		if row.Disputed {
			entry.Disputed++
		}

		switch row.State {
		case models.TransactionStateReleased:
			entry.Released++
			volume += row.Amount
			if row.CompletedAt != nil {
				completionHours += row.CompletedAt.Sub(row.CreatedAt).Hours()
				completed++
			}
		case models.TransactionStateRefunded:
			entry.Refunded++
		}
	}

	entry.VolumeUSD = s.engine.VolumeUSD(volume)
	if completed > 0 {
		entry.AvgCompletionHours = completionHours / float64(completed)
	}
	return entry
}

func (s *ReputationService) stats(entry *models.ReputationCache) reputation.Stats {
	return reputation.Stats{
		Total:              entry.Total,
		Released:           entry.Released,
		Disputed:           entry.Disputed,
		Refunded:           entry.Refunded,
		Volume:             entry.VolumeUSD,
		AvgCompletionHours: entry.AvgCompletionHours,
	}
}

func (s *ReputationService) view(entry *models.ReputationCache) *ReputationView {
	result := s.engine.Score(s.stats(entry))
	return &ReputationView{
		AgentID:            entry.AgentID,
		Score:              entry.Score,
		Tier:               reputation.Tier(entry.Tier),
		TransactionCount:   entry.Total,
		Released:           entry.Released,
		Disputed:           entry.Disputed,
		Refunded:           entry.Refunded,
		AsBuyer:            entry.AsBuyer,
		AsSeller:           entry.AsSeller,
		VolumeUSD:          entry.VolumeUSD,
		AvgCompletionHours: entry.AvgCompletionHours,
		Breakdown:          result.Breakdown,
		Stale:              entry.Stale,
		CalculatedAt:       entry.CalculatedAt,
	}
}

// SubmitFeedback records the buyer's rating of a released transaction
func (s *ReputationService) SubmitFeedback(
	ctx context.Context,
	txID uuid.UUID,
	buyerID uuid.UUID,
	req *models.FeedbackRequest,
) (*models.Feedback, error) {
	if req.Rating < 1 || req.Rating > 5 {
		return nil, fmt.Errorf("%w: rating must be between 1 and 5", ErrValidation)
	}

	tx, err := s.repo.GetTransactionByID(ctx, txID)
	if err != nil {
		return nil, lookupErr(err, "transaction")
	}
	if tx.BuyerID != buyerID {
		return nil, fmt.Errorf("%w: only the buyer can leave feedback", ErrUnauthorized)
	}
	if tx.State != models.TransactionStateReleased {
		return nil, fmt.Errorf("%w: feedback requires a released transaction, state is %s", ErrConflict, tx.State)
	}

	feedback := &models.Feedback{
		ID:            uuid.New(),
		TransactionID: tx.ID,
		AuthorID:      buyerID,
		SubjectID:     tx.SellerID,
		Rating:        req.Rating,
		Comment:       req.Comment,
		CreatedAt:     s.clock.Now().UTC(),
	}
	if err := s.repo.CreateFeedback(ctx, feedback); err != nil {
		if isDuplicateKey(err) {
			return nil, fmt.Errorf("%w: feedback already submitted", ErrConflict)
		}
		return nil, fmt.Errorf("failed to save feedback: %w", err)
	}
	return feedback, nil
}

// FeedbackScore returns the recency-weighted average rating of an agent
func (s *ReputationService) FeedbackScore(ctx context.Context, agentID uuid.UUID) (*FeedbackSummary, error) {
	feedback, err := s.repo.ListFeedbackForSubject(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load feedback: %w", err)
	}

	ratings := make([]reputation.Rating, 0, len(feedback))
	for _, f := range feedback {
		ratings = append(ratings, reputation.Rating{Rating: f.Rating, CreatedAt: f.CreatedAt})
	}

	summary := &FeedbackSummary{AgentID: agentID, Count: len(ratings)}
	if avg, ok := s.engine.FeedbackScore(ratings); ok {
		summary.Score = &avg
	}
	return summary, nil
}
