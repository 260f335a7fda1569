package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"bounty-escrow/internal/models"
	"bounty-escrow/internal/reputation"
)

// OutcomeRow is the slice of a transaction reputation is derived from
type OutcomeRow struct {
	BuyerID     uuid.UUID
	SellerID    uuid.UUID
	Amount      int64
	State       models.TransactionState
	Disputed    bool
	CreatedAt   time.Time
	CompletedAt *time.Time
}

// ListOutcomeRows returns every transaction of the agent that reached an
// outcome (released, refunded or disputed).
func (r *Repository) ListOutcomeRows(ctx context.Context, agentID uuid.UUID) ([]OutcomeRow, error) {
	var rows []OutcomeRow
	err := r.db.WithContext(ctx).Model(&models.Transaction{}).
		Select("buyer_id, seller_id, amount, state, disputed, created_at, completed_at").
		Where("buyer_id = ? OR seller_id = ?", agentID, agentID).
		Where("state IN ?", []models.TransactionState{
			models.TransactionStateReleased,
			models.TransactionStateRefunded,
			models.TransactionStateDisputed,
		}).
		Scan(&rows).Error
	return rows, err
}

// GetReputationCache retrieves the cached reputation of an agent
func (r *Repository) GetReputationCache(ctx context.Context, agentID uuid.UUID) (*models.ReputationCache, error) {
	var entry models.ReputationCache
	err := r.db.WithContext(ctx).Where("agent_id = ?", agentID).First(&entry).Error
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// StoreReputation upserts a freshly computed entry, but only if no
// invalidation happened since the caller read generation. The entry's
// Generation must hold the value read before computing. Returns false when
// the write lost to an invalidation.
func (r *Repository) StoreReputation(ctx context.Context, entry *models.ReputationCache) (bool, error) {
	result := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "agent_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"total", "released", "disputed", "refunded", "as_buyer", "as_seller",
			"volume_usd", "avg_completion_hours", "score", "tier", "stale", "calculated_at",
		}),
		Where: clause.Where{Exprs: []clause.Expression{
			clause.Eq{Column: clause.Column{Table: "reputation_cache", Name: "generation"}, Value: entry.Generation},
		}},
	}).Create(entry)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// InvalidateReputation marks the cached reputation of each agent stale and
// bumps its generation. Agents without an entry get a stale placeholder.
func (r *Repository) InvalidateReputation(ctx context.Context, now time.Time, agentIDs ...uuid.UUID) error {
	for _, agentID := range agentIDs {
		placeholder := &models.ReputationCache{
			AgentID:      agentID,
			Tier:         string(reputation.TierNew),
			Stale:        true,
			Generation:   1,
			CalculatedAt: now,
		}
		err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "agent_id"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"stale":      true,
				"generation": gorm.Expr("reputation_cache.generation + 1"),
			}),
		}).Create(placeholder).Error
		if err != nil {
			return err
		}
	}
	return nil
}

// ListRefreshCandidates returns agents whose entry is stale or older than cutoff
func (r *Repository) ListRefreshCandidates(ctx context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.WithContext(ctx).Model(&models.ReputationCache{}).
		Where("stale = ? OR calculated_at < ?", true, cutoff).
		Order("calculated_at ASC").
		Limit(limit).
		Pluck("agent_id", &ids).Error
	return ids, err
}

// CreateFeedback stores a buyer review
func (r *Repository) CreateFeedback(ctx context.Context, feedback *models.Feedback) error {
	return r.db.WithContext(ctx).Create(feedback).Error
}

// ListFeedbackForSubject returns the reviews left for an agent, oldest first
func (r *Repository) ListFeedbackForSubject(ctx context.Context, subjectID uuid.UUID) ([]*models.Feedback, error) {
	var feedback []*models.Feedback
	err := r.db.WithContext(ctx).
		Where("subject_id = ?", subjectID).
		Order("created_at ASC").
		Find(&feedback).Error
	return feedback, err
}
