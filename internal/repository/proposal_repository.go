package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"bounty-escrow/internal/models"
)

// CreateProposal creates a new proposal
func (r *Repository) CreateProposal(ctx context.Context, proposal *models.Proposal) error {
	return r.db.WithContext(ctx).Create(proposal).Error
}

// GetProposalByID retrieves a proposal by ID
func (r *Repository) GetProposalByID(ctx context.Context, proposalID uuid.UUID) (*models.Proposal, error) {
	var proposal models.Proposal
	err := r.db.WithContext(ctx).Where("id = ?", proposalID).First(&proposal).Error
	if err != nil {
		return nil, err
	}
	return &proposal, nil
}

// ListProposals retrieves the proposals of a listing, oldest first. Empty
// statuses means all.
func (r *Repository) ListProposals(
	ctx context.Context,
	listingID uuid.UUID,
	statuses []models.ProposalStatus,
) ([]*models.Proposal, error) {
	query := r.db.WithContext(ctx).Where("listing_id = ?", listingID)
	if len(statuses) > 0 {
		query = query.Where("status IN ?", statuses)
	}

	var proposals []*models.Proposal
	if err := query.Order("created_at ASC").Find(&proposals).Error; err != nil {
		return nil, err
	}
	return proposals, nil
}

// HasProposal reports whether the agent already bid on the listing
func (r *Repository) HasProposal(ctx context.Context, listingID, agentID uuid.UUID) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Proposal{}).
		Where("listing_id = ? AND agent_id = ?", listingID, agentID).
		Count(&count).Error
	return count > 0, err
}

// TransitionProposal moves a proposal to status `to` only if its current
// status is one of `from`.
func (r *Repository) TransitionProposal(
	ctx context.Context,
	proposalID uuid.UUID,
	from []models.ProposalStatus,
	to models.ProposalStatus,
	now time.Time,
) (bool, error) {
	result := r.db.WithContext(ctx).Model(&models.Proposal{}).
		Where("id = ? AND status IN ?", proposalID, from).
		Updates(map[string]interface{}{"status": to, "updated_at": now})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// RejectOpenProposals rejects every pending or shortlisted proposal of a
// listing except `keep`.
func (r *Repository) RejectOpenProposals(
	ctx context.Context,
	listingID uuid.UUID,
	keep *uuid.UUID,
	now time.Time,
) (int64, error) {
	query := r.db.WithContext(ctx).Model(&models.Proposal{}).
		Where("listing_id = ? AND status IN ?", listingID, []models.ProposalStatus{
			models.ProposalStatusPending,
			models.ProposalStatusShortlisted,
		})
	if keep != nil {
		query = query.Where("id <> ?", *keep)
	}

	result := query.Updates(map[string]interface{}{
		"status":     models.ProposalStatusRejected,
		"updated_at": now,
	})
	return result.RowsAffected, result.Error
}
