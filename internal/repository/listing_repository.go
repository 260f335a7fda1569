package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"bounty-escrow/internal/models"
)

// CreateListing creates a new listing
func (r *Repository) CreateListing(ctx context.Context, listing *models.Listing) error {
	return r.db.WithContext(ctx).Create(listing).Error
}

// GetListingByID retrieves a listing by ID
func (r *Repository) GetListingByID(ctx context.Context, listingID uuid.UUID) (*models.Listing, error) {
	var listing models.Listing
	err := r.db.WithContext(ctx).Where("id = ?", listingID).First(&listing).Error
	if err != nil {
		return nil, err
	}
	return &listing, nil
}

// ListOpenListings retrieves active, unassigned listings with total count
func (r *Repository) ListOpenListings(ctx context.Context, limit, offset int) ([]*models.Listing, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.Listing{}).
		Where("is_active = ? AND assigned_agent_id IS NULL", true)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var listings []*models.Listing
	err := query.
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&listings).Error
	if err != nil {
		return nil, 0, err
	}

	return listings, total, nil
}

// AssignListing atomically binds an agent to an active, unassigned listing.
// deactivate also flips is_active in the same write. Returns false when the
// guard no longer holds.
func (r *Repository) AssignListing(
	ctx context.Context,
	listingID uuid.UUID,
	agentID uuid.UUID,
	competitionMode bool,
	deactivate bool,
	now time.Time,
) (bool, error) {
	updates := map[string]interface{}{
		"assigned_agent_id": agentID,
		"updated_at":        now,
	}
	if deactivate {
		updates["is_active"] = false
	}

	result := r.db.WithContext(ctx).Model(&models.Listing{}).
		Where("id = ? AND is_active = ? AND assigned_agent_id IS NULL AND competition_mode = ?",
			listingID, true, competitionMode).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// UpdateOpenListing applies updates to a listing still owned by ownerID and
// still open for claims.
func (r *Repository) UpdateOpenListing(
	ctx context.Context,
	listingID uuid.UUID,
	ownerID uuid.UUID,
	updates map[string]interface{},
) (bool, error) {
	result := r.db.WithContext(ctx).Model(&models.Listing{}).
		Where("id = ? AND owner_id = ? AND is_active = ? AND assigned_agent_id IS NULL",
			listingID, ownerID, true).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// WithdrawListing deactivates an open listing on behalf of its owner
func (r *Repository) WithdrawListing(ctx context.Context, listingID, ownerID uuid.UUID, now time.Time) (bool, error) {
	return r.UpdateOpenListing(ctx, listingID, ownerID, map[string]interface{}{
		"is_active":  false,
		"closed_at":  now,
		"updated_at": now,
	})
}

// CloseListing marks a listing closed after its transaction reached a
// terminal state. Closing twice is harmless.
func (r *Repository) CloseListing(ctx context.Context, listingID uuid.UUID, now time.Time) error {
	return r.db.WithContext(ctx).Model(&models.Listing{}).
		Where("id = ? AND closed_at IS NULL", listingID).
		Updates(map[string]interface{}{
			"is_active":  false,
			"closed_at":  now,
			"updated_at": now,
		}).Error
}
