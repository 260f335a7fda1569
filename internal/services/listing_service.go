package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"bounty-escrow/internal/models"
	"bounty-escrow/internal/repository"
)

// ListingService is the listing registry
type ListingService struct {
	repo   *repository.Repository
	clock  clock.Clock
	logger *zap.Logger
}

// NewListingService creates a new ListingService
func NewListingService(repo *repository.Repository, clk clock.Clock, logger *zap.Logger) *ListingService {
	return &ListingService{repo: repo, clock: clk, logger: logger}
}

// Create posts a new listing
func (s *ListingService) Create(ctx context.Context, ownerID uuid.UUID, req *models.CreateListingRequest) (*models.Listing, error) {
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return nil, fmt.Errorf("%w: title is required", ErrValidation)
	}
	if req.Price <= 0 {
		return nil, fmt.Errorf("%w: price must be positive", ErrValidation)
	}
	if !req.ListingType.Valid() {
		return nil, fmt.Errorf("%w: listing type must be FIXED or BOUNTY", ErrValidation)
	}

	now := s.clock.Now().UTC()
	listing := &models.Listing{
		ID:              uuid.New(),
		OwnerID:         ownerID,
		Title:           title,
		Description:     req.Description,
		Price:           req.Price,
		ListingType:     req.ListingType,
		CompetitionMode: req.CompetitionMode,
		IsActive:        true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.repo.CreateListing(ctx, listing); err != nil {
		return nil, fmt.Errorf("failed to create listing: %w", err)
	}

	s.logger.Info("listing created",
		zap.String("listing_id", listing.ID.String()),
		zap.String("owner_id", ownerID.String()),
		zap.String("type", string(listing.ListingType)),
		zap.Bool("competition", listing.CompetitionMode),
	)
	return listing, nil
}

// Get retrieves a listing by ID
func (s *ListingService) Get(ctx context.Context, listingID uuid.UUID) (*models.Listing, error) {
	listing, err := s.repo.GetListingByID(ctx, listingID)
	if err != nil {
		return nil, lookupErr(err, "listing")
	}
	return listing, nil
}

// ListOpen returns active, unassigned listings, newest first
func (s *ListingService) ListOpen(ctx context.Context, limit, offset int) ([]*models.Listing, int64, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	listings, total, err := s.repo.ListOpenListings(ctx, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list listings: %w", err)
	}
	return listings, total, nil
}

// Update edits an open listing on behalf of its owner
func (s *ListingService) Update(
	ctx context.Context,
	listingID uuid.UUID,
	ownerID uuid.UUID,
	req *models.UpdateListingRequest,
) (*models.Listing, error) {
	updates := map[string]interface{}{}
	if req.Title != nil {
		title := strings.TrimSpace(*req.Title)
		if title == "" {
			return nil, fmt.Errorf("%w: title is required", ErrValidation)
		}
		updates["title"] = title
	}
	if req.Description != nil {
		updates["description"] = *req.Description
	}
	if req.Price != nil {
		if *req.Price <= 0 {
			return nil, fmt.Errorf("%w: price must be positive", ErrValidation)
		}
		updates["price"] = *req.Price
	}

	listing, err := s.ownedListing(ctx, listingID, ownerID)
	if err != nil {
		return nil, err
	}
	if len(updates) == 0 {
		return listing, nil
	}
	updates["updated_at"] = s.clock.Now().UTC()

	ok, err := s.repo.UpdateOpenListing(ctx, listingID, ownerID, updates)
	if err != nil {
		return nil, fmt.Errorf("failed to update listing: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: listing is no longer open", ErrConflict)
	}
	return s.Get(ctx, listingID)
}

// Close withdraws an open listing. Pending proposals are rejected.
func (s *ListingService) Close(ctx context.Context, listingID uuid.UUID, ownerID uuid.UUID) (*models.Listing, error) {
	if _, err := s.ownedListing(ctx, listingID, ownerID); err != nil {
		return nil, err
	}

	now := s.clock.Now().UTC()
	err := s.repo.Transaction(ctx, func(tx *repository.Repository) error {
		ok, err := tx.WithdrawListing(ctx, listingID, ownerID, now)
		if err != nil {
			return fmt.Errorf("failed to close listing: %w", err)
		}
		if !ok {
			return fmt.Errorf("%w: listing is assigned or already closed", ErrConflict)
		}
		if _, err := tx.RejectOpenProposals(ctx, listingID, nil, now); err != nil {
			return fmt.Errorf("failed to reject proposals: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("listing closed by owner", zap.String("listing_id", listingID.String()))
	return s.Get(ctx, listingID)
}

func (s *ListingService) ownedListing(ctx context.Context, listingID, ownerID uuid.UUID) (*models.Listing, error) {
	listing, err := s.Get(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if listing.OwnerID != ownerID {
		return nil, fmt.Errorf("%w: only the owner can modify a listing", ErrUnauthorized)
	}
	return listing, nil
}
