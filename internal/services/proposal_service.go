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

// ProposalService resolves competition listings: sellers bid, the owner
// promotes exactly one bid into a transaction.
type ProposalService struct {
	repo     *repository.Repository
	escrow   *EscrowService
	notifier *Notifier
	clock    clock.Clock
	logger   *zap.Logger
}

// NewProposalService creates a new ProposalService
func NewProposalService(
	repo *repository.Repository,
	escrow *EscrowService,
	notifier *Notifier,
	clk clock.Clock,
	logger *zap.Logger,
) *ProposalService {
	return &ProposalService{
		repo:     repo,
		escrow:   escrow,
		notifier: notifier,
		clock:    clk,
		logger:   logger,
	}
}

// Submit places a bid on an open competition listing. One per agent.
func (s *ProposalService) Submit(
	ctx context.Context,
	listingID uuid.UUID,
	agentID uuid.UUID,
	req *models.SubmitProposalRequest,
) (*models.Proposal, error) {
	pitch := strings.TrimSpace(req.Pitch)
	if pitch == "" {
		return nil, fmt.Errorf("%w: pitch is required", ErrValidation)
	}
	if req.ProposedPrice != nil && *req.ProposedPrice <= 0 {
		return nil, fmt.Errorf("%w: proposed price must be positive", ErrValidation)
	}

	listing, err := s.repo.GetListingByID(ctx, listingID)
	if err != nil {
		return nil, lookupErr(err, "listing")
	}
	if !listing.CompetitionMode {
		return nil, fmt.Errorf("%w: listing does not take proposals", ErrValidation)
	}
	if listing.OwnerID == agentID {
		return nil, fmt.Errorf("%w: cannot bid on your own listing", ErrUnauthorized)
	}
	if !listing.IsActive || listing.AssignedAgentID != nil {
		return nil, fmt.Errorf("%w: listing is not open", ErrConflict)
	}

	exists, err := s.repo.HasProposal(ctx, listingID, agentID)
	if err != nil {
		return nil, fmt.Errorf("failed to check proposals: %w", err)
	}
	if exists {
		return nil, fmt.Errorf("%w: proposal already submitted", ErrConflict)
	}

	now := s.clock.Now().UTC()
	proposal := &models.Proposal{
		ID:            uuid.New(),
		ListingID:     listingID,
		AgentID:       agentID,
		Pitch:         pitch,
		ProposedPrice: req.ProposedPrice,
		Status:        models.ProposalStatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.repo.CreateProposal(ctx, proposal); err != nil {
		if isDuplicateKey(err) {
			return nil, fmt.Errorf("%w: proposal already submitted", ErrConflict)
		}
		return nil, fmt.Errorf("failed to create proposal: %w", err)
	}

	s.logger.Info("proposal submitted",
		zap.String("proposal_id", proposal.ID.String()),
		zap.String("listing_id", listingID.String()),
		zap.String("agent_id", agentID.String()),
	)
	s.publish(EventProposalSubmitted, proposal, listing.OwnerID)
	return proposal, nil
}

// Shortlist marks a pending proposal as shortlisted
func (s *ProposalService) Shortlist(ctx context.Context, proposalID, ownerID uuid.UUID) (*models.Proposal, error) {
	return s.move(ctx, proposalID, ownerID,
		[]models.ProposalStatus{models.ProposalStatusPending},
		models.ProposalStatusShortlisted)
}

// Decline turns down a pending or shortlisted proposal
func (s *ProposalService) Decline(ctx context.Context, proposalID, ownerID uuid.UUID) (*models.Proposal, error) {
	return s.move(ctx, proposalID, ownerID,
		[]models.ProposalStatus{models.ProposalStatusPending, models.ProposalStatusShortlisted},
		models.ProposalStatusDeclined)
}

func (s *ProposalService) move(
	ctx context.Context,
	proposalID uuid.UUID,
	ownerID uuid.UUID,
	from []models.ProposalStatus,
	to models.ProposalStatus,
) (*models.Proposal, error) {
	proposal, _, err := s.ownedProposal(ctx, proposalID, ownerID)
	if err != nil {
		return nil, err
	}

	ok, err := s.repo.TransitionProposal(ctx, proposalID, from, to, s.clock.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to update proposal: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: proposal is %s", ErrConflict, proposal.Status)
	}
	return s.get(ctx, proposalID)
}

// Accept promotes a proposal into a transaction. Listing assignment, the
// accepted proposal, the rejection of every sibling and the new transaction
// are written in one database transaction; any lost race aborts all of it.
func (s *ProposalService) Accept(ctx context.Context, proposalID, ownerID uuid.UUID) (*models.Transaction, error) {
	proposal, listing, err := s.ownedProposal(ctx, proposalID, ownerID)
	if err != nil {
		return nil, err
	}
	if proposal.Status != models.ProposalStatusPending && proposal.Status != models.ProposalStatusShortlisted {
		return nil, fmt.Errorf("%w: proposal is %s", ErrConflict, proposal.Status)
	}
	if !listing.IsActive || listing.AssignedAgentID != nil {
		return nil, fmt.Errorf("%w: listing is not open", ErrConflict)
	}

	siblings, err := s.repo.ListProposals(ctx, listing.ID, []models.ProposalStatus{
		models.ProposalStatusPending,
		models.ProposalStatusShortlisted,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load proposals: %w", err)
	}

	window, tier, err := s.escrow.reputation.DisputeWindowFor(ctx, proposal.AgentID)
	if err != nil {
		return nil, err
	}

	amount := listing.Price
	if proposal.ProposedPrice != nil {
		amount = *proposal.ProposedPrice
	}

	now := s.clock.Now().UTC()
	var created *models.Transaction
	err = s.repo.Transaction(ctx, func(tx *repository.Repository) error {
		ok, err := tx.AssignListing(ctx, listing.ID, proposal.AgentID, true, true, now)
		if err != nil {
			return fmt.Errorf("failed to assign listing: %w", err)
		}
		if !ok {
			return fmt.Errorf("%w: listing already assigned", ErrConflict)
		}

		ok, err = tx.TransitionProposal(ctx, proposalID, []models.ProposalStatus{
			models.ProposalStatusPending,
			models.ProposalStatusShortlisted,
		}, models.ProposalStatusAccepted, now)
		if err != nil {
			return fmt.Errorf("failed to accept proposal: %w", err)
		}
		if !ok {
			return fmt.Errorf("%w: proposal changed concurrently", ErrConflict)
		}

		if _, err := tx.RejectOpenProposals(ctx, listing.ID, &proposalID, now); err != nil {
			return fmt.Errorf("failed to reject proposals: %w", err)
		}

		created, err = s.escrow.openTransaction(ctx, tx, listing, proposal.AgentID, amount, &proposalID, window, models.TransitionAccept, now)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.escrow.metrics.Transitions.WithLabelValues(string(models.TransitionAccept), string(created.State)).Inc()
	s.logger.Info("proposal accepted",
		zap.String("proposal_id", proposalID.String()),
		zap.String("listing_id", listing.ID.String()),
		zap.String("tx_id", created.ID.String()),
		zap.String("seller_tier", string(tier)),
		zap.Int("dispute_window_hours", window),
		zap.Int64("amount", amount),
	)

	s.publish(EventProposalAccepted, proposal, proposal.AgentID)
	for _, sibling := range siblings {
		if sibling.ID != proposalID {
			s.publish(EventProposalRejected, sibling, sibling.AgentID)
		}
	}
	s.escrow.publish(EventTransactionOpened, created, created.BuyerID, created.SellerID)
	return created, nil
}

// List returns the proposals of a listing, optionally filtered by status
func (s *ProposalService) List(ctx context.Context, listingID uuid.UUID, status string) ([]*models.Proposal, error) {
	if _, err := s.repo.GetListingByID(ctx, listingID); err != nil {
		return nil, lookupErr(err, "listing")
	}

	var statuses []models.ProposalStatus
	if status != "" {
		st := models.ProposalStatus(status)
		switch st {
		case models.ProposalStatusPending, models.ProposalStatusShortlisted, models.ProposalStatusAccepted,
			models.ProposalStatusDeclined, models.ProposalStatusRejected:
			statuses = append(statuses, st)
		default:
			return nil, fmt.Errorf("%w: unknown proposal status %q", ErrValidation, status)
		}
	}

	proposals, err := s.repo.ListProposals(ctx, listingID, statuses)
	if err != nil {
		return nil, fmt.Errorf("failed to list proposals: %w", err)
	}
	return proposals, nil
}

func (s *ProposalService) get(ctx context.Context, proposalID uuid.UUID) (*models.Proposal, error) {
	proposal, err := s.repo.GetProposalByID(ctx, proposalID)
	if err != nil {
		return nil, lookupErr(err, "proposal")
	}
	return proposal, nil
}

func (s *ProposalService) ownedProposal(ctx context.Context, proposalID, ownerID uuid.UUID) (*models.Proposal, *models.Listing, error) {
	proposal, err := s.get(ctx, proposalID)
	if err != nil {
		return nil, nil, err
	}
	listing, err := s.repo.GetListingByID(ctx, proposal.ListingID)
	if err != nil {
		return nil, nil, lookupErr(err, "listing")
	}
	if listing.OwnerID != ownerID {
		return nil, nil, fmt.Errorf("%w: only the listing owner can manage proposals", ErrUnauthorized)
	}
	return proposal, listing, nil
}

func (s *ProposalService) publish(eventType EventType, proposal *models.Proposal, recipients ...uuid.UUID) {
	proposalID, listingID := proposal.ID, proposal.ListingID
	s.notifier.Publish(Event{
		Type:       eventType,
		ListingID:  &listingID,
		ProposalID: &proposalID,
		At:         s.clock.Now().UTC(),
	}, recipients...)
}
