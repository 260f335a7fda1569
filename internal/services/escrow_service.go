package services

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"bounty-escrow/internal/metrics"
	"bounty-escrow/internal/models"
	"bounty-escrow/internal/repository"
)

const defaultLeaseTTL = 2 * time.Minute

// EscrowService is the transaction state machine. Every state write is a
// compare-and-set on the current state, recorded together with its event.
type EscrowService struct {
	repo       *repository.Repository
	reputation *ReputationService
	rail       FundsRail
	verifier   FundingVerifier
	notifier   *Notifier
	clock      clock.Clock
	leaseTTL   time.Duration
	logger     *zap.Logger
	metrics    *metrics.Metrics
}

// NewEscrowService creates a new EscrowService. If the rail also implements
// FundingVerifier, funding references are checked against it.
func NewEscrowService(
	repo *repository.Repository,
	reputationService *ReputationService,
	rail FundsRail,
	notifier *Notifier,
	clk clock.Clock,
	leaseTTL time.Duration,
	logger *zap.Logger,
	m *metrics.Metrics,
) *EscrowService {
	verifier, _ := rail.(FundingVerifier)
	if leaseTTL <= 0 {
		leaseTTL = defaultLeaseTTL
	}
	return &EscrowService{
		repo:       repo,
		reputation: reputationService,
		rail:       rail,
		verifier:   verifier,
		notifier:   notifier,
		clock:      clk,
		leaseTTL:   leaseTTL,
		logger:     logger,
		metrics:    m,
	}
}

func (s *EscrowService) now() time.Time {
	return s.clock.Now().UTC()
}

// Claim binds a seller to an open, non-competition listing and opens its
// transaction. Bounties are prefunded by the poster and start FUNDED.
func (s *EscrowService) Claim(ctx context.Context, listingID uuid.UUID, sellerID uuid.UUID) (*models.Transaction, error) {
	listing, err := s.repo.GetListingByID(ctx, listingID)
	if err != nil {
		return nil, lookupErr(err, "listing")
	}
	if listing.CompetitionMode {
		return nil, fmt.Errorf("%w: competition listings take proposals, not claims", ErrValidation)
	}
	if listing.OwnerID == sellerID {
		return nil, fmt.Errorf("%w: cannot claim your own listing", ErrUnauthorized)
	}
	if !listing.IsActive || listing.AssignedAgentID != nil {
		return nil, fmt.Errorf("%w: listing is not open", ErrConflict)
	}

	// Resolved before the write transaction: the window is frozen on the row.
	window, tier, err := s.reputation.DisputeWindowFor(ctx, sellerID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	var created *models.Transaction
	err = s.repo.Transaction(ctx, func(tx *repository.Repository) error {
		ok, err := tx.AssignListing(ctx, listingID, sellerID, false, false, now)
		if err != nil {
			return fmt.Errorf("failed to claim listing: %w", err)
		}
		if !ok {
			return fmt.Errorf("%w: listing already claimed", ErrConflict)
		}

		created, err = s.openTransaction(ctx, tx, listing, sellerID, listing.Price, nil, window, models.TransitionClaim, now)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.metrics.Transitions.WithLabelValues(string(models.TransitionClaim), string(created.State)).Inc()
	s.logger.Info("listing claimed",
		zap.String("tx_id", created.ID.String()),
		zap.String("listing_id", listingID.String()),
		zap.String("seller_id", sellerID.String()),
		zap.String("seller_tier", string(tier)),
		zap.Int("dispute_window_hours", window),
		zap.String("state", string(created.State)),
	)
	s.publish(EventTransactionOpened, created, created.BuyerID, created.SellerID)
	return created, nil
}

// openTransaction creates the transaction for a claimed listing or accepted
// proposal inside the caller's database transaction.
func (s *EscrowService) openTransaction(
	ctx context.Context,
	tx *repository.Repository,
	listing *models.Listing,
	sellerID uuid.UUID,
	amount int64,
	proposalID *uuid.UUID,
	windowHours int,
	kind models.TransitionKind,
	now time.Time,
) (*models.Transaction, error) {
	created := &models.Transaction{
		ID:                 uuid.New(),
		ListingID:          listing.ID,
		ProposalID:         proposalID,
		BuyerID:            listing.OwnerID,
		SellerID:           sellerID,
		Amount:             amount,
		State:              models.TransactionStatePending,
		DisputeWindowHours: windowHours,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	// A bounty is prefunded at its posted price only.
	if listing.ListingType == models.ListingTypeBounty && amount == listing.Price {
		created.State = models.TransactionStateFunded
		created.FundedAt = &now
	}

	event := s.event(created.ID, "", created.State, kind, &sellerID, "", now)
	if err := tx.CreateTransaction(ctx, created, event); err != nil {
		if isDuplicateKey(err) {
			return nil, fmt.Errorf("%w: listing already has a live transaction", ErrConflict)
		}
		return nil, fmt.Errorf("failed to create transaction: %w", err)
	}
	return created, nil
}

// ConfirmFunding moves a PENDING transaction to FUNDED once the buyer has
// paid into escrow. Confirming an already funded transaction is a no-op.
func (s *EscrowService) ConfirmFunding(
	ctx context.Context,
	txID uuid.UUID,
	buyerID uuid.UUID,
	fundingRef string,
) (*models.Transaction, error) {
	fundingRef = strings.TrimSpace(fundingRef)
	if fundingRef == "" {
		return nil, fmt.Errorf("%w: funding reference is required", ErrValidation)
	}

	tx, err := s.get(ctx, txID)
	if err != nil {
		return nil, err
	}
	if tx.BuyerID != buyerID {
		return nil, fmt.Errorf("%w: only the buyer can fund a transaction", ErrUnauthorized)
	}
	if tx.State == models.TransactionStateFunded {
		return tx, nil
	}
	if tx.State != models.TransactionStatePending {
		return nil, fmt.Errorf("%w: cannot fund a %s transaction", ErrConflict, tx.State)
	}

	if s.verifier != nil {
		buyer, err := s.repo.GetAgentByID(ctx, buyerID)
		if err != nil {
			return nil, lookupErr(err, "buyer")
		}
		confirmed, err := s.verifier.VerifyFunding(ctx, fundingRef, buyer.WalletAddress, tx.Amount)
		if err != nil {
			s.metrics.RailFailures.WithLabelValues("verify").Inc()
			return nil, fmt.Errorf("%w: %w", ErrRailFailure, err)
		}
		if !confirmed {
			return nil, fmt.Errorf("%w: funding reference not confirmed", ErrValidation)
		}
	}

	now := s.now()
	funded, err := s.transition(ctx, tx, models.TransactionStateFunded, models.TransitionFund, &buyerID, "", now,
		map[string]interface{}{
			"funding_ref": fundingRef,
			"funded_at":   now,
		}, nil)
	if isDuplicateKey(err) {
		return nil, fmt.Errorf("%w: funding reference already used", ErrConflict)
	}
	return funded, err
}

// Deliver records the seller's deliverable and starts the dispute window
func (s *EscrowService) Deliver(
	ctx context.Context,
	txID uuid.UUID,
	sellerID uuid.UUID,
	deliverable string,
) (*models.Transaction, error) {
	deliverable = strings.TrimSpace(deliverable)
	if deliverable == "" {
		return nil, fmt.Errorf("%w: deliverable is required", ErrValidation)
	}

	tx, err := s.get(ctx, txID)
	if err != nil {
		return nil, err
	}
	if tx.SellerID != sellerID {
		return nil, fmt.Errorf("%w: only the seller can deliver", ErrUnauthorized)
	}
	if tx.State != models.TransactionStateFunded {
		return nil, fmt.Errorf("%w: cannot deliver a %s transaction", ErrConflict, tx.State)
	}

	now := s.now()
	deadline := now.Add(time.Duration(tx.DisputeWindowHours) * time.Hour)
	return s.transition(ctx, tx, models.TransactionStateDelivered, models.TransitionDeliver, &sellerID, "", now,
		map[string]interface{}{
			"deliverable":      deliverable,
			"delivered_at":     now,
			"dispute_deadline": deadline,
		}, nil)
}

// Dispute freezes a delivered transaction for arbitration. Only allowed while
// the dispute window is open on the server clock.
func (s *EscrowService) Dispute(
	ctx context.Context,
	txID uuid.UUID,
	buyerID uuid.UUID,
	reason string,
) (*models.Transaction, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, fmt.Errorf("%w: dispute reason is required", ErrValidation)
	}

	tx, err := s.get(ctx, txID)
	if err != nil {
		return nil, err
	}
	if tx.BuyerID != buyerID {
		return nil, fmt.Errorf("%w: only the buyer can dispute", ErrUnauthorized)
	}
	if tx.State != models.TransactionStateDelivered {
		return nil, fmt.Errorf("%w: cannot dispute a %s transaction", ErrConflict, tx.State)
	}

	now := s.now()
	if tx.DisputeDeadline == nil || !now.Before(*tx.DisputeDeadline) {
		return nil, fmt.Errorf("%w: dispute window has closed", ErrConflict)
	}

	return s.transition(ctx, tx, models.TransactionStateDisputed, models.TransitionDispute, &buyerID, reason, now,
		map[string]interface{}{
			"disputed":       true,
			"dispute_reason": reason,
		},
		func(r *repository.Repository) error {
			return r.InvalidateReputation(ctx, now, tx.BuyerID, tx.SellerID)
		})
}

// Status returns a transaction with its history and the minutes left in the
// dispute window, if one is running.
func (s *EscrowService) Status(ctx context.Context, txID uuid.UUID) (*models.TransactionStatus, error) {
	tx, err := s.get(ctx, txID)
	if err != nil {
		return nil, err
	}
	events, err := s.repo.ListTransactionEvents(ctx, txID)
	if err != nil {
		return nil, fmt.Errorf("failed to load transaction events: %w", err)
	}

	status := &models.TransactionStatus{Transaction: tx, Events: events}
	if tx.State == models.TransactionStateDelivered && !tx.Disputed && tx.DisputeDeadline != nil {
		remaining := RemainingMinutes(*tx.DisputeDeadline, s.now())
		status.DisputeWindowRemaining = &remaining
	}
	return status, nil
}

// ListForAgent returns the transactions the agent takes part in
func (s *EscrowService) ListForAgent(ctx context.Context, agentID uuid.UUID, limit, offset int) ([]*models.Transaction, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	txs, err := s.repo.ListAgentTransactions(ctx, agentID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	return txs, nil
}

// AutoReleaseCandidates lists delivered transactions whose window has closed
func (s *EscrowService) AutoReleaseCandidates(ctx context.Context, limit int) ([]*models.Transaction, error) {
	txs, err := s.repo.ListAutoReleasable(ctx, s.now(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list releasable transactions: %w", err)
	}
	return txs, nil
}

// RemainingMinutes rounds the time left until deadline up to whole minutes,
// never below zero.
func RemainingMinutes(deadline, now time.Time) int64 {
	left := deadline.Sub(now)
	if left <= 0 {
		return 0
	}
	return int64(math.Ceil(left.Minutes()))
}

// transition applies a non-settling state change and its event atomically.
// extra runs in the same database transaction.
func (s *EscrowService) transition(
	ctx context.Context,
	current *models.Transaction,
	to models.TransactionState,
	kind models.TransitionKind,
	actorID *uuid.UUID,
	note string,
	now time.Time,
	updates map[string]interface{},
	extra func(r *repository.Repository) error,
) (*models.Transaction, error) {
	updates["state"] = to
	updates["updated_at"] = now

	err := s.repo.Transaction(ctx, func(tx *repository.Repository) error {
		ok, err := tx.TransitionTransaction(ctx, current.ID, current.State, updates, now)
		if err != nil {
			return fmt.Errorf("failed to update transaction: %w", err)
		}
		if !ok {
			return fmt.Errorf("%w: transaction changed concurrently", ErrConflict)
		}
		if err := tx.AppendTransactionEvent(ctx, s.event(current.ID, current.State, to, kind, actorID, note, now)); err != nil {
			return fmt.Errorf("failed to record transaction event: %w", err)
		}
		if extra != nil {
			return extra(tx)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.Transitions.WithLabelValues(string(kind), string(to)).Inc()
	s.logger.Info("transaction transition",
		zap.String("tx_id", current.ID.String()),
		zap.String("kind", string(kind)),
		zap.String("from", string(current.State)),
		zap.String("to", string(to)),
	)

	updated, err := s.get(ctx, current.ID)
	if err != nil {
		return nil, err
	}
	s.publish(eventTypeFor(to), updated, updated.BuyerID, updated.SellerID)
	return updated, nil
}

func (s *EscrowService) get(ctx context.Context, txID uuid.UUID) (*models.Transaction, error) {
	tx, err := s.repo.GetTransactionByID(ctx, txID)
	if err != nil {
		return nil, lookupErr(err, "transaction")
	}
	return tx, nil
}

func (s *EscrowService) event(
	txID uuid.UUID,
	from, to models.TransactionState,
	kind models.TransitionKind,
	actorID *uuid.UUID,
	note string,
	now time.Time,
) *models.TransactionEvent {
	return &models.TransactionEvent{
		ID:            uuid.New(),
		TransactionID: txID,
		FromState:     from,
		ToState:       to,
		Kind:          kind,
		ActorID:       actorID,
		Note:          note,
		CreatedAt:     now,
	}
}

func (s *EscrowService) publish(eventType EventType, tx *models.Transaction, recipients ...uuid.UUID) {
	txID, listingID := tx.ID, tx.ListingID
	s.notifier.Publish(Event{
		Type:          eventType,
		TransactionID: &txID,
		ListingID:     &listingID,
		At:            s.now(),
	}, recipients...)
}

func eventTypeFor(state models.TransactionState) EventType {
	switch state {
	case models.TransactionStateFunded:
		return EventTransactionFunded
	case models.TransactionStateDelivered:
		return EventTransactionDelivered
	case models.TransactionStateDisputed:
		return EventTransactionDisputed
	case models.TransactionStateReleased:
		return EventTransactionReleased
	case models.TransactionStateRefunded:
		return EventTransactionRefunded
	default:
		return EventTransactionOpened
	}
}
