package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"bounty-escrow/internal/models"
	"bounty-escrow/internal/repository"
)

type settlement struct {
	to      models.TransactionState
	kind    models.TransitionKind
	actorID *uuid.UUID
	note    string
}

// Release pays the seller on the buyer's approval. Releasing an already
// released transaction succeeds without touching the rail.
func (s *EscrowService) Release(ctx context.Context, txID uuid.UUID, buyerID uuid.UUID) (*models.Transaction, error) {
	tx, err := s.get(ctx, txID)
	if err != nil {
		return nil, err
	}
	if tx.BuyerID != buyerID {
		return nil, fmt.Errorf("%w: only the buyer can release funds", ErrUnauthorized)
	}
	if tx.State == models.TransactionStateReleased {
		return tx, nil
	}
	if tx.State != models.TransactionStateDelivered {
		return nil, fmt.Errorf("%w: cannot release a %s transaction", ErrConflict, tx.State)
	}

	return s.settle(ctx, tx, settlement{
		to:      models.TransactionStateReleased,
		kind:    models.TransitionBuyerRelease,
		actorID: &buyerID,
	})
}

// AutoRelease pays the seller after the dispute window closed without a
// dispute. Called by the dispute window sweeper.
func (s *EscrowService) AutoRelease(ctx context.Context, txID uuid.UUID) (*models.Transaction, error) {
	tx, err := s.get(ctx, txID)
	if err != nil {
		return nil, err
	}
	if tx.State == models.TransactionStateReleased {
		return tx, nil
	}
	if tx.State != models.TransactionStateDelivered || tx.Disputed {
		return nil, fmt.Errorf("%w: cannot auto-release a %s transaction", ErrConflict, tx.State)
	}
	if tx.DisputeDeadline == nil || s.now().Before(*tx.DisputeDeadline) {
		return nil, fmt.Errorf("%w: dispute window is still open", ErrConflict)
	}

	return s.settle(ctx, tx, settlement{
		to:   models.TransactionStateReleased,
		kind: models.TransitionAutoRelease,
	})
}

// ResolveDispute settles a disputed transaction by arbitration, either paying
// the seller or refunding the buyer.
func (s *EscrowService) ResolveDispute(
	ctx context.Context,
	txID uuid.UUID,
	arbiterID uuid.UUID,
	req *models.ResolveDisputeRequest,
) (*models.Transaction, error) {
	var kind models.TransitionKind
	switch req.Outcome {
	case models.TransactionStateReleased:
		kind = models.TransitionArbitrationRelease
	case models.TransactionStateRefunded:
		kind = models.TransitionArbitrationRefund
	default:
		return nil, fmt.Errorf("%w: outcome must be RELEASED or REFUNDED", ErrValidation)
	}

	tx, err := s.get(ctx, txID)
	if err != nil {
		return nil, err
	}
	if tx.State == req.Outcome && tx.Disputed {
		return tx, nil
	}
	if tx.State != models.TransactionStateDisputed {
		return nil, fmt.Errorf("%w: cannot resolve a %s transaction", ErrConflict, tx.State)
	}

	return s.settle(ctx, tx, settlement{
		to:      req.Outcome,
		kind:    kind,
		actorID: &arbiterID,
		note:    strings.TrimSpace(req.Note),
	})
}

// errLeaseLost means another settlement attempt took the lease over
var errLeaseLost = errors.New("settlement lease lost")

// settle moves funds and then records the terminal state. A lease on the row
// keeps concurrent settlements of the same transaction off the rail, and the
// transfer is recorded on the row before it is sent so that no later attempt
// pays twice.
func (s *EscrowService) settle(ctx context.Context, tx *models.Transaction, st settlement) (*models.Transaction, error) {
	payeeID := tx.SellerID
	if st.to == models.TransactionStateRefunded {
		payeeID = tx.BuyerID
	}
	payee, err := s.repo.GetAgentByID(ctx, payeeID)
	if err != nil {
		return nil, lookupErr(err, "payee")
	}

	log := s.logger.With(
		zap.String("tx_id", tx.ID.String()),
		zap.String("listing_id", tx.ListingID.String()),
		zap.String("kind", string(st.kind)),
		zap.String("to", string(st.to)),
	)

	token := uuid.New()
	now := s.now()
	acquired, err := s.repo.AcquireSettlementLease(ctx, tx.ID, tx.State, token, now, now.Add(s.leaseTTL))
	if err != nil {
		return nil, fmt.Errorf("failed to acquire settlement lease: %w", err)
	}
	if !acquired {
		return s.settlementLost(ctx, tx.ID, st.to)
	}

	// The rail must answer well before the lease runs out.
	railCtx, cancel := context.WithTimeout(ctx, s.leaseTTL/2)
	defer cancel()

	op := models.SettlementOpFor(st.to)
	ref, landed, err := s.transfer(railCtx, tx.ID, token, op, payee.WalletAddress, tx.Amount, log)
	if err != nil {
		if errors.Is(err, errLeaseLost) {
			return s.settlementLost(ctx, tx.ID, st.to)
		}
		if errors.Is(err, ErrRailFailure) {
			s.metrics.RailFailures.WithLabelValues(string(op)).Inc()
			log.Warn("funds rail call failed", zap.String("op", string(op)), zap.Error(err))
		}
		if clearErr := s.repo.ReleaseSettlementLease(context.WithoutCancel(ctx), tx.ID, token); clearErr != nil {
			log.Error("failed to clear settlement lease", zap.Error(clearErr))
		}
		return nil, err
	}
	if landed != op {
		// Only a disputed transaction can have both directions on record.
		log.Warn("earlier arbitration transfer landed on the rail",
			zap.String("requested", string(op)),
			zap.String("landed", string(landed)),
		)
		st = arbitrationSettlement(landed, st.actorID, st.note)
	}

	// The rail has moved funds; recording it must not be cut short by the caller.
	commitCtx := context.WithoutCancel(ctx)
	completedAt := s.now()
	err = s.repo.Transaction(commitCtx, func(r *repository.Repository) error {
		ok, err := r.CompleteSettlement(commitCtx, tx.ID, tx.State, st.to, token, ref, completedAt)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: settlement lease lost", ErrConflict)
		}
		event := s.event(tx.ID, tx.State, st.to, st.kind, st.actorID, st.note, completedAt)
		if err := r.AppendTransactionEvent(commitCtx, event); err != nil {
			return err
		}
		if err := r.CloseListing(commitCtx, tx.ListingID, completedAt); err != nil {
			return err
		}
		return r.InvalidateReputation(commitCtx, completedAt, tx.BuyerID, tx.SellerID)
	})
	if err != nil {
		// The transfer is on the row; the next lease holder finds it landed
		// and only records the state.
		log.Error("settlement executed on rail but not recorded",
			zap.String("settlement_ref", ref),
			zap.Error(err),
		)
		return nil, fmt.Errorf("failed to record settlement: %w", err)
	}

	s.metrics.Transitions.WithLabelValues(string(st.kind), string(st.to)).Inc()
	log.Info("transaction settled",
		zap.String("settlement_ref", ref),
		zap.Int64("amount", tx.Amount),
		zap.String("op", string(landed)),
	)

	settled, err := s.get(ctx, tx.ID)
	if err != nil {
		return nil, err
	}
	s.publish(eventTypeFor(st.to), settled, settled.BuyerID, settled.SellerID)
	return settled, nil
}

// transfer gets op's funds onto the rail for the lease holder and returns the
// reference and direction that landed. A transfer recorded by an earlier
// attempt is resolved first: landed is reused, pending is resent, and only an
// expired one is replaced.
func (s *EscrowService) transfer(
	ctx context.Context,
	txID uuid.UUID,
	token uuid.UUID,
	op models.SettlementOp,
	account string,
	amount int64,
	log *zap.Logger,
) (string, models.SettlementOp, error) {
	current, err := s.get(ctx, txID)
	if err != nil {
		return "", "", err
	}

	if prior := current.PendingTransfer(); prior != nil {
		status, err := s.rail.TransferStatus(ctx, *prior)
		if err != nil {
			return "", "", fmt.Errorf("%w: %w", ErrRailFailure, err)
		}
		log.Info("found recorded settlement transfer",
			zap.String("settlement_ref", prior.Ref),
			zap.String("op", string(prior.Op)),
			zap.String("status", string(status)),
		)
		switch status {
		case models.RailTransferLanded:
			return prior.Ref, prior.Op, nil
		case models.RailTransferPending:
			if prior.Op != op {
				return "", "", fmt.Errorf("%w: a %s transfer is still pending on the rail", ErrConflict, prior.Op)
			}
			if err := s.rail.Send(ctx, *prior); err != nil {
				return "", "", fmt.Errorf("%w: %w", ErrRailFailure, err)
			}
			return prior.Ref, prior.Op, nil
		}
	}

	prepared, err := s.rail.Prepare(ctx, op, txID, account, amount)
	if err != nil {
		return "", "", fmt.Errorf("%w: %w", ErrRailFailure, err)
	}
	recorded, err := s.repo.RecordSettlementTransfer(context.WithoutCancel(ctx), txID, token, prepared, s.now())
	if err != nil {
		return "", "", fmt.Errorf("failed to record settlement transfer: %w", err)
	}
	if !recorded {
		return "", "", errLeaseLost
	}
	if err := s.rail.Send(ctx, *prepared); err != nil {
		return "", "", fmt.Errorf("%w: %w", ErrRailFailure, err)
	}
	return prepared.Ref, op, nil
}

func arbitrationSettlement(op models.SettlementOp, actorID *uuid.UUID, note string) settlement {
	if op == models.SettlementRefund {
		return settlement{to: models.TransactionStateRefunded, kind: models.TransitionArbitrationRefund, actorID: actorID, note: note}
	}
	return settlement{to: models.TransactionStateReleased, kind: models.TransitionArbitrationRelease, actorID: actorID, note: note}
}

// settlementLost handles a lease that could not be taken: either someone
// already finished the same settlement, or one is in progress.
func (s *EscrowService) settlementLost(ctx context.Context, txID uuid.UUID, to models.TransactionState) (*models.Transaction, error) {
	current, err := s.get(ctx, txID)
	if err != nil {
		return nil, err
	}
	if current.State == to {
		return current, nil
	}

	s.metrics.SettlementConflicts.Inc()
	if current.State.Terminal() {
		return nil, fmt.Errorf("%w: transaction already %s", ErrConflict, current.State)
	}
	return nil, fmt.Errorf("%w: settlement already in progress", ErrConflict)
}
