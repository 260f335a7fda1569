package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"bounty-escrow/internal/models"
)

// CreateTransaction inserts a transaction together with its opening event
func (r *Repository) CreateTransaction(ctx context.Context, tx *models.Transaction, event *models.TransactionEvent) error {
	if err := r.db.WithContext(ctx).Create(tx).Error; err != nil {
		return err
	}
	return r.AppendTransactionEvent(ctx, event)
}

// AppendTransactionEvent records a state transition
func (r *Repository) AppendTransactionEvent(ctx context.Context, event *models.TransactionEvent) error {
	return r.db.WithContext(ctx).Create(event).Error
}

// GetTransactionByID retrieves a transaction by ID
func (r *Repository) GetTransactionByID(ctx context.Context, txID uuid.UUID) (*models.Transaction, error) {
	var tx models.Transaction
	err := r.db.WithContext(ctx).Where("id = ?", txID).First(&tx).Error
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

// ListTransactionEvents returns the history of a transaction in order
func (r *Repository) ListTransactionEvents(ctx context.Context, txID uuid.UUID) ([]*models.TransactionEvent, error) {
	var events []*models.TransactionEvent
	err := r.db.WithContext(ctx).
		Where("transaction_id = ?", txID).
		Order("created_at ASC").
		Find(&events).Error
	return events, err
}

// ListAgentTransactions returns the transactions where the agent is buyer or seller
func (r *Repository) ListAgentTransactions(ctx context.Context, agentID uuid.UUID, limit, offset int) ([]*models.Transaction, error) {
	var txs []*models.Transaction
	err := r.db.WithContext(ctx).
		Where("buyer_id = ? OR seller_id = ?", agentID, agentID).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&txs).Error
	return txs, err
}

// TransitionTransaction moves a transaction from state `from` and applies
// updates, but only while no settlement lease is live. Returns false when the
// row was not in `from` or was being settled.
func (r *Repository) TransitionTransaction(
	ctx context.Context,
	txID uuid.UUID,
	from models.TransactionState,
	updates map[string]interface{},
	now time.Time,
) (bool, error) {
	result := r.db.WithContext(ctx).Model(&models.Transaction{}).
		Where("id = ? AND state = ?", txID, from).
		Where("settling_until IS NULL OR settling_until < ?", now).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// AcquireSettlementLease marks a transaction in state `from` as being settled
// by the holder of token until `until`. An expired lease can be taken over.
func (r *Repository) AcquireSettlementLease(
	ctx context.Context,
	txID uuid.UUID,
	from models.TransactionState,
	token uuid.UUID,
	now time.Time,
	until time.Time,
) (bool, error) {
	result := r.db.WithContext(ctx).Model(&models.Transaction{}).
		Where("id = ? AND state = ?", txID, from).
		Where("settling_until IS NULL OR settling_until < ?", now).
		Updates(map[string]interface{}{
			"settling_until":   until,
			"settlement_token": token,
			"updated_at":       now,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// RecordSettlementTransfer stores the prepared transfer for the lease holder
// before it is sent, so a later holder can find out whether it landed.
// Returns false when the lease is no longer held by token.
func (r *Repository) RecordSettlementTransfer(
	ctx context.Context,
	txID uuid.UUID,
	token uuid.UUID,
	transfer *models.RailTransfer,
	now time.Time,
) (bool, error) {
	result := r.db.WithContext(ctx).Model(&models.Transaction{}).
		Where("id = ? AND settlement_token = ? AND settling_until >= ?", txID, token, now).
		Updates(map[string]interface{}{
			"settlement_ref":     transfer.Ref,
			"settlement_op":      transfer.Op,
			"settlement_payload": transfer.Payload,
			"updated_at":         now,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// ReleaseSettlementLease drops a lease after a failed rail call. A recorded
// transfer stays on the row for the next holder.
func (r *Repository) ReleaseSettlementLease(ctx context.Context, txID, token uuid.UUID) error {
	return r.db.WithContext(ctx).Model(&models.Transaction{}).
		Where("id = ? AND settlement_token = ?", txID, token).
		Updates(map[string]interface{}{
			"settling_until":   nil,
			"settlement_token": nil,
		}).Error
}

// CompleteSettlement writes the terminal state for the lease holder. The
// payload is dropped; the reference stays as the settlement record.
func (r *Repository) CompleteSettlement(
	ctx context.Context,
	txID uuid.UUID,
	from models.TransactionState,
	to models.TransactionState,
	token uuid.UUID,
	settlementRef string,
	now time.Time,
) (bool, error) {
	result := r.db.WithContext(ctx).Model(&models.Transaction{}).
		Where("id = ? AND state = ? AND settlement_token = ?", txID, from, token).
		Updates(map[string]interface{}{
			"state":            to,
			"settlement_ref":     settlementRef,
			"settlement_op":      models.SettlementOpFor(to),
			"settlement_payload": nil,
			"completed_at":       now,
			"settling_until":     nil,
			"settlement_token":   nil,
			"updated_at":         now,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// ListAutoReleasable returns delivered, undisputed transactions whose dispute
// window has closed and that nobody is settling right now.
func (r *Repository) ListAutoReleasable(ctx context.Context, now time.Time, limit int) ([]*models.Transaction, error) {
	var txs []*models.Transaction
	err := r.db.WithContext(ctx).
		Where("state = ? AND disputed = ?", models.TransactionStateDelivered, false).
		Where("dispute_deadline IS NOT NULL AND dispute_deadline <= ?", now).
		Where("settling_until IS NULL OR settling_until < ?", now).
		Order("dispute_deadline ASC").
		Limit(limit).
		Find(&txs).Error
	return txs, err
}
