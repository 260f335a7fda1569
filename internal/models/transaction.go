package models

import (
	"time"

	"github.com/google/uuid"
)

type TransactionState string

const (
	TransactionStatePending   TransactionState = "PENDING"
	TransactionStateFunded    TransactionState = "FUNDED"
	TransactionStateDelivered TransactionState = "DELIVERED"
	TransactionStateDisputed  TransactionState = "DISPUTED"
	TransactionStateReleased  TransactionState = "RELEASED"
	TransactionStateRefunded  TransactionState = "REFUNDED"
)

// Terminal reports whether no further state writes are permitted.
func (s TransactionState) Terminal() bool {
	return s == TransactionStateReleased || s == TransactionStateRefunded
}

// LiveTransactionStates are the states that hold a listing.
var LiveTransactionStates = []TransactionState{
	TransactionStatePending,
	TransactionStateFunded,
	TransactionStateDelivered,
	TransactionStateDisputed,
}

type TransitionKind string

const (
	TransitionClaim              TransitionKind = "claim"
	TransitionAccept             TransitionKind = "accept"
	TransitionFund               TransitionKind = "fund"
	TransitionDeliver            TransitionKind = "deliver"
	TransitionBuyerRelease       TransitionKind = "buyer_release"
	TransitionAutoRelease        TransitionKind = "auto_release"
	TransitionDispute            TransitionKind = "dispute"
	TransitionArbitrationRelease TransitionKind = "arbitration_release"
	TransitionArbitrationRefund  TransitionKind = "arbitration_refund"
)

// Transaction is one escrowed payment bound to a listing claim or an accepted
// proposal. Rows are never deleted; only State moves. The timestamp columns
// are projections of TransactionEvent rows and are written together with them.
type Transaction struct {
	ID                 uuid.UUID        `gorm:"type:uuid;primaryKey" json:"id"`
	ListingID          uuid.UUID        `gorm:"type:uuid;not null;index" json:"listing_id"`
	ProposalID         *uuid.UUID       `gorm:"type:uuid" json:"proposal_id,omitempty"`
	BuyerID            uuid.UUID        `gorm:"type:uuid;not null;index" json:"buyer_id"`
	SellerID           uuid.UUID        `gorm:"type:uuid;not null;index" json:"seller_id"`
	Amount             int64            `gorm:"not null" json:"amount"`
	State              TransactionState `gorm:"size:20;not null;index" json:"state"`
	DisputeWindowHours int              `gorm:"not null" json:"dispute_window_hours"`
	Disputed           bool             `gorm:"not null;default:false" json:"disputed"`
	DisputeReason      *string          `gorm:"type:text" json:"dispute_reason,omitempty"`
	Deliverable        *string          `gorm:"type:text" json:"deliverable,omitempty"`
	FundingRef         *string          `gorm:"size:255" json:"funding_ref,omitempty"`
	SettlementRef      *string          `gorm:"size:255" json:"settlement_ref,omitempty"`
	SettlementOp       *SettlementOp    `gorm:"size:20" json:"settlement_op,omitempty"`
	SettlementPayload  *string          `gorm:"type:text" json:"-"`
	SettlingUntil      *time.Time       `gorm:"index" json:"-"`
	SettlementToken    *uuid.UUID       `gorm:"type:uuid" json:"-"`
	CreatedAt          time.Time        `json:"created_at"`
	FundedAt           *time.Time       `json:"funded_at,omitempty"`
	DeliveredAt        *time.Time       `json:"delivered_at,omitempty"`
	DisputeDeadline    *time.Time       `gorm:"index" json:"dispute_deadline,omitempty"`
	CompletedAt        *time.Time       `json:"completed_at,omitempty"`
	UpdatedAt          time.Time        `json:"updated_at"`
}

// TableName specifies the table name for Transaction model
func (Transaction) TableName() string {
	return "transactions"
}

// PendingTransfer returns the settlement transfer recorded by an earlier
// attempt, or nil when none was recorded.
func (t *Transaction) PendingTransfer() *RailTransfer {
	if t.SettlementRef == nil || t.SettlementOp == nil || t.SettlementPayload == nil {
		return nil
	}
	return &RailTransfer{Op: *t.SettlementOp, Ref: *t.SettlementRef, Payload: *t.SettlementPayload}
}

// TransactionEvent is one append-only state transition record
type TransactionEvent struct {
	ID            uuid.UUID        `gorm:"type:uuid;primaryKey" json:"id"`
	TransactionID uuid.UUID        `gorm:"type:uuid;not null;index" json:"transaction_id"`
	FromState     TransactionState `gorm:"size:20" json:"from_state"`
	ToState       TransactionState `gorm:"size:20;not null" json:"to_state"`
	Kind          TransitionKind   `gorm:"size:40;not null;index" json:"kind"`
	ActorID       *uuid.UUID       `gorm:"type:uuid" json:"actor_id,omitempty"`
	Note          string           `gorm:"type:text" json:"note,omitempty"`
	CreatedAt     time.Time        `gorm:"index" json:"created_at"`
}

// TableName specifies the table name for TransactionEvent model
func (TransactionEvent) TableName() string {
	return "transaction_events"
}

// TransactionStatus is the derived read view of a transaction
type TransactionStatus struct {
	Transaction            *Transaction        `json:"transaction"`
	DisputeWindowRemaining *int64              `json:"dispute_window_remaining_minutes,omitempty"`
	Events                 []*TransactionEvent `json:"events"`
}

// DeliverRequest carries a deliverable content reference
type DeliverRequest struct {
	Deliverable string `json:"deliverable" binding:"required"`
}

// DisputeRequest carries the buyer's dispute reason
type DisputeRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// FundRequest carries the buyer's funding reference (e.g. a transfer signature)
type FundRequest struct {
	FundingRef string `json:"funding_ref" binding:"required"`
}

// ResolveDisputeRequest is the arbitration outcome
type ResolveDisputeRequest struct {
	Outcome TransactionState `json:"outcome" binding:"required"`
	Note    string           `json:"note"`
}
