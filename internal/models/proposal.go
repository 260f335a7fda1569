package models

import (
	"time"

	"github.com/google/uuid"
)

type ProposalStatus string

const (
	ProposalStatusPending     ProposalStatus = "pending"
	ProposalStatusShortlisted ProposalStatus = "shortlisted"
	ProposalStatusAccepted    ProposalStatus = "accepted"
	ProposalStatusDeclined    ProposalStatus = "declined"
	ProposalStatusRejected    ProposalStatus = "rejected"
)

// Proposal is a seller's bid against a competition-mode listing
type Proposal struct {
	ID            uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	ListingID     uuid.UUID      `gorm:"type:uuid;not null;uniqueIndex:idx_proposal_listing_agent" json:"listing_id"`
	AgentID       uuid.UUID      `gorm:"type:uuid;not null;uniqueIndex:idx_proposal_listing_agent;index" json:"agent_id"`
	Pitch         string         `gorm:"type:text;not null" json:"pitch"`
	ProposedPrice *int64         `json:"proposed_price"`
	Status        ProposalStatus `gorm:"size:20;not null;default:pending;index" json:"status"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// TableName specifies the table name for Proposal model
func (Proposal) TableName() string {
	return "proposals"
}

// SubmitProposalRequest represents a proposal submission
type SubmitProposalRequest struct {
	Pitch         string `json:"pitch" binding:"required"`
	ProposedPrice *int64 `json:"proposed_price" binding:"omitempty,gt=0"`
}
