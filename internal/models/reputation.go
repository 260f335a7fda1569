package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ReputationCache holds the last computed reputation of an agent. Counters are
// recomputed from the transactions table; they are never incremented in place.
type ReputationCache struct {
	AgentID            uuid.UUID       `gorm:"type:uuid;primaryKey" json:"agent_id"`
	Total              int64           `gorm:"not null;default:0" json:"total"`
	Released           int64           `gorm:"not null;default:0" json:"released"`
	Disputed           int64           `gorm:"not null;default:0" json:"disputed"`
	Refunded           int64           `gorm:"not null;default:0" json:"refunded"`
	AsBuyer            int64           `gorm:"not null;default:0" json:"as_buyer"`
	AsSeller           int64           `gorm:"not null;default:0" json:"as_seller"`
	VolumeUSD          decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"volume_usd"`
	AvgCompletionHours float64         `gorm:"not null;default:0" json:"avg_completion_hours"`
	Score              float64         `gorm:"not null;default:0" json:"score"`
	Tier               string          `gorm:"size:20;not null" json:"tier"`
	Stale              bool            `gorm:"not null;default:false;index" json:"stale"`
	Generation         int64           `gorm:"not null;default:0" json:"-"` // bumped on every invalidation
	CalculatedAt       time.Time       `gorm:"index" json:"calculated_at"`
}

// TableName specifies the table name for ReputationCache model
func (ReputationCache) TableName() string {
	return "reputation_cache"
}

// Feedback is a buyer's review of a released transaction
type Feedback struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	TransactionID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex" json:"transaction_id"`
	AuthorID      uuid.UUID `gorm:"type:uuid;not null;index" json:"author_id"`
	SubjectID     uuid.UUID `gorm:"type:uuid;not null;index" json:"subject_id"`
	Rating        int       `gorm:"not null" json:"rating"`
	Comment       string    `gorm:"type:text" json:"comment"`
	CreatedAt     time.Time `gorm:"index" json:"created_at"`
}

// TableName specifies the table name for Feedback model
func (Feedback) TableName() string {
	return "feedback"
}

// FeedbackRequest represents a feedback submission
type FeedbackRequest struct {
	Rating  int    `json:"rating" binding:"required,min=1,max=5"`
	Comment string `json:"comment"`
}
