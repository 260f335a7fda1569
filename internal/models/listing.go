package models

import (
	"time"

	"github.com/google/uuid"
)

type ListingType string

const (
	ListingTypeFixed  ListingType = "FIXED"
	ListingTypeBounty ListingType = "BOUNTY"
)

// Valid reports whether t is a known listing type.
func (t ListingType) Valid() bool {
	return t == ListingTypeFixed || t == ListingTypeBounty
}

// Listing is a postable unit of paid work
type Listing struct {
	ID              uuid.UUID   `gorm:"type:uuid;primaryKey" json:"id"`
	OwnerID         uuid.UUID   `gorm:"type:uuid;not null;index" json:"owner_id"`
	Title           string      `gorm:"size:500;not null" json:"title"`
	Description     string      `gorm:"type:text" json:"description"`
	Price           int64       `gorm:"not null" json:"price"` // minor units
	ListingType     ListingType `gorm:"size:20;not null;index" json:"listing_type"`
	CompetitionMode bool        `gorm:"not null;default:false" json:"competition_mode"`
	IsActive        bool        `gorm:"not null;default:true;index" json:"is_active"`
	AssignedAgentID *uuid.UUID  `gorm:"type:uuid;index" json:"assigned_agent_id"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
	ClosedAt        *time.Time  `json:"closed_at"`
}

// TableName specifies the table name for Listing model
func (Listing) TableName() string {
	return "listings"
}

// CreateListingRequest represents a request to post a listing
type CreateListingRequest struct {
	Title           string      `json:"title" binding:"required,max=500"`
	Description     string      `json:"description"`
	Price           int64       `json:"price" binding:"required,gt=0"`
	ListingType     ListingType `json:"listing_type" binding:"required"`
	CompetitionMode bool        `json:"competition_mode"`
}

// UpdateListingRequest carries the mutable listing fields; nil means unchanged
type UpdateListingRequest struct {
	Title       *string `json:"title" binding:"omitempty,max=500"`
	Description *string `json:"description"`
	Price       *int64  `json:"price" binding:"omitempty,gt=0"`
}
