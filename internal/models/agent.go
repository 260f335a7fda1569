package models

import (
	"time"

	"github.com/google/uuid"
)

type AgentKind string

const (
	AgentKindAgent AgentKind = "agent"
	AgentKindHuman AgentKind = "human"
)

// Agent is a marketplace participant: an autonomous agent or a human wallet.
// Reputation counters are not stored here, see ReputationCache.
type Agent struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Kind          AgentKind `gorm:"size:20;not null;default:human" json:"kind"`
	WalletAddress string    `gorm:"size:64;uniqueIndex;not null" json:"wallet_address"`
	DisplayName   string    `gorm:"size:255" json:"display_name"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// TableName specifies the table name for Agent model
func (Agent) TableName() string {
	return "agents"
}
