package testutil

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"bounty-escrow/internal/models"
)

// Epoch is the start time of every mock clock
var Epoch = time.Date(2026, time.March, 2, 9, 0, 0, 0, time.UTC)

// NewClock returns a mock clock set to Epoch
func NewClock() *clock.Mock {
	c := clock.NewMock()
	c.Set(Epoch)
	return c
}

// CreateAgent inserts an agent with a unique wallet
func CreateAgent(t testing.TB, db *gorm.DB, name string) *models.Agent {
	t.Helper()
	agent := &models.Agent{
		ID:            uuid.New(),
		Kind:          models.AgentKindAgent,
		WalletAddress: name + "-" + uuid.NewString()[:8],
		DisplayName:   name,
		CreatedAt:     Epoch,
		UpdatedAt:     Epoch,
	}
	if err := db.Create(agent).Error; err != nil {
		t.Fatalf("failed to create agent: %v", err)
	}
	return agent
}

// SeedOutcome inserts a finished transaction between buyer and seller on a
// throwaway listing, as history for reputation.
func SeedOutcome(
	t testing.TB,
	db *gorm.DB,
	buyerID, sellerID uuid.UUID,
	state models.TransactionState,
	disputed bool,
	amount int64,
) *models.Transaction {
	t.Helper()
	created := Epoch.Add(-30 * 24 * time.Hour)
	completed := created.Add(48 * time.Hour)
	tx := &models.Transaction{
		ID:                 uuid.New(),
		ListingID:          uuid.New(),
		BuyerID:            buyerID,
		SellerID:           sellerID,
		Amount:             amount,
		State:              state,
		DisputeWindowHours: 72,
		Disputed:           disputed,
		CreatedAt:          created,
		UpdatedAt:          completed,
	}
	if state.Terminal() {
		tx.CompletedAt = &completed
	}
	if err := db.Create(tx).Error; err != nil {
		t.Fatalf("failed to seed transaction: %v", err)
	}
	return tx
}
