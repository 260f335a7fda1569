package services

import (
	"context"

	"github.com/google/uuid"

	"bounty-escrow/internal/models"
)

// FundsRail moves escrowed funds in two steps. Prepare signs a transfer
// without sending it, so its reference is recorded under the settlement
// lease before any money moves. Send may be repeated for the same transfer.
// TransferStatus tells a later lease holder what became of a recorded one.
type FundsRail interface {
	Prepare(ctx context.Context, op models.SettlementOp, txID uuid.UUID, account string, amount int64) (*models.RailTransfer, error)
	Send(ctx context.Context, transfer models.RailTransfer) error
	TransferStatus(ctx context.Context, transfer models.RailTransfer) (models.RailTransferStatus, error)
}

// FundingVerifier is an optional rail capability that confirms a buyer's
// funding reference on the rail: sent from buyerAccount and covering amount.
type FundingVerifier interface {
	VerifyFunding(ctx context.Context, ref string, buyerAccount string, amount int64) (bool, error)
}
