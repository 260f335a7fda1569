package blockchain

import (
	"context"
	"fmt"
	"math/bits"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"bounty-escrow/internal/models"
)

// transferClient is the part of SolanaClient the rail needs
type transferClient interface {
	SignTransfer(ctx context.Context, to string, lamports uint64) (string, string, error)
	SendSigned(ctx context.Context, payload string) error
	TransferStatus(ctx context.Context, signature string, payload string) (models.RailTransferStatus, error)
	VerifyTransfer(ctx context.Context, signature string) (*TransferDetails, error)
}

// SolanaRail settles escrow by SystemProgram transfers signed by the escrow
// authority. The transfer signature is the settlement reference and exists
// before the transfer is sent.
type SolanaRail struct {
	client          transferClient
	lamportsPerUnit uint64
	logger          *zap.Logger
}

func NewSolanaRail(client transferClient, lamportsPerUnit uint64, logger *zap.Logger) *SolanaRail {
	if lamportsPerUnit == 0 {
		lamportsPerUnit = 1
	}
	return &SolanaRail{
		client:          client,
		lamportsPerUnit: lamportsPerUnit,
		logger:          logger,
	}
}

// Prepare signs the transfer paying account for txID
func (r *SolanaRail) Prepare(
	ctx context.Context,
	op models.SettlementOp,
	txID uuid.UUID,
	account string,
	amount int64,
) (*models.RailTransfer, error) {
	if op != models.SettlementRelease && op != models.SettlementRefund {
		return nil, fmt.Errorf("unknown settlement op %q", op)
	}
	if !ValidateWalletAddress(account) {
		return nil, fmt.Errorf("invalid %s account %q", op, account)
	}
	lamports, err := r.lamports(amount)
	if err != nil {
		return nil, fmt.Errorf("invalid %s amount: %w", op, err)
	}

	sig, payload, err := r.client.SignTransfer(ctx, account, lamports)
	if err != nil {
		return nil, fmt.Errorf("%s transfer not signed: %w", op, err)
	}

	r.logger.Info("escrow transfer signed",
		zap.String("op", string(op)),
		zap.String("tx_id", txID.String()),
		zap.String("account", account),
		zap.Int64("amount", amount),
		zap.Uint64("lamports", lamports),
		zap.String("signature", sig),
	)
	return &models.RailTransfer{Op: op, Ref: sig, Payload: payload}, nil
}

// Send broadcasts a prepared transfer
func (r *SolanaRail) Send(ctx context.Context, transfer models.RailTransfer) error {
	if err := r.client.SendSigned(ctx, transfer.Payload); err != nil {
		return fmt.Errorf("%s transfer failed: %w", transfer.Op, err)
	}
	r.logger.Info("escrow transfer sent",
		zap.String("op", string(transfer.Op)),
		zap.String("signature", transfer.Ref),
	)
	return nil
}

func (r *SolanaRail) TransferStatus(ctx context.Context, transfer models.RailTransfer) (models.RailTransferStatus, error) {
	return r.client.TransferStatus(ctx, transfer.Ref, transfer.Payload)
}

// VerifyFunding confirms that ref is a transfer from buyerAccount into the
// escrow authority covering amount.
func (r *SolanaRail) VerifyFunding(ctx context.Context, ref string, buyerAccount string, amount int64) (bool, error) {
	want, err := r.lamports(amount)
	if err != nil {
		return false, err
	}
	details, err := r.client.VerifyTransfer(ctx, ref)
	if err != nil {
		return false, err
	}
	if details == nil || !details.Confirmed {
		return false, nil
	}
	if details.Sender != buyerAccount {
		r.logger.Warn("funding sent from another wallet",
			zap.String("ref", ref),
			zap.String("sender", details.Sender),
			zap.String("buyer", buyerAccount),
		)
		return false, nil
	}
	return details.Received >= want, nil
}

// lamports converts an escrow amount, rejecting values that do not fit
func (r *SolanaRail) lamports(amount int64) (uint64, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("amount must be positive, got %d", amount)
	}
	hi, lo := bits.Mul64(uint64(amount), r.lamportsPerUnit)
	if hi != 0 {
		return 0, fmt.Errorf("amount %d overflows at %d lamports per unit", amount, r.lamportsPerUnit)
	}
	return lo, nil
}

// DryRunRail logs settlements without moving funds. Used when no escrow
// wallet is configured.
type DryRunRail struct {
	logger *zap.Logger
}

func NewDryRunRail(logger *zap.Logger) *DryRunRail {
	return &DryRunRail{logger: logger}
}

func (r *DryRunRail) Prepare(_ context.Context, op models.SettlementOp, txID uuid.UUID, account string, amount int64) (*models.RailTransfer, error) {
	ref := "dryrun-" + string(op) + "-" + txID.String()
	return &models.RailTransfer{Op: op, Ref: ref, Payload: account}, nil
}

func (r *DryRunRail) Send(_ context.Context, transfer models.RailTransfer) error {
	r.logger.Info("dry-run settlement", zap.String("op", string(transfer.Op)), zap.String("ref", transfer.Ref), zap.String("account", transfer.Payload))
	return nil
}

// TransferStatus treats every recorded transfer as landed; nothing moves
func (r *DryRunRail) TransferStatus(context.Context, models.RailTransfer) (models.RailTransferStatus, error) {
	return models.RailTransferLanded, nil
}

// VerifyFunding accepts every reference
func (r *DryRunRail) VerifyFunding(_ context.Context, ref string, buyerAccount string, amount int64) (bool, error) {
	r.logger.Debug("dry-run funding accepted", zap.String("ref", ref), zap.String("buyer", buyerAccount), zap.Int64("amount", amount))
	return true, nil
}
