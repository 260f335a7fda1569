package blockchain

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"

	"bounty-escrow/internal/config"
	"bounty-escrow/internal/models"
)

// ErrNoEscrowWallet is returned by operations that need the escrow authority
// when no private key is configured.
var ErrNoEscrowWallet = errors.New("escrow wallet not configured")

// SolanaClient handles Solana blockchain interactions
type SolanaClient struct {
	rpcClient    *rpc.Client
	endpoint     string
	network      string
	escrowWallet *solana.Wallet
	logger       *zap.Logger
}

// TransferDetails holds the parsed details of a confirmed transfer
type TransferDetails struct {
	Signature string
	Sender    string
	Received  uint64 // lamports credited to the escrow authority
	Confirmed bool
}

// RPCURL resolves the endpoint for a cluster name
func RPCURL(network string) string {
	switch network {
	case "mainnet-beta":
		return rpc.MainNetBeta_RPC
	case "testnet":
		return rpc.TestNet_RPC
	case "localnet":
		return rpc.LocalNet_RPC
	default:
		return rpc.DevNet_RPC
	}
}

// NewSolanaClient creates a new Solana client. The escrow wallet is optional.
func NewSolanaClient(cfg config.SolanaConfig, logger *zap.Logger) (*SolanaClient, error) {
	endpoint := cfg.RPCURL
	if endpoint == "" {
		endpoint = RPCURL(cfg.Network)
	}

	client := &SolanaClient{
		rpcClient: rpc.New(endpoint),
		endpoint:  endpoint,
		network:   cfg.Network,
		logger:    logger,
	}

	if cfg.EscrowWalletPrivateKey != "" {
		wallet, err := solana.WalletFromPrivateKeyBase58(cfg.EscrowWalletPrivateKey)
		if err != nil {
			return nil, fmt.Errorf("failed to load escrow wallet: %w", err)
		}
		client.escrowWallet = wallet
		logger.Info("escrow wallet loaded",
			zap.String("authority", wallet.PublicKey().String()),
			zap.String("network", cfg.Network),
		)
	}

	return client, nil
}

// HasEscrowWallet reports whether the client can sign settlements
func (s *SolanaClient) HasEscrowWallet() bool {
	return s.escrowWallet != nil
}

// ValidateWalletAddress validates a Solana wallet address format
func ValidateWalletAddress(address string) bool {
	_, err := solana.PublicKeyFromBase58(address)
	return err == nil
}

// signedTransfer is the stored form of a signed, possibly unsent transfer
type signedTransfer struct {
	Tx                   string `json:"tx"` // base64 wire transaction
	LastValidBlockHeight uint64 `json:"last_valid_block_height"`
}

// SignTransfer builds and signs a transfer of lamports from the escrow
// authority to a wallet without sending it. The returned signature identifies
// the transfer on chain; payload is what SendSigned and TransferStatus take.
func (s *SolanaClient) SignTransfer(ctx context.Context, to string, lamports uint64) (signature string, payload string, err error) {
	if s.escrowWallet == nil {
		return "", "", ErrNoEscrowWallet
	}
	recipient, err := solana.PublicKeyFromBase58(to)
	if err != nil {
		return "", "", fmt.Errorf("invalid recipient address: %w", err)
	}
	authority := s.escrowWallet.PublicKey()

	recent, err := s.rpcClient.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil {
		return "", "", fmt.Errorf("failed to get recent blockhash: %w", err)
	}

	tx, err := solana.NewTransaction(
		[]solana.Instruction{
			system.NewTransferInstruction(lamports, authority, recipient).Build(),
		},
		recent.Value.Blockhash,
		solana.TransactionPayer(authority),
	)
	if err != nil {
		return "", "", fmt.Errorf("failed to create transaction: %w", err)
	}

	sigs, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(authority) {
			return &s.escrowWallet.PrivateKey
		}
		return nil
	})
	if err != nil {
		return "", "", fmt.Errorf("failed to sign transaction: %w", err)
	}

	raw, err := tx.MarshalBinary()
	if err != nil {
		return "", "", fmt.Errorf("failed to encode transaction: %w", err)
	}
	encoded, err := json.Marshal(signedTransfer{
		Tx:                   base64.StdEncoding.EncodeToString(raw),
		LastValidBlockHeight: recent.Value.LastValidBlockHeight,
	})
	if err != nil {
		return "", "", fmt.Errorf("failed to encode transfer: %w", err)
	}
	return sigs[0].String(), string(encoded), nil
}

// SendSigned broadcasts a transfer produced by SignTransfer. Resending one
// that already landed succeeds.
func (s *SolanaClient) SendSigned(ctx context.Context, payload string) error {
	tx, _, err := decodeSignedTransfer(payload)
	if err != nil {
		return err
	}
	_, err = s.rpcClient.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		SkipPreflight:       false,
		PreflightCommitment: rpc.CommitmentConfirmed,
	})
	if err != nil {
		if strings.Contains(err.Error(), "already been processed") {
			return nil
		}
		return fmt.Errorf("failed to send transaction: %w", err)
	}
	return nil
}

// TransferStatus reports whether a signed transfer landed, can still land, or
// expired without landing.
func (s *SolanaClient) TransferStatus(ctx context.Context, signature string, payload string) (models.RailTransferStatus, error) {
	_, lastValid, err := decodeSignedTransfer(payload)
	if err != nil {
		return "", err
	}
	sig, err := solana.SignatureFromBase58(signature)
	if err != nil {
		return "", fmt.Errorf("invalid signature: %w", err)
	}

	// Height is read first: past lastValid the transfer can never land, so a
	// signature still unknown after that is final.
	height, err := s.rpcClient.GetBlockHeight(ctx, rpc.CommitmentConfirmed)
	if err != nil {
		return "", fmt.Errorf("failed to get block height: %w", err)
	}
	status, err := s.rpcClient.GetSignatureStatuses(ctx, true, sig)
	if err != nil {
		return "", fmt.Errorf("failed to get signature status: %w", err)
	}

	if len(status.Value) > 0 && status.Value[0] != nil {
		result := status.Value[0]
		if result.Err != nil {
			// Executed and failed: the signature is spent, nothing moved.
			s.logger.Warn("settlement transfer failed on chain",
				zap.String("signature", signature),
				zap.Any("error", result.Err),
			)
			return models.RailTransferExpired, nil
		}
		if result.ConfirmationStatus == rpc.ConfirmationStatusConfirmed ||
			result.ConfirmationStatus == rpc.ConfirmationStatusFinalized {
			return models.RailTransferLanded, nil
		}
		return models.RailTransferPending, nil
	}
	if height > lastValid {
		return models.RailTransferExpired, nil
	}
	return models.RailTransferPending, nil
}

func decodeSignedTransfer(payload string) (*solana.Transaction, uint64, error) {
	var stored signedTransfer
	if err := json.Unmarshal([]byte(payload), &stored); err != nil {
		return nil, 0, fmt.Errorf("invalid transfer payload: %w", err)
	}
	raw, err := base64.StdEncoding.DecodeString(stored.Tx)
	if err != nil {
		return nil, 0, fmt.Errorf("invalid transfer payload: %w", err)
	}
	tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(raw))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to decode transfer: %w", err)
	}
	return tx, stored.LastValidBlockHeight, nil
}

// VerifyTransfer checks that a signature is confirmed and reports how many
// lamports it credited to the escrow authority. Returns nil details while the
// transaction is unknown or unconfirmed.
func (s *SolanaClient) VerifyTransfer(ctx context.Context, signature string) (*TransferDetails, error) {
	if s.escrowWallet == nil {
		return nil, ErrNoEscrowWallet
	}
	sig, err := solana.SignatureFromBase58(signature)
	if err != nil {
		return nil, fmt.Errorf("invalid signature: %w", err)
	}

	status, err := s.rpcClient.GetSignatureStatuses(ctx, true, sig)
	if err != nil {
		return nil, fmt.Errorf("failed to get signature status: %w", err)
	}
	if len(status.Value) == 0 || status.Value[0] == nil {
		return nil, nil
	}
	if status.Value[0].Err != nil {
		return nil, fmt.Errorf("transaction execution failed: %v", status.Value[0].Err)
	}
	confStatus := status.Value[0].ConfirmationStatus
	if confStatus != rpc.ConfirmationStatusConfirmed && confStatus != rpc.ConfirmationStatusFinalized {
		return nil, nil
	}

	result, err := s.rpcClient.GetTransaction(ctx, sig, &rpc.GetTransactionOpts{
		Commitment: rpc.CommitmentConfirmed,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction details: %w", err)
	}
	if result == nil || result.Meta == nil || result.Transaction == nil {
		return nil, nil
	}

	transaction, err := result.Transaction.GetTransaction()
	if err != nil {
		return nil, fmt.Errorf("failed to decode transaction: %w", err)
	}

	details := &TransferDetails{Signature: signature, Confirmed: true}
	if len(transaction.Message.AccountKeys) > 0 {
		details.Sender = transaction.Message.AccountKeys[0].String()
	}

	authority := s.escrowWallet.PublicKey()
	for i, key := range transaction.Message.AccountKeys {
		if !key.Equals(authority) {
			continue
		}
		if i < len(result.Meta.PreBalances) && i < len(result.Meta.PostBalances) {
			pre, post := result.Meta.PreBalances[i], result.Meta.PostBalances[i]
			if post > pre {
				details.Received = post - pre
			}
		}
		break
	}
	return details, nil
}
