package blockchain

import (
	"context"
	"time"

	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"
)

// Diagnostics holds the result of a funds rail connectivity check
type Diagnostics struct {
	Network          string `json:"network"`
	RPCURL           string `json:"rpc_url"`
	RPCConnected     bool   `json:"rpc_connected"`
	RPCError         string `json:"rpc_error,omitempty"`
	LatestBlockhash  string `json:"latest_blockhash,omitempty"`
	AuthorityKeySet  bool   `json:"authority_key_set"`
	AuthorityPubkey  string `json:"authority_pubkey,omitempty"`
	AuthorityBalance uint64 `json:"authority_balance_lamports"`
	BalanceError     string `json:"balance_error,omitempty"`
	CheckedAt        string `json:"checked_at"`
}

// RunDiagnostics checks RPC connectivity and the escrow authority's balance
func (s *SolanaClient) RunDiagnostics(ctx context.Context) *Diagnostics {
	result := &Diagnostics{
		Network:         s.network,
		RPCURL:          s.endpoint,
		AuthorityKeySet: s.escrowWallet != nil,
		CheckedAt:       time.Now().UTC().Format(time.RFC3339),
	}

	blockhash, err := s.rpcClient.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil {
		result.RPCError = err.Error()
		s.logger.Warn("rail diagnostics: rpc unreachable", zap.String("rpc_url", s.endpoint), zap.Error(err))
	} else {
		result.RPCConnected = true
		result.LatestBlockhash = blockhash.Value.Blockhash.String()
	}

	if s.escrowWallet == nil {
		return result
	}
	authority := s.escrowWallet.PublicKey()
	result.AuthorityPubkey = authority.String()
	if !result.RPCConnected {
		return result
	}

	balance, err := s.rpcClient.GetBalance(ctx, authority, rpc.CommitmentConfirmed)
	if err != nil {
		result.BalanceError = err.Error()
		return result
	}
	result.AuthorityBalance = balance.Value
	return result
}
