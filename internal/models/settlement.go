package models

// SettlementOp is the direction of a settlement transfer
type SettlementOp string

const (
	SettlementRelease SettlementOp = "release"
	SettlementRefund  SettlementOp = "refund"
)

// SettlementOpFor returns the transfer direction that ends in state
func SettlementOpFor(state TransactionState) SettlementOp {
	if state == TransactionStateRefunded {
		return SettlementRefund
	}
	return SettlementRelease
}

// RailTransfer is a settlement transfer prepared on the funds rail. Ref is
// known before anything is sent, so it is recorded on the transaction first.
// Payload is opaque to everything but the rail that produced it.
type RailTransfer struct {
	Op      SettlementOp
	Ref     string
	Payload string
}

// RailTransferStatus is what became of a recorded transfer
type RailTransferStatus string

const (
	// RailTransferPending has not landed but still can
	RailTransferPending RailTransferStatus = "pending"
	RailTransferLanded  RailTransferStatus = "landed"
	// RailTransferExpired can never land; a new transfer is safe
	RailTransferExpired RailTransferStatus = "expired"
)
