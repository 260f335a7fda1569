package testutil

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"bounty-escrow/internal/models"
)

// ErrRailDown is returned by Rail while failing is set
var ErrRailDown = errors.New("rail unavailable")

type railTransfer struct {
	op      models.SettlementOp
	txID    uuid.UUID
	landed  bool
	expired bool
}

// Rail is an in-memory funds rail. A prepared transfer lands on its first
// successful Send; repeated sends of the same transfer do not pay again.
type Rail struct {
	mu        sync.Mutex
	fail      bool
	seq       int
	transfers map[string]*railTransfer
}

func NewRail() *Rail {
	return &Rail{transfers: make(map[string]*railTransfer)}
}

// SetFailing makes every following call fail until reset
func (r *Rail) SetFailing(fail bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fail = fail
}

// Expire marks a transfer that has not landed as never able to land
func (r *Rail) Expire(ref string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if tr, ok := r.transfers[ref]; ok && !tr.landed {
		tr.expired = true
	}
}

func (r *Rail) Prepare(_ context.Context, op models.SettlementOp, txID uuid.UUID, _ string, amount int64) (*models.RailTransfer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return nil, ErrRailDown
	}
	if amount <= 0 {
		return nil, fmt.Errorf("invalid %s amount %d", op, amount)
	}
	r.seq++
	ref := fmt.Sprintf("%s-%s-%d", op, txID, r.seq)
	r.transfers[ref] = &railTransfer{op: op, txID: txID}
	return &models.RailTransfer{Op: op, Ref: ref, Payload: txID.String()}, nil
}

func (r *Rail) Send(_ context.Context, transfer models.RailTransfer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return ErrRailDown
	}
	tr, ok := r.transfers[transfer.Ref]
	if !ok {
		return fmt.Errorf("unknown transfer %s", transfer.Ref)
	}
	if tr.expired {
		return fmt.Errorf("transfer %s expired", transfer.Ref)
	}
	tr.landed = true
	return nil
}

func (r *Rail) TransferStatus(_ context.Context, transfer models.RailTransfer) (models.RailTransferStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return "", ErrRailDown
	}
	tr, ok := r.transfers[transfer.Ref]
	switch {
	case !ok, tr.expired:
		return models.RailTransferExpired, nil
	case tr.landed:
		return models.RailTransferLanded, nil
	default:
		return models.RailTransferPending, nil
	}
}

// Releases returns how many release transfers landed for txID
func (r *Rail) Releases(txID uuid.UUID) int {
	return r.landed(txID, models.SettlementRelease)
}

// Refunds returns how many refund transfers landed for txID
func (r *Rail) Refunds(txID uuid.UUID) int {
	return r.landed(txID, models.SettlementRefund)
}

func (r *Rail) landed(txID uuid.UUID, op models.SettlementOp) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, tr := range r.transfers {
		if tr.txID == txID && tr.op == op && tr.landed {
			n++
		}
	}
	return n
}
