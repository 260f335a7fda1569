package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bounty-escrow/internal/models"
	"bounty-escrow/internal/reputation"
	"bounty-escrow/internal/testutil"
)

func TestClaim_ConcurrentClaimsOneWins(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	owner := env.agent(t, "owner")
	listing := env.listing(t, owner, models.ListingTypeFixed, false, 5000)

	const claimers = 8
	sellers := make([]*models.Agent, claimers)
	for i := range sellers {
		sellers[i] = env.agent(t, "seller")
	}

	var wg sync.WaitGroup
	errs := make([]error, claimers)
	for i := range sellers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = env.escrow.Claim(ctx, listing.ID, sellers[i].ID)
		}(i)
	}
	wg.Wait()

	var winner *models.Agent
	conflicts := 0
	for i, err := range errs {
		switch {
		case err == nil:
			require.Nil(t, winner, "more than one claim succeeded")
			winner = sellers[i]
		case errors.Is(err, ErrConflict):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	require.NotNil(t, winner)
	assert.Equal(t, claimers-1, conflicts)

	got, err := env.listings.Get(ctx, listing.ID)
	require.NoError(t, err)
	require.NotNil(t, got.AssignedAgentID)
	assert.Equal(t, winner.ID, *got.AssignedAgentID)

	var count int64
	require.NoError(t, env.db.Model(&models.Transaction{}).Where("listing_id = ?", listing.ID).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestClaim_InitialState(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	owner := env.agent(t, "owner")
	seller := env.agent(t, "seller")

	fixed := env.listing(t, owner, models.ListingTypeFixed, false, 1200)
	tx, err := env.escrow.Claim(ctx, fixed.ID, seller.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TransactionStatePending, tx.State)
	assert.Nil(t, tx.FundedAt)
	assert.Equal(t, owner.ID, tx.BuyerID)
	assert.Equal(t, seller.ID, tx.SellerID)
	assert.Equal(t, int64(1200), tx.Amount)
	assert.Equal(t, 72, tx.DisputeWindowHours, "new sellers get the widest window")

	bounty := env.listing(t, owner, models.ListingTypeBounty, false, 800)
	tx, err = env.escrow.Claim(ctx, bounty.ID, seller.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TransactionStateFunded, tx.State)
	assert.NotNil(t, tx.FundedAt)
}

func TestClaim_Rejections(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	owner := env.agent(t, "owner")
	seller := env.agent(t, "seller")

	listing := env.listing(t, owner, models.ListingTypeFixed, false, 1000)
	_, err := env.escrow.Claim(ctx, listing.ID, owner.ID)
	assert.ErrorIs(t, err, ErrUnauthorized)

	competition := env.listing(t, owner, models.ListingTypeFixed, true, 1000)
	_, err = env.escrow.Claim(ctx, competition.ID, seller.ID)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = env.escrow.Claim(ctx, uuid.New(), seller.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = env.listings.Close(ctx, listing.ID, owner.ID)
	require.NoError(t, err)
	_, err = env.escrow.Claim(ctx, listing.ID, seller.ID)
	assert.ErrorIs(t, err, ErrConflict)
}

func TestEscrow_BuyerReleaseLifecycle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	buyer := env.agent(t, "buyer")
	seller := env.agent(t, "seller")

	tx := env.delivered(t, buyer, seller)
	require.Equal(t, models.TransactionStateDelivered, tx.State)
	require.NotNil(t, tx.DeliveredAt)
	require.NotNil(t, tx.DisputeDeadline)
	assert.True(t, tx.DisputeDeadline.Equal(tx.DeliveredAt.Add(72*time.Hour)))

	_, err := env.escrow.Release(ctx, tx.ID, seller.ID)
	assert.ErrorIs(t, err, ErrUnauthorized)

	env.clock.Add(time.Hour)
	released, err := env.escrow.Release(ctx, tx.ID, buyer.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TransactionStateReleased, released.State)
	require.NotNil(t, released.CompletedAt)
	require.NotNil(t, released.SettlementRef)
	assert.Contains(t, *released.SettlementRef, "release-"+tx.ID.String())
	require.NotNil(t, released.SettlementOp)
	assert.Equal(t, models.SettlementRelease, *released.SettlementOp)
	assert.Nil(t, released.SettlementPayload)
	assert.Nil(t, released.SettlingUntil)
	assert.Equal(t, 1, env.rail.Releases(tx.ID))

	listing, err := env.listings.Get(ctx, tx.ListingID)
	require.NoError(t, err)
	assert.False(t, listing.IsActive)
	assert.NotNil(t, listing.ClosedAt)

	status, err := env.escrow.Status(ctx, tx.ID)
	require.NoError(t, err)
	assert.Nil(t, status.DisputeWindowRemaining)
	kinds := make([]models.TransitionKind, 0, len(status.Events))
	for _, ev := range status.Events {
		kinds = append(kinds, ev.Kind)
	}
	assert.Equal(t, []models.TransitionKind{
		models.TransitionClaim,
		models.TransitionFund,
		models.TransitionDeliver,
		models.TransitionBuyerRelease,
	}, kinds)
}

func TestConfirmFunding(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	buyer := env.agent(t, "buyer")
	seller := env.agent(t, "seller")

	listing := env.listing(t, buyer, models.ListingTypeFixed, false, 1000)
	tx, err := env.escrow.Claim(ctx, listing.ID, seller.ID)
	require.NoError(t, err)

	_, err = env.escrow.Deliver(ctx, tx.ID, seller.ID, "early")
	assert.ErrorIs(t, err, ErrConflict, "cannot deliver before funding")

	_, err = env.escrow.ConfirmFunding(ctx, tx.ID, seller.ID, "sig")
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = env.escrow.ConfirmFunding(ctx, tx.ID, buyer.ID, "  ")
	assert.ErrorIs(t, err, ErrValidation)

	funded, err := env.escrow.ConfirmFunding(ctx, tx.ID, buyer.ID, "sig-1")
	require.NoError(t, err)
	assert.Equal(t, models.TransactionStateFunded, funded.State)
	require.NotNil(t, funded.FundingRef)
	assert.Equal(t, "sig-1", *funded.FundingRef)

	again, err := env.escrow.ConfirmFunding(ctx, tx.ID, buyer.ID, "sig-2")
	require.NoError(t, err)
	assert.Equal(t, "sig-1", *again.FundingRef)
}

type rejectingVerifierRail struct {
	*testutil.Rail
}

func (rejectingVerifierRail) VerifyFunding(context.Context, string, string, int64) (bool, error) {
	return false, nil
}

// senderVerifierRail confirms only transfers sent from one wallet
type senderVerifierRail struct {
	*testutil.Rail
	sender string
}

func (r senderVerifierRail) VerifyFunding(_ context.Context, _ string, buyerAccount string, _ int64) (bool, error) {
	return buyerAccount == r.sender, nil
}

func TestConfirmFunding_RefUsedOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	buyer := env.agent(t, "buyer")

	first, err := env.escrow.Claim(ctx, env.listing(t, buyer, models.ListingTypeFixed, false, 1000).ID, env.agent(t, "seller-a").ID)
	require.NoError(t, err)
	second, err := env.escrow.Claim(ctx, env.listing(t, buyer, models.ListingTypeFixed, false, 1000).ID, env.agent(t, "seller-b").ID)
	require.NoError(t, err)

	_, err = env.escrow.ConfirmFunding(ctx, first.ID, buyer.ID, "same-signature")
	require.NoError(t, err)
	_, err = env.escrow.ConfirmFunding(ctx, second.ID, buyer.ID, "same-signature")
	assert.ErrorIs(t, err, ErrConflict)

	got, err := env.repo.GetTransactionByID(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TransactionStatePending, got.State)
	assert.Nil(t, got.FundingRef)

	funded, err := env.escrow.ConfirmFunding(ctx, second.ID, buyer.ID, "other-signature")
	require.NoError(t, err)
	assert.Equal(t, models.TransactionStateFunded, funded.State)
}

func TestConfirmFunding_ChecksBuyerWallet(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	buyer := env.agent(t, "buyer")
	stranger := env.agent(t, "stranger")
	escrow := NewEscrowService(env.repo, env.reputation, senderVerifierRail{env.rail, stranger.WalletAddress}, nil,
		env.clock, time.Minute, env.escrow.logger, env.metrics)

	listing := env.listing(t, buyer, models.ListingTypeFixed, false, 1000)
	tx, err := escrow.Claim(ctx, listing.ID, env.agent(t, "seller").ID)
	require.NoError(t, err)

	_, err = escrow.ConfirmFunding(ctx, tx.ID, buyer.ID, "paid-by-stranger")
	assert.ErrorIs(t, err, ErrValidation)

	escrow = NewEscrowService(env.repo, env.reputation, senderVerifierRail{env.rail, buyer.WalletAddress}, nil,
		env.clock, time.Minute, env.escrow.logger, env.metrics)
	funded, err := escrow.ConfirmFunding(ctx, tx.ID, buyer.ID, "paid-by-buyer")
	require.NoError(t, err)
	assert.Equal(t, models.TransactionStateFunded, funded.State)
}

func TestConfirmFunding_VerifierRejects(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	escrow := NewEscrowService(env.repo, env.reputation, rejectingVerifierRail{env.rail}, nil,
		env.clock, time.Minute, env.escrow.logger, env.metrics)

	buyer := env.agent(t, "buyer")
	seller := env.agent(t, "seller")
	listing := env.listing(t, buyer, models.ListingTypeFixed, false, 1000)
	tx, err := escrow.Claim(ctx, listing.ID, seller.ID)
	require.NoError(t, err)

	_, err = escrow.ConfirmFunding(ctx, tx.ID, buyer.ID, "forged")
	assert.ErrorIs(t, err, ErrValidation)

	got, err := env.repo.GetTransactionByID(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TransactionStatePending, got.State)
}

func TestRelease_TwiceCallsRailOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	buyer := env.agent(t, "buyer")
	seller := env.agent(t, "seller")

	t.Run("buyer then sweep", func(t *testing.T) {
		tx := env.delivered(t, buyer, seller)
		_, err := env.escrow.Release(ctx, tx.ID, buyer.ID)
		require.NoError(t, err)

		env.clock.Add(73 * time.Hour)
		got, err := env.escrow.AutoRelease(ctx, tx.ID)
		require.NoError(t, err)
		assert.Equal(t, models.TransactionStateReleased, got.State)
		assert.Equal(t, 1, env.rail.Releases(tx.ID))
	})

	t.Run("sweep then buyer", func(t *testing.T) {
		tx := env.delivered(t, buyer, seller)
		env.clock.Add(73 * time.Hour)
		_, err := env.escrow.AutoRelease(ctx, tx.ID)
		require.NoError(t, err)

		got, err := env.escrow.Release(ctx, tx.ID, buyer.ID)
		require.NoError(t, err)
		assert.Equal(t, models.TransactionStateReleased, got.State)
		assert.Equal(t, 1, env.rail.Releases(tx.ID))
	})
}

func TestRelease_ConcurrentBuyerAndSweep(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	buyer := env.agent(t, "buyer")
	seller := env.agent(t, "seller")

	tx := env.delivered(t, buyer, seller)
	env.clock.Add(73 * time.Hour)

	var wg sync.WaitGroup
	errs := make([]error, 6)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				_, errs[i] = env.escrow.Release(ctx, tx.ID, buyer.ID)
			} else {
				_, errs[i] = env.escrow.AutoRelease(ctx, tx.ID)
			}
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			assert.ErrorIs(t, err, ErrConflict)
		}
	}
	got, err := env.repo.GetTransactionByID(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TransactionStateReleased, got.State)
	assert.Equal(t, 1, env.rail.Releases(tx.ID))
}

func TestAutoRelease_RespectsTrustedWindow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	buyer := env.agent(t, "buyer")
	seller := env.agent(t, "seller")
	env.seedHistory(t, seller, models.TransactionStateReleased, false, 10)

	rep, err := env.reputation.Score(ctx, seller.ID)
	require.NoError(t, err)
	require.Equal(t, reputation.TierTrusted, rep.Tier)

	tx := env.delivered(t, buyer, seller)
	require.Equal(t, 12, tx.DisputeWindowHours)
	deliveredAt := *tx.DeliveredAt

	env.clock.Set(deliveredAt.Add(11*time.Hour + 59*time.Minute))
	candidates, err := env.escrow.AutoReleaseCandidates(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, candidates)
	_, err = env.escrow.AutoRelease(ctx, tx.ID)
	assert.ErrorIs(t, err, ErrConflict)

	status, err := env.escrow.Status(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TransactionStateDelivered, status.Transaction.State)
	require.NotNil(t, status.DisputeWindowRemaining)
	assert.Equal(t, int64(1), *status.DisputeWindowRemaining)

	env.clock.Set(deliveredAt.Add(12*time.Hour + time.Second))
	candidates, err = env.escrow.AutoReleaseCandidates(ctx, 10)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, tx.ID, candidates[0].ID)

	released, err := env.escrow.AutoRelease(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TransactionStateReleased, released.State)

	events, err := env.repo.ListTransactionEvents(ctx, tx.ID)
	require.NoError(t, err)
	last := events[len(events)-1]
	assert.Equal(t, models.TransitionAutoRelease, last.Kind)
	assert.Nil(t, last.ActorID)
}

func TestDisputeWindow_FrozenAtClaim(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	buyer := env.agent(t, "buyer")
	seller := env.agent(t, "seller")
	env.seedHistory(t, seller, models.TransactionStateReleased, false, 6)

	rep, err := env.reputation.Score(ctx, seller.ID)
	require.NoError(t, err)
	require.Equal(t, reputation.TierReliable, rep.Tier)

	listing := env.listing(t, buyer, models.ListingTypeBounty, false, 3000)
	tx, err := env.escrow.Claim(ctx, listing.ID, seller.ID)
	require.NoError(t, err)
	require.Equal(t, 24, tx.DisputeWindowHours)

	env.seedHistory(t, seller, models.TransactionStateRefunded, true, 3)
	require.NoError(t, env.repo.InvalidateReputation(ctx, env.clock.Now(), seller.ID))

	rep, err = env.reputation.Score(ctx, seller.ID)
	require.NoError(t, err)
	require.Equal(t, reputation.TierCaution, rep.Tier)

	env.clock.Add(time.Hour)
	delivered, err := env.escrow.Deliver(ctx, tx.ID, seller.ID, "done")
	require.NoError(t, err)
	assert.Equal(t, 24, delivered.DisputeWindowHours)
	assert.True(t, delivered.DisputeDeadline.Equal(delivered.DeliveredAt.Add(24*time.Hour)))
}

func TestDispute(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	buyer := env.agent(t, "buyer")
	seller := env.agent(t, "seller")

	t.Run("after deadline rejected", func(t *testing.T) {
		tx := env.delivered(t, buyer, seller)
		env.clock.Set(tx.DisputeDeadline.Add(time.Minute))

		_, err := env.escrow.Dispute(ctx, tx.ID, buyer.ID, "wrong format")
		assert.ErrorIs(t, err, ErrConflict)

		got, err := env.repo.GetTransactionByID(ctx, tx.ID)
		require.NoError(t, err)
		assert.Equal(t, models.TransactionStateDelivered, got.State)
		assert.False(t, got.Disputed)
	})

	t.Run("inside window then arbitration refund", func(t *testing.T) {
		tx := env.delivered(t, buyer, seller)

		_, err := env.escrow.Dispute(ctx, tx.ID, buyer.ID, "   ")
		assert.ErrorIs(t, err, ErrValidation)
		_, err = env.escrow.Dispute(ctx, tx.ID, seller.ID, "not mine")
		assert.ErrorIs(t, err, ErrUnauthorized)

		disputed, err := env.escrow.Dispute(ctx, tx.ID, buyer.ID, "deliverable is empty")
		require.NoError(t, err)
		assert.Equal(t, models.TransactionStateDisputed, disputed.State)
		assert.True(t, disputed.Disputed)
		require.NotNil(t, disputed.DisputeReason)

		_, err = env.escrow.Release(ctx, tx.ID, buyer.ID)
		assert.ErrorIs(t, err, ErrConflict)
		env.clock.Set(tx.DisputeDeadline.Add(time.Hour))
		_, err = env.escrow.AutoRelease(ctx, tx.ID)
		assert.ErrorIs(t, err, ErrConflict)

		arbiter := env.agent(t, "arbiter")
		_, err = env.escrow.ResolveDispute(ctx, tx.ID, arbiter.ID, &models.ResolveDisputeRequest{Outcome: models.TransactionStateDelivered})
		assert.ErrorIs(t, err, ErrValidation)

		refunded, err := env.escrow.ResolveDispute(ctx, tx.ID, arbiter.ID, &models.ResolveDisputeRequest{
			Outcome: models.TransactionStateRefunded,
			Note:    "nothing delivered",
		})
		require.NoError(t, err)
		assert.Equal(t, models.TransactionStateRefunded, refunded.State)
		assert.NotNil(t, refunded.CompletedAt)
		assert.Equal(t, 1, env.rail.Refunds(tx.ID))
		assert.Equal(t, 0, env.rail.Releases(tx.ID))

		listing, err := env.listings.Get(ctx, tx.ListingID)
		require.NoError(t, err)
		assert.NotNil(t, listing.ClosedAt)

		_, err = env.escrow.ResolveDispute(ctx, tx.ID, arbiter.ID, &models.ResolveDisputeRequest{Outcome: models.TransactionStateReleased})
		assert.ErrorIs(t, err, ErrConflict)
	})
}

func TestRailFailure_LeavesTransactionDelivered(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	buyer := env.agent(t, "buyer")
	seller := env.agent(t, "seller")

	tx := env.delivered(t, buyer, seller)
	env.clock.Set(tx.DisputeDeadline.Add(time.Second))

	env.rail.SetFailing(true)
	_, err := env.escrow.AutoRelease(ctx, tx.ID)
	require.ErrorIs(t, err, ErrRailFailure)

	got, err := env.repo.GetTransactionByID(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TransactionStateDelivered, got.State)
	assert.Nil(t, got.CompletedAt)
	assert.Nil(t, got.SettlingUntil, "lease is cleared after a rail failure")

	env.rail.SetFailing(false)
	released, err := env.escrow.AutoRelease(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TransactionStateReleased, released.State)
	assert.Equal(t, 1, env.rail.Releases(tx.ID))
}

func TestSettlement_LiveLeaseConflicts(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	buyer := env.agent(t, "buyer")
	seller := env.agent(t, "seller")

	tx := env.delivered(t, buyer, seller)
	now := env.clock.Now()
	ok, err := env.repo.AcquireSettlementLease(ctx, tx.ID, models.TransactionStateDelivered, uuid.New(), now, now.Add(2*time.Minute))
	require.NoError(t, err)
	require.True(t, ok)

	_, err = env.escrow.Release(ctx, tx.ID, buyer.ID)
	assert.ErrorIs(t, err, ErrConflict)
	_, err = env.escrow.Dispute(ctx, tx.ID, buyer.ID, "late")
	assert.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, 0, env.rail.Releases(tx.ID))

	// An abandoned lease can be taken over once it expires.
	env.clock.Add(3 * time.Minute)
	released, err := env.escrow.Release(ctx, tx.ID, buyer.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TransactionStateReleased, released.State)
}

// abandonSettlement leaves a transfer recorded under a lease, as a process that
// died mid-settlement would, and lets the lease expire.
func (e *testEnv) abandonSettlement(t *testing.T, tx *models.Transaction, op models.SettlementOp, send bool) *models.RailTransfer {
	t.Helper()
	ctx := context.Background()
	token := uuid.New()
	now := e.clock.Now()

	ok, err := e.repo.AcquireSettlementLease(ctx, tx.ID, tx.State, token, now, now.Add(2*time.Minute))
	require.NoError(t, err)
	require.True(t, ok)

	transfer, err := e.rail.Prepare(ctx, op, tx.ID, "payee", tx.Amount)
	require.NoError(t, err)
	ok, err = e.repo.RecordSettlementTransfer(ctx, tx.ID, token, transfer, now)
	require.NoError(t, err)
	require.True(t, ok)
	if send {
		require.NoError(t, e.rail.Send(ctx, *transfer))
	}

	e.clock.Add(3 * time.Minute)
	return transfer
}

func TestSettlement_LandedTransferIsNotPaidTwice(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	buyer := env.agent(t, "buyer")
	seller := env.agent(t, "seller")

	tx := env.delivered(t, buyer, seller)
	env.clock.Set(tx.DisputeDeadline.Add(time.Second))
	sent := env.abandonSettlement(t, tx, models.SettlementRelease, true)

	candidates, err := env.escrow.AutoReleaseCandidates(ctx, 10)
	require.NoError(t, err)
	require.Len(t, candidates, 1)

	released, err := env.escrow.AutoRelease(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TransactionStateReleased, released.State)
	require.NotNil(t, released.SettlementRef)
	assert.Equal(t, sent.Ref, *released.SettlementRef)
	assert.Equal(t, 1, env.rail.Releases(tx.ID))
}

func TestSettlement_UnsentTransferIsResent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	buyer := env.agent(t, "buyer")
	seller := env.agent(t, "seller")

	tx := env.delivered(t, buyer, seller)
	recorded := env.abandonSettlement(t, tx, models.SettlementRelease, false)

	released, err := env.escrow.Release(ctx, tx.ID, buyer.ID)
	require.NoError(t, err)
	assert.Equal(t, recorded.Ref, *released.SettlementRef)
	assert.Equal(t, 1, env.rail.Releases(tx.ID))
}

func TestSettlement_ExpiredTransferIsReplaced(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	buyer := env.agent(t, "buyer")
	seller := env.agent(t, "seller")

	tx := env.delivered(t, buyer, seller)
	stale := env.abandonSettlement(t, tx, models.SettlementRelease, false)
	env.rail.Expire(stale.Ref)

	released, err := env.escrow.Release(ctx, tx.ID, buyer.ID)
	require.NoError(t, err)
	assert.NotEqual(t, stale.Ref, *released.SettlementRef)
	assert.Equal(t, 1, env.rail.Releases(tx.ID))
}

func TestResolveDispute_EarlierTransferDecides(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	buyer := env.agent(t, "buyer")
	seller := env.agent(t, "seller")
	arbiter := env.agent(t, "arbiter")

	t.Run("pending transfer blocks the other direction", func(t *testing.T) {
		tx := env.delivered(t, buyer, seller)
		tx, err := env.escrow.Dispute(ctx, tx.ID, buyer.ID, "incomplete")
		require.NoError(t, err)
		env.abandonSettlement(t, tx, models.SettlementRelease, false)

		_, err = env.escrow.ResolveDispute(ctx, tx.ID, arbiter.ID, &models.ResolveDisputeRequest{Outcome: models.TransactionStateRefunded})
		assert.ErrorIs(t, err, ErrConflict)
		assert.Equal(t, 0, env.rail.Refunds(tx.ID))

		got, err := env.repo.GetTransactionByID(ctx, tx.ID)
		require.NoError(t, err)
		assert.Equal(t, models.TransactionStateDisputed, got.State)
		assert.Nil(t, got.SettlingUntil)
	})

	t.Run("landed transfer is recorded as it happened", func(t *testing.T) {
		tx := env.delivered(t, buyer, seller)
		tx, err := env.escrow.Dispute(ctx, tx.ID, buyer.ID, "incomplete")
		require.NoError(t, err)
		env.abandonSettlement(t, tx, models.SettlementRelease, true)

		got, err := env.escrow.ResolveDispute(ctx, tx.ID, arbiter.ID, &models.ResolveDisputeRequest{Outcome: models.TransactionStateRefunded})
		require.NoError(t, err)
		assert.Equal(t, models.TransactionStateReleased, got.State)
		assert.Equal(t, 1, env.rail.Releases(tx.ID))
		assert.Equal(t, 0, env.rail.Refunds(tx.ID))

		status, err := env.escrow.Status(ctx, tx.ID)
		require.NoError(t, err)
		last := status.Events[len(status.Events)-1]
		assert.Equal(t, models.TransitionArbitrationRelease, last.Kind)
	})
}

func TestRelease_InvalidatesBothParties(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	buyer := env.agent(t, "buyer")
	seller := env.agent(t, "seller")

	tx := env.delivered(t, buyer, seller)

	before := map[uuid.UUID]int64{}
	for _, id := range []uuid.UUID{buyer.ID, seller.ID} {
		rep, err := env.reputation.Score(ctx, id)
		require.NoError(t, err)
		before[id] = rep.Released
	}

	_, err := env.escrow.Release(ctx, tx.ID, buyer.ID)
	require.NoError(t, err)

	for _, id := range []uuid.UUID{buyer.ID, seller.ID} {
		entry, err := env.repo.GetReputationCache(ctx, id)
		require.NoError(t, err)
		assert.True(t, entry.Stale)

		rep, err := env.reputation.Score(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, before[id]+1, rep.Released)
		assert.False(t, rep.Stale)
	}
}

func TestRemainingMinutes(t *testing.T) {
	deadline := testutil.Epoch.Add(time.Hour)
	assert.Equal(t, int64(60), RemainingMinutes(deadline, testutil.Epoch))
	assert.Equal(t, int64(1), RemainingMinutes(deadline, deadline.Add(-time.Second)))
	assert.Equal(t, int64(0), RemainingMinutes(deadline, deadline))
	assert.Equal(t, int64(0), RemainingMinutes(deadline, deadline.Add(time.Hour)))
}
