package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"

	"bounty-escrow/internal/config"
	"bounty-escrow/internal/metrics"
	"bounty-escrow/internal/models"
	"bounty-escrow/internal/reputation"
	"bounty-escrow/internal/repository"
	"bounty-escrow/internal/services"
	"bounty-escrow/internal/testutil"
)

type jobEnv struct {
	repo       *repository.Repository
	clock      *clock.Mock
	rail       *testutil.Rail
	listings   *services.ListingService
	escrow     *services.EscrowService
	reputation *services.ReputationService
	sweeper    *DisputeWindowSweeper
	db         *gorm.DB
}

func newJobEnv(t *testing.T) *jobEnv {
	t.Helper()

	db := testutil.NewDB(t)
	repo := repository.NewRepository(db)
	clk := testutil.NewClock()
	rail := testutil.NewRail()
	m := metrics.New(nil)
	logger := zaptest.NewLogger(t)

	notifier := services.NewNotifier(services.NewLogSink(zap.NewNop()), 100, logger, m)
	notifier.Start()
	t.Cleanup(notifier.Stop)

	engine := reputation.NewEngine(reputation.DefaultPolicy())
	rep := services.NewReputationService(repo, engine, clk, time.Hour, logger, m)
	escrow := services.NewEscrowService(repo, rep, rail, notifier, clk, 2*time.Minute, logger, m)

	sweeper := NewDisputeWindowSweeper(escrow, clk, config.EscrowConfig{
		SweepInterval:    time.Minute,
		SweepBatchSize:   10,
		SweepConcurrency: 2,
	}, logger, m)

	return &jobEnv{
		repo:       repo,
		clock:      clk,
		rail:       rail,
		listings:   services.NewListingService(repo, clk, logger),
		escrow:     escrow,
		reputation: rep,
		sweeper:    sweeper,
		db:         db,
	}
}

// delivered returns a delivered transaction from a NEW seller (72h window)
func (e *jobEnv) delivered(t *testing.T) *models.Transaction {
	t.Helper()
	ctx := context.Background()

	buyer := testutil.CreateAgent(t, e.db, "buyer")
	seller := testutil.CreateAgent(t, e.db, "seller")

	listing, err := e.listings.Create(ctx, buyer.ID, &models.CreateListingRequest{
		Title:       "Label 500 images",
		Price:       1200,
		ListingType: models.ListingTypeBounty,
	})
	require.NoError(t, err)

	tx, err := e.escrow.Claim(ctx, listing.ID, seller.ID)
	require.NoError(t, err)
	require.Equal(t, models.TransactionStateFunded, tx.State)

	e.clock.Add(time.Minute)
	tx, err = e.escrow.Deliver(ctx, tx.ID, seller.ID, "ipfs://labels")
	require.NoError(t, err)
	return tx
}

func (e *jobEnv) state(t *testing.T, tx *models.Transaction) models.TransactionState {
	t.Helper()
	got, err := e.repo.GetTransactionByID(context.Background(), tx.ID)
	require.NoError(t, err)
	return got.State
}

func TestSweepOnce_ReleasesOnlyExpiredWindows(t *testing.T) {
	env := newJobEnv(t)
	ctx := context.Background()

	early := env.delivered(t)
	env.clock.Add(71 * time.Hour)
	late := env.delivered(t)

	result, err := env.sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Candidates)

	env.clock.Add(time.Hour)
	result, err = env.sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepResult{Candidates: 1, Released: 1}, result)

	assert.Equal(t, models.TransactionStateReleased, env.state(t, early))
	assert.Equal(t, models.TransactionStateDelivered, env.state(t, late))
	assert.Equal(t, 1, env.rail.Releases(early.ID))
}

func TestSweepOnce_SkipsDisputed(t *testing.T) {
	env := newJobEnv(t)
	ctx := context.Background()

	tx := env.delivered(t)
	_, err := env.escrow.Dispute(ctx, tx.ID, tx.BuyerID, "labels are off by one")
	require.NoError(t, err)

	env.clock.Add(73 * time.Hour)
	result, err := env.sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Candidates)
	assert.Equal(t, models.TransactionStateDisputed, env.state(t, tx))
	assert.Zero(t, env.rail.Releases(tx.ID))
}

func TestSweepOnce_RailFailureRetriedNextSweep(t *testing.T) {
	env := newJobEnv(t)
	ctx := context.Background()

	tx := env.delivered(t)
	env.clock.Add(73 * time.Hour)

	env.rail.SetFailing(true)
	result, err := env.sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepResult{Candidates: 1, Failed: 1}, result)
	assert.Equal(t, models.TransactionStateDelivered, env.state(t, tx))

	env.rail.SetFailing(false)
	env.clock.Add(time.Minute)
	result, err = env.sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Released)
	assert.Equal(t, models.TransactionStateReleased, env.state(t, tx))
	assert.Equal(t, 1, env.rail.Releases(tx.ID))
}

func TestDisputeWindowSweeper_StartStop(t *testing.T) {
	env := newJobEnv(t)

	tx := env.delivered(t)
	env.clock.Add(72 * time.Hour)

	env.sweeper.Start()
	defer env.sweeper.Stop()

	env.clock.Add(time.Minute)
	require.Eventually(t, func() bool {
		return env.state(t, tx) == models.TransactionStateReleased
	}, 5*time.Second, 10*time.Millisecond)

	env.sweeper.Stop()
	env.sweeper.Stop()
}

func TestReputationRefreshJob_RunOnce(t *testing.T) {
	env := newJobEnv(t)
	ctx := context.Background()

	seller := testutil.CreateAgent(t, env.db, "seller")
	require.NoError(t, env.repo.InvalidateReputation(ctx, env.clock.Now(), seller.ID))

	job := NewReputationRefreshJob(env.reputation, env.clock, 10*time.Minute, 50, zaptest.NewLogger(t))
	n, err := job.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	entry, err := env.repo.GetReputationCache(ctx, seller.ID)
	require.NoError(t, err)
	assert.False(t, entry.Stale)

	n, err = job.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}
