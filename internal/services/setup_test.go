package services

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"

	"bounty-escrow/internal/metrics"
	"bounty-escrow/internal/models"
	"bounty-escrow/internal/reputation"
	"bounty-escrow/internal/repository"
	"bounty-escrow/internal/testutil"
)

type testEnv struct {
	db         *gorm.DB
	repo       *repository.Repository
	clock      *clock.Mock
	rail       *testutil.Rail
	metrics    *metrics.Metrics
	agents     *AgentService
	listings   *ListingService
	reputation *ReputationService
	escrow     *EscrowService
	proposals  *ProposalService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db := testutil.NewDB(t)
	repo := repository.NewRepository(db)
	clk := testutil.NewClock()
	rail := testutil.NewRail()
	m := metrics.New(nil)
	logger := zaptest.NewLogger(t)

	notifier := NewNotifier(NewLogSink(zap.NewNop()), 100, logger, m)
	notifier.Start()
	t.Cleanup(notifier.Stop)

	engine := reputation.NewEngine(reputation.DefaultPolicy())
	reputationService := NewReputationService(repo, engine, clk, time.Hour, logger, m)
	escrow := NewEscrowService(repo, reputationService, rail, notifier, clk, 2*time.Minute, logger, m)

	return &testEnv{
		db:         db,
		repo:       repo,
		clock:      clk,
		rail:       rail,
		metrics:    m,
		agents:     NewAgentService(repo, clk, logger),
		listings:   NewListingService(repo, clk, logger),
		reputation: reputationService,
		escrow:     escrow,
		proposals:  NewProposalService(repo, escrow, notifier, clk, logger),
	}
}

func (e *testEnv) agent(t *testing.T, name string) *models.Agent {
	return testutil.CreateAgent(t, e.db, name)
}

func (e *testEnv) listing(t *testing.T, owner *models.Agent, listingType models.ListingType, competition bool, price int64) *models.Listing {
	t.Helper()
	listing, err := e.listings.Create(context.Background(), owner.ID, &models.CreateListingRequest{
		Title:           "Summarize 40 support tickets",
		Description:     "Weekly digest",
		Price:           price,
		ListingType:     listingType,
		CompetitionMode: competition,
	})
	require.NoError(t, err)
	return listing
}

// delivered runs a fixed listing through claim, funding and delivery
func (e *testEnv) delivered(t *testing.T, buyer, seller *models.Agent) *models.Transaction {
	t.Helper()
	ctx := context.Background()

	listing := e.listing(t, buyer, models.ListingTypeFixed, false, 2500)
	tx, err := e.escrow.Claim(ctx, listing.ID, seller.ID)
	require.NoError(t, err)

	e.clock.Add(time.Minute)
	tx, err = e.escrow.ConfirmFunding(ctx, tx.ID, buyer.ID, "sig-"+tx.ID.String())
	require.NoError(t, err)

	e.clock.Add(time.Minute)
	tx, err = e.escrow.Deliver(ctx, tx.ID, seller.ID, "s3://deliverables/digest.md")
	require.NoError(t, err)
	return tx
}

func (e *testEnv) seedHistory(t *testing.T, seller *models.Agent, state models.TransactionState, disputed bool, n int) {
	t.Helper()
	buyer := e.agent(t, "history-buyer")
	for i := 0; i < n; i++ {
		testutil.SeedOutcome(t, e.db, buyer.ID, seller.ID, state, disputed, 1000)
	}
}
