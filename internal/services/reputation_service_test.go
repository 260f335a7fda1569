package services

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bounty-escrow/internal/models"
	"bounty-escrow/internal/reputation"
	"bounty-escrow/internal/testutil"
)

func TestReputationScore_NewAgent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	agent := env.agent(t, "fresh")
	env.seedHistory(t, agent, models.TransactionStateReleased, false, 2)

	rep, err := env.reputation.Score(ctx, agent.ID)
	require.NoError(t, err)
	assert.Equal(t, reputation.TierNew, rep.Tier)
	assert.Equal(t, int64(2), rep.TransactionCount)
	assert.Equal(t, int64(2), rep.AsSeller)
	assert.InDelta(t, 5.0, rep.Score, 1e-9)
}

func TestReputationScore_UnknownAgent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	unknown := uuid.New()

	_, err := env.reputation.Score(ctx, unknown)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = env.reputation.Refresh(ctx, unknown)
	assert.ErrorIs(t, err, ErrNotFound)

	var cached int64
	require.NoError(t, env.db.Model(&models.ReputationCache{}).Count(&cached).Error)
	assert.Zero(t, cached)
}

func TestReputationScore_DerivedFromHistory(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	agent := env.agent(t, "worker")
	other := env.agent(t, "client")

	for i := 0; i < 5; i++ {
		testutil.SeedOutcome(t, env.db, other.ID, agent.ID, models.TransactionStateReleased, false, 5_000_000)
	}
	testutil.SeedOutcome(t, env.db, agent.ID, other.ID, models.TransactionStateReleased, true, 1000)
	testutil.SeedOutcome(t, env.db, agent.ID, other.ID, models.TransactionStateRefunded, true, 1000)
	// Live transactions carry no outcome yet.
	testutil.SeedOutcome(t, env.db, other.ID, agent.ID, models.TransactionStateFunded, false, 1000)

	rep, err := env.reputation.Score(ctx, agent.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(7), rep.TransactionCount)
	assert.Equal(t, int64(6), rep.Released)
	assert.Equal(t, int64(1), rep.Refunded)
	assert.Equal(t, int64(2), rep.Disputed)
	assert.Equal(t, int64(2), rep.AsBuyer)
	assert.Equal(t, int64(5), rep.AsSeller)
	assert.Equal(t, "250010", rep.VolumeUSD.String())
	assert.InDelta(t, 48.0, rep.AvgCompletionHours, 1e-9)

	// 5*6/7 - 2*2/7 + 0.25 + 0.25
	assert.InDelta(t, 30.0/7-4.0/7+0.5, rep.Score, 1e-9)
	assert.Equal(t, reputation.TierReliable, rep.Tier)
	assert.InDelta(t, 0.5, rep.Breakdown.VolumeBonus, 1e-9)
}

func TestReputationScore_CachedUntilInvalidated(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	agent := env.agent(t, "worker")

	_, err := env.reputation.Score(ctx, agent.ID)
	require.NoError(t, err)
	reads := promtest.ToFloat64(env.metrics.ReputationRecompute.WithLabelValues("read"))
	require.Equal(t, 1.0, reads)

	env.seedHistory(t, agent, models.TransactionStateReleased, false, 3)
	env.clock.Add(2 * time.Hour)

	rep, err := env.reputation.Score(ctx, agent.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), rep.TransactionCount, "aged entries are served from cache")
	assert.Equal(t, 1.0, promtest.ToFloat64(env.metrics.ReputationRecompute.WithLabelValues("read")))

	require.NoError(t, env.repo.InvalidateReputation(ctx, env.clock.Now(), agent.ID))
	rep, err = env.reputation.Score(ctx, agent.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), rep.TransactionCount)
	assert.Equal(t, reputation.TierStandard, rep.Tier)
}

func TestReputationStore_LosesToInvalidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	agent := env.agent(t, "worker")

	_, err := env.reputation.Score(ctx, agent.ID)
	require.NoError(t, err)
	entry, err := env.repo.GetReputationCache(ctx, agent.ID)
	require.NoError(t, err)
	readGeneration := entry.Generation

	require.NoError(t, env.repo.InvalidateReputation(ctx, env.clock.Now(), agent.ID))

	entry.Generation = readGeneration
	entry.Stale = false
	stored, err := env.repo.StoreReputation(ctx, entry)
	require.NoError(t, err)
	assert.False(t, stored)

	current, err := env.repo.GetReputationCache(ctx, agent.ID)
	require.NoError(t, err)
	assert.True(t, current.Stale)
	assert.Equal(t, readGeneration+1, current.Generation)
}

func TestInvalidateReputation_CreatesPlaceholder(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	agentID := uuid.New()

	require.NoError(t, env.repo.InvalidateReputation(ctx, env.clock.Now(), agentID))
	require.NoError(t, env.repo.InvalidateReputation(ctx, env.clock.Now(), agentID))

	entry, err := env.repo.GetReputationCache(ctx, agentID)
	require.NoError(t, err)
	assert.True(t, entry.Stale)
	assert.Equal(t, int64(2), entry.Generation)
	assert.Equal(t, string(reputation.TierNew), entry.Tier)
}

func TestRefreshAged(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	fresh := env.agent(t, "fresh")
	aged := env.agent(t, "aged")
	stale := env.agent(t, "stale")

	for _, a := range []*models.Agent{aged, stale} {
		_, err := env.reputation.Score(ctx, a.ID)
		require.NoError(t, err)
	}
	env.clock.Add(2 * time.Hour)
	_, err := env.reputation.Score(ctx, fresh.ID)
	require.NoError(t, err)
	require.NoError(t, env.repo.InvalidateReputation(ctx, env.clock.Now(), stale.ID))

	refreshed, err := env.reputation.RefreshAged(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, refreshed)
	assert.Equal(t, 2.0, promtest.ToFloat64(env.metrics.ReputationRecompute.WithLabelValues("background")))

	refreshed, err = env.reputation.RefreshAged(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, refreshed)
}

func TestSubmitFeedback(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	buyer := env.agent(t, "buyer")
	seller := env.agent(t, "seller")
	tx := env.delivered(t, buyer, seller)

	req := &models.FeedbackRequest{Rating: 4, Comment: "solid"}
	_, err := env.reputation.SubmitFeedback(ctx, tx.ID, buyer.ID, req)
	assert.ErrorIs(t, err, ErrConflict, "not released yet")

	_, err = env.escrow.Release(ctx, tx.ID, buyer.ID)
	require.NoError(t, err)

	_, err = env.reputation.SubmitFeedback(ctx, tx.ID, seller.ID, req)
	assert.ErrorIs(t, err, ErrUnauthorized)
	_, err = env.reputation.SubmitFeedback(ctx, tx.ID, buyer.ID, &models.FeedbackRequest{Rating: 6})
	assert.ErrorIs(t, err, ErrValidation)

	feedback, err := env.reputation.SubmitFeedback(ctx, tx.ID, buyer.ID, req)
	require.NoError(t, err)
	assert.Equal(t, seller.ID, feedback.SubjectID)

	_, err = env.reputation.SubmitFeedback(ctx, tx.ID, buyer.ID, req)
	assert.ErrorIs(t, err, ErrConflict)
}

func TestFeedbackScore(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	subject := env.agent(t, "seller")
	author := env.agent(t, "buyer")

	summary, err := env.reputation.FeedbackScore(ctx, subject.ID)
	require.NoError(t, err)
	assert.Nil(t, summary.Score)

	for i, rating := range []int{2, 5} {
		require.NoError(t, env.repo.CreateFeedback(ctx, &models.Feedback{
			ID:            uuid.New(),
			TransactionID: uuid.New(),
			AuthorID:      author.ID,
			SubjectID:     subject.ID,
			Rating:        rating,
			CreatedAt:     testutil.Epoch.Add(time.Duration(i) * time.Hour),
		}))
	}

	summary, err = env.reputation.FeedbackScore(ctx, subject.ID)
	require.NoError(t, err)
	require.NotNil(t, summary.Score)
	assert.Equal(t, 2, summary.Count)
	// weights 0.5 and 1.5: (1 + 7.5) / 2
	assert.InDelta(t, 4.25, *summary.Score, 1e-9)
}
