package jobs

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/ratelimit"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"bounty-escrow/internal/config"
	"bounty-escrow/internal/metrics"
	"bounty-escrow/internal/models"
	"bounty-escrow/internal/services"
)

// AutoReleaser is the escrow surface the sweeper drives
type AutoReleaser interface {
	AutoReleaseCandidates(ctx context.Context, limit int) ([]*models.Transaction, error)
	AutoRelease(ctx context.Context, txID uuid.UUID) (*models.Transaction, error)
}

// SweepResult summarizes one sweep
type SweepResult struct {
	Candidates int `json:"candidates"`
	Released   int `json:"released"`
	Skipped    int `json:"skipped"`
	Failed     int `json:"failed"`
}

// DisputeWindowSweeper auto-releases delivered transactions whose dispute
// window closed without a dispute
type DisputeWindowSweeper struct {
	escrow      AutoReleaser
	clock       clock.Clock
	interval    time.Duration
	batchSize   int
	concurrency int
	limiter     ratelimit.Limiter
	logger      *zap.Logger
	metrics     *metrics.Metrics

	stopChan chan struct{}
	done     sync.WaitGroup
	stopOnce sync.Once
}

// NewDisputeWindowSweeper creates a new sweeper job. A non-positive
// RailCallsPerSec disables rail pacing.
func NewDisputeWindowSweeper(
	escrow AutoReleaser,
	clk clock.Clock,
	cfg config.EscrowConfig,
	logger *zap.Logger,
	m *metrics.Metrics,
) *DisputeWindowSweeper {
	limiter := ratelimit.NewUnlimited()
	if cfg.RailCallsPerSec > 0 {
		limiter = ratelimit.New(cfg.RailCallsPerSec)
	}
	concurrency := cfg.SweepConcurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	batch := cfg.SweepBatchSize
	if batch <= 0 {
		batch = 100
	}

	return &DisputeWindowSweeper{
		escrow:      escrow,
		clock:       clk,
		interval:    cfg.SweepInterval,
		batchSize:   batch,
		concurrency: concurrency,
		limiter:     limiter,
		logger:      logger,
		metrics:     m,
		stopChan:    make(chan struct{}),
	}
}

// Start begins the sweep loop in the background
func (s *DisputeWindowSweeper) Start() {
	s.logger.Info("starting dispute window sweeper", zap.Duration("interval", s.interval))

	ticker := s.clock.Ticker(s.interval)
	s.done.Add(1)
	go func() {
		defer s.done.Done()
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), s.interval)
				if _, err := s.SweepOnce(ctx); err != nil {
					s.logger.Error("sweep failed", zap.Error(err))
				}
				cancel()
			case <-s.stopChan:
				s.logger.Info("stopping dispute window sweeper")
				return
			}
		}
	}()
}

// Stop stops the sweep loop and waits for a running sweep to finish
func (s *DisputeWindowSweeper) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
		s.done.Wait()
	})
}

// SweepOnce releases one batch of expired windows. Failures are logged and
// left for the next sweep.
func (s *DisputeWindowSweeper) SweepOnce(ctx context.Context) (SweepResult, error) {
	started := s.clock.Now()
	defer func() {
		s.metrics.SweepDuration.Observe(s.clock.Since(started).Seconds())
	}()

	txs, err := s.escrow.AutoReleaseCandidates(ctx, s.batchSize)
	if err != nil {
		return SweepResult{}, err
	}
	if len(txs) == 0 {
		return SweepResult{}, nil
	}

	var released, skipped, failed atomic.Int64
	var g errgroup.Group
	g.SetLimit(s.concurrency)

	for _, tx := range txs {
		tx := tx
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			s.limiter.Take()

			_, err := s.escrow.AutoRelease(ctx, tx.ID)
			switch {
			case err == nil:
				released.Add(1)
			case errors.Is(err, services.ErrConflict):
				// Released, disputed or being settled by someone else
				skipped.Add(1)
				s.logger.Debug("auto-release skipped", zap.String("tx_id", tx.ID.String()), zap.Error(err))
			default:
				failed.Add(1)
				s.logger.Warn("auto-release failed, will retry next sweep",
					zap.String("tx_id", tx.ID.String()),
					zap.String("kind", string(models.TransitionAutoRelease)),
					zap.Error(err),
				)
			}
			return nil
		})
	}
	_ = g.Wait()

	result := SweepResult{
		Candidates: len(txs),
		Released:   int(released.Load()),
		Skipped:    int(skipped.Load()),
		Failed:     int(failed.Load()),
	}
	s.metrics.SweepReleased.Add(float64(result.Released))
	s.logger.Info("dispute window sweep finished",
		zap.Int("candidates", result.Candidates),
		zap.Int("released", result.Released),
		zap.Int("skipped", result.Skipped),
		zap.Int("failed", result.Failed),
	)
	return result, ctx.Err()
}
