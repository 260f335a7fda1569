package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

// ReputationRefresher recomputes aged or invalidated reputation entries
type ReputationRefresher interface {
	RefreshAged(ctx context.Context, limit int) (int, error)
}

// ReputationRefreshJob keeps the reputation cache from aging past its max age
type ReputationRefreshJob struct {
	refresher ReputationRefresher
	clock     clock.Clock
	interval  time.Duration
	batch     int
	logger    *zap.Logger

	stopChan chan struct{}
	done     sync.WaitGroup
	stopOnce sync.Once
}

func NewReputationRefreshJob(
	refresher ReputationRefresher,
	clk clock.Clock,
	interval time.Duration,
	batch int,
	logger *zap.Logger,
) *ReputationRefreshJob {
	return &ReputationRefreshJob{
		refresher: refresher,
		clock:     clk,
		interval:  interval,
		batch:     batch,
		logger:    logger,
		stopChan:  make(chan struct{}),
	}
}

// Start runs a refresh immediately, then periodically
func (j *ReputationRefreshJob) Start() {
	ticker := j.clock.Ticker(j.interval)
	j.done.Add(1)
	go func() {
		defer j.done.Done()
		defer ticker.Stop()

		j.run()
		for {
			select {
			case <-ticker.C:
				j.run()
			case <-j.stopChan:
				return
			}
		}
	}()
}

// Stop stops the job and waits for a running refresh to finish
func (j *ReputationRefreshJob) Stop() {
	j.stopOnce.Do(func() {
		close(j.stopChan)
		j.done.Wait()
	})
}

// RunOnce refreshes one batch
func (j *ReputationRefreshJob) RunOnce(ctx context.Context) (int, error) {
	return j.refresher.RefreshAged(ctx, j.batch)
}

func (j *ReputationRefreshJob) run() {
	ctx, cancel := context.WithTimeout(context.Background(), j.interval)
	defer cancel()

	n, err := j.RunOnce(ctx)
	if err != nil {
		j.logger.Error("reputation refresh error", zap.Error(err))
		return
	}
	if n > 0 {
		j.logger.Info("reputation entries refreshed", zap.Int("count", n))
	}
}
