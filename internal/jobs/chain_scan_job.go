package jobs

import (
	"context"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"prediction-ledger/internal/services"
)

// ChainScanJob drives the reconciliation engine periodically: each tick
// advances the event scan cursor toward the chain head and locks
// predictions whose lock time has elapsed. Every pass is idempotent, so
// an overlapping or failed run only costs redundant work.
type ChainScanJob struct {
	cron    *cron.Cron
	service *services.SyncService
	logger  *zap.Logger
	baseCtx context.Context
}

// NewChainScanJob creates the periodic scan job
func NewChainScanJob(service *services.SyncService, logger *zap.Logger, baseCtx context.Context) *ChainScanJob {
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	return &ChainScanJob{
		cron:    cron.New(cron.WithSeconds()),
		service: service,
		logger:  logger,
		baseCtx: baseCtx,
	}
}

// Start schedules the scan on the given cron spec and begins running
func (j *ChainScanJob) Start(spec string) error {
	_, err := j.cron.AddFunc(spec, j.run)
	if err != nil {
		return err
	}

	j.cron.Start()
	j.logger.Info("chain scan job started", zap.String("spec", spec))
	return nil
}

// Stop halts the schedule and waits for a running pass to finish
func (j *ChainScanJob) Stop() {
	ctx := j.cron.Stop()
	<-ctx.Done()
	j.logger.Info("chain scan job stopped")
}

func (j *ChainScanJob) run() {
	if _, err := j.service.SyncLatest(j.baseCtx); err != nil {
		j.logger.Warn("chain scan pass failed", zap.Error(err))
	}

	if _, err := j.service.LockDuePredictions(j.baseCtx); err != nil {
		j.logger.Warn("lock pass failed", zap.Error(err))
	}
}
