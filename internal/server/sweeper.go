package server

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"agentmarket/internal/engine"
)

// StartDeadlineSweeper schedules the overdue-job sweep on the configured
// cron expression. It returns a stop function.
func StartDeadlineSweeper(e engine.Engine, schedule string, logger *zap.Logger) (func(), error) {
	if schedule == "" {
		schedule = "@every 5m"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		flagged, err := e.SweepOverdueJobs(ctx)
		if err != nil {
			logger.Warn("deadline sweep failed", zap.Error(err))
			return
		}
		if len(flagged) > 0 {
			logger.Info("flagged overdue jobs", zap.Int64s("job_ids", flagged))
		}
	})
	if err != nil {
		return nil, err
	}
	c.Start()
	return func() { c.Stop() }, nil
}
