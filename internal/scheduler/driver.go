package scheduler

import (
	"context"
	"time"

	"levtrader/internal/logger"
)

// Driver ticks the service on a fixed interval. Passes run sequentially, so
// a slow pass delays the next tick rather than overlapping it.
type Driver struct {
	svc      *Service
	interval time.Duration
}

func NewDriver(svc *Service, tickSeconds int) *Driver {
	interval := time.Duration(tickSeconds) * time.Second
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Driver{svc: svc, interval: interval}
}

// Run seeds the default tasks once, then polls for due tasks until the
// context is cancelled.
func (d *Driver) Run(ctx context.Context) error {
	if err := d.svc.SeedDefaultTasks(ctx); err != nil {
		return err
	}
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	logger.Infof("task scheduler started, tick every %s", d.interval)
	for {
		select {
		case <-ctx.Done():
			logger.Infof("task scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			if ran, err := d.svc.RunDueTasks(ctx); err != nil {
				logger.Errorf("scheduler pass failed: %v", err)
			} else if ran > 0 {
				logger.Infof("scheduler pass ran %d task(s)", ran)
			}
		}
	}
}
