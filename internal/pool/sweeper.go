package pool

import (
	"context"
	"log/slog"
	"time"
)

const DefaultRecoverSweepInterval = time.Minute

// Sweeper periodically runs the auto-recovery sweep so accounts come back
// even when no selection happens to trigger it.
type Sweeper struct {
	pool     *Pool
	interval time.Duration
	logger   *slog.Logger
}

func NewSweeper(p *Pool, interval time.Duration, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = DefaultRecoverSweepInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{pool: p, interval: interval, logger: logger}
}

// Run blocks until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.pool.RecoverSweep(ctx); n > 0 {
				s.logger.Info("recovery sweep restored accounts", "count", n)
			}
		}
	}
}
