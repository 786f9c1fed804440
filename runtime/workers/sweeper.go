package workers

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper calls tick at a fixed interval, used to expire unconfirmed sends.
type Sweeper struct {
	log      *slog.Logger
	interval time.Duration
	tick     func(now time.Time)
}

func NewSweeper(log *slog.Logger, interval time.Duration, tick func(now time.Time)) *Sweeper {
	return &Sweeper{log: log, interval: interval, tick: tick}
}

func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.log.Debug("Context done, stopping sweeper")
			return nil
		case now := <-ticker.C:
			s.tick(now.UTC())
		}
	}
}
