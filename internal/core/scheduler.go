package core

// scheduler.go evicts idle extraction runs.
//
// Completed runs hold staging resources until their owner releases them.
// Owners that never do are covered by the sweeper, which periodically
// releases runs not read within the idle timeout. Drop failures are logged
// and never surface to callers, since the owner has already moved on.

import (
	"context"
	"time"
)

// Sweeper defaults.
const (
	DefaultIdleTimeout   = 30 * time.Minute
	DefaultSweepInterval = time.Minute
)

// SweepConfig holds configuration for the idle run sweeper.
type SweepConfig struct {
	IdleTimeout time.Duration // Release runs idle this long (default: 30m)
	Interval    time.Duration // How often to sweep (default: 1m)
}

func (c SweepConfig) withDefaults() SweepConfig {
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = DefaultIdleTimeout
	}
	if c.Interval <= 0 {
		c.Interval = DefaultSweepInterval
	}
	return c
}

// StartSweeper runs the idle sweep every Interval until ctx is cancelled.
// Call it in its own goroutine.
func (s *Service) StartSweeper(ctx context.Context, cfg SweepConfig) {
	cfg = cfg.withDefaults()
	s.logger.Info("extraction sweeper started",
		"idle_timeout", cfg.IdleTimeout.String(),
		"interval", cfg.Interval.String(),
	)

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("extraction sweeper stopped")
			return
		case <-ticker.C:
			s.SweepIdle(ctx, cfg.IdleTimeout)
		}
	}
}

// SweepIdle releases every completed run not accessed within idle and
// returns how many were released.
func (s *Service) SweepIdle(ctx context.Context, idle time.Duration) int {
	cutoff := s.runs.cutoff(idle)
	ids := s.runs.idle(cutoff)
	if len(ids) == 0 {
		return 0
	}

	start := time.Now()
	released := 0
	for _, id := range ids {
		// A read may have touched the run since it was listed.
		run, ok := s.runs.removeIfIdle(id, cutoff)
		if !ok {
			continue
		}
		if err := s.releaseRun(ctx, run); err != nil {
			s.logger.Warn("staging release failed", "run_id", id, "error", err)
			continue
		}
		released++
	}

	s.logger.Info("idle extractions released",
		"released", released,
		"candidates", len(ids),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return released
}
