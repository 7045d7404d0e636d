// Package reaper purges soft-deleted files whose retention window has
// passed.
//
// SoftDeleteFile stamps deleteExpiresAt at delete time (§5); Sweep removes
// any row past that deadline so Recover can no longer reach it and disk
// space used by vanished documents doesn't accumulate forever.
package reaper

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/zynqcloud/capdocs/internal/store"
)

// Sweep purges every file past its retention deadline as of now.
func Sweep(s *store.Store, now time.Time, logger zerolog.Logger) {
	expired, err := s.ListExpiredDeletedFiles(now)
	if err != nil {
		logger.Warn().Err(err).Msg("reaper: scan failed")
		return
	}
	var purged int
	for _, f := range expired {
		if err := s.DeleteFilePermanent(f.WorkspaceID, f.Path); err != nil {
			logger.Warn().Err(err).Str("path", f.Path).Msg("reaper: purge failed")
			continue
		}
		purged++
	}
	if purged > 0 {
		logger.Info().Int("purged", purged).Msg("reaper: sweep complete")
	}
}

// RunPeriodic starts a background goroutine that sweeps on every interval
// until ctx is cancelled. A first pass runs immediately at startup to clear
// files whose retention lapsed while the process was down. The returned
// channel closes once the goroutine has exited.
func RunPeriodic(ctx context.Context, s *store.Store, interval time.Duration, logger zerolog.Logger) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		Sweep(s, time.Now().UTC(), logger)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				Sweep(s, time.Now().UTC(), logger)
			case <-ctx.Done():
				return
			}
		}
	}()
	return done
}
