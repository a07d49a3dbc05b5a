package authcore

import (
	"context"
	"fmt"
	"time"
)

// PurgeStats reports what one sweep removed.
type PurgeStats struct {
	RefreshDeleted int
	ResetDeleted   int
	WindowsDropped int
}

// PurgeExpired removes token rows past their expiry and elapsed rate-limit
// windows. Expired rows carry no live authority, so this is pure storage
// hygiene and can run at any time.
func (e *Engine) PurgeExpired(ctx context.Context) (PurgeStats, error) {
	now := e.clk.Now()
	var stats PurgeStats

	n, err := e.refresh.DeleteExpired(ctx, now)
	if err != nil {
		return stats, fmt.Errorf("purge: refresh tokens: %w", err)
	}
	stats.RefreshDeleted = n

	n, err = e.resets.DeleteExpired(ctx, now)
	if err != nil {
		return stats, fmt.Errorf("purge: reset tokens: %w", err)
	}
	stats.ResetDeleted = n

	if e.limiter != nil {
		n, err = e.limiter.Cleanup(ctx)
		if err != nil {
			return stats, fmt.Errorf("purge: rate windows: %w", err)
		}
		stats.WindowsDropped = n
	}

	e.metrics.Add(MetricTokensPurged, uint64(stats.RefreshDeleted+stats.ResetDeleted))
	return stats, nil
}

func (e *Engine) purgeLoop() {
	defer e.purgeWG.Done()

	ticker := time.NewTicker(e.cfg.Purge.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			stats, err := e.PurgeExpired(context.Background())
			if err != nil {
				e.log.Warn("purge sweep failed", "error", err)
				continue
			}
			if stats.RefreshDeleted+stats.ResetDeleted+stats.WindowsDropped > 0 {
				e.log.Debug("purge sweep",
					"refresh_deleted", stats.RefreshDeleted,
					"reset_deleted", stats.ResetDeleted,
					"windows_dropped", stats.WindowsDropped)
			}
		case <-e.purgeDone:
			return
		}
	}
}
