package sched

import (
	"context"
	"time"

	"content-batch-pipeline/internal/infra/metrics"
)

// PoolStatsFunc reports total, idle and acquired connections.
type PoolStatsFunc func() (total, idle, inUse int32)

// StartPoolStats exports connection pool gauges every interval until ctx ends.
func StartPoolStats(ctx context.Context, interval time.Duration, stats PoolStatsFunc) {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		metrics.SetDBPoolStats(stats())
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}
