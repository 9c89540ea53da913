package main

import (
	"context"
	"fmt"
	"time"
)

// reportProgress prints a progress line every second until ctx is done.
func reportProgress(ctx context.Context, stats *Stats) {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	var last Snapshot
	startTime := time.Now()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snapshot := stats.GetSnapshot()
			elapsed := time.Since(startTime)
			opsSec := snapshot.TotalOps - last.TotalOps
			cumThroughput := float64(snapshot.TotalOps) / elapsed.Seconds()

			fmt.Printf("[%5.0fs] ops/sec: %6d | total: %8d | errors: %4d | degraded: %4d | throughput: %.1f ops/sec\n",
				elapsed.Seconds(),
				opsSec,
				snapshot.TotalOps,
				snapshot.Errors,
				snapshot.Degraded,
				cumThroughput,
			)

			last = snapshot
		}
	}
}
