package health

import (
	"context"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/relicadb/relica/cluster"
	"github.com/relicadb/relica/telemetry"
)

// Checker probes node reachability. It reflects real reachability only:
// the simulated-offline flags used for failure injection are invisible here.
type Checker struct {
	registry *cluster.Registry
	timeout  time.Duration
}

// NewChecker creates a checker with the given probe timeout.
func NewChecker(registry *cluster.Registry, timeout time.Duration) *Checker {
	return &Checker{registry: registry, timeout: timeout}
}

// IsHealthy acquires a connection within the probe timeout and issues a
// liveness query. Any failure, including timeout, yields false. A connection
// that arrives after the deadline is returned to its pool by Close, never
// leaked.
func (c *Checker) IsHealthy(ctx context.Context, id cluster.NodeID) bool {
	node, err := c.registry.NodeByID(id)
	if err != nil {
		return false
	}

	start := time.Now()
	probeCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	conn, err := node.Conn(probeCtx)
	if err != nil {
		c.observe(id, false, start)
		log.Debug().Int("node", int(id)).Err(err).Msg("Health probe: connection failed")
		return false
	}
	defer conn.Close()

	if err := conn.PingContext(probeCtx); err != nil {
		c.observe(id, false, start)
		log.Debug().Int("node", int(id)).Err(err).Msg("Health probe: ping failed")
		return false
	}

	c.observe(id, true, start)
	return true
}

func (c *Checker) observe(id cluster.NodeID, up bool, start time.Time) {
	result := "down"
	if up {
		result = "up"
	}
	telemetry.HealthChecksTotal.With(strconv.Itoa(int(id)), result).Inc()
	telemetry.HealthProbeSeconds.Observe(time.Since(start).Seconds())
}

// Retry runs op up to maxAttempts times with a fixed delay between attempts.
// A Permanent classification stops retrying immediately. The last error is
// surfaced when attempts are exhausted.
func Retry(ctx context.Context, op func(context.Context) error, maxAttempts int, delay time.Duration) error {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if Classify(lastErr) == Permanent {
			return lastErr
		}
		if attempt == maxAttempts {
			break
		}

		log.Debug().Int("attempt", attempt).Err(lastErr).Msg("Retrying operation")
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return lastErr
}
