package recovery

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog/log"

	"github.com/relicadb/relica/cluster"
	"github.com/relicadb/relica/telemetry"
)

// HealthChecker reports a node's real reachability.
type HealthChecker interface {
	IsHealthy(ctx context.Context, id cluster.NodeID) bool
}

// Monitor is the background recovery loop: on every tick it probes each
// slave's real reachability and drains the queue for the healthy ones. It is
// purely additive; it never blocks the write path and mutates nothing but
// the queue ledger and its own status.
//
// The monitor is owned by the composition root and passed by handle; there
// is no process-global instance.
type Monitor struct {
	registry  *cluster.Registry
	checker   HealthChecker
	queue     *Queue
	batchSize int

	mu       sync.Mutex
	running  bool
	cancel   context.CancelFunc
	done     chan struct{}
	interval time.Duration

	// A tick that starts while the previous one still runs is skipped
	// rather than queued or run concurrently.
	ticking atomic.Bool

	totalChecks      *xsync.Counter
	totalRecoveries  *xsync.Counter
	lastMu           sync.Mutex
	lastResult       string
	lastRecoveryTime time.Time
}

// MonitorStatus is the monitor's observable state.
type MonitorStatus struct {
	Running          bool      `json:"running"`
	IntervalMS       int64     `json:"intervalMs"`
	TotalChecks      int64     `json:"totalChecks"`
	TotalRecoveries  int64     `json:"totalRecoveries"`
	LastResult       string    `json:"lastResult"`
	LastRecoveryTime time.Time `json:"lastRecoveryTime"`
}

// NewMonitor creates a stopped monitor.
func NewMonitor(registry *cluster.Registry, checker HealthChecker, queue *Queue, batchSize int) *Monitor {
	return &Monitor{
		registry:        registry,
		checker:         checker,
		queue:           queue,
		batchSize:       batchSize,
		totalChecks:     xsync.NewCounter(),
		totalRecoveries: xsync.NewCounter(),
	}
}

// Start launches the background loop. A no-op if already running.
func (m *Monitor) Start(interval time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		log.Debug().Msg("Recovery monitor already running")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})
	m.running = true
	m.interval = interval

	go m.run(ctx, interval)
	log.Info().Dur("interval", interval).Msg("Recovery monitor started")
}

// Stop cancels the loop and waits for the in-flight tick, if any, to finish.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	cancel := m.cancel
	done := m.done
	m.mu.Unlock()

	cancel()
	<-done
	log.Info().Msg("Recovery monitor stopped")
}

// Running reports whether the loop is active.
func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Status returns cumulative stats and the last tick's summary.
func (m *Monitor) Status() MonitorStatus {
	m.mu.Lock()
	running := m.running
	interval := m.interval
	m.mu.Unlock()

	m.lastMu.Lock()
	defer m.lastMu.Unlock()
	return MonitorStatus{
		Running:          running,
		IntervalMS:       interval.Milliseconds(),
		TotalChecks:      m.totalChecks.Value(),
		TotalRecoveries:  m.totalRecoveries.Value(),
		LastResult:       m.lastResult,
		LastRecoveryTime: m.lastRecoveryTime,
	}
}

func (m *Monitor) run(ctx context.Context, interval time.Duration) {
	defer close(m.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !m.ticking.CompareAndSwap(false, true) {
				telemetry.MonitorTicksTotal.With("skipped").Inc()
				log.Warn().Msg("Previous recovery tick still running, skipping this one")
				continue
			}
			m.Tick(ctx)
			m.ticking.Store(false)
		}
	}
}

// Tick runs one recovery pass: probe each slave, drain the queue for the
// healthy ones. Exported so operators can trigger a pass on demand.
func (m *Monitor) Tick(ctx context.Context) {
	m.totalChecks.Inc()

	var parts []string
	recoveredTotal := 0

	for _, slave := range m.registry.Slaves() {
		// Real reachability only: a slave flagged simulated-offline for the
		// write path is still drained if it actually answers.
		if !m.checker.IsHealthy(ctx, slave.ID) {
			parts = append(parts, fmt.Sprintf("slave %d unreachable", slave.ID))
			continue
		}

		recovered, err := m.queue.Drain(ctx, slave.ID, m.batchSize)
		if err != nil {
			parts = append(parts, fmt.Sprintf("slave %d drain error: %v", slave.ID, err))
			log.Warn().Err(err).Int("slave", int(slave.ID)).Msg("Recovery drain failed")
			continue
		}

		recoveredTotal += recovered
		parts = append(parts, fmt.Sprintf("slave %d: %d recovered", slave.ID, recovered))
	}

	if recoveredTotal > 0 {
		m.totalRecoveries.Add(int64(recoveredTotal))
		telemetry.MonitorTicksTotal.With("drained").Inc()
	} else {
		telemetry.MonitorTicksTotal.With("idle").Inc()
	}

	result := strings.Join(parts, "; ")
	m.lastMu.Lock()
	m.lastResult = result
	if recoveredTotal > 0 {
		m.lastRecoveryTime = time.Now()
	}
	m.lastMu.Unlock()

	log.Debug().Str("result", result).Msg("Recovery tick complete")
}
