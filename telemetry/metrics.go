package telemetry

// Histogram bucket definitions for different latency profiles
var (
	// WriteBuckets for coordinated writes (master + slave round-trips)
	WriteBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}

	// ProbeBuckets for health probes (bounded at 1s by the probe timeout)
	ProbeBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1}

	// DrainBuckets for queue drain cycles
	DrainBuckets = []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30}
)

// Write path metrics
var (
	// WritesTotal counts coordinated writes by operation (create, update, delete)
	// and outcome (replicated, queued, aborted)
	WritesTotal CounterVec = noopCounterVec{}

	// WriteDurationSeconds measures coordinated write latency by operation
	WriteDurationSeconds HistogramVec = noopHistogramVec{}

	// ActiveWrites tracks in-flight coordinated writes
	ActiveWrites Gauge = NoopStat{}

	// SequenceLockWaitSeconds measures time spent waiting for the id sequence lock
	SequenceLockWaitSeconds Histogram = NoopStat{}
)

// Recovery metrics
var (
	// QueueDepth tracks pending recovery entries per target slave
	QueueDepth GaugeVec = noopGaugeVec{}

	// QueueEnqueuesTotal counts enqueued recovery entries by durability (persistent, memory)
	QueueEnqueuesTotal CounterVec = noopCounterVec{}

	// RecoveriesTotal counts drained entries by result (completed, duplicate, failed)
	RecoveriesTotal CounterVec = noopCounterVec{}

	// DrainDurationSeconds measures time per drain cycle
	DrainDurationSeconds Histogram = NoopStat{}

	// MonitorTicksTotal counts monitor ticks by result (drained, idle, skipped)
	MonitorTicksTotal CounterVec = noopCounterVec{}
)

// Health metrics
var (
	// HealthChecksTotal counts health probes by node and result (up, down)
	HealthChecksTotal CounterVec = noopCounterVec{}

	// HealthProbeSeconds measures health probe latency
	HealthProbeSeconds Histogram = NoopStat{}
)

func registerMetrics() {
	WritesTotal = NewCounterVec(
		"writes_total",
		"Coordinated writes by operation and outcome",
		[]string{"op", "outcome"},
	)
	WriteDurationSeconds = NewHistogramVec(
		"write_duration_seconds",
		"Coordinated write duration in seconds",
		[]string{"op"},
		WriteBuckets,
	)
	ActiveWrites = NewGauge(
		"active_writes",
		"Number of in-flight coordinated writes",
	)
	SequenceLockWaitSeconds = NewHistogramWithBuckets(
		"sequence_lock_wait_seconds",
		"Time waiting for the id sequence lock in seconds",
		WriteBuckets,
	)

	QueueDepth = NewGaugeVec(
		"queue_depth",
		"Pending recovery entries per target slave",
		[]string{"slave"},
	)
	QueueEnqueuesTotal = NewCounterVec(
		"queue_enqueues_total",
		"Recovery entries enqueued by durability",
		[]string{"durability"},
	)
	RecoveriesTotal = NewCounterVec(
		"recoveries_total",
		"Drained recovery entries by result",
		[]string{"result"},
	)
	DrainDurationSeconds = NewHistogramWithBuckets(
		"drain_duration_seconds",
		"Queue drain cycle duration in seconds",
		DrainBuckets,
	)
	MonitorTicksTotal = NewCounterVec(
		"monitor_ticks_total",
		"Recovery monitor ticks by result",
		[]string{"result"},
	)

	HealthChecksTotal = NewCounterVec(
		"health_checks_total",
		"Health probes by node and result",
		[]string{"node", "result"},
	)
	HealthProbeSeconds = NewHistogramWithBuckets(
		"health_probe_seconds",
		"Health probe duration in seconds",
		ProbeBuckets,
	)
}
