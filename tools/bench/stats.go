package main

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// OpType identifies a workload operation.
type OpType int

const (
	OpRead OpType = iota
	OpCreate
	OpUpdate
	OpSearch
)

// Stats tracks workload counters with atomics; latencies under a mutex.
type Stats struct {
	readOps   uint64
	createOps uint64
	updateOps uint64
	searchOps uint64

	errors uint64

	// Writes accepted by the coordinator but queued for a slave.
	degraded uint64

	mu        sync.Mutex
	latencies []int64 // microseconds
}

// NewStats creates a new stats tracker.
func NewStats() *Stats {
	return &Stats{
		latencies: make([]int64, 0, 100000),
	}
}

// RecordOp records a successful operation.
func (s *Stats) RecordOp(op OpType, latency time.Duration) {
	switch op {
	case OpRead:
		atomic.AddUint64(&s.readOps, 1)
	case OpCreate:
		atomic.AddUint64(&s.createOps, 1)
	case OpUpdate:
		atomic.AddUint64(&s.updateOps, 1)
	case OpSearch:
		atomic.AddUint64(&s.searchOps, 1)
	}

	s.mu.Lock()
	s.latencies = append(s.latencies, latency.Microseconds())
	s.mu.Unlock()
}

// RecordError records a failed operation.
func (s *Stats) RecordError() {
	atomic.AddUint64(&s.errors, 1)
}

// RecordDegraded records a write that committed on master but was queued for
// its slave.
func (s *Stats) RecordDegraded() {
	atomic.AddUint64(&s.degraded, 1)
}

// TotalOps returns total successful operations.
func (s *Stats) TotalOps() uint64 {
	return atomic.LoadUint64(&s.readOps) +
		atomic.LoadUint64(&s.createOps) +
		atomic.LoadUint64(&s.updateOps) +
		atomic.LoadUint64(&s.searchOps)
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	TotalOps uint64
	Errors   uint64
	Degraded uint64
}

// GetSnapshot returns the current counters.
func (s *Stats) GetSnapshot() Snapshot {
	return Snapshot{
		TotalOps: s.TotalOps(),
		Errors:   atomic.LoadUint64(&s.errors),
		Degraded: atomic.LoadUint64(&s.degraded),
	}
}

// GetLatencyPercentiles returns p50, p95, p99 in microseconds.
func (s *Stats) GetLatencyPercentiles() (p50, p95, p99 int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.latencies) == 0 {
		return 0, 0, 0
	}

	sorted := make([]int64, len(s.latencies))
	copy(sorted, s.latencies)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	n := len(sorted)
	return sorted[n*50/100], sorted[n*95/100], sorted[n*99/100]
}

// PrintFinal prints the closing report.
func (s *Stats) PrintFinal(elapsed time.Duration) {
	totalOps := s.TotalOps()
	throughput := float64(totalOps) / elapsed.Seconds()

	fmt.Println()
	fmt.Printf("Total time:    %.2fs\n", elapsed.Seconds())
	fmt.Printf("Throughput:    %.2f ops/sec\n", throughput)
	fmt.Println()

	fmt.Println("Operations:")
	fmt.Printf("  READ:   %d\n", atomic.LoadUint64(&s.readOps))
	fmt.Printf("  CREATE: %d\n", atomic.LoadUint64(&s.createOps))
	fmt.Printf("  UPDATE: %d\n", atomic.LoadUint64(&s.updateOps))
	fmt.Printf("  SEARCH: %d\n", atomic.LoadUint64(&s.searchOps))
	fmt.Printf("  TOTAL:  %d\n", totalOps)
	fmt.Println()

	if errors := atomic.LoadUint64(&s.errors); errors > 0 {
		fmt.Printf("Errors:        %d\n", errors)
	}
	if degraded := atomic.LoadUint64(&s.degraded); degraded > 0 {
		fmt.Printf("Degraded:      %d (committed on master, queued for a slave)\n", degraded)
	}

	p50, p95, p99 := s.GetLatencyPercentiles()
	fmt.Println("Latency (microseconds):")
	fmt.Printf("  P50:   %d\n", p50)
	fmt.Printf("  P95:   %d\n", p95)
	fmt.Printf("  P99:   %d\n", p99)
}
