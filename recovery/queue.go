package recovery

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/mysql"
	"github.com/rs/zerolog/log"

	"github.com/relicadb/relica/cluster"
	"github.com/relicadb/relica/db"
	"github.com/relicadb/relica/health"
	"github.com/relicadb/relica/telemetry"
)

var builder = goqu.Dialect("mysql")

// EntryStatus is the lifecycle state of a recovery queue entry.
// Entries are never deleted, only transitioned.
type EntryStatus string

const (
	StatusPending    EntryStatus = "pending"
	StatusProcessing EntryStatus = "processing"
	StatusCompleted  EntryStatus = "completed"
	StatusFailed     EntryStatus = "failed"
)

// Entry is one write owed to a slave, recorded durably on the master.
type Entry struct {
	ID            int64          `json:"id"`
	TargetSlave   cluster.NodeID `json:"targetSlave"`
	UserID        int64          `json:"userId"`
	QueryText     string         `json:"queryText"`
	ParamsJSON    string         `json:"paramsJson"`
	AttemptCount  int            `json:"attemptCount"`
	LastError     string         `json:"lastError"`
	ErrorType     string         `json:"errorType"`
	QueuedAt      time.Time      `json:"queuedAt"`
	LastAttemptAt time.Time      `json:"lastAttemptAt"`
	Status        EntryStatus    `json:"status"`
}

// StatusSummary is the queue's observability view: aggregate pending counts
// per slave plus identifying info for the oldest pending entries.
type StatusSummary struct {
	PendingBySlave map[cluster.NodeID]int `json:"pendingBySlave"`
	Oldest         []Entry                `json:"oldest"`
	MemoryFallback int                    `json:"memoryFallback"`
}

// TotalPending sums pending entries across slaves, including the weaker
// in-memory fallback entries.
func (s *StatusSummary) TotalPending() int {
	total := s.MemoryFallback
	for _, n := range s.PendingBySlave {
		total += n
	}
	return total
}

// Queue is the durable ledger of writes owed to slaves. All persistent state
// lives on the master node, the single source of truth for pending
// cross-node work. When the master itself is unreachable at enqueue time the
// queue degrades to an in-memory list for the lifetime of the process, a
// strictly weaker guarantee.
type Queue struct {
	registry     *cluster.Registry
	queryTimeout time.Duration
	maxAttempts  int
	retryDelay   time.Duration

	// One lock per slave: a drain for a slave never overlaps another drain
	// for the same slave, whether triggered by the monitor or manually.
	drainLocks [3]sync.Mutex

	memMu  sync.Mutex
	memory []Entry
}

// NewQueue creates the recovery queue over the given topology. retryDelay
// spaces the enqueue attempts against a flaky master.
func NewQueue(registry *cluster.Registry, queryTimeout time.Duration, maxAttempts int, retryDelay time.Duration) *Queue {
	return &Queue{
		registry:     registry,
		queryTimeout: queryTimeout,
		maxAttempts:  maxAttempts,
		retryDelay:   retryDelay,
	}
}

// enqueueAttempts bounds how long Enqueue fights for the durable ledger
// before degrading to process memory.
const enqueueAttempts = 3

// Enqueue appends a pending entry recording a write the target slave missed.
// Returns true when the entry was persisted on master; false means the entry
// only exists in process memory and will not survive a restart.
func (q *Queue) Enqueue(ctx context.Context, target cluster.NodeID, userID int64, queryText string, params []any, cause error) bool {
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		// Parameters come from our own builders; this is unreachable in
		// practice but must not lose the write silently.
		paramsJSON = []byte("[]")
		log.Error().Err(err).Int64("user_id", userID).Msg("Failed to serialize queue entry params")
	}

	now := time.Now().UTC()
	entry := Entry{
		TargetSlave:   target,
		UserID:        userID,
		QueryText:     queryText,
		ParamsJSON:    string(paramsJSON),
		AttemptCount:  1,
		LastError:     cause.Error(),
		ErrorType:     health.Classify(cause).String(),
		QueuedAt:      now,
		LastAttemptAt: now,
		Status:        StatusPending,
	}

	persistErr := health.Retry(ctx, func(ctx context.Context) error {
		return q.insertEntry(ctx, entry)
	}, enqueueAttempts, q.retryDelay)
	if persistErr != nil {
		log.Warn().
			Err(persistErr).
			Int("target_slave", int(target)).
			Int64("user_id", userID).
			Msg("Master unreachable for recovery enqueue - falling back to in-memory queue (lost on restart)")

		q.memMu.Lock()
		q.memory = append(q.memory, entry)
		q.memMu.Unlock()

		telemetry.QueueEnqueuesTotal.With("memory").Inc()
		return false
	}

	telemetry.QueueEnqueuesTotal.With("persistent").Inc()
	log.Info().
		Int("target_slave", int(target)).
		Int64("user_id", userID).
		Str("error_type", entry.ErrorType).
		Msg("Write queued for recovery")
	return true
}

func (q *Queue) insertEntry(ctx context.Context, entry Entry) error {
	query, args, err := builder.Insert(db.RecoveryQueueTable).
		Prepared(true).
		Rows(goqu.Record{
			"target_partition": int(entry.TargetSlave),
			"user_id":          entry.UserID,
			"query_text":       entry.QueryText,
			"params_json":      entry.ParamsJSON,
			"attempt_count":    entry.AttemptCount,
			"last_error":       entry.LastError,
			"error_type":       entry.ErrorType,
			"queued_at":        entry.QueuedAt,
			"last_attempt_at":  entry.LastAttemptAt,
			"status":           string(entry.Status),
		}).
		ToSQL()
	if err != nil {
		return err
	}

	execCtx, cancel := context.WithTimeout(ctx, q.queryTimeout)
	defer cancel()
	_, err = q.registry.Master().DB.ExecContext(execCtx, query, args...)
	return err
}

// Status returns per-slave pending counts and up to 20 oldest pending entries.
func (q *Queue) Status(ctx context.Context) (*StatusSummary, error) {
	summary := &StatusSummary{PendingBySlave: map[cluster.NodeID]int{cluster.Slave1: 0, cluster.Slave2: 0}}

	q.memMu.Lock()
	summary.MemoryFallback = len(q.memory)
	q.memMu.Unlock()

	countQuery, countArgs, err := builder.From(db.RecoveryQueueTable).
		Prepared(true).
		Select(goqu.C("target_partition"), goqu.COUNT("*").As("pending")).
		Where(goqu.C("status").Eq(string(StatusPending))).
		GroupBy(goqu.C("target_partition")).
		ToSQL()
	if err != nil {
		return nil, err
	}

	queryCtx, cancel := context.WithTimeout(ctx, q.queryTimeout)
	defer cancel()

	master := q.registry.Master().DB
	rows, err := master.QueryContext(queryCtx, countQuery, countArgs...)
	if err != nil {
		return nil, fmt.Errorf("count pending recovery entries: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var partition, pending int
		if err := rows.Scan(&partition, &pending); err != nil {
			return nil, fmt.Errorf("scan pending count: %w", err)
		}
		summary.PendingBySlave[cluster.NodeID(partition)] = pending
		telemetry.QueueDepth.With(strconv.Itoa(partition)).Set(float64(pending))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	oldest, err := q.pendingEntries(ctx, nil, 20)
	if err != nil {
		return nil, err
	}
	summary.Oldest = oldest

	return summary, nil
}

// pendingEntries reads pending entries oldest-first, optionally filtered to
// one target slave.
func (q *Queue) pendingEntries(ctx context.Context, target *cluster.NodeID, limit int) ([]Entry, error) {
	ds := builder.From(db.RecoveryQueueTable).
		Prepared(true).
		Select("id", "target_partition", "user_id", "query_text", "params_json",
			"attempt_count", "last_error", "error_type", "queued_at", "last_attempt_at", "status").
		Where(goqu.C("status").Eq(string(StatusPending))).
		Order(goqu.C("id").Asc()).
		Limit(uint(limit))
	if target != nil {
		ds = ds.Where(goqu.C("target_partition").Eq(int(*target)))
	}

	query, args, err := ds.ToSQL()
	if err != nil {
		return nil, err
	}

	queryCtx, cancel := context.WithTimeout(ctx, q.queryTimeout)
	defer cancel()

	rows, err := q.registry.Master().DB.QueryContext(queryCtx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("read pending recovery entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var status, lastError, errorType sql.NullString
		var partition int
		if err := rows.Scan(&e.ID, &partition, &e.UserID, &e.QueryText, &e.ParamsJSON,
			&e.AttemptCount, &lastError, &errorType, &e.QueuedAt, &e.LastAttemptAt, &status); err != nil {
			return nil, fmt.Errorf("scan recovery entry: %w", err)
		}
		e.TargetSlave = cluster.NodeID(partition)
		e.LastError = lastError.String
		e.ErrorType = errorType.String
		e.Status = EntryStatus(status.String)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
