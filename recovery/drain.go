package recovery

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/rs/zerolog/log"

	"github.com/relicadb/relica/cluster"
	"github.com/relicadb/relica/db"
	"github.com/relicadb/relica/health"
	"github.com/relicadb/relica/telemetry"
)

// Drain replays pending entries for one slave, oldest first, up to batchSize.
// Safe to call repeatedly: rows already present on the slave are detected
// and the entry is completed without writing. Calls for the same slave are
// serialized by a per-slave lock so a monitor tick and a manual replay can
// never double-apply.
//
// Returns the number of entries recovered (completed) in this call.
func (q *Queue) Drain(ctx context.Context, target cluster.NodeID, batchSize int) (int, error) {
	if target != cluster.Slave1 && target != cluster.Slave2 {
		return 0, &cluster.UnknownNodeError{ID: target}
	}

	q.drainLocks[target].Lock()
	defer q.drainLocks[target].Unlock()

	start := time.Now()
	defer func() {
		telemetry.DrainDurationSeconds.Observe(time.Since(start).Seconds())
	}()

	// Promote any in-memory fallback entries to the durable ledger first,
	// so one drain pass sees every write owed to this slave.
	q.flushMemory(ctx)

	entries, err := q.pendingEntries(ctx, &target, batchSize)
	if err != nil {
		return 0, err
	}

	slave, err := q.registry.NodeByID(target)
	if err != nil {
		return 0, err
	}

	recovered := 0
	for _, entry := range entries {
		if err := q.replay(ctx, slave, entry); err != nil {
			q.recordFailure(ctx, entry, err)
			continue
		}
		if err := q.markCompleted(ctx, entry.ID); err != nil {
			// The slave write landed; the ledger update failing puts this
			// entry back through the duplicate-safe path on the next drain.
			log.Warn().Err(err).Int64("entry", entry.ID).Msg("Failed to mark recovery entry completed")
			continue
		}
		recovered++
		telemetry.RecoveriesTotal.With("completed").Inc()
		log.Info().
			Int64("entry", entry.ID).
			Int64("user_id", entry.UserID).
			Int("target_slave", int(target)).
			Msg("Recovery entry replayed")
	}

	return recovered, nil
}

// replay applies one entry to the slave. Nil return means the referenced row
// is confirmed on the slave, whether we wrote it just now or it was already
// there.
func (q *Queue) replay(ctx context.Context, slave *cluster.Node, entry Entry) error {
	// Duplicate-safe: an insert whose row already made it over needs no write.
	if isInsert(entry.QueryText) {
		exists, err := q.rowExists(ctx, slave, entry.UserID)
		if err != nil {
			return err
		}
		if exists {
			telemetry.RecoveriesTotal.With("duplicate").Inc()
			log.Debug().
				Int64("entry", entry.ID).
				Int64("user_id", entry.UserID).
				Msg("Row already present on slave, completing without replay")
			return nil
		}
	}

	var params []any
	if err := json.Unmarshal([]byte(entry.ParamsJSON), &params); err != nil {
		return fmt.Errorf("corrupt entry params: %w", err)
	}

	execCtx, cancel := context.WithTimeout(ctx, q.queryTimeout)
	defer cancel()

	_, err := slave.DB.ExecContext(execCtx, entry.QueryText, params...)
	if err != nil && health.IsDuplicateKey(err) {
		// The row raced in some other way; it is on the slave, which is
		// exactly what this entry was tracking.
		telemetry.RecoveriesTotal.With("duplicate").Inc()
		return nil
	}
	return err
}

func isInsert(queryText string) bool {
	return strings.HasPrefix(strings.ToUpper(strings.TrimSpace(queryText)), "INSERT")
}

func (q *Queue) rowExists(ctx context.Context, slave *cluster.Node, userID int64) (bool, error) {
	queryCtx, cancel := context.WithTimeout(ctx, q.queryTimeout)
	defer cancel()

	var one int
	err := slave.DB.QueryRowContext(queryCtx, "SELECT 1 FROM users WHERE id = ?", userID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("existence check on slave %d: %w", slave.ID, err)
	}
	return true, nil
}

// markCompleted transitions an entry to completed. Entries are never deleted.
func (q *Queue) markCompleted(ctx context.Context, entryID int64) error {
	return q.updateEntry(ctx, entryID, goqu.Record{
		"status":          string(StatusCompleted),
		"last_attempt_at": time.Now().UTC(),
	})
}

// recordFailure classifies the replay error and either retires the entry or
// leaves it pending for the next drain. Permanent errors and entries that
// have exhausted their attempts transition to failed and stop being retried
// automatically; those need manual intervention.
func (q *Queue) recordFailure(ctx context.Context, entry Entry, cause error) {
	class := health.Classify(cause)
	attempts := entry.AttemptCount + 1

	status := StatusPending
	if class == health.Permanent || attempts >= q.maxAttempts {
		status = StatusFailed
		telemetry.RecoveriesTotal.With("failed").Inc()
	}

	logEvent := log.Warn()
	if status == StatusFailed {
		logEvent = log.Error()
	}
	logEvent.
		Err(cause).
		Int64("entry", entry.ID).
		Int("attempts", attempts).
		Str("class", class.String()).
		Str("status", string(status)).
		Msg("Recovery replay failed")

	err := q.updateEntry(ctx, entry.ID, goqu.Record{
		"attempt_count":   attempts,
		"last_error":      cause.Error(),
		"error_type":      class.String(),
		"last_attempt_at": time.Now().UTC(),
		"status":          string(status),
	})
	if err != nil {
		log.Error().Err(err).Int64("entry", entry.ID).Msg("Failed to record replay failure")
	}
}

func (q *Queue) updateEntry(ctx context.Context, entryID int64, fields goqu.Record) error {
	query, args, err := builder.Update(db.RecoveryQueueTable).
		Prepared(true).
		Set(fields).
		Where(goqu.C("id").Eq(entryID)).
		ToSQL()
	if err != nil {
		return err
	}

	execCtx, cancel := context.WithTimeout(ctx, q.queryTimeout)
	defer cancel()
	_, err = q.registry.Master().DB.ExecContext(execCtx, query, args...)
	return err
}

// flushMemory tries to persist in-memory fallback entries onto the master
// ledger. Entries that still cannot be persisted stay in memory.
func (q *Queue) flushMemory(ctx context.Context) {
	q.memMu.Lock()
	pending := q.memory
	q.memory = nil
	q.memMu.Unlock()

	if len(pending) == 0 {
		return
	}

	var kept []Entry
	for _, entry := range pending {
		if err := q.insertEntry(ctx, entry); err != nil {
			kept = append(kept, entry)
			continue
		}
		log.Info().Int64("user_id", entry.UserID).Msg("In-memory recovery entry persisted to master")
	}

	if len(kept) > 0 {
		q.memMu.Lock()
		q.memory = append(kept, q.memory...)
		q.memMu.Unlock()
	}
}
