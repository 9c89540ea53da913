package coordinator

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/relicadb/relica/cluster"
	"github.com/relicadb/relica/db"
	"github.com/relicadb/relica/telemetry"
)

// ErrImmutableShardKey rejects patches that would move a record to another
// partition. A record's country decides which slave owns it; changing it in
// place would strand the row on the wrong node.
var ErrImmutableShardKey = errors.New("country cannot be changed on an existing record")

// UpdatePayload is a partial patch; nil fields are left untouched.
type UpdatePayload struct {
	FirstName *string `json:"firstname"`
	LastName  *string `json:"lastname"`
	City      *string `json:"city"`
	Country   *string `json:"country"`
}

func (p UpdatePayload) fields() db.Fields {
	fields := db.Fields{}
	if p.FirstName != nil {
		fields["firstname"] = *p.FirstName
	}
	if p.LastName != nil {
		fields["lastname"] = *p.LastName
	}
	if p.City != nil {
		fields["city"] = *p.City
	}
	return fields
}

// UpdateRecord patches a record on master and its owning slave. The target
// slave comes from the record's stored country, read under the master row
// lock. An empty patch is a no-op success to keep callers idempotent.
func (c *Coordinator) UpdateRecord(ctx context.Context, id int64, patch UpdatePayload) (*WriteResult, error) {
	start := time.Now()
	telemetry.ActiveWrites.Inc()
	defer func() {
		telemetry.ActiveWrites.Dec()
		telemetry.WriteDurationSeconds.With("update").Observe(time.Since(start).Seconds())
	}()

	masterTx, release, err := c.beginMaster(ctx)
	if err != nil {
		telemetry.WritesTotal.With("update", "aborted").Inc()
		return nil, err
	}
	defer release()

	lockCtx, cancelLock := context.WithTimeout(ctx, c.queryTimeout)
	user, err := db.LockExclusive(lockCtx, masterTx, id)
	cancelLock()
	if err != nil {
		c.abort(masterTx, nil, "update", err)
		return nil, err
	}

	if patch.Country != nil && !strings.EqualFold(strings.TrimSpace(*patch.Country), user.Country) {
		c.abort(masterTx, nil, "update", ErrImmutableShardKey)
		return nil, ErrImmutableShardKey
	}

	fields := patch.fields()
	if len(fields) == 0 {
		// Nothing to write. Release the lock and report the record as-is.
		_ = masterTx.Rollback()
		telemetry.WritesTotal.With("update", "replicated").Inc()
		return &WriteResult{User: user, State: StateBothCommitted}, nil
	}

	now := time.Now().UTC()
	fields["updatedAt"] = now

	updateQuery, updateArgs, err := db.BuildUpdate(id, fields)
	if err != nil {
		c.abort(masterTx, nil, "update", err)
		return nil, err
	}

	if err := c.exec(ctx, masterTx, updateQuery, updateArgs); err != nil {
		c.abort(masterTx, nil, "update", err)
		return nil, err
	}

	applyPatch(user, patch, now)

	slaveID, err := cluster.SlaveIDFor(user.Country)
	if err != nil {
		c.abort(masterTx, nil, "update", err)
		return nil, err
	}

	return c.commitReplicated(ctx, masterTx, "update", user, slaveID, id, updateQuery, updateArgs, true)
}

// DeleteRecord removes a record from master and its owning slave. The
// sharding-key hint covers the partial-failure case: a row that never made
// it to master can still be cleaned off its slave.
func (c *Coordinator) DeleteRecord(ctx context.Context, id int64, shardKeyHint string) (*WriteResult, error) {
	start := time.Now()
	telemetry.ActiveWrites.Inc()
	defer func() {
		telemetry.ActiveWrites.Dec()
		telemetry.WriteDurationSeconds.With("delete").Observe(time.Since(start).Seconds())
	}()

	masterTx, release, err := c.beginMaster(ctx)
	if err != nil {
		telemetry.WritesTotal.With("delete", "aborted").Inc()
		return nil, err
	}
	defer release()

	lockCtx, cancelLock := context.WithTimeout(ctx, c.queryTimeout)
	user, err := db.LockExclusive(lockCtx, masterTx, id)
	cancelLock()

	if errors.Is(err, db.ErrNotFound) {
		_ = masterTx.Rollback()
		return c.deleteOrphan(ctx, id, shardKeyHint)
	}
	if err != nil {
		c.abort(masterTx, nil, "delete", err)
		return nil, err
	}

	deleteQuery, deleteArgs, err := db.BuildDelete(id)
	if err != nil {
		c.abort(masterTx, nil, "delete", err)
		return nil, err
	}

	if err := c.exec(ctx, masterTx, deleteQuery, deleteArgs); err != nil {
		c.abort(masterTx, nil, "delete", err)
		return nil, err
	}

	slaveID, err := cluster.SlaveIDFor(user.Country)
	if err != nil {
		c.abort(masterTx, nil, "delete", err)
		return nil, err
	}

	return c.commitReplicated(ctx, masterTx, "delete", user, slaveID, id, deleteQuery, deleteArgs, true)
}

// deleteOrphan cleans up a record absent from master but possibly present
// on a slave after an earlier partial failure. Master holds no row, so
// there is nothing to commit there; the slave delete either lands now or
// gets queued.
func (c *Coordinator) deleteOrphan(ctx context.Context, id int64, shardKeyHint string) (*WriteResult, error) {
	hint := strings.TrimSpace(shardKeyHint)
	if hint == "" {
		telemetry.WritesTotal.With("delete", "aborted").Inc()
		return nil, db.ErrNotFound
	}

	slaveID, err := cluster.SlaveIDFor(hint)
	if err != nil {
		telemetry.WritesTotal.With("delete", "aborted").Inc()
		return nil, err
	}

	deleteQuery, deleteArgs, err := db.BuildDelete(id)
	if err != nil {
		telemetry.WritesTotal.With("delete", "aborted").Inc()
		return nil, err
	}

	log.Info().Int64("id", id).Int("slave", int(slaveID)).Msg("Record missing on master, cleaning up slave copy via hint")

	if slaveErr := c.applyToSlaveLocked(ctx, slaveID, id, deleteQuery, deleteArgs); slaveErr != nil {
		c.queue.Enqueue(ctx, slaveID, id, deleteQuery, deleteArgs, slaveErr)
		telemetry.WritesTotal.With("delete", "queued").Inc()
		return &WriteResult{State: StateMasterCommittedQueued, QueuedForPartition: slaveID}, nil
	}

	telemetry.WritesTotal.With("delete", "replicated").Inc()
	return &WriteResult{State: StateBothCommitted}, nil
}

// commitReplicated finishes a prepared mutation: apply to the slave and
// commit it, then commit master; on slave failure commit master anyway and
// queue the statement for replay.
func (c *Coordinator) commitReplicated(ctx context.Context, masterTx *sql.Tx, op string, user *db.User,
	slaveID cluster.NodeID, userID int64, query string, args []any, lockSlaveRow bool) (*WriteResult, error) {

	var slaveErr error
	if lockSlaveRow {
		slaveErr = c.applyToSlaveLocked(ctx, slaveID, userID, query, args)
	} else {
		slaveErr = c.applyToSlave(ctx, slaveID, query, args)
	}

	if slaveErr == nil {
		if err := masterTx.Commit(); err != nil {
			log.Error().Err(err).Int64("id", userID).Int("slave", int(slaveID)).Str("op", op).
				Msg("CRITICAL: master commit failed after slave commit - nodes have diverged")
			telemetry.WritesTotal.With(op, "aborted").Inc()
			return nil, &MasterCommitError{Err: err}
		}
		telemetry.WritesTotal.With(op, "replicated").Inc()
		return &WriteResult{User: user, State: StateBothCommitted}, nil
	}

	// Degraded branch: availability of the master-backed read path beats
	// strict two-node atomicity. Commit master, owe the slave its copy.
	if err := masterTx.Commit(); err != nil {
		telemetry.WritesTotal.With(op, "aborted").Inc()
		return nil, &MasterCommitError{Err: err}
	}

	c.queue.Enqueue(ctx, slaveID, userID, query, args, slaveErr)
	telemetry.WritesTotal.With(op, "queued").Inc()
	log.Warn().
		Err(slaveErr).
		Int64("id", userID).
		Str("op", op).
		Int("queued_for", int(slaveID)).
		Msg("Slave write failed, committed master and queued for recovery")

	return &WriteResult{User: user, State: StateMasterCommittedQueued, QueuedForPartition: slaveID}, nil
}

// applyToSlaveLocked is applyToSlave with a row-level exclusive lock taken
// before the mutation, serializing against concurrent writers of the same
// record. A row missing on the slave is tolerated: the mutation simply
// affects nothing there.
func (c *Coordinator) applyToSlaveLocked(ctx context.Context, slaveID cluster.NodeID, userID int64, query string, args []any) error {
	if c.registry.IsSimulatedOffline(slaveID) {
		return &SimulatedOfflineError{NodeID: int(slaveID)}
	}

	slave, err := c.registry.NodeByID(slaveID)
	if err != nil {
		return err
	}

	connectCtx, cancel := context.WithTimeout(ctx, c.connectTimeout)
	defer cancel()

	conn, err := slave.Conn(connectCtx)
	if err != nil {
		return err
	}
	defer conn.Close()

	tx, err := db.Begin(ctx, conn, db.RepeatableRead)
	if err != nil {
		return err
	}

	lockCtx, cancelLock := context.WithTimeout(ctx, c.queryTimeout)
	_, err = db.LockExclusive(lockCtx, tx, userID)
	cancelLock()
	if err != nil && !errors.Is(err, db.ErrNotFound) {
		_ = tx.Rollback()
		return err
	}

	if err := c.exec(ctx, tx, query, args); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func applyPatch(user *db.User, patch UpdatePayload, now time.Time) {
	if patch.FirstName != nil {
		user.FirstName = *patch.FirstName
	}
	if patch.LastName != nil {
		user.LastName = *patch.LastName
	}
	if patch.City != nil {
		user.City = *patch.City
	}
	user.UpdatedAt = now
}
