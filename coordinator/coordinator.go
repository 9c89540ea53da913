package coordinator

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/relicadb/relica/cluster"
	"github.com/relicadb/relica/db"
	"github.com/relicadb/relica/recovery"
	"github.com/relicadb/relica/telemetry"
)

// Coordinator applies each mutation to master and the owning slave under
// pessimistic locking. When the slave is unavailable it degrades: master
// commits, the slave's copy is recorded in the recovery queue, and the
// caller sees a success that names the partition still owed the write.
//
// Master commits are never masked: if master itself cannot take the write,
// the whole operation aborts and the error surfaces.
type Coordinator struct {
	registry       *cluster.Registry
	queue          *recovery.Queue
	connectTimeout time.Duration
	queryTimeout   time.Duration
}

// New creates a write coordinator over the given topology and recovery queue.
func New(registry *cluster.Registry, queue *recovery.Queue, connectTimeout, queryTimeout time.Duration) *Coordinator {
	return &Coordinator{
		registry:       registry,
		queue:          queue,
		connectTimeout: connectTimeout,
		queryTimeout:   queryTimeout,
	}
}

// CreatePayload is a new record as supplied by the caller. There is no id
// field on purpose: ids are assigned on master under the sequence lock, and
// any caller-supplied id is dropped before the payload reaches this type.
type CreatePayload struct {
	FirstName string `json:"firstname"`
	LastName  string `json:"lastname"`
	City      string `json:"city"`
	Country   string `json:"country"`
}

// CreateRecord inserts a record on master and its owning slave.
//
// Master work happens first inside a REPEATABLE READ transaction: the
// sequence lock serializes id assignment, then the row is inserted but not
// committed. The slave leg then runs in its own transaction and commits; if
// it fails for any reason master still commits and the insert is queued for
// replay. Only a failure before master's commit is visible to the caller.
func (c *Coordinator) CreateRecord(ctx context.Context, payload CreatePayload) (*WriteResult, error) {
	start := time.Now()
	telemetry.ActiveWrites.Inc()
	defer func() {
		telemetry.ActiveWrites.Dec()
		telemetry.WriteDurationSeconds.With("create").Observe(time.Since(start).Seconds())
	}()

	country := strings.TrimSpace(payload.Country)
	if country == "" {
		telemetry.WritesTotal.With("create", "aborted").Inc()
		return nil, ErrMissingShardKey
	}

	slaveID, err := cluster.SlaveIDFor(country)
	if err != nil {
		telemetry.WritesTotal.With("create", "aborted").Inc()
		return nil, err
	}

	masterTx, release, err := c.beginMaster(ctx)
	if err != nil {
		telemetry.WritesTotal.With("create", "aborted").Inc()
		return nil, err
	}
	defer release()

	lockStart := time.Now()
	seqCtx, cancelSeq := context.WithTimeout(ctx, c.queryTimeout)
	newID, err := db.LockForSequence(seqCtx, masterTx)
	cancelSeq()
	telemetry.SequenceLockWaitSeconds.Observe(time.Since(lockStart).Seconds())
	if err != nil {
		c.abort(masterTx, nil, "create", err)
		return nil, err
	}

	now := time.Now().UTC()
	user := &db.User{
		ID:        newID,
		FirstName: payload.FirstName,
		LastName:  payload.LastName,
		City:      payload.City,
		Country:   country,
		CreatedAt: now,
		UpdatedAt: now,
	}

	insertQuery, insertArgs, err := db.BuildInsert(db.Fields{
		"id":        user.ID,
		"firstname": user.FirstName,
		"lastname":  user.LastName,
		"city":      user.City,
		"country":   user.Country,
		"createdAt": user.CreatedAt,
		"updatedAt": user.UpdatedAt,
	})
	if err != nil {
		c.abort(masterTx, nil, "create", err)
		return nil, err
	}

	if err := c.exec(ctx, masterTx, insertQuery, insertArgs); err != nil {
		c.abort(masterTx, nil, "create", err)
		return nil, err
	}

	log.Debug().Int64("id", user.ID).Str("state", string(StateMasterPrepared)).Msg("Master holds uncommitted insert")

	// Fresh inserts need no slave row lock; the row does not exist there yet.
	return c.commitReplicated(ctx, masterTx, "create", user, slaveID, user.ID, insertQuery, insertArgs, false)
}

// beginMaster checks a master connection out and opens a REPEATABLE READ
// transaction on it. The returned release func rolls back if the
// transaction was not committed and always returns the connection.
func (c *Coordinator) beginMaster(ctx context.Context) (*sql.Tx, func(), error) {
	connectCtx, cancel := context.WithTimeout(ctx, c.connectTimeout)
	defer cancel()

	conn, err := c.registry.Master().Conn(connectCtx)
	if err != nil {
		return nil, nil, err
	}

	tx, err := db.Begin(ctx, conn, db.RepeatableRead)
	if err != nil {
		conn.Close()
		return nil, nil, err
	}

	release := func() {
		// Rollback after commit is a documented no-op error.
		_ = tx.Rollback()
		conn.Close()
	}
	return tx, release, nil
}

// applyToSlave runs one statement against the slave in its own REPEATABLE
// READ transaction and commits it. Any failure, simulated offline included,
// is reported to the caller for the degraded branch.
func (c *Coordinator) applyToSlave(ctx context.Context, slaveID cluster.NodeID, query string, args []any) error {
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

	if err := c.exec(ctx, tx, query, args); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (c *Coordinator) exec(ctx context.Context, tx *sql.Tx, query string, args []any) error {
	execCtx, cancel := context.WithTimeout(ctx, c.queryTimeout)
	defer cancel()
	_, err := tx.ExecContext(execCtx, query, args...)
	return err
}

// abort rolls back whatever transactions were opened. Reachable only while
// master has not committed, so the caller-visible error is accurate.
func (c *Coordinator) abort(masterTx, slaveTx *sql.Tx, op string, cause error) {
	if slaveTx != nil {
		_ = slaveTx.Rollback()
	}
	if masterTx != nil {
		_ = masterTx.Rollback()
	}
	telemetry.WritesTotal.With(op, "aborted").Inc()
	log.Debug().Err(cause).Str("op", op).Str("state", string(StateAborted)).Msg("Coordinated write aborted")
}
