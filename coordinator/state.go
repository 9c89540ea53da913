package coordinator

import (
	"github.com/relicadb/relica/cluster"
	"github.com/relicadb/relica/db"
)

// WriteState tracks a coordinated write through its lifecycle. This is not
// a two-phase commit: there is no recoverable prepared state across nodes.
// It is synchronous replication with an asynchronous fallback, and the
// states make the degraded path explicit instead of pretending atomicity.
type WriteState string

const (
	// StateInit: nothing touched yet. Validation failures abort from here.
	StateInit WriteState = "INIT"

	// StateMasterPrepared: master transaction holds the write, uncommitted.
	StateMasterPrepared WriteState = "MASTER_PREPARED"

	// StateSlavePrepared: slave transaction holds the same write.
	StateSlavePrepared WriteState = "SLAVE_PREPARED"

	// StateBothCommitted: the fully replicated success outcome.
	StateBothCommitted WriteState = "BOTH_COMMITTED"

	// StateMasterCommittedQueued: the degraded success outcome. Master has
	// the row, the slave's copy is owed via the recovery queue.
	StateMasterCommittedQueued WriteState = "MASTER_COMMITTED_QUEUED"

	// StateAborted: both transactions rolled back. Only reachable while
	// master has not committed; this is the only caller-visible failure.
	StateAborted WriteState = "ABORTED"
)

// WriteResult is the outcome of one coordinated write.
type WriteResult struct {
	User  *db.User   `json:"user,omitempty"`
	State WriteState `json:"state"`

	// QueuedForPartition is set on the degraded path: the slave that still
	// owes this write. Zero means the write reached both nodes.
	QueuedForPartition cluster.NodeID `json:"queuedForPartition,omitempty"`
}

// Degraded reports whether the write took the commit-master-queue-slave path.
func (r *WriteResult) Degraded() bool {
	return r.State == StateMasterCommittedQueued
}
