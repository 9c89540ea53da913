package coordinator

import (
	"errors"
	"fmt"
)

// ErrMissingShardKey is returned when a write payload has no country, the
// attribute that decides which partition owns the record.
var ErrMissingShardKey = errors.New("payload is missing the country sharding key")

// SimulatedOfflineError stands in for the connection failure a genuinely
// dead node would produce when a node is flagged offline for failure
// injection. The message classifies as retryable, same as the real thing.
type SimulatedOfflineError struct {
	NodeID int
}

func (e *SimulatedOfflineError) Error() string {
	return fmt.Sprintf("node %d connection timeout (simulated offline)", e.NodeID)
}

// MasterCommitError wraps a master commit failure. Master is the authority,
// so its unavailability is never masked from the caller.
type MasterCommitError struct {
	Err error
}

func (e *MasterCommitError) Error() string {
	return fmt.Sprintf("master commit failed: %v", e.Err)
}

func (e *MasterCommitError) Unwrap() error {
	return e.Err
}
