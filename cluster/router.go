package cluster

import (
	"fmt"
	"strings"
)

// Partition routing: records are split alphabetically by country. Countries
// whose uppercased first letter sorts before 'M' live on slave 1, the rest
// on slave 2. This function is the single routing implementation; nothing
// else in the codebase may re-derive the boundary.

// InvalidRoutingError is returned when a sharding key cannot be routed.
type InvalidRoutingError struct {
	Key string
}

func (e *InvalidRoutingError) Error() string {
	return fmt.Sprintf("cannot route empty sharding key %q", e.Key)
}

// UnknownNodeError is returned when a node id outside the topology is requested.
type UnknownNodeError struct {
	ID NodeID
}

func (e *UnknownNodeError) Error() string {
	return fmt.Sprintf("unknown node id %d (valid: 0, 1, 2)", e.ID)
}

// SlaveIDFor maps a sharding key to its partition node id (1 or 2).
// Deterministic and total for every non-empty key.
func SlaveIDFor(key string) (NodeID, error) {
	trimmed := strings.TrimSpace(key)
	if trimmed == "" {
		return 0, &InvalidRoutingError{Key: key}
	}

	first := strings.ToUpper(trimmed)[0]
	if first < 'M' {
		return Slave1, nil
	}
	return Slave2, nil
}

// SlaveFor resolves the sharding key to its partition node handle.
func (r *Registry) SlaveFor(key string) (*Node, error) {
	id, err := SlaveIDFor(key)
	if err != nil {
		return nil, err
	}
	return r.nodes[id], nil
}
