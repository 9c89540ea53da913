package cluster

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog/log"

	"github.com/relicadb/relica/cfg"
)

// NodeID identifies a database node. 0 is the master, 1 and 2 the partition slaves.
type NodeID int

const (
	MasterNode NodeID = 0
	Slave1     NodeID = 1
	Slave2     NodeID = 2
)

// Node is a logical database endpoint: a role, a bounded connection pool
// and a simulated on/off flag used for failure injection.
type Node struct {
	ID   NodeID
	Role cfg.NodeRole
	DB   *sql.DB
}

// Conn checks a single connection out of the node's pool, bounded by ctx.
// The caller owns the connection and must Close it back to the pool.
func (n *Node) Conn(ctx context.Context) (*sql.Conn, error) {
	conn, err := n.DB.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("node %d: acquire connection: %w", n.ID, err)
	}
	return conn, nil
}

// Registry holds the fixed three-node topology and the simulated node state.
// Node assignment never changes at runtime; the only mutable state here is
// the failure-injection flags.
type Registry struct {
	nodes     [3]*Node
	simulated *xsync.MapOf[NodeID, bool] // true = simulated offline
}

// NewRegistry opens a bounded pool per configured node and builds the registry.
// Pools are opened lazily; no connection is attempted here.
func NewRegistry(conf *cfg.Configuration) (*Registry, error) {
	r := &Registry{simulated: xsync.NewMapOf[NodeID, bool]()}

	for i, nodeConf := range conf.Nodes {
		db, err := sql.Open("mysql", nodeConf.DSN())
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("node %d: open pool: %w", i, err)
		}
		db.SetMaxOpenConns(conf.Pool.MaxOpenConns)
		db.SetMaxIdleConns(conf.Pool.MaxIdleConns)
		db.SetConnMaxIdleTime(time.Duration(conf.Pool.MaxIdleTimeSeconds) * time.Second)
		db.SetConnMaxLifetime(time.Duration(conf.Pool.MaxLifetimeSeconds) * time.Second)

		role := cfg.RoleSlave
		if i == 0 {
			role = cfg.RoleMaster
		}
		r.nodes[i] = &Node{ID: NodeID(i), Role: role, DB: db}
	}

	log.Info().
		Str("master", conf.Nodes[0].Host).
		Str("slave1", conf.Nodes[1].Host).
		Str("slave2", conf.Nodes[2].Host).
		Msg("Node registry initialized")

	return r, nil
}

// NewRegistryFromDBs builds a registry over already-open pools. Used by tests
// and by callers that manage pool lifecycle themselves.
func NewRegistryFromDBs(master, slave1, slave2 *sql.DB) *Registry {
	return &Registry{
		nodes: [3]*Node{
			{ID: MasterNode, Role: cfg.RoleMaster, DB: master},
			{ID: Slave1, Role: cfg.RoleSlave, DB: slave1},
			{ID: Slave2, Role: cfg.RoleSlave, DB: slave2},
		},
		simulated: xsync.NewMapOf[NodeID, bool](),
	}
}

// Master returns the authoritative node holding the full dataset.
func (r *Registry) Master() *Node {
	return r.nodes[MasterNode]
}

// NodeByID returns the node with the given id.
func (r *Registry) NodeByID(id NodeID) (*Node, error) {
	if id < MasterNode || id > Slave2 {
		return nil, &UnknownNodeError{ID: id}
	}
	return r.nodes[id], nil
}

// Slaves returns the partition nodes in id order.
func (r *Registry) Slaves() []*Node {
	return []*Node{r.nodes[Slave1], r.nodes[Slave2]}
}

// SetSimulatedOffline flips the failure-injection flag for a node.
// The write path consults it; the recovery monitor deliberately does not.
func (r *Registry) SetSimulatedOffline(id NodeID, offline bool) error {
	if _, err := r.NodeByID(id); err != nil {
		return err
	}
	r.simulated.Store(id, offline)
	log.Info().Int("node", int(id)).Bool("offline", offline).Msg("Simulated node state changed")
	return nil
}

// IsSimulatedOffline reports whether a node is flagged offline for testing.
func (r *Registry) IsSimulatedOffline(id NodeID) bool {
	offline, ok := r.simulated.Load(id)
	return ok && offline
}

// Close releases every pool. Safe to call on a partially-built registry.
func (r *Registry) Close() error {
	var lastErr error
	for _, node := range r.nodes {
		if node != nil && node.DB != nil {
			if err := node.DB.Close(); err != nil {
				lastErr = err
			}
		}
	}
	return lastErr
}
