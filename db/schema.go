package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rs/zerolog/log"
)

// UsersTable holds the sharded payload records. Present on every node;
// each slave holds only the rows its partition owns, master holds all.
const UsersTable = "users"

// RecoveryQueueTable is the durable ledger of writes owed to a slave.
// Lives exclusively on the master node.
const RecoveryQueueTable = "recovery_queue"

const usersDDL = `CREATE TABLE IF NOT EXISTS users (
	id INT NOT NULL,
	firstname VARCHAR(255) NOT NULL,
	lastname VARCHAR(255) NOT NULL,
	city VARCHAR(255) NOT NULL,
	country VARCHAR(255) NOT NULL,
	createdAt DATETIME NOT NULL,
	updatedAt DATETIME NOT NULL,
	PRIMARY KEY (id)
)`

const recoveryQueueDDL = `CREATE TABLE IF NOT EXISTS recovery_queue (
	id INT NOT NULL AUTO_INCREMENT,
	target_partition INT NOT NULL,
	user_id INT NOT NULL,
	query_text TEXT NOT NULL,
	params_json TEXT NOT NULL,
	attempt_count INT NOT NULL DEFAULT 1,
	last_error TEXT,
	error_type VARCHAR(32),
	queued_at DATETIME NOT NULL,
	last_attempt_at DATETIME NOT NULL,
	status ENUM('pending','processing','completed','failed') NOT NULL DEFAULT 'pending',
	PRIMARY KEY (id),
	INDEX idx_partition_status (target_partition, status),
	INDEX idx_user (user_id)
)`

// EnsureSchema creates the tables a node needs. Every node carries the
// users table; only the master carries the recovery queue.
func EnsureSchema(ctx context.Context, pool *sql.DB, isMaster bool) error {
	if _, err := pool.ExecContext(ctx, usersDDL); err != nil {
		return fmt.Errorf("create users table: %w", err)
	}

	if isMaster {
		if _, err := pool.ExecContext(ctx, recoveryQueueDDL); err != nil {
			return fmt.Errorf("create recovery_queue table: %w", err)
		}
	}

	log.Debug().Bool("master", isMaster).Msg("Schema ensured")
	return nil
}
