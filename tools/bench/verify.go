package main

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/relicadb/relica/cluster"
)

// RowMismatch describes one record whose slave copy diverges from master.
type RowMismatch struct {
	ID     int64
	Slave  cluster.NodeID
	Master string
	Found  string // slave checksum or "NOT FOUND"
}

// VerifyResult holds the consistency check outcome.
type VerifyResult struct {
	MasterRows     int64
	SlaveRows      [2]int64
	SampledRows    int
	MatchedRows    int
	MismatchedRows int
	MisplacedRows  int64
	Mismatches     []RowMismatch
}

// Verifier checks that every master record has an identical copy on exactly
// the slave that owns its country partition.
type Verifier struct {
	nodes   [3]*sql.DB
	hosts   []string
	samples int
	timeout time.Duration
}

// NewVerifier opens direct connections to master, slave 1 and slave 2.
func NewVerifier(conf *Config) (*Verifier, error) {
	v := &Verifier{
		hosts:   conf.hostList,
		samples: conf.Samples,
		timeout: conf.Timeout,
	}

	for i, host := range conf.hostList {
		dsn := fmt.Sprintf("%s:%s@tcp(%s)/%s", conf.User, conf.Password, host, conf.Database)
		db, err := sql.Open("mysql", dsn)
		if err != nil {
			v.Close()
			return nil, fmt.Errorf("open connection to %s: %w", host, err)
		}
		if err := db.Ping(); err != nil {
			v.Close()
			return nil, fmt.Errorf("ping %s: %w", host, err)
		}
		v.nodes[i] = db
	}
	return v, nil
}

// Close closes all node connections.
func (v *Verifier) Close() error {
	var lastErr error
	for _, db := range v.nodes {
		if db != nil {
			if err := db.Close(); err != nil {
				lastErr = err
			}
		}
	}
	return lastErr
}

const rowChecksumQuery = "SELECT id, country, MD5(CONCAT_WS('|', firstname, lastname, city, country)) FROM users ORDER BY RAND() LIMIT ?"

// Verify runs the consistency check: row counts per node, then a random
// sample of master rows compared against their owning slave.
func (v *Verifier) Verify(ctx context.Context) (*VerifyResult, error) {
	result := &VerifyResult{}

	if err := v.countRows(ctx, result); err != nil {
		return nil, err
	}
	if result.SlaveRows[0]+result.SlaveRows[1] > result.MasterRows {
		// More rows across the slaves than master holds means something is
		// either duplicated or was deleted from master only.
		result.MisplacedRows = result.SlaveRows[0] + result.SlaveRows[1] - result.MasterRows
	}

	queryCtx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	rows, err := v.nodes[cluster.MasterNode].QueryContext(queryCtx, rowChecksumQuery, v.samples)
	if err != nil {
		return nil, fmt.Errorf("sample master rows: %w", err)
	}
	defer rows.Close()

	type sampled struct {
		id       int64
		country  string
		checksum string
	}
	var sample []sampled
	for rows.Next() {
		var s sampled
		if err := rows.Scan(&s.id, &s.country, &s.checksum); err != nil {
			return nil, fmt.Errorf("scan sampled row: %w", err)
		}
		sample = append(sample, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	result.SampledRows = len(sample)
	for _, s := range sample {
		slaveID, err := cluster.SlaveIDFor(s.country)
		if err != nil {
			return nil, fmt.Errorf("row %d has unroutable country %q: %w", s.id, s.country, err)
		}

		found, err := v.slaveChecksum(ctx, slaveID, s.id)
		if err != nil {
			return nil, err
		}

		if found == s.checksum {
			result.MatchedRows++
			continue
		}
		result.MismatchedRows++
		if len(result.Mismatches) < 10 {
			result.Mismatches = append(result.Mismatches, RowMismatch{
				ID:     s.id,
				Slave:  slaveID,
				Master: s.checksum,
				Found:  found,
			})
		}
	}

	return result, nil
}

func (v *Verifier) countRows(ctx context.Context, result *VerifyResult) error {
	for i, db := range v.nodes {
		queryCtx, cancel := context.WithTimeout(ctx, v.timeout)
		var count int64
		err := db.QueryRowContext(queryCtx, "SELECT COUNT(*) FROM users").Scan(&count)
		cancel()
		if err != nil {
			return fmt.Errorf("count rows on %s: %w", v.hosts[i], err)
		}
		if i == 0 {
			result.MasterRows = count
		} else {
			result.SlaveRows[i-1] = count
		}
	}
	return nil
}

func (v *Verifier) slaveChecksum(ctx context.Context, slaveID cluster.NodeID, id int64) (string, error) {
	queryCtx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	var checksum string
	err := v.nodes[slaveID].QueryRowContext(queryCtx,
		"SELECT MD5(CONCAT_WS('|', firstname, lastname, city, country)) FROM users WHERE id = ?", id,
	).Scan(&checksum)
	if err == sql.ErrNoRows {
		return "NOT FOUND", nil
	}
	if err != nil {
		return "", fmt.Errorf("checksum row %d on slave %d: %w", id, slaveID, err)
	}
	return checksum, nil
}

// PrintResult renders the verification report.
func (r *VerifyResult) PrintResult() {
	fmt.Println()
	fmt.Println("Row counts:")
	fmt.Printf("  master:  %d\n", r.MasterRows)
	fmt.Printf("  slave 1: %d\n", r.SlaveRows[0])
	fmt.Printf("  slave 2: %d\n", r.SlaveRows[1])
	if r.MisplacedRows > 0 {
		fmt.Printf("  WARNING: slaves hold %d more rows than master\n", r.MisplacedRows)
	}
	fmt.Println()
	fmt.Printf("Sampled:    %d\n", r.SampledRows)
	fmt.Printf("Matched:    %d\n", r.MatchedRows)
	fmt.Printf("Mismatched: %d\n", r.MismatchedRows)

	for _, m := range r.Mismatches {
		fmt.Printf("  row %d on slave %d: master=%s found=%s\n", m.ID, m.Slave, m.Master, m.Found)
	}

	if r.MismatchedRows == 0 && r.MisplacedRows == 0 {
		fmt.Println("\nConsistency check PASSED")
	} else {
		fmt.Println("\nConsistency check FAILED")
	}
}
