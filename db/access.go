package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"
)

// ErrNotFound is returned when a record is absent where one was required.
var ErrNotFound = errors.New("record not found")

// User is the payload entity. Its id is assigned on master under the
// sequence lock and is identical on whichever slave holds the row.
type User struct {
	ID        int64     `json:"id"`
	FirstName string    `json:"firstname"`
	LastName  string    `json:"lastname"`
	City      string    `json:"city"`
	Country   string    `json:"country"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Queryer is the subset of database/sql shared by *sql.Conn, *sql.Tx and
// *sql.DB. The access layer never begins or commits transactions itself;
// it executes against whatever the caller hands it.
type Queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Isolation is a transaction isolation level for coordinated writes.
type Isolation string

const (
	ReadUncommitted Isolation = "READ UNCOMMITTED"
	ReadCommitted   Isolation = "READ COMMITTED"
	RepeatableRead  Isolation = "REPEATABLE READ"
	Serializable    Isolation = "SERIALIZABLE"
)

func (i Isolation) sqlLevel() (sql.IsolationLevel, error) {
	switch i {
	case ReadUncommitted:
		return sql.LevelReadUncommitted, nil
	case ReadCommitted:
		return sql.LevelReadCommitted, nil
	case RepeatableRead:
		return sql.LevelRepeatableRead, nil
	case Serializable:
		return sql.LevelSerializable, nil
	default:
		return 0, fmt.Errorf("unsupported isolation level %q", i)
	}
}

// Begin opens a transaction on the given connection at the requested
// isolation level. Coordinated writes use RepeatableRead so the
// lock-then-insert sequence sees neither non-repeatable reads nor phantoms.
func Begin(ctx context.Context, conn *sql.Conn, level Isolation) (*sql.Tx, error) {
	sqlLevel, err := level.sqlLevel()
	if err != nil {
		return nil, err
	}
	tx, err := conn.BeginTx(ctx, &sql.TxOptions{Isolation: sqlLevel})
	if err != nil {
		return nil, fmt.Errorf("begin %s transaction: %w", level, err)
	}
	return tx, nil
}

var userSelectColumns = []any{"id", "firstname", "lastname", "city", "country", "createdAt", "updatedAt"}

func scanUser(row *sql.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.FirstName, &u.LastName, &u.City, &u.Country, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan user row: %w", err)
	}
	return &u, nil
}

// FindByID reads one record by primary key.
func FindByID(ctx context.Context, q Queryer, id int64) (*User, error) {
	query, args, err := builder.From(UsersTable).
		Prepared(true).
		Select(userSelectColumns...).
		Where(goqu.C("id").Eq(id)).
		ToSQL()
	if err != nil {
		return nil, err
	}
	return scanUser(q.QueryRowContext(ctx, query, args...))
}

// FindByCountry reads up to limit records for one sharding-key value.
func FindByCountry(ctx context.Context, q Queryer, country string, limit int) ([]User, error) {
	query, args, err := builder.From(UsersTable).
		Prepared(true).
		Select(userSelectColumns...).
		Where(goqu.C("country").Eq(country)).
		Order(goqu.C("id").Asc()).
		Limit(uint(limit)).
		ToSQL()
	if err != nil {
		return nil, err
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query users by country: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.FirstName, &u.LastName, &u.City, &u.Country, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan user row: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// LockExclusive takes a row-level exclusive lock on one record and returns
// it. Concurrent lockers block until the holding transaction ends. Must run
// inside an open transaction or the lock is released immediately.
func LockExclusive(ctx context.Context, q Queryer, id int64) (*User, error) {
	query, args, err := builder.From(UsersTable).
		Prepared(true).
		Select(userSelectColumns...).
		Where(goqu.C("id").Eq(id)).
		ForUpdate(exp.Wait).
		ToSQL()
	if err != nil {
		return nil, err
	}
	return scanUser(q.QueryRowContext(ctx, query, args...))
}

// LockForSequence serializes id assignment: it locks the highest-id row so
// only one writer at a time computes maxId+1, and returns that next id.
// Falls back to an aggregate lock when the table is empty.
func LockForSequence(ctx context.Context, q Queryer) (int64, error) {
	query, args, err := builder.From(UsersTable).
		Prepared(true).
		Select("id").
		Order(goqu.C("id").Desc()).
		Limit(1).
		ForUpdate(exp.Wait).
		ToSQL()
	if err != nil {
		return 0, err
	}

	var maxID int64
	err = q.QueryRowContext(ctx, query, args...).Scan(&maxID)
	if errors.Is(err, sql.ErrNoRows) {
		// Empty table: lock via the aggregate so two first-writers still serialize
		row := q.QueryRowContext(ctx, "SELECT COALESCE(MAX(id), 0) FROM users FOR UPDATE")
		if err := row.Scan(&maxID); err != nil {
			return 0, fmt.Errorf("sequence lock on empty table: %w", err)
		}
		return maxID + 1, nil
	}
	if err != nil {
		return 0, fmt.Errorf("sequence lock: %w", err)
	}
	return maxID + 1, nil
}

// Insert writes one row built from the given fields. Nothing commits here.
func Insert(ctx context.Context, q Queryer, fields Fields) error {
	query, args, err := BuildInsert(fields)
	if err != nil {
		return err
	}
	if _, err := q.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// Update patches one row. An empty patch is a no-op success, which keeps
// callers idempotent. Returns the number of rows affected.
func Update(ctx context.Context, q Queryer, id int64, fields Fields) (int64, error) {
	query, args, err := BuildUpdate(id, fields)
	if errors.Is(err, ErrNoFields) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("update user %d: %w", id, err)
	}
	return res.RowsAffected()
}

// Delete removes one row. Returns the number of rows affected.
func Delete(ctx context.Context, q Queryer, id int64) (int64, error) {
	query, args, err := BuildDelete(id)
	if err != nil {
		return 0, err
	}

	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("delete user %d: %w", id, err)
	}
	return res.RowsAffected()
}
