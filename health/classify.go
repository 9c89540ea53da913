package health

import (
	"context"
	"database/sql/driver"
	"errors"
	"net"
	"strings"
	"syscall"

	"github.com/go-sql-driver/mysql"
)

// Class labels a failure by what the caller should do about it.
type Class int

const (
	// Unknown failures get the benefit of the doubt and are retried,
	// but are labeled distinctly for the queue ledger.
	Unknown Class = iota
	// Retryable failures are infrastructure hiccups: timeouts, resets,
	// refused or lost connections, lock waits and deadlocks.
	Retryable
	// Permanent failures will not succeed on retry: duplicate keys,
	// constraint violations, permissions, malformed statements.
	Permanent
)

func (c Class) String() string {
	switch c {
	case Retryable:
		return "retryable"
	case Permanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// MySQL server error numbers that classify cleanly.
const (
	erDupEntry        = 1062
	erNoReferencedRow = 1452
	erRowIsReferenced = 1451
	erAccessDenied    = 1045
	erDBAccessDenied  = 1044
	erBadDB           = 1049
	erParseError      = 1064
	erNoSuchTable     = 1146
	erLockWaitTimeout = 1205
	erLockDeadlock    = 1213
)

// IsDuplicateKey reports whether err is a MySQL duplicate-key violation.
// During queue drains a duplicate key means the row already made it to the
// slave, so callers treat it as success.
func IsDuplicateKey(err error) bool {
	var mysqlErr *mysql.MySQLError
	return errors.As(err, &mysqlErr) && mysqlErr.Number == erDupEntry
}

// Classify labels an error Retryable, Permanent or Unknown.
func Classify(err error) Class {
	if err == nil {
		return Unknown
	}

	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		switch mysqlErr.Number {
		case erDupEntry, erNoReferencedRow, erRowIsReferenced,
			erAccessDenied, erDBAccessDenied, erBadDB, erParseError, erNoSuchTable:
			return Permanent
		case erLockWaitTimeout, erLockDeadlock:
			return Retryable
		}
		return Unknown
	}

	if errors.Is(err, mysql.ErrInvalidConn) || errors.Is(err, driver.ErrBadConn) {
		return Retryable
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Retryable
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) {
		return Retryable
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Retryable
	}

	if strings.Contains(strings.ToLower(err.Error()), "timeout") {
		return Retryable
	}

	return Unknown
}
