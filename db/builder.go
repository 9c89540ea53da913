package db

import (
	"errors"
	"fmt"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/mysql"
)

// Statements are built through goqu against a fixed column set, so a field
// name that is not part of the users schema is rejected before any SQL is
// rendered. Values always travel as placeholders.

var builder = goqu.Dialect("mysql")

// Fields is a column-name/value map for dynamic insert and update statements.
type Fields = goqu.Record

// ErrNoFields is returned when an insert carries no columns at all.
var ErrNoFields = errors.New("no fields to write")

// UnknownColumnError is returned when a field name is not part of the users schema.
type UnknownColumnError struct {
	Column string
}

func (e *UnknownColumnError) Error() string {
	return fmt.Sprintf("unknown users column %q", e.Column)
}

// userColumns is the complete writable column set of the users table.
var userColumns = map[string]bool{
	"id":        true,
	"firstname": true,
	"lastname":  true,
	"city":      true,
	"country":   true,
	"createdAt": true,
	"updatedAt": true,
}

func validateColumns(fields Fields) error {
	for col := range fields {
		if !userColumns[col] {
			return &UnknownColumnError{Column: col}
		}
	}
	return nil
}

// BuildInsert renders a parameterized INSERT for the users table.
func BuildInsert(fields Fields) (string, []any, error) {
	if len(fields) == 0 {
		return "", nil, ErrNoFields
	}
	if err := validateColumns(fields); err != nil {
		return "", nil, err
	}

	return builder.Insert(UsersTable).Prepared(true).Rows(fields).ToSQL()
}

// BuildUpdate renders a parameterized UPDATE for one users row.
// An empty patch yields ErrNoFields; callers treat that as a no-op.
func BuildUpdate(id int64, fields Fields) (string, []any, error) {
	if len(fields) == 0 {
		return "", nil, ErrNoFields
	}
	if err := validateColumns(fields); err != nil {
		return "", nil, err
	}

	return builder.Update(UsersTable).
		Prepared(true).
		Set(fields).
		Where(goqu.C("id").Eq(id)).
		ToSQL()
}

// BuildDelete renders a parameterized DELETE for one users row.
func BuildDelete(id int64) (string, []any, error) {
	return builder.Delete(UsersTable).
		Prepared(true).
		Where(goqu.C("id").Eq(id)).
		ToSQL()
}
