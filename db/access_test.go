package db

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
)

var userRowColumns = []string{"id", "firstname", "lastname", "city", "country", "createdAt", "updatedAt"}

func userRow(mock sqlmock.Sqlmock, id int64, country string) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows(userRowColumns).
		AddRow(id, "Ada", "Lovelace", "London", country, now, now)
}

func TestFindByID(t *testing.T) {
	pool, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer pool.Close()

	mock.ExpectQuery("SELECT .+ FROM .users. WHERE").
		WithArgs(int64(7)).
		WillReturnRows(userRow(mock, 7, "UK"))

	u, err := FindByID(context.Background(), pool, 7)
	require.NoError(t, err)
	require.Equal(t, int64(7), u.ID)
	require.Equal(t, "UK", u.Country)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindByIDNotFound(t *testing.T) {
	pool, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer pool.Close()

	mock.ExpectQuery("SELECT .+ FROM .users. WHERE").
		WithArgs(int64(404)).
		WillReturnRows(sqlmock.NewRows(userRowColumns))

	_, err = FindByID(context.Background(), pool, 404)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestFindByCountry(t *testing.T) {
	pool, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer pool.Close()

	now := time.Now()
	rows := sqlmock.NewRows(userRowColumns).
		AddRow(1, "Hans", "Meyer", "Berlin", "Germany", now, now).
		AddRow(4, "Greta", "Schulz", "Hamburg", "Germany", now, now)

	mock.ExpectQuery("SELECT .+ FROM .users. WHERE .+ LIMIT").
		WithArgs("Germany", sqlmock.AnyArg()).
		WillReturnRows(rows)

	users, err := FindByCountry(context.Background(), pool, "Germany", 50)
	require.NoError(t, err)
	require.Len(t, users, 2)
	require.Equal(t, int64(1), users[0].ID)
	require.Equal(t, "Hamburg", users[1].City)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLockExclusive(t *testing.T) {
	pool, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer pool.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT .+ FROM .users. WHERE .+ FOR UPDATE").
		WithArgs(int64(7)).
		WillReturnRows(userRow(mock, 7, "UK"))

	tx, err := pool.BeginTx(context.Background(), nil)
	require.NoError(t, err)

	u, err := LockExclusive(context.Background(), tx, 7)
	require.NoError(t, err)
	require.Equal(t, int64(7), u.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLockExclusiveMissingRow(t *testing.T) {
	pool, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer pool.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT .+ FOR UPDATE").
		WithArgs(int64(9)).
		WillReturnRows(sqlmock.NewRows(userRowColumns))

	tx, err := pool.BeginTx(context.Background(), nil)
	require.NoError(t, err)

	_, err = LockExclusive(context.Background(), tx, 9)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestLockForSequence(t *testing.T) {
	pool, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer pool.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT .id. FROM .users. ORDER BY .id. DESC LIMIT .+ FOR UPDATE").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(41))

	tx, err := pool.BeginTx(context.Background(), nil)
	require.NoError(t, err)

	next, err := LockForSequence(context.Background(), tx)
	require.NoError(t, err)
	require.Equal(t, int64(42), next)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLockForSequenceEmptyTable(t *testing.T) {
	pool, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer pool.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT .id. FROM .users. ORDER BY").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectQuery("SELECT COALESCE\\(MAX\\(id\\), 0\\) FROM users FOR UPDATE").
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(0))

	tx, err := pool.BeginTx(context.Background(), nil)
	require.NoError(t, err)

	next, err := LockForSequence(context.Background(), tx)
	require.NoError(t, err)
	require.Equal(t, int64(1), next)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertExecutes(t *testing.T) {
	pool, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer pool.Close()

	mock.ExpectExec("INSERT INTO .users.").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = Insert(context.Background(), pool, Fields{
		"id":        int64(1),
		"firstname": "Ada",
		"lastname":  "Lovelace",
		"city":      "London",
		"country":   "UK",
		"createdAt": time.Now(),
		"updatedAt": time.Now(),
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateEmptyPatchIsNoop(t *testing.T) {
	pool, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer pool.Close()

	// No expectations: the empty patch must never reach the database
	affected, err := Update(context.Background(), pool, 1, Fields{})
	require.NoError(t, err)
	require.Zero(t, affected)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateReportsAffectedRows(t *testing.T) {
	pool, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer pool.Close()

	mock.ExpectExec("UPDATE .users. SET").
		WillReturnResult(sqlmock.NewResult(0, 1))

	affected, err := Update(context.Background(), pool, 1, Fields{"city": "Berlin"})
	require.NoError(t, err)
	require.Equal(t, int64(1), affected)
}

func TestDeleteReportsAffectedRows(t *testing.T) {
	pool, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer pool.Close()

	mock.ExpectExec("DELETE FROM .users.").
		WithArgs(int64(9)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	affected, err := Delete(context.Background(), pool, 9)
	require.NoError(t, err)
	require.Equal(t, int64(1), affected)
}

func TestBeginAppliesIsolation(t *testing.T) {
	tests := []struct {
		level Isolation
		want  sql.IsolationLevel
	}{
		{ReadUncommitted, sql.LevelReadUncommitted},
		{ReadCommitted, sql.LevelReadCommitted},
		{RepeatableRead, sql.LevelRepeatableRead},
		{Serializable, sql.LevelSerializable},
	}

	for _, tt := range tests {
		t.Run(string(tt.level), func(t *testing.T) {
			got, err := tt.level.sqlLevel()
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}

	_, err := Isolation("SNAPSHOT").sqlLevel()
	require.Error(t, err)
}
