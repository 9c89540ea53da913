package coordinator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relicadb/relica/cluster"
	"github.com/relicadb/relica/recovery"
)

var userCols = []string{"id", "firstname", "lastname", "city", "country", "createdAt", "updatedAt"}

// Statement patterns for the ordered mock expectations. Values always travel
// as placeholders, so matching on shape is enough.
const (
	sequenceLockPattern  = "ORDER BY `id` DESC LIMIT . FOR UPDATE"
	rowLockPattern       = "WHERE \\(`id` = .\\) FOR UPDATE"
	insertUserPattern    = "INSERT INTO `users`"
	updateUserPattern    = "UPDATE `users` SET"
	deleteUserPattern    = "DELETE FROM `users`"
	enqueuePattern       = "INSERT INTO `recovery_queue`"
	emptySequencePattern = "SELECT COALESCE\\(MAX\\(id\\), 0\\) FROM users FOR UPDATE"
)

type mockTopology struct {
	registry *cluster.Registry
	coord    *Coordinator
	master   sqlmock.Sqlmock
	slave1   sqlmock.Sqlmock
	slave2   sqlmock.Sqlmock
}

func newMockTopology(t *testing.T) *mockTopology {
	t.Helper()

	masterDB, master, err := sqlmock.New()
	require.NoError(t, err)
	slave1DB, slave1, err := sqlmock.New()
	require.NoError(t, err)
	slave2DB, slave2, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		masterDB.Close()
		slave1DB.Close()
		slave2DB.Close()
	})

	registry := cluster.NewRegistryFromDBs(masterDB, slave1DB, slave2DB)
	queue := recovery.NewQueue(registry, 2*time.Second, 10, time.Millisecond)
	coord := New(registry, queue, 2*time.Second, 2*time.Second)

	return &mockTopology{registry: registry, coord: coord, master: master, slave1: slave1, slave2: slave2}
}

func (m *mockTopology) verify(t *testing.T) {
	t.Helper()
	assert.NoError(t, m.master.ExpectationsWereMet())
	assert.NoError(t, m.slave1.ExpectationsWereMet())
	assert.NoError(t, m.slave2.ExpectationsWereMet())
}

func sampleUserRow(id int64, country string) *sqlmock.Rows {
	now := time.Now().UTC()
	return sqlmock.NewRows(userCols).AddRow(id, "Ada", "Lovelace", "London", country, now, now)
}

func TestCreateRecordReplicatesToOwningSlave(t *testing.T) {
	top := newMockTopology(t)

	top.master.ExpectBegin()
	top.master.ExpectQuery(sequenceLockPattern).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(41)))
	top.master.ExpectExec(insertUserPattern).WillReturnResult(sqlmock.NewResult(0, 1))

	top.slave1.ExpectBegin()
	top.slave1.ExpectExec(insertUserPattern).WillReturnResult(sqlmock.NewResult(0, 1))
	top.slave1.ExpectCommit()

	top.master.ExpectCommit()

	result, err := top.coord.CreateRecord(context.Background(), CreatePayload{
		FirstName: "Hans", LastName: "Meyer", City: "Berlin", Country: "Germany",
	})
	require.NoError(t, err)

	assert.Equal(t, int64(42), result.User.ID)
	assert.Equal(t, "Germany", result.User.Country)
	assert.Equal(t, StateBothCommitted, result.State)
	assert.False(t, result.Degraded())
	top.verify(t)
}

func TestCreateRecordDegradesWhenSlaveUnavailable(t *testing.T) {
	top := newMockTopology(t)
	require.NoError(t, top.registry.SetSimulatedOffline(cluster.Slave1, true))

	top.master.ExpectBegin()
	top.master.ExpectQuery(sequenceLockPattern).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(9)))
	top.master.ExpectExec(insertUserPattern).WillReturnResult(sqlmock.NewResult(0, 1))
	top.master.ExpectCommit()
	top.master.ExpectExec(enqueuePattern).WillReturnResult(sqlmock.NewResult(1, 1))

	result, err := top.coord.CreateRecord(context.Background(), CreatePayload{
		FirstName: "Hans", Country: "Germany",
	})
	require.NoError(t, err)

	assert.Equal(t, int64(10), result.User.ID)
	assert.Equal(t, StateMasterCommittedQueued, result.State)
	assert.Equal(t, cluster.Slave1, result.QueuedForPartition)
	assert.True(t, result.Degraded())
	top.verify(t)
}

func TestCreateRecordRejectsMissingCountry(t *testing.T) {
	top := newMockTopology(t)

	for _, country := range []string{"", "   "} {
		_, err := top.coord.CreateRecord(context.Background(), CreatePayload{FirstName: "Hans", Country: country})
		assert.ErrorIs(t, err, ErrMissingShardKey)
	}
	top.verify(t)
}

func TestCreateRecordStartsSequenceAtOne(t *testing.T) {
	top := newMockTopology(t)

	top.master.ExpectBegin()
	top.master.ExpectQuery(sequenceLockPattern).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	top.master.ExpectQuery(emptySequencePattern).
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(int64(0)))
	top.master.ExpectExec(insertUserPattern).WillReturnResult(sqlmock.NewResult(0, 1))

	top.slave2.ExpectBegin()
	top.slave2.ExpectExec(insertUserPattern).WillReturnResult(sqlmock.NewResult(0, 1))
	top.slave2.ExpectCommit()

	top.master.ExpectCommit()

	result, err := top.coord.CreateRecord(context.Background(), CreatePayload{
		FirstName: "Maria", Country: "Mexico",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.User.ID)
	top.verify(t)
}

func TestCreateRecordAbortsWhenMasterInsertFails(t *testing.T) {
	top := newMockTopology(t)

	top.master.ExpectBegin()
	top.master.ExpectQuery(sequenceLockPattern).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))
	top.master.ExpectExec(insertUserPattern).WillReturnError(errors.New("disk full"))
	top.master.ExpectRollback()

	_, err := top.coord.CreateRecord(context.Background(), CreatePayload{FirstName: "Hans", Country: "Germany"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	top.verify(t)
}

func TestCreateRecordRoutesByFirstLetter(t *testing.T) {
	// Countries starting before 'M' land on slave 1, the rest on slave 2.
	cases := []struct {
		country string
		slave   cluster.NodeID
	}{
		{"Germany", cluster.Slave1},
		{"australia", cluster.Slave1},
		{"Mexico", cluster.Slave2},
		{"zimbabwe", cluster.Slave2},
	}

	for _, tc := range cases {
		t.Run(tc.country, func(t *testing.T) {
			top := newMockTopology(t)

			top.master.ExpectBegin()
			top.master.ExpectQuery(sequenceLockPattern).
				WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))
			top.master.ExpectExec(insertUserPattern).WillReturnResult(sqlmock.NewResult(0, 1))

			target := top.slave1
			if tc.slave == cluster.Slave2 {
				target = top.slave2
			}
			target.ExpectBegin()
			target.ExpectExec(insertUserPattern).WillReturnResult(sqlmock.NewResult(0, 1))
			target.ExpectCommit()

			top.master.ExpectCommit()

			_, err := top.coord.CreateRecord(context.Background(), CreatePayload{FirstName: "A", Country: tc.country})
			require.NoError(t, err)
			top.verify(t)
		})
	}
}

func TestCreateRecordMasterCommitFailureSurfaces(t *testing.T) {
	top := newMockTopology(t)

	top.master.ExpectBegin()
	top.master.ExpectQuery(sequenceLockPattern).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))
	top.master.ExpectExec(insertUserPattern).WillReturnResult(sqlmock.NewResult(0, 1))

	top.slave1.ExpectBegin()
	top.slave1.ExpectExec(insertUserPattern).WillReturnResult(sqlmock.NewResult(0, 1))
	top.slave1.ExpectCommit()

	top.master.ExpectCommit().WillReturnError(errors.New("server has gone away"))

	_, err := top.coord.CreateRecord(context.Background(), CreatePayload{FirstName: "Hans", Country: "Germany"})
	var commitErr *MasterCommitError
	require.ErrorAs(t, err, &commitErr)
	top.verify(t)
}

func TestSimulatedOfflineErrorClassifiesRetryable(t *testing.T) {
	err := &SimulatedOfflineError{NodeID: 2}
	assert.Contains(t, err.Error(), "timeout")
	assert.Contains(t, err.Error(), "node 2")
}
