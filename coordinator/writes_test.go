package coordinator

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relicadb/relica/cluster"
	"github.com/relicadb/relica/db"
)

func strPtr(s string) *string { return &s }

func TestUpdateRecordReplicatesToOwningSlave(t *testing.T) {
	top := newMockTopology(t)

	top.master.ExpectBegin()
	top.master.ExpectQuery(rowLockPattern).WillReturnRows(sampleUserRow(7, "Germany"))
	top.master.ExpectExec(updateUserPattern).WillReturnResult(sqlmock.NewResult(0, 1))

	top.slave1.ExpectBegin()
	top.slave1.ExpectQuery(rowLockPattern).WillReturnRows(sampleUserRow(7, "Germany"))
	top.slave1.ExpectExec(updateUserPattern).WillReturnResult(sqlmock.NewResult(0, 1))
	top.slave1.ExpectCommit()

	top.master.ExpectCommit()

	result, err := top.coord.UpdateRecord(context.Background(), 7, UpdatePayload{City: strPtr("Munich")})
	require.NoError(t, err)

	assert.Equal(t, StateBothCommitted, result.State)
	assert.Equal(t, "Munich", result.User.City)
	assert.Equal(t, "Ada", result.User.FirstName)
	top.verify(t)
}

func TestUpdateRecordNotFound(t *testing.T) {
	top := newMockTopology(t)

	top.master.ExpectBegin()
	top.master.ExpectQuery(rowLockPattern).WillReturnRows(sqlmock.NewRows(userCols))
	top.master.ExpectRollback()

	_, err := top.coord.UpdateRecord(context.Background(), 404, UpdatePayload{City: strPtr("Munich")})
	assert.ErrorIs(t, err, db.ErrNotFound)
	top.verify(t)
}

func TestUpdateRecordEmptyPatchIsNoOp(t *testing.T) {
	top := newMockTopology(t)

	top.master.ExpectBegin()
	top.master.ExpectQuery(rowLockPattern).WillReturnRows(sampleUserRow(7, "Germany"))
	top.master.ExpectRollback()

	result, err := top.coord.UpdateRecord(context.Background(), 7, UpdatePayload{})
	require.NoError(t, err)

	assert.Equal(t, StateBothCommitted, result.State)
	assert.Equal(t, int64(7), result.User.ID)
	assert.Equal(t, "London", result.User.City)
	top.verify(t)
}

func TestUpdateRecordRejectsCountryChange(t *testing.T) {
	top := newMockTopology(t)

	top.master.ExpectBegin()
	top.master.ExpectQuery(rowLockPattern).WillReturnRows(sampleUserRow(7, "Germany"))
	top.master.ExpectRollback()

	_, err := top.coord.UpdateRecord(context.Background(), 7, UpdatePayload{Country: strPtr("Mexico")})
	assert.ErrorIs(t, err, ErrImmutableShardKey)
	top.verify(t)
}

func TestUpdateRecordToleratesSameCountryPatch(t *testing.T) {
	top := newMockTopology(t)

	top.master.ExpectBegin()
	top.master.ExpectQuery(rowLockPattern).WillReturnRows(sampleUserRow(7, "Germany"))
	top.master.ExpectExec(updateUserPattern).WillReturnResult(sqlmock.NewResult(0, 1))

	top.slave1.ExpectBegin()
	top.slave1.ExpectQuery(rowLockPattern).WillReturnRows(sampleUserRow(7, "Germany"))
	top.slave1.ExpectExec(updateUserPattern).WillReturnResult(sqlmock.NewResult(0, 1))
	top.slave1.ExpectCommit()

	top.master.ExpectCommit()

	// Restating the stored country, case differences included, is not a move.
	result, err := top.coord.UpdateRecord(context.Background(), 7, UpdatePayload{
		City:    strPtr("Munich"),
		Country: strPtr("GERMANY"),
	})
	require.NoError(t, err)
	assert.Equal(t, StateBothCommitted, result.State)
	top.verify(t)
}

func TestUpdateRecordQueuesWhenSlaveOffline(t *testing.T) {
	top := newMockTopology(t)
	require.NoError(t, top.registry.SetSimulatedOffline(cluster.Slave2, true))

	top.master.ExpectBegin()
	top.master.ExpectQuery(rowLockPattern).WillReturnRows(sampleUserRow(7, "Mexico"))
	top.master.ExpectExec(updateUserPattern).WillReturnResult(sqlmock.NewResult(0, 1))
	top.master.ExpectCommit()
	top.master.ExpectExec(enqueuePattern).WillReturnResult(sqlmock.NewResult(1, 1))

	result, err := top.coord.UpdateRecord(context.Background(), 7, UpdatePayload{City: strPtr("Oaxaca")})
	require.NoError(t, err)

	assert.Equal(t, StateMasterCommittedQueued, result.State)
	assert.Equal(t, cluster.Slave2, result.QueuedForPartition)
	assert.Equal(t, "Oaxaca", result.User.City)
	top.verify(t)
}

func TestDeleteRecordReplicatesToOwningSlave(t *testing.T) {
	top := newMockTopology(t)

	top.master.ExpectBegin()
	top.master.ExpectQuery(rowLockPattern).WillReturnRows(sampleUserRow(7, "Mexico"))
	top.master.ExpectExec(deleteUserPattern).WillReturnResult(sqlmock.NewResult(0, 1))

	top.slave2.ExpectBegin()
	top.slave2.ExpectQuery(rowLockPattern).WillReturnRows(sampleUserRow(7, "Mexico"))
	top.slave2.ExpectExec(deleteUserPattern).WillReturnResult(sqlmock.NewResult(0, 1))
	top.slave2.ExpectCommit()

	top.master.ExpectCommit()

	result, err := top.coord.DeleteRecord(context.Background(), 7, "")
	require.NoError(t, err)
	assert.Equal(t, StateBothCommitted, result.State)
	top.verify(t)
}

func TestDeleteRecordQueuesWhenSlaveOffline(t *testing.T) {
	top := newMockTopology(t)
	require.NoError(t, top.registry.SetSimulatedOffline(cluster.Slave1, true))

	top.master.ExpectBegin()
	top.master.ExpectQuery(rowLockPattern).WillReturnRows(sampleUserRow(7, "Germany"))
	top.master.ExpectExec(deleteUserPattern).WillReturnResult(sqlmock.NewResult(0, 1))
	top.master.ExpectCommit()
	top.master.ExpectExec(enqueuePattern).WillReturnResult(sqlmock.NewResult(1, 1))

	result, err := top.coord.DeleteRecord(context.Background(), 7, "")
	require.NoError(t, err)
	assert.Equal(t, StateMasterCommittedQueued, result.State)
	assert.Equal(t, cluster.Slave1, result.QueuedForPartition)
	top.verify(t)
}

func TestDeleteRecordNotFoundWithoutHint(t *testing.T) {
	top := newMockTopology(t)

	top.master.ExpectBegin()
	top.master.ExpectQuery(rowLockPattern).WillReturnRows(sqlmock.NewRows(userCols))
	top.master.ExpectRollback()

	_, err := top.coord.DeleteRecord(context.Background(), 404, "")
	assert.ErrorIs(t, err, db.ErrNotFound)
	top.verify(t)
}

func TestDeleteRecordCleansOrphanViaHint(t *testing.T) {
	top := newMockTopology(t)

	top.master.ExpectBegin()
	top.master.ExpectQuery(rowLockPattern).WillReturnRows(sqlmock.NewRows(userCols))
	top.master.ExpectRollback()

	// The row never reached master, but the hint routes us to the slave that
	// may still hold a stale copy. Missing there too is fine.
	top.slave2.ExpectBegin()
	top.slave2.ExpectQuery(rowLockPattern).WillReturnRows(sqlmock.NewRows(userCols))
	top.slave2.ExpectExec(deleteUserPattern).WillReturnResult(sqlmock.NewResult(0, 0))
	top.slave2.ExpectCommit()

	result, err := top.coord.DeleteRecord(context.Background(), 404, "Mexico")
	require.NoError(t, err)
	assert.Equal(t, StateBothCommitted, result.State)
	assert.Nil(t, result.User)
	top.verify(t)
}

func TestDeleteOrphanQueuesWhenSlaveOffline(t *testing.T) {
	top := newMockTopology(t)
	require.NoError(t, top.registry.SetSimulatedOffline(cluster.Slave2, true))

	top.master.ExpectBegin()
	top.master.ExpectQuery(rowLockPattern).WillReturnRows(sqlmock.NewRows(userCols))
	top.master.ExpectRollback()
	top.master.ExpectExec(enqueuePattern).WillReturnResult(sqlmock.NewResult(1, 1))

	result, err := top.coord.DeleteRecord(context.Background(), 404, "Mexico")
	require.NoError(t, err)
	assert.Equal(t, StateMasterCommittedQueued, result.State)
	assert.Equal(t, cluster.Slave2, result.QueuedForPartition)
	top.verify(t)
}
