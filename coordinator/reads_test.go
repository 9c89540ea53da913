package coordinator

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relicadb/relica/cluster"
	"github.com/relicadb/relica/db"
)

const findByIDPattern = "SELECT .+ FROM `users` WHERE \\(`id` = .\\)"
const findByCountryPattern = "SELECT .+ FROM `users` WHERE \\(`country` = .\\) ORDER BY"

func TestFindRecordReadsMaster(t *testing.T) {
	top := newMockTopology(t)

	top.master.ExpectQuery(findByIDPattern).
		WithArgs(int64(7)).
		WillReturnRows(sampleUserRow(7, "Germany"))

	user, err := top.coord.FindRecord(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, int64(7), user.ID)
	assert.Equal(t, "Germany", user.Country)
	top.verify(t)
}

func TestFindRecordNotFound(t *testing.T) {
	top := newMockTopology(t)

	top.master.ExpectQuery(findByIDPattern).
		WillReturnRows(sqlmock.NewRows(userCols))

	_, err := top.coord.FindRecord(context.Background(), 404)
	assert.ErrorIs(t, err, db.ErrNotFound)
	top.verify(t)
}

func TestSearchByCountryScansOwningSlave(t *testing.T) {
	top := newMockTopology(t)

	top.slave2.ExpectQuery(findByCountryPattern).
		WillReturnRows(sampleUserRow(3, "Mexico"))

	users, err := top.coord.SearchByCountry(context.Background(), "Mexico", 100)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, int64(3), users[0].ID)
	top.verify(t)
}

func TestSearchByCountryFallsBackToMasterOnSlaveError(t *testing.T) {
	top := newMockTopology(t)

	top.slave1.ExpectQuery(findByCountryPattern).
		WillReturnError(errors.New("connection refused"))
	top.master.ExpectQuery(findByCountryPattern).
		WillReturnRows(sampleUserRow(5, "Germany"))

	users, err := top.coord.SearchByCountry(context.Background(), "Germany", 100)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, int64(5), users[0].ID)
	top.verify(t)
}

func TestSearchByCountrySkipsSimulatedOfflineSlave(t *testing.T) {
	top := newMockTopology(t)
	require.NoError(t, top.registry.SetSimulatedOffline(cluster.Slave1, true))

	// The slave is never asked; master serves directly.
	top.master.ExpectQuery(findByCountryPattern).
		WillReturnRows(sampleUserRow(5, "Germany"))

	users, err := top.coord.SearchByCountry(context.Background(), "Germany", 100)
	require.NoError(t, err)
	require.Len(t, users, 1)
	top.verify(t)
}

func TestSearchByCountryRejectsEmptyKey(t *testing.T) {
	top := newMockTopology(t)

	_, err := top.coord.SearchByCountry(context.Background(), "  ", 100)
	var routingErr *cluster.InvalidRoutingError
	assert.ErrorAs(t, err, &routingErr)
	top.verify(t)
}
