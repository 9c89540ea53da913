package coordinator

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/relicadb/relica/db"
)

// FindRecord reads one record from master, the authority for point lookups.
func (c *Coordinator) FindRecord(ctx context.Context, id int64) (*db.User, error) {
	queryCtx, cancel := context.WithTimeout(ctx, c.queryTimeout)
	defer cancel()
	return db.FindByID(queryCtx, c.registry.Master().DB, id)
}

// SearchByCountry reads records for one country, slave-first: the owning
// partition serves the scan when it can, master answers when it cannot.
func (c *Coordinator) SearchByCountry(ctx context.Context, country string, limit int) ([]db.User, error) {
	slave, err := c.registry.SlaveFor(country)
	if err != nil {
		return nil, err
	}

	if !c.registry.IsSimulatedOffline(slave.ID) {
		queryCtx, cancel := context.WithTimeout(ctx, c.queryTimeout)
		users, slaveErr := db.FindByCountry(queryCtx, slave.DB, country, limit)
		cancel()
		if slaveErr == nil {
			return users, nil
		}
		log.Warn().Err(slaveErr).Int("slave", int(slave.ID)).Msg("Slave scan failed, falling back to master")
	}

	queryCtx, cancel := context.WithTimeout(ctx, c.queryTimeout)
	defer cancel()
	return db.FindByCountry(queryCtx, c.registry.Master().DB, country, limit)
}
