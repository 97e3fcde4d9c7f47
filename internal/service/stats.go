package service

import (
	"context"

	"github.com/iliyamo/hospital-bed-manager/internal/model"
	"github.com/iliyamo/hospital-bed-manager/internal/repository"
)

// StatsAggregator derives dashboard counts from the bed registry and the
// occupancy ledger.  It is read-only and does not run in a unit of work;
// the counts are eventually accurate, not linearized with allocations.
type StatsAggregator struct {
	store repository.Store
}

// NewStatsAggregator builds a StatsAggregator on store.
func NewStatsAggregator(store repository.Store) *StatsAggregator {
	return &StatsAggregator{store: store}
}

// GetOccupancyStats returns bed counts by status, the number of registered
// patients and the number of open admissions.
func (a *StatsAggregator) GetOccupancyStats(ctx context.Context, actor model.Actor) (*model.OccupancyStats, error) {
	if err := authorize(actor); err != nil {
		return nil, err
	}
	counts, err := a.store.Beds().CountByStatus(ctx)
	if err != nil {
		return nil, err
	}
	patients, err := a.store.References().CountPatients(ctx)
	if err != nil {
		return nil, err
	}
	admissions, err := a.store.Occupancies().CountActive(ctx)
	if err != nil {
		return nil, err
	}
	stats := model.NewOccupancyStats(counts, patients, admissions)
	return &stats, nil
}
