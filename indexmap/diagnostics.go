package indexmap

import (
	"context"

	"gonum.org/v1/gonum/stat"
)

// LoadStats reports the rank-size balance of this map's owned ranges.
// Adapted from partitions.PartitionLayout.PartitionStatistics, which
// computed the same min/max/imbalance shape from a []Partition every
// rank already had in full; here each rank only knows its own
// SizeLocal, so an AllGatherInt64 gathers the full table first, and
// gonum/stat computes mean and standard deviation over it.
type LoadStats struct {
	NumRanks  int
	Min, Max  int64
	Mean      float64
	StdDev    float64
	Imbalance float64 // Max / Mean; 1.0 is perfectly balanced
}

// LoadStats gathers every rank's SizeLocal and summarizes the spread.
// Collective.
func (m *IndexMap) LoadStats(ctx context.Context) (LoadStats, error) {
	sizes, err := m.comm.AllGatherInt64(ctx, int64(m.SizeLocal()))
	if err != nil {
		return LoadStats{}, commErr("LoadStats", err)
	}
	return computeLoadStats(sizes), nil
}

func computeLoadStats(sizes []int64) LoadStats {
	floats := make([]float64, len(sizes))
	min, max := sizes[0], sizes[0]
	for i, s := range sizes {
		floats[i] = float64(s)
		if s < min {
			min = s
		}
		if s > max {
			max = s
		}
	}
	mean := stat.Mean(floats, nil)
	std := stat.StdDev(floats, nil)
	imbalance := 1.0
	if mean > 0 {
		imbalance = float64(max) / mean
	}
	return LoadStats{
		NumRanks:  len(sizes),
		Min:       min,
		Max:       max,
		Mean:      mean,
		StdDev:    std,
		Imbalance: imbalance,
	}
}
