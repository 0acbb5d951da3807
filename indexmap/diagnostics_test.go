package indexmap

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/notargets/dgindex/comm"
	"github.com/notargets/dgindex/comm/local"
)

func TestLoadStatsUniformPartitionIsBalanced(t *testing.T) {
	world := local.NewWorld(4)
	stats := make([]LoadStats, 4)
	errs := runOnAllRanks(world, func(r int, c comm.Communicator) error {
		m, err := NewNonOverlapping(testCtx(), c, 5)
		if err != nil {
			return err
		}
		defer m.Free()
		s, err := m.LoadStats(testCtx())
		stats[r] = s
		return err
	})
	requireAllNoError(t, errs)

	for r, s := range stats {
		assert.Equal(t, 4, s.NumRanks, "rank %d", r)
		assert.Equal(t, int64(5), s.Min, "rank %d", r)
		assert.Equal(t, int64(5), s.Max, "rank %d", r)
		assert.InDelta(t, 5.0, s.Mean, 1e-9, "rank %d", r)
		assert.InDelta(t, 0.0, s.StdDev, 1e-9, "rank %d", r)
		assert.InDelta(t, 1.0, s.Imbalance, 1e-9, "rank %d", r)
	}
}

func TestLoadStatsSkewedPartition(t *testing.T) {
	world := local.NewWorld(3)
	sizes := []int{1, 1, 10}
	stats := make([]LoadStats, 3)
	errs := runOnAllRanks(world, func(r int, c comm.Communicator) error {
		m, err := NewNonOverlapping(testCtx(), c, sizes[r])
		if err != nil {
			return err
		}
		defer m.Free()
		s, err := m.LoadStats(testCtx())
		stats[r] = s
		return err
	})
	requireAllNoError(t, errs)

	for r, s := range stats {
		assert.Equal(t, int64(1), s.Min, "rank %d", r)
		assert.Equal(t, int64(10), s.Max, "rank %d", r)
		assert.Greater(t, s.Imbalance, 1.0, "rank %d", r)
	}
}
