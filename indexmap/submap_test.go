package indexmap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notargets/dgindex/comm"
)

// From the ring map, every rank requests the same pattern of owned
// indices (0, 2, 4 of its 5).
func TestSubMapUniformSelection(t *testing.T) {
	maps := buildRing(t, 4, 5)
	defer func() {
		for _, m := range maps {
			m.Free()
		}
	}()

	results := make([]*SubMapResult, 4)
	errs := runOnAllRanks(toCommSlice(maps), func(r int, c comm.Communicator) error {
		res, err := maps[r].BuildSubMap(testCtx(), []int{0, 2, 4})
		results[r] = res
		return err
	})
	requireAllNoError(t, errs)
	defer func() {
		for _, res := range results {
			res.Map.Free()
		}
	}()

	for r, res := range results {
		m := res.Map
		assert.Equal(t, 3, m.SizeLocal(), "rank %d", r)
		assert.Equal(t, GlobalIndex(12), m.SizeGlobal(), "rank %d", r)
		assert.LessOrEqual(t, len(res.NewToOldGhostPos), 1, "rank %d", r)
	}

	low1, _ := results[1].Map.LocalRange()
	assert.Equal(t, GlobalIndex(3), low1)
}

// Selecting every owned index yields a sub-map equal to the original,
// up to the communicator handle.
func TestSubMapIdentitySelection(t *testing.T) {
	maps := buildRing(t, 4, 5)
	defer func() {
		for _, m := range maps {
			m.Free()
		}
	}()

	results := make([]*SubMapResult, 4)
	errs := runOnAllRanks(toCommSlice(maps), func(r int, c comm.Communicator) error {
		res, err := maps[r].BuildSubMap(testCtx(), []int{0, 1, 2, 3, 4})
		results[r] = res
		return err
	})
	requireAllNoError(t, errs)
	defer func() {
		for _, res := range results {
			res.Map.Free()
		}
	}()

	for r, res := range results {
		orig, sub := maps[r], res.Map
		assert.Equal(t, orig.low, sub.low, "rank %d", r)
		assert.Equal(t, orig.high, sub.high, "rank %d", r)
		assert.Equal(t, orig.sizeGlobal, sub.sizeGlobal, "rank %d", r)
		assert.Equal(t, orig.ghosts, sub.ghosts, "rank %d", r)
		assert.Equal(t, orig.owners, sub.owners, "rank %d", r)
		require.Len(t, res.NewToOldGhostPos, len(orig.ghosts), "rank %d", r)
		for i, old := range res.NewToOldGhostPos {
			assert.Equal(t, i, old, "rank %d ghost %d", r, i)
		}
	}
}

func TestBuildSubMapRejectsUnsortedIndices(t *testing.T) {
	maps := buildRing(t, 4, 5)
	defer func() {
		for _, m := range maps {
			m.Free()
		}
	}()
	_, err := maps[0].BuildSubMap(testCtx(), []int{2, 0})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}
