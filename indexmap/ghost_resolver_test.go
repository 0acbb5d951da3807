package indexmap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notargets/dgindex/comm"
	"github.com/notargets/dgindex/comm/local"
)

func TestResolveGhostOwnersUniformPartition(t *testing.T) {
	world := local.NewWorld(4)
	localSize := 5
	ghostsByRank := [][]GlobalIndex{
		{7, 12},  // owned by ranks 1, 2
		{0, 19},  // owned by ranks 0, 3
		{2},      // owned by rank 0
		{5, 6, 7}, // owned by rank 1
	}
	wantOwners := [][]int{{1, 2}, {0, 3}, {0}, {1, 1, 1}}

	got := make([][]int, 4)
	errs := runOnAllRanks(world, func(r int, c comm.Communicator) error {
		owners, allRanges, err := resolveGhostOwners(testCtx(), c, localSize, ghostsByRank[r])
		if err != nil {
			return err
		}
		assert.Equal(t, []int64{0, 5, 10, 15, 20}, allRanges)
		got[r] = owners
		return nil
	})
	requireAllNoError(t, errs)

	for r := range got {
		assert.Equal(t, wantOwners[r], got[r], "rank %d", r)
	}
}

func TestResolveGhostOwnersOutOfRange(t *testing.T) {
	world := local.NewWorld(2)
	localSize := 3
	errs := runOnAllRanks(world, func(r int, c comm.Communicator) error {
		_, _, err := resolveGhostOwners(testCtx(), c, localSize, []GlobalIndex{100})
		return err
	})
	for _, err := range errs {
		require.Error(t, err)
		var ghostErr *InvalidGhostError
		require.ErrorAs(t, err, &ghostErr)
		assert.Equal(t, GlobalIndex(100), ghostErr.Global)
		assert.Equal(t, GlobalIndex(6), ghostErr.SizeGlobal)
	}
}

func TestOwnerOfBoundaries(t *testing.T) {
	ranges := []int64{0, 5, 5, 12, 20}
	cases := []struct {
		g    int64
		want int
		ok   bool
	}{
		{0, 0, true},
		{4, 0, true},
		{5, 2, true}, // rank 1's range is empty, boundary lands on rank 2
		{11, 2, true},
		{12, 3, true},
		{19, 3, true},
		{20, 0, false},
		{-1, 0, false},
	}
	for _, c := range cases {
		r, ok := ownerOf(ranges, c.g)
		assert.Equal(t, c.ok, ok, "g=%d", c.g)
		if ok {
			assert.Equal(t, c.want, r, "g=%d", c.g)
		}
	}
}
