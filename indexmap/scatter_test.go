package indexmap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notargets/dgindex/comm"
)

// Ghosted constructor with a 4-rank ring.
func TestGhostedRingConstructor(t *testing.T) {
	const size = 4
	const localSize = 5
	maps := buildRing(t, size, localSize)
	defer func() {
		for _, m := range maps {
			m.Free()
		}
	}()

	for r, m := range maps {
		assert.Equal(t, 1, m.NumGhosts(), "rank %d", r)
		next := (r + 1) % size
		globals, err := m.LocalToGlobal([]int{localSize})
		require.NoError(t, err)
		assert.Equal(t, []GlobalIndex{GlobalIndex(localSize * next)}, globals)
	}

	errs := runOnAllRanks(toCommSlice(maps), func(r int, c comm.Communicator) error {
		m := maps[r]
		scatter, err := m.ScatterFwdIndices(testCtx())
		if err != nil {
			return err
		}
		prev := (r - 1 + size) % size
		neighborPos := indexOf(m.fwd.Destinations, prev)
		assert.GreaterOrEqual(t, neighborPos, 0)
		assert.Equal(t, 1, scatter.NumNodes())
		if neighborPos >= 0 {
			assert.Equal(t, []uint32{0}, scatter.Links(neighborPos))
		}
		return nil
	})
	requireAllNoError(t, errs)
}

// global_to_local miss on rank 0 of the ring map.
func TestGlobalToLocalMiss(t *testing.T) {
	maps := buildRing(t, 4, 5)
	defer func() {
		for _, m := range maps {
			m.Free()
		}
	}()

	got := maps[0].GlobalToLocal([]GlobalIndex{19})
	assert.Equal(t, []int{-1}, got)
}

func TestVerifySymmetricPassesOnRing(t *testing.T) {
	maps := buildRing(t, 4, 5)
	defer func() {
		for _, m := range maps {
			m.Free()
		}
	}()

	errs := runOnAllRanks(toCommSlice(maps), func(r int, c comm.Communicator) error {
		return maps[r].VerifySymmetric(testCtx())
	})
	requireAllNoError(t, errs)
}

func toCommSlice(maps []*IndexMap) []comm.Communicator {
	out := make([]comm.Communicator, len(maps))
	for i, m := range maps {
		out[i] = m.comm
	}
	return out
}

func indexOf(xs []int, v int) int {
	for i, x := range xs {
		if x == v {
			return i
		}
	}
	return -1
}
