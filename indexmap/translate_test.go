package indexmap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notargets/dgindex/comm/local"
)

func TestLocalToGlobalAndBackRoundTrip(t *testing.T) {
	maps := buildRing(t, 4, 5)
	defer func() {
		for _, m := range maps {
			m.Free()
		}
	}()

	for r, m := range maps {
		bound := m.SizeLocal() + m.NumGhosts()
		locals := make([]int, bound)
		for i := range locals {
			locals[i] = i
		}
		globals, err := m.LocalToGlobal(locals)
		require.NoError(t, err)

		back := m.GlobalToLocal(globals)
		assert.Equal(t, locals, back, "rank %d", r)
	}
}

func TestGlobalIndicesMatchesLocalToGlobal(t *testing.T) {
	maps := buildRing(t, 4, 5)
	defer func() {
		for _, m := range maps {
			m.Free()
		}
	}()

	for _, m := range maps {
		assert.Equal(t, m.GlobalIndices(), mustLocalToGlobal(t, m))
	}
}

func mustLocalToGlobal(t *testing.T, m *IndexMap) []GlobalIndex {
	bound := m.SizeLocal() + m.NumGhosts()
	locals := make([]int, bound)
	for i := range locals {
		locals[i] = i
	}
	globals, err := m.LocalToGlobal(locals)
	require.NoError(t, err)
	return globals
}

func TestLocalToGlobalRejectsOutOfRange(t *testing.T) {
	world := local.NewWorld(1)
	m, err := NewNonOverlapping(testCtx(), world[0], 4)
	require.NoError(t, err)
	defer m.Free()

	_, err = m.LocalToGlobal([]int{4})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}
