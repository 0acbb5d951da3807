package adjacency

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewListFlattensInNodeOrder(t *testing.T) {
	l := NewList([][]uint32{
		{10, 11},
		{},
		{20},
	})

	require.NoError(t, l.Validate())
	assert.Equal(t, 3, l.NumNodes())
	assert.Equal(t, []uint32{10, 11}, l.Links(0))
	assert.Equal(t, []uint32{}, l.Links(1))
	assert.Equal(t, []uint32{20}, l.Links(2))
	assert.Equal(t, []uint32{10, 11, 20}, l.Data)
}

func TestNewListEmpty(t *testing.T) {
	l := NewList(nil)
	require.NoError(t, l.Validate())
	assert.Equal(t, 0, l.NumNodes())
}

func TestValidateRejectsNonMonotoneOffsets(t *testing.T) {
	l := &List{Data: make([]uint32, 3), Offsets: []int{0, 2, 1}}
	assert.Error(t, l.Validate())
}

func TestValidateRejectsMismatchedFinalOffset(t *testing.T) {
	l := &List{Data: make([]uint32, 3), Offsets: []int{0, 1, 4}}
	assert.Error(t, l.Validate())
}
