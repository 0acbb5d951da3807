package indexmap

import (
	"context"
	"fmt"

	"github.com/notargets/dgindex/adjacency"
)

// computeScatter builds the forward scatter adjacency: for each
// destination neighbor (a rank that ghosts something this rank owns,
// in m.fwd.Destinations order), the list of owned local indices this
// rank must send it, and the permutation that maps a position in the
// corresponding forward receive buffer back to this rank's own ghost
// list order.
//
// Adapted from utils.FaceConnector.BuildIndices/GetPickIndices, which
// built the same pick/place pair for a single process holding every
// partition's faces at once; here each rank sees only its own ghosts
// and owned range, so the grouping-by-owner pass that FaceConnector
// did over a dense in-memory table becomes a single NeighborAlltoallv
// over the reverse ghost-to-owner neighborhood.
func (m *IndexMap) computeScatter(ctx context.Context) error {
	if m.fwd == nil {
		m.scatterFwdIndices = adjacency.NewList(nil)
		m.scatterFwdGhostPositions = nil
		return nil
	}

	destIndex := make(map[int]int, len(m.rev.Destinations))
	for i, r := range m.rev.Destinations {
		destIndex[r] = i
	}

	groups := make([][]uint32, len(m.rev.Destinations))
	groupPositions := make([][]int, len(m.rev.Destinations))
	for ghostIdx, owner := range m.owners {
		di, ok := destIndex[owner]
		if !ok {
			return fmt.Errorf("indexmap: computeScatter: ghost %d's owner rank %d is not a source of the forward neighborhood",
				m.ghosts[ghostIdx], owner)
		}
		groups[di] = append(groups[di], m.ghosts[ghostIdx])
		groupPositions[di] = append(groupPositions[di], ghostIdx)
	}

	received, err := m.rev.NeighborAlltoallv(ctx, groups)
	if err != nil {
		return commErr("computeScatter.request", err)
	}

	links := make([][]uint32, len(m.fwd.Destinations))
	for i, globals := range received {
		locals := make([]uint32, len(globals))
		for j, g := range globals {
			if g < m.low || g >= m.high {
				return fmt.Errorf("indexmap: computeScatter: received global %d from neighbor %d outside owned range [%d,%d)",
					g, m.fwd.Destinations[i], m.low, m.high)
			}
			locals[j] = g - m.low
		}
		links[i] = locals
	}
	built := adjacency.NewList(links)
	if err := built.Validate(); err != nil {
		return fmt.Errorf("indexmap: computeScatter: %w", err)
	}
	m.scatterFwdIndices = built

	positions := make([]int, 0, len(m.ghosts))
	for _, p := range groupPositions {
		positions = append(positions, p...)
	}
	m.scatterFwdGhostPositions = positions
	return nil
}

// ScatterFwdIndices returns the forward scatter adjacency (nodes are
// positions in m.fwd.Destinations, links are local indices this rank
// owns that it must send to that neighbor). Computed once, on first
// call, and cached; every rank holding this map must call it the
// first time together, since it runs a collective.
func (m *IndexMap) ScatterFwdIndices(ctx context.Context) (*adjacency.List, error) {
	m.scatterOnce.Do(func() { m.scatterErr = m.computeScatter(ctx) })
	return m.scatterFwdIndices, m.scatterErr
}

// ScatterFwdGhostPositions returns, for the concatenated forward
// receive buffer (grouped by m.fwd.Sources, i.e. by ghost owner, in
// that order), the position in m.Ghosts() each entry corresponds to.
// Shares ScatterFwdIndices's cache and collective.
func (m *IndexMap) ScatterFwdGhostPositions(ctx context.Context) ([]int, error) {
	m.scatterOnce.Do(func() { m.scatterErr = m.computeScatter(ctx) })
	return m.scatterFwdGhostPositions, m.scatterErr
}
