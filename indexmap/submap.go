package indexmap

import (
	"context"
	"fmt"
)

// notRetained is the wire sentinel for "this position did not survive
// into the owner's sub-map". Safe as long as the new global index
// space stays below 2^32-1, which any realistic index set does.
const notRetained = ^uint32(0)

// SubMapResult is BuildSubMap's output beyond the new *IndexMap
// itself: the permutation from a position in the new map's ghost
// list back to the corresponding position in the original map's
// ghost list.
type SubMapResult struct {
	Map              *IndexMap
	NewToOldGhostPos []int
}

// BuildSubMap builds a new, independent map from a selection of this
// rank's owned indices. indices must be sorted, duplicate-free, and
// each < SizeLocal(); every entry becomes an owned index of the new
// map, in input order.
//
// Retention policy: a ghost survives into the sub-map if and only if
// its owner's own sub-map call (made with whatever selection that
// rank was given, not necessarily the same predicate) also retains
// the corresponding local index. A caller listing a ghost's global in
// some sense, absent the owner also retaining it, is not enough. See
// DESIGN.md for the reasoning.
//
// Reuses this map's existing neighborhood topology to ask each ghost's
// owner whether it kept the corresponding local position, then builds
// a fresh neighborhood (buildNeighborhood's discovery) for the new
// map, since its retained owner/ghost set is generally a strict
// subset of the original's. Collective.
func (m *IndexMap) BuildSubMap(ctx context.Context, indices []int) (*SubMapResult, error) {
	sizeLocal := m.SizeLocal()
	for i, idx := range indices {
		if idx < 0 || idx >= sizeLocal {
			return nil, fmt.Errorf("indexmap: BuildSubMap: %w: index %d out of owned range [0,%d)", ErrInvalidArgument, idx, sizeLocal)
		}
		if i > 0 && indices[i] <= indices[i-1] {
			return nil, fmt.Errorf("indexmap: BuildSubMap: %w: indices must be sorted and duplicate-free", ErrInvalidArgument)
		}
	}

	newLocalSize := len(indices)
	newOffset, newSizeGlobal, err := scanAndReduce(ctx, m.comm, newLocalSize)
	if err != nil {
		return nil, fmt.Errorf("indexmap: BuildSubMap: %w", err)
	}
	newLow := GlobalIndex(newOffset)

	ownNewPos := make(map[int]int, len(indices))
	for j, idx := range indices {
		ownNewPos[idx] = j
	}

	var newGhosts []GlobalIndex
	var newOwners []int
	var newToOld []int

	if m.fwd != nil {
		destIndex := make(map[int]int, len(m.rev.Destinations))
		for i, r := range m.rev.Destinations {
			destIndex[r] = i
		}

		queries := make([][]uint32, len(m.rev.Destinations))
		positionsByDest := make([][]int, len(m.rev.Destinations))
		for gIdx, owner := range m.owners {
			di, ok := destIndex[owner]
			if !ok {
				return nil, fmt.Errorf("indexmap: BuildSubMap: ghost owner %d is not in the reused neighborhood", owner)
			}
			queries[di] = append(queries[di], m.ghosts[gIdx])
			positionsByDest[di] = append(positionsByDest[di], gIdx)
		}

		received, err := m.rev.NeighborAlltoallv(ctx, queries)
		if err != nil {
			return nil, commErr("BuildSubMap.query", err)
		}

		responses := make([][]uint32, len(received))
		for k, globals := range received {
			resp := make([]uint32, len(globals))
			for j, g := range globals {
				oldLocal := int(g - m.low)
				if newPos, ok := ownNewPos[oldLocal]; ok {
					resp[j] = uint32(newOffset) + uint32(newPos)
				} else {
					resp[j] = notRetained
				}
			}
			responses[k] = resp
		}

		answers, err := m.fwd.NeighborAlltoallv(ctx, responses)
		if err != nil {
			return nil, commErr("BuildSubMap.answer", err)
		}

		for k, vals := range answers {
			owner := m.rev.Destinations[k]
			for j, v := range vals {
				if v == notRetained {
					continue
				}
				newGhosts = append(newGhosts, v)
				newOwners = append(newOwners, owner)
				newToOld = append(newToOld, positionsByDest[k][j])
			}
		}
	}

	dup, err := m.comm.Dup(ctx)
	if err != nil {
		return nil, commErr("BuildSubMap.dup", err)
	}

	// buildNeighborhood runs NBX consensus, a collective: every rank
	// must call it regardless of whether its own newSources/newGhosts
	// happen to be empty, or ranks that do have neighbors would hang
	// waiting on ranks that skipped the call.
	newSources := sortedUniqueInts(newOwners)
	newFwd, newRev, _, err := buildNeighborhood(ctx, dup, newSources)
	if err != nil {
		dup.Free()
		return nil, fmt.Errorf("indexmap: BuildSubMap: %w", err)
	}

	newMap := &IndexMap{
		comm:       dup,
		rank:       dup.Rank(),
		size:       dup.Size(),
		low:        newLow,
		high:       newLow + GlobalIndex(newLocalSize),
		sizeGlobal: GlobalIndex(newSizeGlobal),
		ghosts:     newGhosts,
		owners:     newOwners,
		fwd:        newFwd,
		rev:        newRev,
		log:        newRankLogger(dup.Rank()),
	}

	return &SubMapResult{Map: newMap, NewToOldGhostPos: newToOld}, nil
}
