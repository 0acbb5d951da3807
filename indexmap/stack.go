package indexmap

import (
	"context"
	"fmt"

	"github.com/notargets/dgindex/comm"
)

// StackInput pairs a map with the block size its data carries: each
// owned or ghost index of Map becomes BlockSize consecutive indices
// in the stacked map.
type StackInput struct {
	Map       *IndexMap
	BlockSize int
}

// StackResult is the output of Stack: the combined process offset and
// per-map local offsets (the interleaved numbering's layout), plus,
// for every input map, its block-expanded new ghost globals and
// owners in original ghost order.
type StackResult struct {
	ProcessOffset int64
	LocalOffset   []int64 // length len(inputs)+1, prefix sum of BlockSize*SizeLocal
	NewGhosts     [][]GlobalIndex
	NewOwners     [][]int
}

// Stack combines K index maps, sharing a communicator, into one
// interleaved numbering with per-map block sizes. Every rank must
// pass its maps in the same order. One shared pair of graph
// communicators is built from the union of all input maps' existing
// source/destination rank sets and reused for every map; no NBX
// consensus round is run. Collective.
func Stack(ctx context.Context, c comm.Communicator, inputs []StackInput) (*StackResult, error) {
	if len(inputs) == 0 {
		return nil, fmt.Errorf("indexmap: Stack: %w: no maps given", ErrInvalidArgument)
	}

	rank := inputs[0].Map.rank
	size := inputs[0].Map.size
	for _, in := range inputs[1:] {
		if in.Map.rank != rank || in.Map.size != size {
			return nil, fmt.Errorf("indexmap: Stack: %w: input maps are not all on communicators of the same rank/size", ErrInvalidArgument)
		}
	}

	var processOffset int64
	localOffset := make([]int64, len(inputs)+1)
	for i, in := range inputs {
		processOffset += int64(in.BlockSize) * int64(in.Map.low)
		localOffset[i+1] = localOffset[i] + int64(in.BlockSize)*int64(in.Map.SizeLocal())
	}

	sourceSet := make(map[int]struct{})
	destSet := make(map[int]struct{})
	for _, in := range inputs {
		if in.Map.fwd == nil {
			continue
		}
		for _, r := range in.Map.fwd.Sources {
			sourceSet[r] = struct{}{}
		}
		for _, r := range in.Map.fwd.Destinations {
			destSet[r] = struct{}{}
		}
	}
	sources := sortedIntKeys(sourceSet)
	destinations := sortedIntKeys(destSet)

	// Every rank must call NewGraphComm/ReverseOf here unconditionally,
	// even when its own source/destination sets happen to be empty:
	// these are collective calls, and skipping them on some ranks but
	// not others would desynchronize every later collective on c.
	fwd, err := c.NewGraphComm(ctx, sources, destinations)
	if err != nil {
		return nil, commErr("Stack.shared_forward", err)
	}
	defer fwd.Free()
	rev, err := fwd.ReverseOf(ctx)
	if err != nil {
		return nil, commErr("Stack.shared_reverse", err)
	}
	defer rev.Free()

	newGhosts := make([][]GlobalIndex, len(inputs))
	newOwners := make([][]int, len(inputs))

	for i, in := range inputs {
		m := in.Map

		destIndex := make(map[int]int, len(rev.Destinations))
		for idx, r := range rev.Destinations {
			destIndex[r] = idx
		}

		ghostsByDest := make([][]uint32, len(rev.Destinations))
		positionsByDest := make([][]int, len(rev.Destinations))
		for gIdx, owner := range m.owners {
			di, ok := destIndex[owner]
			if !ok {
				return nil, fmt.Errorf("indexmap: Stack: map %d: ghost owner %d not present in the shared neighborhood", i, owner)
			}
			ghostsByDest[di] = append(ghostsByDest[di], m.ghosts[gIdx])
			positionsByDest[di] = append(positionsByDest[di], gIdx)
		}

		// Request: send each of this map's ghost globals to its owner
		// along the shared reverse comm, grouped in rev.Destinations
		// order. Every rank must call this exactly once per map, even
		// when it holds no ghosts for that particular map, to keep the
		// round count aligned with ranks that do.
		received, err := rev.NeighborAlltoallv(ctx, ghostsByDest)
		if err != nil {
			return nil, fmt.Errorf("indexmap: Stack: map %d: request round: %w", i, commErr("Stack.request", err))
		}

		// Respond: translate each received global into this rank's new
		// numbering for map i and send the new globals back.
		responses := make([][]uint32, len(received))
		for k, globals := range received {
			resp := make([]uint32, len(globals))
			for j, g := range globals {
				local := int64(g - m.low)
				newGlobal := int64(in.BlockSize)*local + localOffset[i] + processOffset
				resp[j] = uint32(newGlobal)
			}
			responses[k] = resp
		}

		answers, err := fwd.NeighborAlltoallv(ctx, responses)
		if err != nil {
			return nil, fmt.Errorf("indexmap: Stack: map %d: response round: %w", i, commErr("Stack.response", err))
		}

		expanded := make([]GlobalIndex, in.BlockSize*len(m.ghosts))
		expandedOwners := make([]int, in.BlockSize*len(m.ghosts))
		for k, vals := range answers {
			owner := fwd.Sources[k]
			for j, v := range vals {
				origGhostPos := positionsByDest[k][j]
				for b := 0; b < in.BlockSize; b++ {
					expanded[origGhostPos*in.BlockSize+b] = v + GlobalIndex(b)
					expandedOwners[origGhostPos*in.BlockSize+b] = owner
				}
			}
		}
		newGhosts[i] = expanded
		newOwners[i] = expandedOwners
	}

	return &StackResult{
		ProcessOffset: processOffset,
		LocalOffset:   localOffset,
		NewGhosts:     newGhosts,
		NewOwners:     newOwners,
	}, nil
}
