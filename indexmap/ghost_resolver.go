package indexmap

import (
	"context"
	"sort"

	"github.com/notargets/dgindex/comm"
)

// resolveGhostOwners determines the owning rank of each entry in
// ghosts from this rank's local size alone: one AllGatherInt64 of
// local size widens every rank's size into a 64-bit prefix-sum
// boundary table before summing (N may approach the range of an
// unsigned 32-bit global index, so the running sum must not be
// computed in 32 bits); then each ghost is resolved with a bounded
// binary search over that table, the same shape as
// partitions.PartitionLayout.GetPartition's search over its
// materialized EToP boundaries, here built online from a freshly
// gathered per-rank size table instead.
func resolveGhostOwners(ctx context.Context, c comm.Communicator, localSize int, ghosts []GlobalIndex) (owners []int, allRanges []int64, err error) {
	sizes, err := c.AllGatherInt64(ctx, int64(localSize))
	if err != nil {
		return nil, nil, commErr("resolveGhostOwners", err)
	}

	allRanges = make([]int64, len(sizes)+1)
	for i, s := range sizes {
		allRanges[i+1] = allRanges[i] + s
	}

	sizeGlobal := allRanges[len(allRanges)-1]

	owners = make([]int, len(ghosts))
	for i, g := range ghosts {
		r, ok := ownerOf(allRanges, int64(g))
		if !ok {
			return nil, nil, &InvalidGhostError{Global: g, SizeGlobal: GlobalIndex(sizeGlobal)}
		}
		owners[i] = r
	}
	return owners, allRanges, nil
}

// ownerOf returns the rank r such that allRanges[r] <= g < allRanges[r+1],
// or false if g falls outside [0, allRanges[last]).
func ownerOf(allRanges []int64, g int64) (int, bool) {
	if g < 0 || g >= allRanges[len(allRanges)-1] {
		return 0, false
	}
	i := sort.Search(len(allRanges), func(i int) bool { return allRanges[i] > g })
	return i - 1, true
}

// sortedUniqueInts sorts a copy of xs and removes duplicates. Used for
// the small, non-performance-critical rank lists passed to
// Communicator.NewGraphComm — sortutil's radix sort is reserved for
// the larger, performance-sensitive uint32 ghost arrays.
func sortedUniqueInts(xs []int) []int {
	out := append([]int(nil), xs...)
	sort.Ints(out)
	j := 0
	for i, x := range out {
		if i == 0 || x != out[j-1] {
			out[j] = x
			j++
		}
	}
	return out[:j]
}

func sortedIntKeys(set map[int]struct{}) []int {
	out := make([]int, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Ints(out)
	return out
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
