// Package indexmap is the distributed index-map service: a
// partitioned global index set with ghost/halo support, built on the
// comm package's process-group abstraction. Construct a map with
// NewNonOverlapping or NewGhosted, derive scatter adjacency and
// load statistics from it, translate between local and global
// numbering, and build stacked or restricted maps from existing ones.
package indexmap

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/notargets/dgindex/adjacency"
	"github.com/notargets/dgindex/comm"
	"github.com/notargets/dgindex/sortutil"
)

// GlobalIndex is a global index into the map's [0, SizeGlobal) index
// space. Arithmetic that could overflow it (summing per-rank sizes
// before the global size is known) is carried out in int64 and
// narrowed back only once it is safe to do so.
type GlobalIndex = uint32

// noCopy gets go vet's copylocks check to flag accidental copies of
// an IndexMap — every rank's map owns live communicator state, and a
// shallow copy would alias it. Embedding a Locker that does nothing
// is the same trick sync.WaitGroup's own doc comment recommends.
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}

// IndexMap is the distributed array descriptor: an owned contiguous
// range, an ordered ghost list with owners, the neighborhood
// communicators needed to move data along owner<->ghost edges, and
// the scatter adjacency derived from them. Construct with
// NewNonOverlapping or NewGhosted. Never copy a *IndexMap by value;
// call Free exactly once per rank when done with it.
type IndexMap struct {
	noCopy noCopy

	comm comm.Communicator
	rank int
	size int

	low, high  GlobalIndex
	sizeGlobal GlobalIndex

	ghosts []GlobalIndex
	owners []int

	fwd *comm.GraphComm // owner -> ghost: receives from my ghosts' owners, sends to ranks that ghost what I own
	rev *comm.GraphComm // ghost -> owner: the reverse of fwd

	scatterOnce              sync.Once
	scatterErr               error
	scatterFwdIndices        *adjacency.List
	scatterFwdGhostPositions []int

	g2lOnce  sync.Once
	g2lCache map[GlobalIndex]int

	log zerolog.Logger
}

// LocalRange returns this rank's owned half-open global index range.
func (m *IndexMap) LocalRange() (low, high GlobalIndex) { return m.low, m.high }

// SizeLocal returns the number of indices this rank owns.
func (m *IndexMap) SizeLocal() int { return int(m.high - m.low) }

// SizeGlobal returns the total number of indices across all ranks.
func (m *IndexMap) SizeGlobal() GlobalIndex { return m.sizeGlobal }

// NumGhosts returns the number of ghost indices this rank holds.
func (m *IndexMap) NumGhosts() int { return len(m.ghosts) }

// Ghosts returns this rank's ghost globals, in construction order.
// Callers must not mutate the returned slice.
func (m *IndexMap) Ghosts() []GlobalIndex { return m.ghosts }

// Owners returns the owning rank of each entry in Ghosts, aligned by
// index. Callers must not mutate the returned slice.
func (m *IndexMap) Owners() []int { return m.owners }

// Rank returns this map's rank within its communicator.
func (m *IndexMap) Rank() int { return m.rank }

// Comm returns the communicator this map was built on (its own
// duplicate, not the caller's original handle).
func (m *IndexMap) Comm() comm.Communicator { return m.comm }

func (m *IndexMap) String() string {
	return fmt.Sprintf("IndexMap{rank=%d range=[%d,%d) size_global=%d ghosts=%d distinct_owners=%d}",
		m.rank, m.low, m.high, m.sizeGlobal, len(m.ghosts), len(distinctOwners(m.owners)))
}

func distinctOwners(owners []int) map[int]struct{} {
	set := make(map[int]struct{}, len(owners))
	for _, o := range owners {
		set[o] = struct{}{}
	}
	return set
}

// Free releases the graph communicators and the duplicated
// communicator this map owns. Not collective: a rank may free its
// handle whenever it will issue no further calls through it.
func (m *IndexMap) Free() {
	if m.fwd != nil {
		m.fwd.Free()
	}
	if m.rev != nil {
		m.rev.Free()
	}
	m.comm.Free()
}

// scanAndReduce runs the offset exclusive-scan and then the
// size-global all-reduce on c. The two collectives are issued one
// after the other, never concurrently: the Communicator contract
// forbids interleaving collectives on one communicator from one rank.
func scanAndReduce(ctx context.Context, c comm.Communicator, localSize int) (offset, sizeGlobal int64, err error) {
	offset, errOff := c.ExclusiveScanSum(ctx, int64(localSize))
	sizeGlobal, errSum := c.AllreduceSum(ctx, int64(localSize))
	if errOff != nil {
		return 0, 0, commErr("scanAndReduce.exclusive_scan", errOff)
	}
	if errSum != nil {
		return 0, 0, commErr("scanAndReduce.allreduce", errSum)
	}
	return offset, sizeGlobal, nil
}

// NewNonOverlapping builds a non-overlapping IndexMap: every rank
// owns a contiguous block of localSize indices and there are no
// ghosts. Collective; all ranks must call with their own localSize.
func NewNonOverlapping(ctx context.Context, c comm.Communicator, localSize int) (*IndexMap, error) {
	if localSize < 0 {
		return nil, fmt.Errorf("indexmap: NewNonOverlapping: %w: local_size %d < 0", ErrInvalidArgument, localSize)
	}

	dup, err := c.Dup(ctx)
	if err != nil {
		return nil, commErr("NewNonOverlapping.dup", err)
	}

	offset, sizeGlobal, err := scanAndReduce(ctx, dup, localSize)
	if err != nil {
		dup.Free()
		return nil, fmt.Errorf("indexmap: NewNonOverlapping: %w", err)
	}

	m := &IndexMap{
		comm:       dup,
		rank:       dup.Rank(),
		size:       dup.Size(),
		low:        GlobalIndex(offset),
		high:       GlobalIndex(offset + int64(localSize)),
		sizeGlobal: GlobalIndex(sizeGlobal),
		log:        newRankLogger(dup.Rank()),
	}
	m.log.Debug().Int("size_local", localSize).Msg("non-overlapping index map constructed")
	return m, nil
}

// NewGhosted builds an IndexMap with ghosts: ghosts[i] is a global
// index this rank does not own but needs to read, owned (per the
// caller's own bookkeeping) by rank srcRanks[i]. If destRanks is nil,
// the destination ranks — who ghosts indices this rank owns — are
// discovered with NBX consensus; otherwise the caller's own
// destRanks (sorted, duplicate-free) are trusted outright and no
// discovery round-trip happens. Collective.
func NewGhosted(ctx context.Context, c comm.Communicator, localSize int, ghosts []GlobalIndex, srcRanks []int, destRanks []int) (*IndexMap, error) {
	if len(ghosts) != len(srcRanks) {
		return nil, fmt.Errorf("indexmap: NewGhosted: %w: len(ghosts)=%d len(src_ranks)=%d", ErrLengthMismatch, len(ghosts), len(srcRanks))
	}
	if localSize < 0 {
		return nil, fmt.Errorf("indexmap: NewGhosted: %w: local_size %d < 0", ErrInvalidArgument, localSize)
	}

	// ghosts must hold no duplicates (the identity invariant on the
	// ghost sequence); checked here on a scratch copy with the radix
	// sort/dedup pass rather than a map, since this runs on every
	// construction and ghosts is exactly the uint32 data sortutil
	// exists for.
	if deduped := sortutil.SortedUnique(append([]GlobalIndex(nil), ghosts...)); len(deduped) != len(ghosts) {
		return nil, fmt.Errorf("indexmap: NewGhosted: %w: ghosts contains duplicate global indices", ErrInvalidArgument)
	}

	dup, err := c.Dup(ctx)
	if err != nil {
		return nil, commErr("NewGhosted.dup", err)
	}

	offset, sizeGlobal, err := scanAndReduce(ctx, dup, localSize)
	if err != nil {
		dup.Free()
		return nil, fmt.Errorf("indexmap: NewGhosted: %w", err)
	}

	low := GlobalIndex(offset)
	high := low + GlobalIndex(localSize)

	if DebugChecks {
		computedOwners, _, err := resolveGhostOwners(ctx, dup, localSize, ghosts)
		if err != nil {
			dup.Free()
			return nil, fmt.Errorf("indexmap: NewGhosted: debug check: %w", err)
		}
		for i := range ghosts {
			if computedOwners[i] != srcRanks[i] {
				dup.Free()
				return nil, fmt.Errorf("indexmap: NewGhosted: debug check failed: ghost %d claims owner %d, resolver computed %d",
					ghosts[i], srcRanks[i], computedOwners[i])
			}
		}
	}

	for _, g := range ghosts {
		if g >= GlobalIndex(sizeGlobal) || (g >= low && g < high) {
			dup.Free()
			return nil, &InvalidGhostError{Global: g, SizeGlobal: GlobalIndex(sizeGlobal), OwnLow: low, OwnHigh: high}
		}
	}

	sources := sortedUniqueInts(srcRanks)

	var fwd, rev *comm.GraphComm
	var dests []int
	if destRanks != nil {
		dests = sortedUniqueInts(destRanks)
		fwd, err = dup.NewGraphComm(ctx, sources, dests)
		if err != nil {
			dup.Free()
			return nil, commErr("NewGhosted.forward", err)
		}
		rev, err = fwd.ReverseOf(ctx)
		if err != nil {
			fwd.Free()
			dup.Free()
			return nil, commErr("NewGhosted.reverse", err)
		}
	} else {
		fwd, rev, dests, err = buildNeighborhood(ctx, dup, sources)
		if err != nil {
			dup.Free()
			return nil, fmt.Errorf("indexmap: NewGhosted: %w", err)
		}
	}

	m := &IndexMap{
		comm:       dup,
		rank:       dup.Rank(),
		size:       dup.Size(),
		low:        low,
		high:       high,
		sizeGlobal: GlobalIndex(sizeGlobal),
		ghosts:     append([]GlobalIndex(nil), ghosts...),
		owners:     append([]int(nil), srcRanks...),
		fwd:        fwd,
		rev:        rev,
		log:        newRankLogger(dup.Rank()),
	}
	m.log.Debug().Int("size_local", localSize).Int("num_ghosts", len(ghosts)).
		Int("num_sources", len(sources)).Int("num_destinations", len(dests)).
		Msg("ghosted index map constructed")
	return m, nil
}
