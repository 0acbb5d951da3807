// Package comm defines the message-passing contract the index-map
// components are built against: point-to-point transport, the
// collectives the distributed index map needs (exclusive scan,
// all-reduce, all-gather, non-blocking consensus), and distributed
// graph communicators for owner/ghost neighborhoods.
//
// Two implementations exist: comm/local, an in-process backend used
// by every test and by single-binary demos, and comm/mpilib, a
// process-parallel backend built on github.com/btracey/mpi.
package comm

import "context"

// Communicator is a process group plus the collectives an index map
// construction needs. Every method is collective unless documented
// otherwise: all ranks of the communicator must call it, in the same
// order, with consistent arguments.
type Communicator interface {
	// Rank returns the caller's rank, in [0, Size()).
	Rank() int

	// Size returns the number of ranks in the group.
	Size() int

	// Dup returns an independent duplicate of this communicator.
	// The duplicate must be freed by the caller.
	Dup(ctx context.Context) (Communicator, error)

	// Free releases resources held by this communicator. Not
	// collective: a rank may free its handle at any time after it
	// will issue no further calls on it.
	Free()

	// ExclusiveScanSum performs an exclusive prefix sum of v across
	// ranks and returns this rank's partial sum (not including v).
	ExclusiveScanSum(ctx context.Context, v int64) (int64, error)

	// AllreduceSum returns the sum of v across all ranks, identical
	// on every rank.
	AllreduceSum(ctx context.Context, v int64) (int64, error)

	// AllGatherInt64 gathers one int64 per rank, ordered by rank.
	AllGatherInt64(ctx context.Context, v int64) ([]int64, error)

	// Consensus runs the NBX non-blocking-consensus protocol: the
	// caller announces it wants to talk to each rank in peers (which
	// may be empty, and need not be symmetric across ranks), and
	// returns the sorted, duplicate-free set of ranks that announced
	// they want to talk to the caller.
	Consensus(ctx context.Context, peers []int) ([]int, error)

	// NewGraphComm builds a distributed-graph communicator: in-edges
	// from sources (ranks this rank receives from) and out-edges to
	// destinations (ranks this rank sends to). Both lists must be
	// sorted and duplicate-free, and the ordering must be agreed by
	// all ranks — it fixes the positional semantics of
	// NeighborAlltoallv.
	NewGraphComm(ctx context.Context, sources, destinations []int) (*GraphComm, error)
}

// GraphComm is a distributed-graph communicator: a sparse, directed
// neighborhood fixed at creation time. NeighborAlltoallv exchanges
// data along its edges only — its cost scales with the number of
// neighbors, not the size of the underlying communicator.
type GraphComm struct {
	parent       Communicator
	Sources      []int // ranks this communicator receives from, sorted
	Destinations []int // ranks this communicator sends to, sorted

	send func(ctx context.Context, sendCounts []int, sendData [][]uint32) ([][]uint32, error)
	free func()
}

// ReverseOf builds the transpose of this graph communicator: its
// sources become the reverse's destinations and vice versa. Collective.
func (g *GraphComm) ReverseOf(ctx context.Context) (*GraphComm, error) {
	return g.parent.NewGraphComm(ctx, g.Destinations, g.Sources)
}

// NeighborAlltoallv sends sendData[i] to Destinations[i] for each i,
// and returns, in Sources order, the data received from each source.
// len(sendData) must equal len(Destinations).
func (g *GraphComm) NeighborAlltoallv(ctx context.Context, sendData [][]uint32) ([][]uint32, error) {
	counts := make([]int, len(sendData))
	for i, d := range sendData {
		counts[i] = len(d)
	}
	return g.send(ctx, counts, sendData)
}

// Free releases resources associated with this graph communicator.
func (g *GraphComm) Free() {
	if g.free != nil {
		g.free()
	}
}

// NewGraphComm is the constructor backends use to hand callers a
// GraphComm wired to their own transport.
func NewGraphComm(parent Communicator, sources, destinations []int,
	send func(ctx context.Context, sendCounts []int, sendData [][]uint32) ([][]uint32, error),
	free func()) *GraphComm {
	return &GraphComm{parent: parent, Sources: sources, Destinations: destinations, send: send, free: free}
}
