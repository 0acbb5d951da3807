package indexmap

import (
	"context"
	"fmt"
	"sort"

	"github.com/notargets/dgindex/comm"
)

// buildNeighborhood discovers a ghosted map's neighborhood: from the
// sorted, duplicate-free list of source ranks (the owners of this
// rank's ghosts), discover the destination ranks — who ghosts indices
// this rank owns — with NBX consensus, then build the forward (owner
// -> ghost) and reverse (ghost -> owner) distributed-graph
// communicators. Returns the forward and reverse comms plus the
// discovered destination list.
func buildNeighborhood(ctx context.Context, c comm.Communicator, sources []int) (fwd, rev *comm.GraphComm, destinations []int, err error) {
	destinations, err = c.Consensus(ctx, sources)
	if err != nil {
		return nil, nil, nil, commErr("buildNeighborhood.consensus", err)
	}

	fwd, err = c.NewGraphComm(ctx, sources, destinations)
	if err != nil {
		return nil, nil, nil, commErr("buildNeighborhood.forward", err)
	}

	rev, err = fwd.ReverseOf(ctx)
	if err != nil {
		fwd.Free()
		return nil, nil, nil, commErr("buildNeighborhood.reverse", err)
	}

	return fwd, rev, destinations, nil
}

// VerifySymmetric checks that a map's forward and reverse
// neighborhoods are mutually consistent (adapted from
// utils.FaceConnector's Verify, which asserted a built face table was
// structurally consistent before trusting it for a scatter). It is
// collective:
// every rank holding this map must call it together. Two checks:
// the forward and reverse graph comms agree structurally (destinations
// of one are the sources of the other, in both directions — always
// true for a comm built with ReverseOf, but cheap to assert), and a
// global conservation check that the total number of scatter links
// this map would move equals the total number of ghosts declared,
// analogous to FaceConnector's face-count conservation check.
func (m *IndexMap) VerifySymmetric(ctx context.Context) error {
	if m.fwd == nil {
		return nil
	}

	fwdSrc := sortedCopy(m.fwd.Sources)
	fwdDst := sortedCopy(m.fwd.Destinations)
	revSrc := sortedCopy(m.rev.Sources)
	revDst := sortedCopy(m.rev.Destinations)

	if !equalInts(fwdSrc, revDst) {
		return fmt.Errorf("indexmap: VerifySymmetric: forward sources %v != reverse destinations %v", fwdSrc, revDst)
	}
	if !equalInts(fwdDst, revSrc) {
		return fmt.Errorf("indexmap: VerifySymmetric: forward destinations %v != reverse sources %v", fwdDst, revSrc)
	}

	scatter, err := m.ScatterFwdIndices(ctx)
	if err != nil {
		return fmt.Errorf("indexmap: VerifySymmetric: %w", err)
	}

	sentSum, err := m.comm.AllreduceSum(ctx, int64(len(scatter.Data)))
	if err != nil {
		return commErr("VerifySymmetric.allreduce_sent", err)
	}
	ghostSum, err := m.comm.AllreduceSum(ctx, int64(len(m.ghosts)))
	if err != nil {
		return commErr("VerifySymmetric.allreduce_ghosts", err)
	}
	if sentSum != ghostSum {
		return fmt.Errorf("indexmap: VerifySymmetric: conservation violated: total scatter links %d != total ghosts %d", sentSum, ghostSum)
	}
	return nil
}

func sortedCopy(xs []int) []int {
	out := append([]int(nil), xs...)
	sort.Ints(out)
	return out
}
