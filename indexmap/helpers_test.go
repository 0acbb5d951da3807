package indexmap

import (
	"context"
	"io"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/notargets/dgindex/comm"
	"github.com/notargets/dgindex/comm/local"
)

// TestMain silences the per-rank logger for the whole package's test
// run; collective debug lines are only useful when chasing a failure
// by hand with go test -v.
func TestMain(m *testing.M) {
	SetLogger(zerolog.New(io.Discard).Level(zerolog.Disabled))
	m.Run()
}

func testCtx() context.Context { return context.Background() }

// runOnAllRanks calls fn concurrently on every rank's Communicator and
// collects one error per rank, in rank order. Every collective this
// package exposes is only correct if all ranks call it together, so
// tests always drive a World this way.
func runOnAllRanks(world []comm.Communicator, fn func(r int, c comm.Communicator) error) []error {
	errs := make([]error, len(world))
	var wg sync.WaitGroup
	wg.Add(len(world))
	for i, c := range world {
		go func(i int, c comm.Communicator) {
			defer wg.Done()
			errs[i] = fn(i, c)
		}(i, c)
	}
	wg.Wait()
	return errs
}

func requireAllNoError(t *testing.T, errs []error) {
	t.Helper()
	for r, err := range errs {
		require.NoErrorf(t, err, "rank %d", r)
	}
}

// buildRing constructs, on every rank of a size-rank world, a ring
// topology map: local_size per rank, one ghost at
// localSize*((r+1) mod size) owned by rank (r+1) mod size.
func buildRing(t *testing.T, size, localSize int) []*IndexMap {
	t.Helper()
	world := local.NewWorld(size)
	maps := make([]*IndexMap, size)
	errs := runOnAllRanks(world, func(r int, c comm.Communicator) error {
		next := (r + 1) % size
		m, err := NewGhosted(testCtx(), c, localSize,
			[]GlobalIndex{GlobalIndex(localSize * next)}, []int{next}, nil)
		if err != nil {
			return err
		}
		maps[r] = m
		return nil
	})
	requireAllNoError(t, errs)
	return maps
}
