// Package mpilib is the process-parallel comm.Communicator backend,
// built on github.com/btracey/mpi. That package gives only
// point-to-point Send/Receive over a registered network
// implementation (see its doc comment); every collective the
// Communicator interface requires is assembled here on top of it.
//
// btracey/mpi has no Probe or any-source Receive, so the sparse NBX
// consensus protocol (non-blocking sends plus a quiescence barrier,
// scaling with the number of peers) cannot be implemented as written
// against this transport: there is no way to
// discover "which ranks sent me something" without asking every rank
// directly. Consensus here degrades to an O(size) point-to-point
// announcement exchange per rank instead — still the exact same
// observable contract (see comm.Communicator.Consensus), just without
// the sparse-scaling property the real MPI primitive has. comm/local
// is where the sparse-result contract is exercised in tests; this
// backend is for actually running across processes.
package mpilib

import (
	"context"
	"fmt"
	"sync"

	"github.com/btracey/mpi"

	"github.com/notargets/dgindex/comm"
)

// tagRangeSize bounds how many distinct {destination,tag} pairs a
// single logical communicator may use concurrently-in-sequence before
// wrapping into a duplicate's range. btracey/mpi identifies in-flight
// messages by {destination, tag}, so every Dup needs a disjoint range.
const tagRangeSize = 1 << 16

// Comm adapts the single global btracey/mpi process group into a
// comm.Communicator. Callers must call mpi.Register and mpi.Init
// themselves before constructing a Comm (mirroring the package's own
// init-once, finalize-once contract), and mpi.Finalize once after all
// Comms are done.
type Comm struct {
	tagBase int
	seq     int
}

// New wraps the current (already-initialized) btracey/mpi process
// group as a root communicator.
func New() *Comm {
	return &Comm{}
}

var _ comm.Communicator = (*Comm)(nil)

func (c *Comm) Rank() int { return mpi.Rank() }
func (c *Comm) Size() int { return mpi.Size() }

// lastTagBase is the highest tag range handed out by Dup in this
// process. Dup is collective and every rank calls it in the same
// order, so each rank's counter advances in step with the others.
var lastTagBase int

func (c *Comm) Dup(ctx context.Context) (comm.Communicator, error) {
	lastTagBase += tagRangeSize
	return &Comm{tagBase: lastTagBase}, nil
}

func (c *Comm) Free() {}

func (c *Comm) nextTag() int {
	c.seq++
	return c.tagBase + c.seq
}

// int64Payload is what actually crosses the wire for the numeric
// collectives; btracey/mpi serializes whatever concrete type is
// handed to Send, so a named struct (rather than a bare int64) keeps
// decoding unambiguous on the receiving Receive call.
type int64Payload struct {
	V int64
}

type uint32Payload struct {
	Data []uint32
}

type boolPayload struct {
	Want bool
}

// sendTo/recvFrom are small wrappers that make the point-to-point
// blocking send and blocking-receive pattern from btracey-mpi's
// helloworld example read as a single call at each use site below.
func sendTo(dst, tag int, data interface{}) error {
	if err := mpi.Send(data, dst, tag); err != nil {
		return fmt.Errorf("mpilib: send to rank %d: %w", dst, err)
	}
	return nil
}

func recvFrom(src, tag int, data interface{}) error {
	if err := mpi.Receive(data, src, tag); err != nil {
		return fmt.Errorf("mpilib: receive from rank %d: %w", src, err)
	}
	return nil
}

// sendToManyTags fires sendTo(dsts[i], tags[i], payloads[i]) from its
// own goroutine for every i and returns a channel that yields one
// error per send, closed once all have returned. sendTo blocks inside
// mpi.Send, so a plain serial loop over mutual neighbors can stall:
// rank A sits in a send to B while B sits in a send to A, and neither
// reaches its own receive loop. Running every send concurrently, the same way
// btracey-mpi's helloworld.go drives Send/Receive pairs from separate
// goroutines, lets the caller's receive loop run immediately instead
// of waiting behind the sends.
func sendToManyTags(dsts, tags []int, payloads []interface{}) <-chan error {
	errs := make(chan error, len(dsts))
	var wg sync.WaitGroup
	wg.Add(len(dsts))
	for i, dst := range dsts {
		go func(dst, tag int, p interface{}) {
			defer wg.Done()
			errs <- sendTo(dst, tag, p)
		}(dst, tags[i], payloads[i])
	}
	go func() {
		wg.Wait()
		close(errs)
	}()
	return errs
}

// sendToMany is sendToManyTags for the common case of one shared tag
// across every destination.
func sendToMany(dsts []int, tag int, payloads []interface{}) <-chan error {
	tags := make([]int, len(dsts))
	for i := range tags {
		tags[i] = tag
	}
	return sendToManyTags(dsts, tags, payloads)
}

// root-gather: every non-root rank sends v to rank 0; rank 0 collects
// all values (its own included) into a slice ordered by rank.
func (c *Comm) gatherAtRoot(ctx context.Context, v int64) ([]int64, error) {
	tag := c.nextTag()
	size := c.Size()
	rank := c.Rank()

	if rank != 0 {
		if err := sendTo(0, tag, int64Payload{V: v}); err != nil {
			return nil, fmt.Errorf("mpilib: gather: %w", err)
		}
		return nil, nil
	}

	values := make([]int64, size)
	values[0] = v
	for r := 1; r < size; r++ {
		var p int64Payload
		if err := recvFrom(r, tag, &p); err != nil {
			return nil, fmt.Errorf("mpilib: gather: %w", err)
		}
		values[r] = p.V
	}
	return values, nil
}

// broadcastFromRoot sends values (already known in full to rank 0) to
// every other rank.
func (c *Comm) broadcastFromRoot(ctx context.Context, values []int64) error {
	tag := c.nextTag()
	size := c.Size()
	rank := c.Rank()

	if rank == 0 {
		for r := 1; r < size; r++ {
			if err := sendTo(r, tag, int64SlicePayload{V: values}); err != nil {
				return fmt.Errorf("mpilib: broadcast: %w", err)
			}
		}
		return nil
	}
	var p int64SlicePayload
	if err := recvFrom(0, tag, &p); err != nil {
		return fmt.Errorf("mpilib: broadcast: %w", err)
	}
	copy(values, p.V)
	return nil
}

type int64SlicePayload struct {
	V []int64
}

func (c *Comm) ExclusiveScanSum(ctx context.Context, v int64) (int64, error) {
	values, err := c.allGatherViaRoot(ctx, v)
	if err != nil {
		return 0, err
	}
	var sum int64
	for i := 0; i < c.Rank(); i++ {
		sum += values[i]
	}
	return sum, nil
}

func (c *Comm) AllreduceSum(ctx context.Context, v int64) (int64, error) {
	values, err := c.allGatherViaRoot(ctx, v)
	if err != nil {
		return 0, err
	}
	var sum int64
	for _, x := range values {
		sum += x
	}
	return sum, nil
}

func (c *Comm) AllGatherInt64(ctx context.Context, v int64) ([]int64, error) {
	return c.allGatherViaRoot(ctx, v)
}

// allGatherViaRoot is the shared gather-then-broadcast shape behind
// all three numeric collectives: one root-gather tag, one
// broadcast-from-root tag, every call.
func (c *Comm) allGatherViaRoot(ctx context.Context, v int64) ([]int64, error) {
	gathered, err := c.gatherAtRoot(ctx, v)
	if err != nil {
		return nil, err
	}
	size := c.Size()
	values := make([]int64, size)
	if c.Rank() == 0 {
		copy(values, gathered)
	}
	if err := c.broadcastFromRoot(ctx, values); err != nil {
		return nil, err
	}
	return values, nil
}

// Consensus degrades NBX to a direct O(size) point-to-point
// announcement exchange, per the package doc comment above: every
// rank tells every other rank whether it wants to talk to it, and
// collects the same from everyone.
func (c *Comm) Consensus(ctx context.Context, peers []int) ([]int, error) {
	size := c.Size()
	rank := c.Rank()
	wants := make(map[int]bool, len(peers))
	for _, p := range peers {
		wants[p] = true
	}

	baseTag := c.nextTag()
	destinations := make([]int, 0)

	peersExceptSelf := make([]int, 0, size-1)
	payloads := make([]interface{}, 0, size-1)
	tags := make([]int, 0, size-1)
	for r := 0; r < size; r++ {
		if r == rank {
			continue
		}
		peersExceptSelf = append(peersExceptSelf, r)
		payloads = append(payloads, boolPayload{Want: wants[r]})
		tags = append(tags, baseTag+r)
	}

	// Every rank announces to every other rank, so this is exactly the
	// symmetric-traffic case sendToManyTags exists for: a serial send
	// loop here would deadlock against another rank doing the same
	// thing.
	sendErrs := sendToManyTags(peersExceptSelf, tags, payloads)

	var recvErr error
	for _, r := range peersExceptSelf {
		var p boolPayload
		if err := recvFrom(r, baseTag+rank, &p); err != nil {
			recvErr = fmt.Errorf("mpilib: consensus: %w", err)
			break
		}
		if p.Want {
			destinations = append(destinations, r)
		}
	}

	for err := range sendErrs {
		if err != nil && recvErr == nil {
			recvErr = fmt.Errorf("mpilib: consensus: %w", err)
		}
	}
	if recvErr != nil {
		return nil, recvErr
	}
	return destinations, nil
}

// NewGraphComm records the neighborhood and returns a GraphComm whose
// NeighborAlltoallv is plain point-to-point Send/Receive along the
// fixed source/destination edges — no discovery happens here, sources
// and destinations are already agreed by the caller (normally the
// output of Consensus).
func (c *Comm) NewGraphComm(ctx context.Context, sources, destinations []int) (*comm.GraphComm, error) {
	baseTag := c.nextTag()
	seq := 0

	send := func(ctx context.Context, sendCounts []int, sendData [][]uint32) ([][]uint32, error) {
		if len(sendData) != len(destinations) {
			return nil, fmt.Errorf("mpilib: NeighborAlltoallv: got %d payloads, want %d (len(Destinations))",
				len(sendData), len(destinations))
		}
		seq++
		tag := baseTag + seq

		payloads := make([]interface{}, len(destinations))
		for i := range destinations {
			payloads[i] = uint32Payload{Data: sendData[i]}
		}
		// A rank's own sources and destinations routinely overlap
		// (mutual ghost/owner pairs), so, exactly like Consensus, the
		// sends must run concurrently with the receive loop below
		// rather than ahead of it.
		sendErrs := sendToMany(destinations, tag, payloads)

		out := make([][]uint32, len(sources))
		var recvErr error
		for i, src := range sources {
			var p uint32Payload
			if err := recvFrom(src, tag, &p); err != nil {
				recvErr = fmt.Errorf("mpilib: NeighborAlltoallv: %w", err)
				break
			}
			out[i] = p.Data
		}

		for err := range sendErrs {
			if err != nil && recvErr == nil {
				recvErr = fmt.Errorf("mpilib: NeighborAlltoallv: %w", err)
			}
		}
		if recvErr != nil {
			return nil, recvErr
		}
		return out, nil
	}

	return comm.NewGraphComm(c, sources, destinations, send, nil), nil
}
