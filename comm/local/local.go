// Package local implements comm.Communicator entirely in-process,
// using one goroutine per simulated rank and channel-based rendezvous
// for each collective call. It exists so the index-map algorithms
// can be exercised and tested on 1, 2, 4, or 8 "ranks" inside a
// single test binary, the same way lollipop's NodeParallelFor spawns
// one goroutine per graph thread and btracey/mpi's helloworld example
// drives Send/Receive from goroutines.
//
// Every collective here assumes what the Communicator contract
// requires of any implementation: all ranks call matching collectives
// in the same order, never interleaved with another collective on
// their own comm. That guarantee is what lets each rank track its own
// call
// index and have it line up, across ranks, with the same logical
// operation — no wall-clock synchronization is needed to find out
// which calls belong together.
package local

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/notargets/dgindex/comm"
)

// World holds all shared rendezvous state for a set of simulated
// ranks. Ranks created from the same World can talk to each other;
// ranks from different Worlds cannot.
type World struct {
	size int

	mu        sync.Mutex
	nextComm  int64
	num       map[string]*numRendezvous
	peerSets  map[string]*peerRendezvous
	exchanges map[string]*exchangeRendezvous
}

// NewWorld creates a World and returns size Comms, one per rank,
// rank i at index i. Each Comm is independent of the others only in
// its local call counter; all share the underlying rendezvous state.
func NewWorld(size int) []comm.Communicator {
	if size < 1 {
		panic("local: world size must be >= 1")
	}
	w := &World{
		size:      size,
		num:       make(map[string]*numRendezvous),
		peerSets:  make(map[string]*peerRendezvous),
		exchanges: make(map[string]*exchangeRendezvous),
	}
	out := make([]comm.Communicator, size)
	for r := 0; r < size; r++ {
		out[r] = &Comm{world: w, rank: r, id: 0}
	}
	return out
}

// Comm is one rank's handle onto a World.
type Comm struct {
	world *World
	rank  int
	id    int64 // identifies this logical communicator within the world
	seq   int   // this rank's own count of collective calls made on id
}

var _ comm.Communicator = (*Comm)(nil)

func (c *Comm) Rank() int { return c.rank }
func (c *Comm) Size() int { return c.world.size }

// Dup is collective on c. Every rank must observe the same new id, so
// rank 0 alone allocates it from the world counter and the value is
// shared through one gather on the parent communicator.
func (c *Comm) Dup(ctx context.Context) (comm.Communicator, error) {
	var proposed int64
	if c.rank == 0 {
		c.world.mu.Lock()
		c.world.nextComm++
		proposed = c.world.nextComm
		c.world.mu.Unlock()
	}
	id := c.world.gatherNum(c.step(), c.rank, proposed)[0]
	return &Comm{world: c.world, rank: c.rank, id: id}, nil
}

func (c *Comm) Free() {}

func (c *Comm) step() string {
	c.seq++
	return fmt.Sprintf("%d:%d", c.id, c.seq)
}

// numRendezvous gathers one int64 per rank before releasing anyone.
type numRendezvous struct {
	mu      sync.Mutex
	values  []int64
	arrived int
	ready   chan struct{}
}

func (w *World) gatherNum(key string, rank int, v int64) []int64 {
	w.mu.Lock()
	r, ok := w.num[key]
	if !ok {
		r = &numRendezvous{values: make([]int64, w.size), ready: make(chan struct{})}
		w.num[key] = r
	}
	w.mu.Unlock()

	r.mu.Lock()
	r.values[rank] = v
	r.arrived++
	last := r.arrived == w.size
	r.mu.Unlock()

	if last {
		close(r.ready)
	}
	<-r.ready
	return r.values
}

func (c *Comm) ExclusiveScanSum(ctx context.Context, v int64) (int64, error) {
	values := c.world.gatherNum(c.step(), c.rank, v)
	var sum int64
	for i := 0; i < c.rank; i++ {
		sum += values[i]
	}
	return sum, nil
}

func (c *Comm) AllreduceSum(ctx context.Context, v int64) (int64, error) {
	values := c.world.gatherNum(c.step(), c.rank, v)
	var sum int64
	for _, x := range values {
		sum += x
	}
	return sum, nil
}

func (c *Comm) AllGatherInt64(ctx context.Context, v int64) ([]int64, error) {
	values := c.world.gatherNum(c.step(), c.rank, v)
	out := make([]int64, len(values))
	copy(out, values)
	return out, nil
}

// peerRendezvous gathers one rank's worth of NBX peer announcements.
type peerRendezvous struct {
	mu      sync.Mutex
	peers   [][]int // peers[r] = ranks r announced it wants to talk to
	arrived int
	ready   chan struct{}
}

func (w *World) gatherPeers(key string, rank int, peers []int) [][]int {
	w.mu.Lock()
	r, ok := w.peerSets[key]
	if !ok {
		r = &peerRendezvous{peers: make([][]int, w.size), ready: make(chan struct{})}
		w.peerSets[key] = r
	}
	w.mu.Unlock()

	r.mu.Lock()
	r.peers[rank] = peers
	r.arrived++
	last := r.arrived == w.size
	r.mu.Unlock()

	if last {
		close(r.ready)
	}
	<-r.ready
	return r.peers
}

// Consensus implements the NBX protocol's observable result: every
// rank announces who it wants to talk to, and every rank learns who
// announced it in return. The real NBX algorithm (non-blocking sends
// plus a consensus barrier) exists to avoid an O(M^2) all-to-all when
// ranks are many and halos are sparse; the in-process backend has no
// network cost to avoid, so it implements the same contract with a
// single gather-then-filter pass.
func (c *Comm) Consensus(ctx context.Context, peers []int) ([]int, error) {
	sortedPeers := append([]int(nil), peers...)
	sort.Ints(sortedPeers)

	all := c.world.gatherPeers(c.step(), c.rank, sortedPeers)

	var destinations []int
	for r, want := range all {
		for _, p := range want {
			if p == c.rank {
				destinations = append(destinations, r)
				break
			}
		}
	}
	sort.Ints(destinations)
	return destinations, nil
}

// exchangeRendezvous collects one neighbor-alltoallv round: every
// rank in the world contributes whatever it addressed to every other
// rank (most addressed-to lists will be empty — only neighbors in the
// calling GraphComm send anything).
type exchangeRendezvous struct {
	mu      sync.Mutex
	inbound [][]inboundMsg // inbound[to] = messages addressed to rank "to"
	arrived int
	ready   chan struct{}
}

type inboundMsg struct {
	from int
	data []uint32
}

func (w *World) exchange(key string, rank int, sendTo map[int][]uint32) [][]inboundMsg {
	w.mu.Lock()
	r, ok := w.exchanges[key]
	if !ok {
		r = &exchangeRendezvous{inbound: make([][]inboundMsg, w.size), ready: make(chan struct{})}
		w.exchanges[key] = r
	}
	w.mu.Unlock()

	r.mu.Lock()
	for to, data := range sendTo {
		r.inbound[to] = append(r.inbound[to], inboundMsg{from: rank, data: data})
	}
	r.arrived++
	last := r.arrived == w.size
	r.mu.Unlock()

	if last {
		close(r.ready)
	}
	<-r.ready
	return r.inbound
}

// NewGraphComm records the caller's neighborhood and hands back a
// GraphComm whose NeighborAlltoallv rendezvous-exchanges through this
// World. Every rank in the parent world must call NewGraphComm the
// same number of times, in the same order, for the step-key scheme to
// line up separate graph communicators correctly — the same
// requirement the distributed-graph collective itself imposes.
func (c *Comm) NewGraphComm(ctx context.Context, sources, destinations []int) (*comm.GraphComm, error) {
	graphKey := c.step()
	seq := 0

	send := func(ctx context.Context, sendCounts []int, sendData [][]uint32) ([][]uint32, error) {
		if len(sendData) != len(destinations) {
			return nil, fmt.Errorf("local: NeighborAlltoallv: got %d payloads, want %d (len(Destinations))",
				len(sendData), len(destinations))
		}
		seq++
		key := fmt.Sprintf("%s/%d", graphKey, seq)

		sendTo := make(map[int][]uint32, len(destinations))
		for i, dst := range destinations {
			sendTo[dst] = sendData[i]
		}

		inbound := c.world.exchange(key, c.rank, sendTo)
		mine := inbound[c.rank]

		byFrom := make(map[int][]uint32, len(mine))
		for _, m := range mine {
			byFrom[m.from] = m.data
		}

		out := make([][]uint32, len(sources))
		for i, src := range sources {
			out[i] = byFrom[src]
		}
		return out, nil
	}

	return comm.NewGraphComm(c, sources, destinations, send, nil), nil
}
