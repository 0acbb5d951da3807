// Package adjacency implements a ragged array: a node-to-links
// container backed by one flat data array and an offsets array,
// rather than a slice of slices. It is the index map's representation
// for its forward scatter adjacency (nodes are destination neighbor
// positions, links are owned local indices to send) and for any other
// per-neighbor list the package needs.
//
// The layout is the one partitions.PartitionedArray already uses in
// the teacher package (contiguous GlobalData plus an Offsets index),
// generalized from float64 element data to uint32 indices.
package adjacency

import "fmt"

// List is a ragged array: NumNodes() groups of links, stored
// contiguously in Data with group boundaries in Offsets.
// len(Offsets) == NumNodes()+1; group i occupies Data[Offsets[i]:Offsets[i+1]].
type List struct {
	Data    []uint32
	Offsets []int
}

// NewList builds a List from per-node link slices, flattening them
// into one contiguous Data array in node order.
func NewList(links [][]uint32) *List {
	offsets := make([]int, len(links)+1)
	total := 0
	for i, l := range links {
		offsets[i] = total
		total += len(l)
	}
	offsets[len(links)] = total

	data := make([]uint32, total)
	for i, l := range links {
		copy(data[offsets[i]:offsets[i+1]], l)
	}
	return &List{Data: data, Offsets: offsets}
}

// NumNodes returns the number of node groups in the list.
func (l *List) NumNodes() int {
	if len(l.Offsets) == 0 {
		return 0
	}
	return len(l.Offsets) - 1
}

// Links returns node's slice of links. It aliases Data — callers
// must not retain it across mutation of the List.
func (l *List) Links(node int) []uint32 {
	return l.Data[l.Offsets[node]:l.Offsets[node+1]]
}

// Validate checks the Offsets/Data invariants: monotone non-decreasing
// offsets, and the final offset equal to len(Data).
func (l *List) Validate() error {
	if len(l.Offsets) == 0 {
		return fmt.Errorf("adjacency: empty offsets array")
	}
	for i := 1; i < len(l.Offsets); i++ {
		if l.Offsets[i] < l.Offsets[i-1] {
			return fmt.Errorf("adjacency: offsets not monotone at node %d: %d < %d",
				i-1, l.Offsets[i], l.Offsets[i-1])
		}
	}
	if l.Offsets[len(l.Offsets)-1] != len(l.Data) {
		return fmt.Errorf("adjacency: final offset %d does not match len(Data) %d",
			l.Offsets[len(l.Offsets)-1], len(l.Data))
	}
	return nil
}
