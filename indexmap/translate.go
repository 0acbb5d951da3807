package indexmap

import "fmt"

// LocalToGlobal translates a batch of local indices (owned indices in
// [0, SizeLocal), ghost indices in [SizeLocal, SizeLocal+NumGhosts))
// to their global equivalents.
func (m *IndexMap) LocalToGlobal(locals []int) ([]GlobalIndex, error) {
	sizeLocal := m.SizeLocal()
	bound := sizeLocal + len(m.ghosts)

	out := make([]GlobalIndex, len(locals))
	for i, l := range locals {
		if l < 0 || l >= bound {
			return nil, fmt.Errorf("indexmap: LocalToGlobal: %w: local %d out of range [0,%d)", ErrInvalidArgument, l, bound)
		}
		if l < sizeLocal {
			out[i] = m.low + GlobalIndex(l)
		} else {
			out[i] = m.ghosts[l-sizeLocal]
		}
	}
	return out, nil
}

// GlobalToLocal translates a batch of global indices to local
// indices; entries this rank neither owns nor ghosts come back as -1.
// The ghost lookup table is built once, on the first call, and
// cached — the amortized hash lookup a repeated translation workload
// needs, in place of a linear or repeatedly-rebuilt scan.
func (m *IndexMap) GlobalToLocal(globals []GlobalIndex) []int {
	m.g2lOnce.Do(m.buildGhostCache)

	sizeLocal := m.SizeLocal()
	out := make([]int, len(globals))
	for i, g := range globals {
		switch {
		case g >= m.low && g < m.high:
			out[i] = int(g - m.low)
		default:
			if pos, ok := m.g2lCache[g]; ok {
				out[i] = sizeLocal + pos
			} else {
				out[i] = -1
			}
		}
	}
	return out
}

func (m *IndexMap) buildGhostCache() {
	m.g2lCache = make(map[GlobalIndex]int, len(m.ghosts))
	for i, g := range m.ghosts {
		m.g2lCache[g] = i
	}
}

// GlobalIndices returns the length SizeLocal()+NumGhosts() array of
// this rank's owned globals followed by its ghost globals, in the
// same order LocalToGlobal would produce for every local index.
func (m *IndexMap) GlobalIndices() []GlobalIndex {
	sizeLocal := m.SizeLocal()
	out := make([]GlobalIndex, sizeLocal+len(m.ghosts))
	for i := 0; i < sizeLocal; i++ {
		out[i] = m.low + GlobalIndex(i)
	}
	copy(out[sizeLocal:], m.ghosts)
	return out
}
