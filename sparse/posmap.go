// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sparse

// PosMap assigns a dense global slot to every Hessian coordinate pair of a model.
//
// Slots start at 0 and are handed out in the order pairs are first seen.
// The map only grows: a pair keeps its slot for the lifetime of the map,
// so every row touching the same pair accumulates into the same position
// of the global Lagrangian Hessian buffer.
//
// PosMap is written during model initialization only and is not safe for concurrent mutation.
// After Freeze any attempt to add a new pair panics, lookups remain valid.
type PosMap struct {
	slots  map[Pair]int
	pairs  []Pair
	frozen bool
}

// NewPosMap returns an empty position map.
func NewPosMap() *PosMap {
	return &PosMap{slots: make(map[Pair]int)}
}

// Len returns the number of assigned slots.
func (m *PosMap) Len() int {
	return len(m.pairs)
}

// Slot returns the slot of p if it has one.
func (m *PosMap) Slot(p Pair) (int, bool) {
	s, ok := m.slots[MakePair(p.I, p.J)]
	return s, ok
}

// Assign returns the slot of p, appending p with the next free slot on first sight.
func (m *PosMap) Assign(p Pair) int {
	p = MakePair(p.I, p.J)
	if s, ok := m.slots[p]; ok {
		return s
	}
	if m.frozen {
		panic("sparse: position map is frozen, cannot assign " + p.String())
	}
	if m.slots == nil {
		m.slots = make(map[Pair]int)
	}
	s := len(m.pairs)
	m.slots[p] = s
	m.pairs = append(m.pairs, p)
	return s
}

// Pairs returns the assigned pairs indexed by slot.
func (m *PosMap) Pairs() []Pair {
	return m.pairs[:len(m.pairs):len(m.pairs)]
}

// Freeze stops further growth.
func (m *PosMap) Freeze() {
	m.frozen = true
}

// Frozen reports whether Freeze was called.
func (m *PosMap) Frozen() bool {
	return m.frozen
}
