// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sparse

import (
	"slices"
	"testing"
)

func TestPosMapAssign(t *testing.T) {

	m := NewPosMap()
	a := m.Assign(Pair{0, 1})
	b := m.Assign(Pair{2, 2})
	c := m.Assign(Pair{1, 0})

	s, ok := m.Slot(Pair{2, 2})
	_, missing := m.Slot(Pair{5, 5})
	switch {
	case a != 0 || b != 1:
		t.Fatal("slots must be dense in first-seen order")
	case c != a:
		t.Fatal("unordered pair must reuse its slot")
	case m.Len() != 2:
		t.Fatal("reuse must not grow the map")
	case !ok || s != 1:
		t.Fatal("lookup lost an assigned slot")
	case missing:
		t.Fatal("lookup invented a slot")
	case !slices.Equal(m.Pairs(), []Pair{{0, 1}, {2, 2}}):
		t.Fatal("pairs must be listed by slot")
	}
}

func TestPosMapFreeze(t *testing.T) {

	var m PosMap
	m.Assign(Pair{0, 0})
	m.Freeze()

	if s := m.Assign(Pair{0, 0}); s != 0 || !m.Frozen() {
		t.Fatal("frozen map must still resolve known pairs")
	}

	defer func() {
		if recover() == nil {
			t.Fatal("growth after freeze must panic")
		}
	}()
	m.Assign(Pair{0, 1})
}
