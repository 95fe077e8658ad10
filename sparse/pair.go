// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sparse

import "fmt"

// Pair is an unordered pair of variable indices kept in canonical form I ≤ J.
// It addresses one element of the lower (equivalently upper) triangle of a symmetric Hessian.
type Pair struct {
	I, J int
}

// MakePair returns the canonical pair of i and j.
func MakePair(i, j int) Pair {
	if i > j {
		i, j = j, i
	}
	return Pair{i, j}
}

func (p Pair) String() string {
	return fmt.Sprintf("(%d,%d)", p.I, p.J)
}

// JacList is the list arena keyed by single variable index, one frame per Jacobian row fragment.
type JacList struct {
	List[int]
}

// HessList is the list arena keyed by canonical index pairs, one frame per Hessian fragment.
type HessList struct {
	List[Pair]
}

// AddPair accumulates v into the top frame under the canonical pair of i and j.
func (h *HessList) AddPair(i, j int, v float64) {
	h.Add(MakePair(i, j), v)
}
