// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package adstack implements the scratch stack used to run operator tapes.
//
// Every frame of the stack describes one active sub-expression 𝒖 by
//   - its value 𝒖(𝐱)
//   - its sparse gradient 𝜵𝒖(𝐱) as (i, ∂𝒖/∂𝐱ᵢ) entries
//   - its sparse Hessian 𝜵²𝒖(𝐱) as ((i,j), ∂²𝒖/∂𝐱ᵢ∂𝐱ⱼ) entries with i ≤ j
//
// Operators pop their operands and push the combined frame, applying the closed
// form derivative rules in the same pass that computes the value:
//
//	sum     : 𝜵(∑𝒖ₖ) = ∑𝜵𝒖ₖ                 𝜵²(∑𝒖ₖ) = ∑𝜵²𝒖ₖ
//	product : 𝜵(𝒖𝒗) = 𝒗𝜵𝒖 + 𝒖𝜵𝒗             𝜵²(𝒖𝒗) = 𝒗𝜵²𝒖 + 𝒖𝜵²𝒗 + 𝜵𝒖𝜵𝒗ᵀ + 𝜵𝒗𝜵𝒖ᵀ
//	unary   : 𝜵φ(𝒖) = φ′(𝒖)𝜵𝒖                𝜵²φ(𝒖) = φ′(𝒖)𝜵²𝒖 + φ″(𝒖)𝜵𝒖𝜵𝒖ᵀ
//
// Entries are never dropped for being numerically zero, hence the sparsity
// pattern of the final frame only depends on the operator sequence.
package adstack

import (
	"github.com/curioloop/madopt/sparse"
)

// Stack is a reusable evaluation stack.
// It keeps its arenas across runs, so a single Stack should be reused for every row of a model.
// To avoid race conditions, separate stacks need to be created for each goroutine.
type Stack struct {
	g    []float64
	jac  sparse.JacList
	hess sparse.HessList
	x    []float64
	peak int
}

// New allocates an empty stack.
func New() *Stack {
	return new(Stack)
}

// SetX binds the variable values read by PushVar.
// A nil x makes every variable evaluate to zero, which is enough to discover sparsity patterns.
func (s *Stack) SetX(x []float64) {
	s.x = x
}

// Size returns the number of active frames.
func (s *Stack) Size() int {
	return len(s.g)
}

// Clear drops every frame and unbinds x.
func (s *Stack) Clear() {
	s.g = s.g[:0]
	s.jac.Reset()
	s.hess.Reset()
	s.x = nil
}

// PushVar pushes the frame of variable 𝐱ᵢ: value 𝐱ᵢ, gradient {i:1}, empty Hessian.
func (s *Stack) PushVar(i int) {
	if i < 0 || (s.x != nil && i >= len(s.x)) {
		panic("adstack: variable index out of range")
	}
	v := 0.0
	if s.x != nil {
		v = s.x[i]
	}
	s.push(v)
	s.jac.Add(i, 1)
}

// PushConst pushes a constant frame with empty derivatives.
func (s *Stack) PushConst(v float64) {
	s.push(v)
}

// Top returns the value of the top frame.
func (s *Stack) Top() float64 {
	s.need(1)
	return s.g[len(s.g)-1]
}

// Add pops n frames and pushes their sum.
func (s *Stack) Add(n int) {
	s.need(n)
	if n < 1 {
		panic("adstack: sum of less than one operand")
	}
	k := len(s.g) - n
	sum := s.g[k]
	for _, v := range s.g[k+1:] {
		sum += v
	}
	s.g = append(s.g[:k], sum)
	s.jac.Merge(n)
	s.hess.Merge(n)
}

// Mul pops two frames 𝒖 (lower) and 𝒗 (top) and pushes their product.
func (s *Stack) Mul() {
	s.need(2)
	k := len(s.g) - 2
	u, v := s.g[k], s.g[k+1]

	// cross terms 𝜵𝒖𝜵𝒗ᵀ + 𝜵𝒗𝜵𝒖ᵀ read the operand gradients before they are scaled
	du, dudx := s.jac.Frame(1)
	dv, dvdx := s.jac.Frame(0)
	h := &s.hess
	h.Scale(u)
	h.Push()
	for a, i := range du {
		for b, j := range dv {
			c := dudx[a] * dvdx[b]
			if i == j {
				c += c
			}
			h.AddPair(i, j, c)
		}
	}
	h.ScaleFrame(2, v)
	h.Merge(3)

	s.jac.Scale(u)
	s.jac.ScaleFrame(1, v)
	s.jac.Merge(2)

	s.g = append(s.g[:k], u*v)
}

// Apply replaces the top frame 𝒖 by φ(𝒖) given f = φ(𝒖), df = φ′(𝒖) and d2f = φ″(𝒖).
func (s *Stack) Apply(f, df, d2f float64) {
	s.need(1)

	keys, dudx := s.jac.Top()
	h := &s.hess
	h.Scale(df)
	h.Push()
	for a, i := range keys {
		for b := a; b < len(keys); b++ {
			h.AddPair(i, keys[b], d2f*dudx[a]*dudx[b])
		}
	}
	h.Merge(2)

	s.jac.Scale(df)
	s.g[len(s.g)-1] = f
}

// NNZJac returns the number of gradient entries of the top frame.
func (s *Stack) NNZJac() int {
	s.need(1)
	keys, _ := s.jac.Top()
	return len(keys)
}

// JacEntries returns the variable indices of the top frame gradient in first-seen order.
func (s *Stack) JacEntries() []int {
	s.need(1)
	keys, _ := s.jac.Top()
	return append([]int(nil), keys...)
}

// HessEntries returns the index pairs of the top frame Hessian in first-seen order.
func (s *Stack) HessEntries() []sparse.Pair {
	s.need(1)
	keys, _ := s.hess.Top()
	return append([]sparse.Pair(nil), keys...)
}

// Fill copies the gradient and Hessian coefficients of the single remaining frame
// into jac and hess, ordered as JacEntries and HessEntries. Either slice may be nil
// when the caller does not need it.
func (s *Stack) Fill(jac, hess []float64) {
	if len(s.g) != 1 {
		panic("adstack: tape corruption, stack does not hold exactly one frame")
	}
	if jac != nil {
		_, v := s.jac.Top()
		if len(v) != len(jac) {
			panic("adstack: jacobian dimension not match tape")
		}
		copy(jac, v)
	}
	if hess != nil {
		_, v := s.hess.Top()
		if len(v) != len(hess) {
			panic("adstack: hessian dimension not match tape")
		}
		copy(hess, v)
	}
}

// OptimizeAlignment sizes every internal buffer to the peak usage seen so far.
// It only affects memory layout and never the computed values.
func (s *Stack) OptimizeAlignment() {
	if cap(s.g) != s.peak {
		g := make([]float64, len(s.g), max(s.peak, len(s.g)))
		copy(g, s.g)
		s.g = g
	}
	s.jac.Compact()
	s.hess.Compact()
}

func (s *Stack) push(v float64) {
	s.g = append(s.g, v)
	s.peak = max(s.peak, len(s.g))
	s.jac.Push()
	s.hess.Push()
}

func (s *Stack) need(n int) {
	if len(s.g) < n {
		panic("adstack: tape corruption, operator needs more operands than stacked")
	}
}
