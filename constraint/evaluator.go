// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package constraint

import (
	"fmt"
	"math"
	"strings"

	"github.com/curioloop/madopt/adstack"
	"github.com/curioloop/madopt/expr"
	"github.com/curioloop/madopt/sparse"
	"github.com/curioloop/madopt/tape"
)

// Evaluator computes the value and sparse derivatives of one scalar function 𝒇(𝐱).
//
// JacEntries and HessEntries describe a fixed sparsity pattern that does not depend on 𝐱.
// Evaluate writes ∂𝒇/∂𝐱 into jac ordered as JacEntries and ∂²𝒇/∂𝐱ᵢ∂𝐱ⱼ into hess ordered
// as HessEntries, overwriting both completely, and returns 𝒇(𝐱).
// The scratch stack s is lent for the duration of the call and left empty.
//
// The set of variants is closed, see Kind.
type Evaluator interface {
	Kind() Kind
	JacEntries() []int
	HessEntries() []sparse.Pair
	Evaluate(x []float64, s *adstack.Stack, jac, hess []float64) float64
	String() string
}

// Expr evaluates an expression through its operator tape.
type Expr struct {
	tape *tape.Tape
	src  string
	jac  []int
	hess []sparse.Pair
}

// NewExpr lowers n into a tape and records its sparsity pattern.
func NewExpr(n expr.Node) *Expr {
	e := FromTape(tape.Compile(n))
	e.src = n.String()
	return e
}

// FromTape wraps an already built tape.
func FromTape(t *tape.Tape) *Expr {
	s := adstack.New()
	t.Exec(s)
	return &Expr{
		tape: t,
		src:  t.String(),
		jac:  s.JacEntries(),
		hess: s.HessEntries(),
	}
}

func (e *Expr) Kind() Kind { return KindExpr }

// Tape returns the operator tape.
func (e *Expr) Tape() *tape.Tape { return e.tape }

func (e *Expr) JacEntries() []int { return append([]int(nil), e.jac...) }

func (e *Expr) HessEntries() []sparse.Pair { return append([]sparse.Pair(nil), e.hess...) }

func (e *Expr) Evaluate(x []float64, s *adstack.Stack, jac, hess []float64) float64 {
	s.Clear()
	s.SetX(x)
	e.tape.Exec(s)
	g := s.Top()
	s.Fill(jac, hess)
	s.Clear()
	return g
}

func (e *Expr) String() string { return e.src }

// Linear evaluates ∑aᵢ𝐱ᵢ + b. It has no second order information.
type Linear struct {
	index []int
	coef  []float64
	b     float64
}

// NewLinear builds an affine form. Repeated indices have their coefficients summed.
func NewLinear(index []int, coef []float64, b float64) *Linear {
	if len(index) != len(coef) {
		panic("constraint: linear index and coefficient dimension not match")
	}
	var l sparse.JacList
	l.Push()
	for k, i := range index {
		if i < 0 {
			panic("constraint: negative variable index")
		}
		l.Add(i, coef[k])
	}
	keys, vals := l.Top()
	return &Linear{
		index: append([]int(nil), keys...),
		coef:  append([]float64(nil), vals...),
		b:     b,
	}
}

func (l *Linear) Kind() Kind { return KindLinear }

func (l *Linear) JacEntries() []int { return append([]int(nil), l.index...) }

func (l *Linear) HessEntries() []sparse.Pair { return nil }

func (l *Linear) Evaluate(x []float64, _ *adstack.Stack, jac, _ []float64) float64 {
	g := l.b
	for k, i := range l.index {
		g += l.coef[k] * x[i]
	}
	copy(jac, l.coef)
	return g
}

func (l *Linear) String() string {
	var sb strings.Builder
	for k, i := range l.index {
		fmt.Fprintf(&sb, "%v*x%d + ", l.coef[k], i)
	}
	fmt.Fprint(&sb, l.b)
	return sb.String()
}

// QuadCos evaluates (𝐱ᵢ₊₁² + 1.5𝐱ᵢ₊₁ - a)·cos(𝐱ᵢ₊₂) - 𝐱ᵢ with hand-derived derivatives.
type QuadCos struct {
	I int
	A float64
}

func (q *QuadCos) Kind() Kind { return KindQuadCos }

func (q *QuadCos) JacEntries() []int { return []int{q.I, q.I + 1, q.I + 2} }

func (q *QuadCos) HessEntries() []sparse.Pair {
	i1, i2 := q.I+1, q.I+2
	return []sparse.Pair{{I: i1, J: i1}, {I: i1, J: i2}, {I: i2, J: i2}}
}

func (q *QuadCos) Evaluate(x []float64, _ *adstack.Stack, jac, hess []float64) float64 {
	x0, x1, x2 := x[q.I], x[q.I+1], x[q.I+2]
	sin, cos := math.Sincos(x2)
	p := x1*x1 + 1.5*x1 - q.A
	dp := 2*x1 + 1.5

	jac[0], jac[1], jac[2] = -1, dp*cos, -p*sin
	if hess != nil {
		hess[0], hess[1], hess[2] = 2*cos, -dp*sin, -p*cos
	}
	return p*cos - x0
}

func (q *QuadCos) String() string {
	return fmt.Sprintf("(pow(x%d, 2) + 1.5*x%[1]d - %v)*cos(x%d) - x%d", q.I+1, q.A, q.I+2, q.I)
}

// SquaredSum evaluates ∑(𝐱ₖ - c)² for k in [Start, Start+N).
type SquaredSum struct {
	Start, N int
	Target   float64
}

func (q *SquaredSum) Kind() Kind { return KindSquaredSum }

func (q *SquaredSum) JacEntries() []int {
	e := make([]int, q.N)
	for k := range e {
		e[k] = q.Start + k
	}
	return e
}

func (q *SquaredSum) HessEntries() []sparse.Pair {
	e := make([]sparse.Pair, q.N)
	for k := range e {
		e[k] = sparse.Pair{I: q.Start + k, J: q.Start + k}
	}
	return e
}

func (q *SquaredSum) Evaluate(x []float64, _ *adstack.Stack, jac, hess []float64) float64 {
	g := 0.0
	for k, v := range x[q.Start : q.Start+q.N] {
		d := v - q.Target
		g += d * d
		jac[k] = 2 * d
	}
	for k := range hess {
		hess[k] = 2
	}
	return g
}

func (q *SquaredSum) String() string {
	return fmt.Sprintf("sum(pow(x[%d:%d] - %v, 2))", q.Start, q.Start+q.N, q.Target)
}
