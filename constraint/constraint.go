// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package constraint implements the per-row evaluator contract of an NLP model.
//
// A Constraint wraps an Evaluator with the bookkeeping a sparse NLP solver needs:
//
//   - the Jacobian row pattern declared once through NNZJac and NZJac
//   - a local-to-global Hessian index map built by Init against the model-wide PosMap
//   - cached 𝒄(𝐱), 𝜵𝒄(𝐱), 𝜵²𝒄(𝐱) recomputed by SetEvals and read by Eval, EvalJac and EvalH
//
// EvalH accumulates 𝛌·𝜵²𝒄(𝐱) into a caller owned buffer, so that the Lagrangian Hessian
//
//	𝜵²ℒ(𝐱,𝛌) = σ𝜵²𝒇(𝐱) + ∑𝛌ⱼ𝜵²𝒄ⱼ(𝐱)
//
// of a whole model is assembled by calling EvalH on every row against the same buffer.
package constraint

import (
	"fmt"
	"math"

	"github.com/curioloop/madopt/adstack"
	"github.com/curioloop/madopt/sparse"
)

// Solution holds the final primal and dual point reported by the solver.
// It is owned by the model; constraints only borrow it.
type Solution struct {
	X      []float64 // primal variables
	Lambda []float64 // multipliers indexed by row position
	Obj    float64   // objective value
}

// Lam returns the multiplier of the row at position pos.
func (s *Solution) Lam(pos int) float64 {
	return s.Lambda[pos]
}

// Constraint is one row of the model: the objective or a constraint 𝒍 ≤ 𝒄(𝐱) ≤ 𝒖.
type Constraint struct {
	eval     Evaluator
	equality bool
	lb, ub   float64

	g       float64
	jac     []float64
	hess    []float64
	hessMap []int

	pos int
	sol *Solution
}

// New returns an unbounded row, typically the objective.
func New(e Evaluator) *Constraint {
	return newConstraint(e, false, math.Inf(-1), math.Inf(1))
}

// NewEq returns the equality row 𝒄(𝐱) = rhs. Its bounds are fixed.
func NewEq(e Evaluator, rhs float64) *Constraint {
	return newConstraint(e, true, rhs, rhs)
}

// NewIneq returns the inequality row lb ≤ 𝒄(𝐱) ≤ ub.
func NewIneq(e Evaluator, lb, ub float64) *Constraint {
	return newConstraint(e, false, lb, ub)
}

func newConstraint(e Evaluator, eq bool, lb, ub float64) *Constraint {
	if e == nil {
		panic("constraint: nil evaluator")
	}
	if !e.Kind().Has(CapJacobian) {
		panic("constraint: evaluator kind " + e.Kind().String() + " lacks jacobian")
	}
	c := &Constraint{eval: e, equality: eq, lb: lb, ub: ub}
	c.jac = make([]float64, len(e.JacEntries()))
	if e.Kind().Has(CapHessian) {
		c.hess = make([]float64, len(e.HessEntries()))
	}
	return c
}

func (c *Constraint) require(cp Capability, op string) {
	if k := c.eval.Kind(); !k.Has(cp) {
		panic(fmt.Sprintf("constraint: %s is not supported by %s rows", op, k))
	}
}

// Evaluator returns the wrapped evaluator.
func (c *Constraint) Evaluator() Evaluator { return c.eval }

// Kind returns the evaluator variant.
func (c *Constraint) Kind() Kind { return c.eval.Kind() }

// Equality reports whether the row is an equality.
func (c *Constraint) Equality() bool { return c.equality }

func (c *Constraint) LB() float64 { return c.lb }

func (c *Constraint) UB() float64 { return c.ub }

// SetLB changes the lower bound of an inequality row.
func (c *Constraint) SetLB(v float64) {
	if c.equality {
		panic("constraint: bounds of an equality row are fixed")
	}
	c.lb = v
}

// SetUB changes the upper bound of an inequality row.
func (c *Constraint) SetUB(v float64) {
	if c.equality {
		panic("constraint: bounds of an equality row are fixed")
	}
	c.ub = v
}

// JacEntries returns the variable indices of the gradient in the order used by EvalJac.
func (c *Constraint) JacEntries() []int {
	return c.eval.JacEntries()
}

// HessEntries returns the index pairs of the Hessian in local order.
// It panics for rows without second order information.
func (c *Constraint) HessEntries() []sparse.Pair {
	c.require(CapHessian, "HessEntries")
	return c.eval.HessEntries()
}

// NNZJac returns the number of gradient entries.
func (c *Constraint) NNZJac() int {
	return len(c.jac)
}

// NZJac writes the column index of every gradient entry into jCol.
func (c *Constraint) NZJac(jCol []int) {
	if len(jCol) < len(c.jac) {
		panic("constraint: column buffer shorter than jacobian")
	}
	copy(jCol, c.eval.JacEntries())
}

// Init resolves the local Hessian entries against the model-wide position map,
// assigning new slots to pairs not seen before.
func (c *Constraint) Init(pm *sparse.PosMap) {
	c.hessMap = c.hessMap[:0]
	if !c.eval.Kind().Has(CapHessian) {
		return
	}
	for _, p := range c.eval.HessEntries() {
		c.hessMap = append(c.hessMap, pm.Assign(p))
	}
}

// SetEvals recomputes value, gradient and Hessian at x using s as scratch space.
func (c *Constraint) SetEvals(x []float64, s *adstack.Stack) {
	c.g = c.eval.Evaluate(x, s, c.jac, c.hess)
}

// Eval returns the value computed by the last SetEvals.
func (c *Constraint) Eval(x []float64) float64 {
	return c.g
}

// EvalJac copies the gradient computed by the last SetEvals into values.
func (c *Constraint) EvalJac(x []float64, values []float64) {
	if len(values) < len(c.jac) {
		panic("constraint: value buffer shorter than jacobian")
	}
	copy(values, c.jac)
}

// EvalH adds lambda times the Hessian computed by the last SetEvals into
// the global buffer values, addressed through the slots assigned by Init.
func (c *Constraint) EvalH(x []float64, values []float64, lambda float64) {
	if len(c.hessMap) != len(c.hess) {
		panic("constraint: hessian map not initialized")
	}
	for k, v := range c.hess {
		values[c.hessMap[k]] += lambda * v
	}
}

// SetPos records the row position used to look up the multiplier.
func (c *Constraint) SetPos(pos int) { c.pos = pos }

// Pos returns the row position.
func (c *Constraint) Pos() int { return c.pos }

// SetSolution lends the solution the row reads its multiplier from.
func (c *Constraint) SetSolution(s *Solution) { c.sol = s }

// Lam returns the multiplier of this row in the current solution.
func (c *Constraint) Lam() float64 {
	if c.sol == nil {
		panic("constraint: no solution attached")
	}
	return c.sol.Lam(c.pos)
}

// G returns the cached value.
func (c *Constraint) G() float64 { return c.g }

// Jac returns the cached gradient values.
func (c *Constraint) Jac() []float64 { return c.jac }

// Hess returns the cached Hessian values in local order.
func (c *Constraint) Hess() []float64 { return c.hess }

// HessMap returns the global slot of every local Hessian entry.
func (c *Constraint) HessMap() []int { return c.hessMap }

func (c *Constraint) String() string {
	switch {
	case c.equality:
		return fmt.Sprintf("%s == %v", c.eval, c.lb)
	case math.IsInf(c.lb, -1) && math.IsInf(c.ub, 1):
		return c.eval.String()
	default:
		return fmt.Sprintf("%v <= %s <= %v", c.lb, c.eval, c.ub)
	}
}
