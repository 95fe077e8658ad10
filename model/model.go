// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package model assembles an objective and constraint rows into the numeric callbacks of a sparse NLP solver.
//
// The callbacks follow the shape of a TNLP interface:
//
//	minimize     𝒇(𝐱)
//	subject to   𝒍 ≤ 𝒄(𝐱) ≤ 𝒖
//
// Jacobian and Hessian are exchanged in triplet form. Their structure is fixed
// once New returns; only the values change between calls. The Hessian of the Lagrangian
//
//	𝜵²ℒ(𝐱,σ,𝛌) = σ𝜵²𝒇(𝐱) + ∑𝛌ⱼ𝜵²𝒄ⱼ(𝐱)
//
// is reported as its lower triangle with one slot per distinct (i,j) pair across all rows.
package model

import (
	"errors"
	"fmt"
	"math"
	"os"
	"slices"

	"github.com/curioloop/madopt/adstack"
	"github.com/curioloop/madopt/constraint"
	"github.com/curioloop/madopt/sparse"
)

// Problem specifies the rows of an NLP model.
type Problem struct {
	N           int                      // The number of variables
	Objective   *constraint.Constraint   // Objective row, its bounds are ignored
	Constraints []*constraint.Constraint // Constraint rows in registration order
}

// New validates the problem and resolves the global sparsity structure.
//
// Rows are initialized objective first and then constraints in registration order,
// so that the slot of a Hessian pair is the position of its first occurrence in that sequence.
// The position map is frozen afterwards.
func (p *Problem) New(logger *Logger) (model *Model, err error) {

	if logger == nil {
		logger = new(Logger)
		logger.Level = LogNoop
	}
	if logger.Msg == nil {
		logger.Msg = os.Stdout
	}
	if logger.Out == nil {
		logger.Out = os.Stderr
	}

	switch {
	case p.N <= 0:
		err = errors.New("problem dimension must greater than 0")
	case p.Objective == nil:
		err = errors.New("objective is required")
	}
	if err != nil {
		return
	}

	seen := make(map[*constraint.Constraint]bool, len(p.Constraints)+1)
	rows := append([]*constraint.Constraint{p.Objective}, p.Constraints...)
	for k, c := range rows {
		if c == nil {
			return nil, fmt.Errorf("constraint %d is nil", k-1)
		}
		if seen[c] {
			return nil, fmt.Errorf("constraint %d registered twice", k-1)
		}
		seen[c] = true
		for _, i := range c.JacEntries() {
			if i < 0 || i >= p.N {
				return nil, fmt.Errorf("constraint %d references variable %d out of range [0,%d)", k-1, i, p.N)
			}
		}
		if !c.Equality() && c.LB() > c.UB() {
			return nil, fmt.Errorf("constraint %d has no feasible bound range", k-1)
		}
	}

	m := &Model{
		n:      p.N,
		rows:   rows,
		obj:    p.Objective,
		cons:   rows[1:],
		pm:     sparse.NewPosMap(),
		stack:  adstack.New(),
		x:      make([]float64, p.N),
		logger: *logger,
	}
	m.sol.X = make([]float64, p.N)
	m.sol.Lambda = make([]float64, len(m.cons))
	m.init()
	return m, nil
}

// Model holds the resolved rows of a Problem and answers solver callbacks.
// A Model is not safe for concurrent use; EvalHParallel fans out internally.
type Model struct {
	n      int
	rows   []*constraint.Constraint // objective followed by the constraints
	obj    *constraint.Constraint
	cons   []*constraint.Constraint
	pm     *sparse.PosMap
	stack  *adstack.Stack
	ws     []*workspace
	nnzJac int

	x     []float64
	fresh bool

	sol    constraint.Solution
	logger Logger
}

func (m *Model) init() {
	log := &m.logger
	for k, c := range m.rows {
		before := m.pm.Len()
		c.Init(m.pm)
		c.SetPos(k - 1)
		if k > 0 {
			c.SetSolution(&m.sol)
			m.nnzJac += c.NNZJac()
		}
		if log.enable(LogTrace) {
			log.log("row %d (%s): %d jac, %d hess, %d new slots\n",
				k-1, c.Kind(), c.NNZJac(), len(c.HessMap()), m.pm.Len()-before)
		}
	}
	m.pm.Freeze()
	if log.enable(LogLast) {
		log.log("model: n=%d m=%d nnz_jac=%d nnz_hess=%d\n", m.n, len(m.cons), m.nnzJac, m.pm.Len())
	}
}

// Dims returns the number of variables, constraints, Jacobian and Hessian non-zeros.
func (m *Model) Dims() (n, mc, nnzJac, nnzHess int) {
	return m.n, len(m.cons), m.nnzJac, m.pm.Len()
}

// Constraints returns the constraint rows in registration order.
func (m *Model) Constraints() []*constraint.Constraint { return m.cons }

// Objective returns the objective row.
func (m *Model) Objective() *constraint.Constraint { return m.obj }

// PosMap returns the frozen Hessian position map.
func (m *Model) PosMap() *sparse.PosMap { return m.pm }

// Bounds writes the constraint bounds into gL and gU.
func (m *Model) Bounds(gL, gU []float64) {
	if len(gL) != len(m.cons) || len(gU) != len(m.cons) {
		panic("model: bound dimension not match")
	}
	for k, c := range m.cons {
		gL[k], gU[k] = c.LB(), c.UB()
	}
}

// JacStructure writes the row and column index of every Jacobian non-zero.
func (m *Model) JacStructure(iRow, jCol []int) {
	if len(iRow) != m.nnzJac || len(jCol) != m.nnzJac {
		panic("model: jacobian structure dimension not match")
	}
	off := 0
	for k, c := range m.cons {
		nz := c.NNZJac()
		c.NZJac(jCol[off : off+nz])
		for i := off; i < off+nz; i++ {
			iRow[i] = k
		}
		off += nz
	}
}

// HessStructure writes the lower triangle index (iRow ≥ jCol) of every Hessian slot.
func (m *Model) HessStructure(iRow, jCol []int) {
	if len(iRow) != m.pm.Len() || len(jCol) != m.pm.Len() {
		panic("model: hessian structure dimension not match")
	}
	for s, p := range m.pm.Pairs() {
		iRow[s], jCol[s] = p.J, p.I
	}
}

// Invalidate forces the next callback to re-evaluate all rows,
// which is required after a parameter changed at the same 𝐱.
func (m *Model) Invalidate() { m.fresh = false }

// update re-evaluates every row when 𝐱 differs from the cached point.
func (m *Model) update(x []float64, newX bool) {
	if len(x) != m.n {
		panic("model: x dimension not match")
	}
	if m.fresh && !newX && slices.Equal(x, m.x) {
		return
	}
	log := &m.logger
	if log.enable(LogVerbose) {
		log.out("x = %v\n", x)
	}
	for k, c := range m.rows {
		c.SetEvals(x, m.stack)
		if log.enable(LogVerbose) {
			log.out("row %d: g = %v\n", k-1, c.G())
		}
	}
	copy(m.x, x)
	m.fresh = true
}

// EvalF returns 𝒇(𝐱).
func (m *Model) EvalF(x []float64, newX bool) float64 {
	m.update(x, newX)
	f := m.obj.Eval(x)
	if m.logger.enable(LogEval) {
		m.logger.log("eval_f: %v\n", f)
	}
	return f
}

// EvalGradF writes the dense gradient 𝜵𝒇(𝐱) into grad.
func (m *Model) EvalGradF(x []float64, newX bool, grad []float64) {
	if len(grad) != m.n {
		panic("model: gradient dimension not match")
	}
	m.update(x, newX)
	clear(grad)
	for k, i := range m.obj.JacEntries() {
		grad[i] += m.obj.Jac()[k]
	}
	if m.logger.enable(LogEval) {
		m.logger.log("eval_grad_f\n")
	}
}

// EvalG writes 𝒄(𝐱) into g.
func (m *Model) EvalG(x []float64, newX bool, g []float64) {
	if len(g) != len(m.cons) {
		panic("model: constraint dimension not match")
	}
	m.update(x, newX)
	for k, c := range m.cons {
		g[k] = c.Eval(x)
	}
	if m.logger.enable(LogEval) {
		m.logger.log("eval_g\n")
	}
}

// EvalJacG writes the Jacobian values in the order of JacStructure.
func (m *Model) EvalJacG(x []float64, newX bool, values []float64) {
	if len(values) != m.nnzJac {
		panic("model: jacobian dimension not match")
	}
	m.update(x, newX)
	off := 0
	for _, c := range m.cons {
		nz := c.NNZJac()
		c.EvalJac(x, values[off:off+nz])
		off += nz
	}
	if m.logger.enable(LogEval) {
		m.logger.log("eval_jac_g\n")
	}
}

// EvalH overwrites values with the Lagrangian Hessian in the order of HessStructure.
func (m *Model) EvalH(x []float64, newX bool, objFactor float64, lambda, values []float64) {
	if len(lambda) != len(m.cons) {
		panic("model: multiplier dimension not match")
	}
	if len(values) != m.pm.Len() {
		panic("model: hessian dimension not match")
	}
	m.update(x, newX)
	clear(values)
	if m.obj.Kind().Has(constraint.CapHessian) {
		m.obj.EvalH(x, values, objFactor)
	}
	for k, c := range m.cons {
		if c.Kind().Has(constraint.CapHessian) {
			c.EvalH(x, values, lambda[k])
		}
	}
	if m.logger.enable(LogEval) {
		m.logger.log("eval_h: σ = %v\n", objFactor)
	}
}

// Finalize records the solution reported by the solver, making it visible through Constraint.Lam.
func (m *Model) Finalize(x, lambda []float64, obj float64) {
	if len(x) != m.n || len(lambda) != len(m.cons) {
		panic("model: solution dimension not match")
	}
	copy(m.sol.X, x)
	copy(m.sol.Lambda, lambda)
	m.sol.Obj = obj
	if log := &m.logger; log.enable(LogLast) {
		log.log("final objective: %v\n", obj)
		if log.enable(LogVerbose) {
			log.out("x = %v\nλ = %v\n", x, lambda)
		}
	}
}

// Solution returns the solution recorded by Finalize.
func (m *Model) Solution() *constraint.Solution { return &m.sol }

// Violation returns the largest bound violation of 𝒄(𝐱).
func (m *Model) Violation(x []float64) float64 {
	m.update(x, false)
	v := 0.0
	for _, c := range m.cons {
		g := c.Eval(x)
		v = math.Max(v, math.Max(c.LB()-g, g-c.UB()))
	}
	return v
}
