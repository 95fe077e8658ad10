// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package model

import (
	"fmt"

	"github.com/curioloop/madopt/adstack"
	"github.com/curioloop/madopt/constraint"
	"github.com/curioloop/madopt/numdiff"
	"github.com/curioloop/madopt/sparse"
	"gonum.org/v1/gonum/floats/scalar"
	"gonum.org/v1/gonum/mat"
)

// Mismatch reports a derivative entry that disagrees with its finite difference estimate.
type Mismatch struct {
	Row  int // -1 for the objective
	I, J int // J is -1 for a gradient entry
	Got  float64
	Want float64
}

func (d Mismatch) String() string {
	if d.J < 0 {
		return fmt.Sprintf("row %d: ∂/∂x%d = %v, estimate %v", d.Row, d.I, d.Got, d.Want)
	}
	return fmt.Sprintf("row %d: ∂²/∂x%d∂x%d = %v, estimate %v", d.Row, d.I, d.J, d.Got, d.Want)
}

// CheckDerivatives compares the derivatives of every row at x against finite differences.
//
// Gradients are checked against differences of the row value and Hessians against
// differences of the exact gradient, both restricted to the variables the row references.
// Entries outside the declared Hessian pattern must estimate to zero.
// An entry passes when it agrees with the estimate within tol absolutely or relatively.
func (m *Model) CheckDerivatives(x []float64, method numdiff.Method, tol float64) ([]Mismatch, error) {
	if len(x) != m.n {
		panic("model: x dimension not match")
	}

	var out []Mismatch
	s := adstack.New()
	xt := make([]float64, m.n)
	for k, c := range m.rows {
		d, err := checkRow(c.Evaluator(), x, xt, s, method, tol)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", k-1, err)
		}
		for _, e := range d {
			e.Row = k - 1
			if m.logger.enable(LogLast) {
				m.logger.log("derivative check: %s\n", e)
			}
			out = append(out, e)
		}
	}
	return out, nil
}

func checkRow(e constraint.Evaluator, x, xt []float64, s *adstack.Stack, method numdiff.Method, tol float64) ([]Mismatch, error) {
	vars := e.JacEntries()
	nv := len(vars)
	if nv == 0 {
		return nil, nil
	}
	second := e.Kind().Has(constraint.CapHessian)

	var pairs []sparse.Pair
	if second {
		pairs = e.HessEntries()
	}
	jac := make([]float64, nv)
	hess := make([]float64, len(pairs))

	// local coordinates z map to x at the referenced variables
	lift := func(z []float64) []float64 {
		copy(xt, x)
		for a, i := range vars {
			xt[i] = z[a]
		}
		return xt
	}
	f := func(z []float64) float64 {
		return e.Evaluate(lift(z), s, make([]float64, nv), make([]float64, len(pairs)))
	}
	grad := func(z, g []float64) {
		e.Evaluate(lift(z), s, g, make([]float64, len(pairs)))
	}

	z0 := make([]float64, nv)
	for a, i := range vars {
		z0[a] = x[i]
	}
	e.Evaluate(x, s, jac, hess)

	var out []Mismatch
	spec := numdiff.Spec{N: nv, Method: method}
	est := make([]float64, nv)
	if err := spec.Gradient(f, z0, est); err != nil {
		return nil, err
	}
	for a, i := range vars {
		if !scalar.EqualWithinAbsOrRel(jac[a], est[a], tol, tol) {
			out = append(out, Mismatch{I: i, J: -1, Got: jac[a], Want: est[a]})
		}
	}
	if !second {
		return out, nil
	}

	local := make(map[int]int, nv)
	for a, i := range vars {
		local[i] = a
	}
	got := mat.NewSymDense(nv, nil)
	for k, p := range pairs {
		a, b := local[p.I], local[p.J]
		got.SetSym(a, b, got.At(a, b)+hess[k])
	}
	want := mat.NewSymDense(nv, nil)
	if err := spec.Hessian(grad, z0, want); err != nil {
		return nil, err
	}
	for a := 0; a < nv; a++ {
		for b := a; b < nv; b++ {
			if g, w := got.At(a, b), want.At(a, b); !scalar.EqualWithinAbsOrRel(g, w, tol, tol) {
				p := sparse.MakePair(vars[a], vars[b])
				out = append(out, Mismatch{I: p.I, J: p.J, Got: g, Want: w})
			}
		}
	}
	return out, nil
}
