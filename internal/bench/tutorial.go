// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package bench

import (
	"github.com/curioloop/madopt/constraint"
	"github.com/curioloop/madopt/expr"
	"github.com/curioloop/madopt/model"
)

// Tutorial builds the problem
//
//	minimize    ∑(𝐱ᵢ - 1)²
//	subject to  (𝐱ᵢ₊₁² + 1.5𝐱ᵢ₊₁ - aᵢ)·cos(𝐱ᵢ₊₂) - 𝐱ᵢ = 0,  aᵢ = (i+2)/n,  i = 0..n-3
func Tutorial(n int, mode Mode) *model.Problem {
	p := &model.Problem{N: n}

	if mode == ModeSpecialized {
		p.Objective = constraint.New(&constraint.SquaredSum{N: n, Target: 1})
	} else {
		terms := make([]expr.Node, n)
		for i := range terms {
			terms[i] = expr.Pow(expr.Sub(expr.X(i), expr.C(1)), 2)
		}
		p.Objective = constraint.New(constraint.NewExpr(expr.Add(terms...)))
	}

	p.Constraints = make([]*constraint.Constraint, 0, max(n-2, 0))
	for i := 0; i < n-2; i++ {
		a := float64(i+2) / float64(n)
		var e constraint.Evaluator
		if mode == ModeSpecialized {
			e = &constraint.QuadCos{I: i, A: a}
		} else {
			x0, x1, x2 := expr.X(i), expr.X(i+1), expr.X(i+2)
			quad := expr.Sub(expr.Add(expr.Pow(x1, 2), expr.Mul(expr.C(1.5), x1)), expr.C(a))
			e = constraint.NewExpr(expr.Sub(expr.Mul(quad, expr.Cos(x2)), x0))
		}
		p.Constraints = append(p.Constraints, constraint.NewEq(e, 0))
	}
	return p
}

// StartPoint returns the deterministic evaluation point 𝐱ᵢ = 1 + i/n.
func StartPoint(n int) []float64 {
	x := make([]float64, n)
	for i := range x {
		x[i] = 1 + float64(i)/float64(n)
	}
	return x
}
