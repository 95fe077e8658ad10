// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tape

import (
	"math/rand/v2"
	"testing"

	. "github.com/curioloop/madopt/expr"
	"github.com/curioloop/madopt/sparse"
	"gonum.org/v1/gonum/floats/scalar"
	"gonum.org/v1/gonum/num/hyperdual"
)

// hyper evaluates n over hyperdual numbers seeded along 𝐞ᵢ and 𝐞ⱼ,
// so that E1mag = ∂f/∂xᵢ and E1E2mag = ∂²f/∂xᵢ∂xⱼ.
func hyper(n Node, x []float64, i, j int) hyperdual.Number {
	switch n := n.(type) {
	case *Var:
		d := hyperdual.Number{Real: x[n.Index]}
		if n.Index == i {
			d.E1mag = 1
		}
		if n.Index == j {
			d.E2mag = 1
		}
		return d
	case *Const:
		return hyperdual.Number{Real: n.Value}
	case *Param:
		return hyperdual.Number{Real: n.Value()}
	case *Sum:
		var d hyperdual.Number
		for _, t := range n.Terms {
			d = hyperdual.Add(d, hyper(t, x, i, j))
		}
		return d
	case *Product:
		return hyperdual.Mul(hyper(n.L, x, i, j), hyper(n.R, x, i, j))
	case *Unary:
		a := hyper(n.Arg, x, i, j)
		switch n.Func {
		case SinFunc:
			return hyperdual.Sin(a)
		case CosFunc:
			return hyperdual.Cos(a)
		default:
			return hyperdual.Tan(a)
		}
	case *Power:
		return hyperdual.PowReal(hyper(n.Base, x, i, j), n.Exp)
	}
	panic("unexpected node")
}

func randomNode(r *rand.Rand, nvar, depth int) Node {
	if depth == 0 || r.IntN(4) == 0 {
		if r.IntN(3) == 0 {
			return C(float64(r.IntN(5)) - 2)
		}
		return X(r.IntN(nvar))
	}
	switch r.IntN(6) {
	case 0, 1:
		terms := make([]Node, 1+r.IntN(4))
		for k := range terms {
			terms[k] = randomNode(r, nvar, depth-1)
		}
		return Add(terms...)
	case 2, 3:
		return Mul(randomNode(r, nvar, depth-1), randomNode(r, nvar, depth-1))
	case 4:
		arg := Mul(C(0.1), randomNode(r, nvar, depth-1))
		switch r.IntN(3) {
		case 0:
			return Sin(arg)
		case 1:
			return Cos(arg)
		default:
			return Tan(arg)
		}
	default:
		return Pow(randomNode(r, nvar, depth-1), float64(2+r.IntN(2)))
	}
}

func TestHyperdualOracle(t *testing.T) {

	const nvar = 5
	const tol = 1e-7

	r := rand.New(rand.NewPCG(7, 11))
	for trial := 0; trial < 200; trial++ {
		n := randomNode(r, nvar, 4)
		x := make([]float64, nvar)
		for k := range x {
			x[k] = r.Float64()*2 - 1
		}

		res := run(n, x)
		jac, hess := res.jacMap(), res.hessMap()

		if f := hyper(n, x, -1, -1).Real; !scalar.EqualWithinAbsOrRel(res.g, f, tol, tol) {
			t.Fatalf("trial %d %s: value %v want %v", trial, n, res.g, f)
		}
		for i := 0; i < nvar; i++ {
			for j := i; j < nvar; j++ {
				d := hyper(n, x, i, j)
				if i == j && !scalar.EqualWithinAbsOrRel(jac[i], d.E1mag, tol, tol) {
					t.Fatalf("trial %d %s: ∂/∂x%d = %v want %v", trial, n, i, jac[i], d.E1mag)
				}
				if h := hess[sparse.Pair{I: i, J: j}]; !scalar.EqualWithinAbsOrRel(h, d.E1E2mag, tol, tol) {
					t.Fatalf("trial %d %s: ∂²/∂x%d∂x%d = %v want %v", trial, n, i, j, h, d.E1E2mag)
				}
			}
		}
	}
}
