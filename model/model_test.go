// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package model

import (
	"bytes"
	"context"
	"math"
	"os"
	"slices"
	"strings"
	"testing"

	"github.com/curioloop/madopt/adstack"
	"github.com/curioloop/madopt/constraint"
	. "github.com/curioloop/madopt/expr"
	"github.com/curioloop/madopt/numdiff"
	"github.com/curioloop/madopt/sparse"
	"gonum.org/v1/gonum/floats"
)

// tutorial builds min ∑(𝐱ᵢ-1)² s.t. (𝐱ᵢ₊₁² + 1.5𝐱ᵢ₊₁ - a)·cos(𝐱ᵢ₊₂) - 𝐱ᵢ = 0 with a = (i+2)/n.
func tutorial(n int, specialized bool) *Problem {
	p := &Problem{N: n}
	if specialized {
		p.Objective = constraint.New(&constraint.SquaredSum{N: n, Target: 1})
	} else {
		terms := make([]Node, n)
		for i := range terms {
			terms[i] = Pow(Sub(X(i), C(1)), 2)
		}
		p.Objective = constraint.New(constraint.NewExpr(Add(terms...)))
	}
	for i := 0; i < n-2; i++ {
		a := float64(i+2) / float64(n)
		var e constraint.Evaluator
		if specialized {
			e = &constraint.QuadCos{I: i, A: a}
		} else {
			e = constraint.NewExpr(Sub(Mul(Sub(Add(Pow(X(i+1), 2), Mul(C(1.5), X(i+1))), C(a)), Cos(X(i+2))), X(i)))
		}
		p.Constraints = append(p.Constraints, constraint.NewEq(e, 0))
	}
	return p
}

func point(n int) []float64 {
	x := make([]float64, n)
	for i := range x {
		x[i] = 0.5 + 0.1*float64(i%7) - 0.05*float64(i%3)
	}
	return x
}

func quiet() *Logger {
	f, _ := os.Open(os.DevNull)
	return &Logger{Level: LogNoop, Msg: f, Out: f}
}

func TestDims(t *testing.T) {

	const n = 10
	m, err := tutorial(n, false).New(quiet())
	if err != nil {
		t.Fatal(err)
	}

	nv, nc, nnzJac, nnzHess := m.Dims()
	switch {
	case nv != n || nc != n-2:
		t.Fatal("unexpected dimensions")
	case nnzJac != 3*(n-2):
		t.Fatalf("unexpected jacobian non-zeros %d", nnzJac)
	case nnzHess != n+(n-2):
		t.Fatalf("unexpected hessian non-zeros %d", nnzHess)
	case !m.PosMap().Frozen():
		t.Fatal("position map must be frozen after init")
	}

	iRow, jCol := make([]int, nnzJac), make([]int, nnzJac)
	m.JacStructure(iRow, jCol)
	for k := 0; k < nc; k++ {
		r, c := iRow[3*k:3*k+3], jCol[3*k:3*k+3]
		if !slices.Equal(r, []int{k, k, k}) || !slices.Equal(c, []int{k + 1, k + 2, k}) {
			t.Fatalf("unexpected jacobian structure of row %d: %v %v", k, r, c)
		}
	}

	hRow, hCol := make([]int, nnzHess), make([]int, nnzHess)
	m.HessStructure(hRow, hCol)
	for s := range hRow {
		switch {
		case hRow[s] < hCol[s]:
			t.Fatal("hessian structure must be lower triangular")
		case s < n && (hRow[s] != s || hCol[s] != s):
			t.Fatal("objective diagonal must own the leading slots")
		case s >= n && (hRow[s] != s-n+2 || hCol[s] != s-n+1):
			t.Fatalf("unexpected off-diagonal slot %d: (%d,%d)", s, hRow[s], hCol[s])
		}
	}

	gL, gU := make([]float64, nc), make([]float64, nc)
	m.Bounds(gL, gU)
	if floats.Max(gL) != 0 || floats.Min(gU) != 0 {
		t.Fatal("tutorial constraints are equalities at zero")
	}
}

func TestSpecializedAgrees(t *testing.T) {

	const n = 100
	e, err := tutorial(n, false).New(quiet())
	if err != nil {
		t.Fatal(err)
	}
	s, err := tutorial(n, true).New(quiet())
	if err != nil {
		t.Fatal(err)
	}

	_, nc, nnzJac, nnzHess := e.Dims()
	if !slices.Equal(e.PosMap().Pairs(), s.PosMap().Pairs()) {
		t.Fatal("both forms must resolve the same hessian slots")
	}

	x := point(n)
	lambda := make([]float64, nc)
	for k := range lambda {
		lambda[k] = math.Sin(float64(k))
	}

	ge, gs := make([]float64, nc), make([]float64, nc)
	e.EvalG(x, true, ge)
	s.EvalG(x, true, gs)

	fe, fs := e.EvalF(x, false), s.EvalF(x, false)

	de, ds := make([]float64, n), make([]float64, n)
	e.EvalGradF(x, false, de)
	s.EvalGradF(x, false, ds)

	// the two forms list the columns of a row in different orders
	jacobian := func(m *Model) map[[2]int]float64 {
		iRow, jCol, values := make([]int, nnzJac), make([]int, nnzJac), make([]float64, nnzJac)
		m.JacStructure(iRow, jCol)
		m.EvalJacG(x, false, values)
		j := make(map[[2]int]float64, nnzJac)
		for k, v := range values {
			j[[2]int{iRow[k], jCol[k]}] = v
		}
		return j
	}
	je, js := jacobian(e), jacobian(s)
	jacEqual := len(je) == nnzJac && len(js) == nnzJac
	for k, v := range je {
		jacEqual = jacEqual && almostEqual(v, js[k], 1e-12)
	}

	he, hs := make([]float64, nnzHess), make([]float64, nnzHess)
	e.EvalH(x, false, 0.5, lambda, he)
	s.EvalH(x, false, 0.5, lambda, hs)

	switch {
	case !almostEqual(fe, fs, 1e-12):
		t.Fatal("objective mismatch")
	case !almostEqual(ge, gs, 1e-12):
		t.Fatal("constraint value mismatch")
	case !almostEqual(de, ds, 1e-12):
		t.Fatal("objective gradient mismatch")
	case !jacEqual:
		t.Fatal("jacobian mismatch")
	case !almostEqual(he, hs, 1e-12):
		t.Fatal("hessian mismatch")
	}
}

func TestEvalH(t *testing.T) {

	const n = 5
	m, err := tutorial(n, false).New(quiet())
	if err != nil {
		t.Fatal(err)
	}
	_, nc, _, nnz := m.Dims()

	x := point(n)
	lambda := []float64{1, -2, 3}
	const sigma = 2.0

	values := slices.Repeat([]float64{math.NaN()}, nnz)
	m.EvalH(x, true, sigma, lambda, values)

	// the expected lower triangle assembled by hand
	want := make(map[sparse.Pair]float64)
	for i := 0; i < n; i++ {
		want[sparse.Pair{I: i, J: i}] += 2 * sigma
	}
	for i := 0; i < nc; i++ {
		x1, x2 := x[i+1], x[i+2]
		sin, cos := math.Sincos(x2)
		p, dp := x1*x1+1.5*x1-float64(i+2)/n, 2*x1+1.5
		want[sparse.Pair{I: i + 1, J: i + 1}] += lambda[i] * 2 * cos
		want[sparse.Pair{I: i + 1, J: i + 2}] += lambda[i] * -dp * sin
		want[sparse.Pair{I: i + 2, J: i + 2}] += lambda[i] * -p * cos
	}

	for s, p := range m.PosMap().Pairs() {
		if !almostEqual(values[s], want[p], 1e-12) {
			t.Fatalf("H%v = %v want %v", p, values[s], want[p])
		}
	}
	if len(want) != nnz {
		t.Fatal("unexpected hessian pattern")
	}

	// values are overwritten, not accumulated, across calls
	m.EvalH(x, false, sigma, lambda, values)
	for s, p := range m.PosMap().Pairs() {
		if !almostEqual(values[s], want[p], 1e-12) {
			t.Fatal("EvalH must reset the output buffer")
		}
	}
}

func TestParallel(t *testing.T) {

	const n = 1000
	m, err := tutorial(n, false).New(quiet())
	if err != nil {
		t.Fatal(err)
	}
	_, nc, _, nnz := m.Dims()

	x := point(n)
	lambda := make([]float64, nc)
	for k := range lambda {
		lambda[k] = float64(k%5) - 2
	}

	serial := make([]float64, nnz)
	m.EvalH(x, true, 1.5, lambda, serial)
	f := m.EvalF(x, false)

	for _, workers := range []int{0, 1, 3, 8, 2 * n} {
		par := make([]float64, nnz)
		x2 := slices.Clone(x)
		x2[0] += 1
		m.EvalF(x2, true) // leave the cache at another point
		if err := m.EvalHParallel(context.Background(), x, true, 1.5, lambda, par, workers); err != nil {
			t.Fatal(err)
		}
		if !almostEqual(serial, par, 1e-12) {
			t.Fatalf("workers %d: parallel hessian differs from serial", workers)
		}
		if !m.fresh || !slices.Equal(m.x, x) || m.Objective().G() != f {
			t.Fatal("parallel evaluation must refresh the cache")
		}
	}

	// workspaces of earlier calls are reused and reset
	if len(m.ws) != n-1 {
		t.Fatalf("expect %d cached workspaces, got %d", n-1, len(m.ws))
	}
	w0 := m.ws[0]
	par := make([]float64, nnz)
	if err := m.EvalHParallel(context.Background(), x, false, 1.5, lambda, par, 3); err != nil {
		t.Fatal(err)
	}
	if m.ws[0] != w0 || !almostEqual(serial, par, 1e-12) {
		t.Fatal("cached workspaces must be reset between calls")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := m.EvalHParallel(ctx, x, true, 1, lambda, make([]float64, nnz), 4); err == nil {
		t.Fatal("expect cancellation error")
	}
}

func TestCache(t *testing.T) {

	a := NewParam("a", 1)
	p := &Problem{
		N:         2,
		Objective: constraint.New(constraint.NewExpr(Mul(a, X(0), X(1)))),
	}
	m, err := p.New(quiet())
	if err != nil {
		t.Fatal(err)
	}

	x := []float64{2, 3}
	if m.EvalF(x, true) != 6 {
		t.Fatal("unexpected objective")
	}

	a.SetValue(2)
	if m.EvalF(x, false) != 6 {
		t.Fatal("same point must be served from cache")
	}
	if m.EvalF([]float64{2, 3}, true) != 12 {
		t.Fatal("new point flag must force evaluation")
	}

	a.SetValue(3)
	m.Invalidate()
	grad := make([]float64, 2)
	m.EvalGradF(x, false, grad)
	if !slices.Equal(grad, []float64{9, 6}) {
		t.Fatal("invalidate must force evaluation", grad)
	}

	// a different point is detected without the flag
	if m.EvalF([]float64{1, 1}, false) != 3 {
		t.Fatal("changed point must be detected")
	}
}

func TestFinalize(t *testing.T) {

	m, err := tutorial(6, true).New(quiet())
	if err != nil {
		t.Fatal(err)
	}
	x, lambda := point(6), []float64{0.1, 0.2, 0.3, 0.4}
	m.Finalize(x, lambda, 42)
	x[0] = 99

	switch {
	case m.Solution().Obj != 42 || m.Solution().X[0] == 99:
		t.Fatal("solution must be copied")
	case m.Constraints()[2].Lam() != 0.3 || m.Constraints()[2].Pos() != 2:
		t.Fatal("constraint must read its multiplier from the solution")
	case m.Objective().Pos() != -1:
		t.Fatal("objective row must sit at position -1")
	}
}

func TestEvalNoAlloc(t *testing.T) {

	const n = 1000
	m, err := tutorial(n, true).New(quiet())
	if err != nil {
		t.Fatal(err)
	}
	_, nc, _, nnz := m.Dims()

	x := point(n)
	g, lambda, hess := make([]float64, nc), make([]float64, nc), make([]float64, nnz)
	allocs := testing.AllocsPerRun(10, func() {
		m.EvalG(x, true, g)
		m.EvalH(x, true, 1, lambda, hess)
	})
	if allocs != 0 {
		t.Fatalf("callbacks allocate %v times per run", allocs)
	}
}

func TestViolation(t *testing.T) {

	p := &Problem{
		N:         2,
		Objective: constraint.New(constraint.NewLinear([]int{0}, []float64{1}, 0)),
		Constraints: []*constraint.Constraint{
			constraint.NewIneq(constraint.NewLinear([]int{0, 1}, []float64{1, 1}, 0), 0, 1),
			constraint.NewEq(constraint.NewExpr(Mul(X(0), X(1))), 1),
		},
	}
	m, err := p.New(quiet())
	if err != nil {
		t.Fatal(err)
	}
	if v := m.Violation([]float64{2, 0.25}); v != 1.25 {
		t.Fatalf("unexpected violation %v", v)
	}

	// linear objective contributes nothing to the hessian
	_, _, _, nnz := m.Dims()
	values := make([]float64, nnz)
	m.EvalH([]float64{2, 0.25}, true, 1, []float64{1, 2}, values)
	if nnz != 1 || values[0] != 2 {
		t.Fatal("unexpected hessian", values)
	}
}

func TestProblemErrors(t *testing.T) {

	obj := constraint.New(constraint.NewExpr(X(0)))
	row := constraint.NewEq(constraint.NewExpr(X(1)), 0)
	bad := constraint.NewIneq(constraint.NewExpr(X(0)), 1, 0)

	for _, c := range []struct {
		name string
		p    Problem
	}{
		{"dimension", Problem{N: 0, Objective: obj}},
		{"objective", Problem{N: 2}},
		{"nil row", Problem{N: 2, Objective: obj, Constraints: []*constraint.Constraint{nil}}},
		{"twice", Problem{N: 2, Objective: obj, Constraints: []*constraint.Constraint{row, row}}},
		{"objective as row", Problem{N: 2, Objective: obj, Constraints: []*constraint.Constraint{obj}}},
		{"range", Problem{N: 1, Objective: obj, Constraints: []*constraint.Constraint{row}}},
		{"bounds", Problem{N: 2, Objective: obj, Constraints: []*constraint.Constraint{bad}}},
	} {
		if _, err := c.p.New(nil); err == nil {
			t.Fatalf("%s: expect error", c.name)
		}
	}
}

func TestCheckDerivatives(t *testing.T) {

	for _, specialized := range []bool{false, true} {
		m, err := tutorial(20, specialized).New(quiet())
		if err != nil {
			t.Fatal(err)
		}
		d, err := m.CheckDerivatives(point(20), numdiff.Central, 1e-6)
		if err != nil {
			t.Fatal(err)
		}
		if len(d) != 0 {
			t.Fatalf("unexpected mismatches: %v", d)
		}
	}

	// a hand-coded row with a wrong second derivative is caught
	p := &Problem{N: 3, Objective: constraint.New(&constraint.QuadCos{I: 0, A: 0.5})}
	m, _ := p.New(quiet())
	wrong := &skewed{QuadCos: constraint.QuadCos{I: 0, A: 0.5}}
	m.obj = constraint.New(wrong)
	d, err := m.CheckDerivatives([]float64{0.3, 0.7, 1.1}, numdiff.Central, 1e-6)
	switch {
	case err != nil:
		t.Fatal(err)
	case len(d) != 1 || d[0].Row != -1 || d[0].I != 1 || d[0].J != 1:
		t.Fatalf("expect a single mismatch at (1,1), got %v", d)
	}
}

// skewed corrupts the first Hessian entry of QuadCos.
type skewed struct {
	constraint.QuadCos
}

func (s *skewed) Evaluate(x []float64, st *adstack.Stack, jac, hess []float64) float64 {
	g := s.QuadCos.Evaluate(x, st, jac, hess)
	if len(hess) > 0 {
		hess[0] += 1
	}
	return g
}

func TestLogger(t *testing.T) {

	var msg, out bytes.Buffer
	m, err := tutorial(4, false).New(&Logger{Level: LogVerbose, Msg: &msg, Out: &out})
	if err != nil {
		t.Fatal(err)
	}
	m.EvalF(point(4), true)
	m.Finalize(point(4), []float64{0, 0}, 1)

	switch {
	case !strings.Contains(msg.String(), "model: n=4 m=2 nnz_jac=6 nnz_hess=6"):
		t.Fatal("missing model summary", msg.String())
	case !strings.Contains(msg.String(), "row -1 (expr): 4 jac, 4 hess, 4 new slots"):
		t.Fatal("missing row trace", msg.String())
	case !strings.Contains(msg.String(), "final objective: 1"):
		t.Fatal("missing final line")
	case !strings.Contains(out.String(), "x = ["):
		t.Fatal("missing verbose vectors")
	}
}

func TestDimensionPanics(t *testing.T) {

	m, err := tutorial(4, false).New(quiet())
	if err != nil {
		t.Fatal(err)
	}
	for name, f := range map[string]func(){
		"x":      func() { m.EvalF([]float64{1}, true) },
		"grad":   func() { m.EvalGradF(point(4), true, nil) },
		"g":      func() { m.EvalG(point(4), true, nil) },
		"jac":    func() { m.EvalJacG(point(4), true, nil) },
		"lambda": func() { m.EvalH(point(4), true, 1, nil, make([]float64, 6)) },
		"hess":   func() { m.EvalH(point(4), true, 1, []float64{0, 0}, nil) },
	} {
		func() {
			defer func() {
				if recover() == nil {
					t.Fatalf("%s: expect panic", name)
				}
			}()
			f()
		}()
	}
}

func almostEqual[T float64 | []float64](a, b T, tol float64) bool {
	switch a := any(a).(type) {
	case float64:
		b := any(b).(float64)
		return a == b || math.Abs(a-b) <= tol*math.Max(1, math.Abs(b))
	case []float64:
		b := any(b).([]float64)
		if len(a) != len(b) {
			return false
		}
		for i := range a {
			if !almostEqual(a[i], b[i], tol) {
				return false
			}
		}
		return true
	}
	panic("unknown type")
}
