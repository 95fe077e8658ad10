// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package numdiff estimates derivatives by finite differences.
//
// It serves as an independent reference for the exact derivatives produced by the
// operator tape: gradients of scalar functions, Jacobians of vector functions and
// Hessians obtained by differencing an analytic gradient.
package numdiff

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/mat"
)

var sqrtEps = math.Sqrt(math.Nextafter(1, 2) - 1)
var cubeEps = math.Pow(math.Nextafter(1, 2)-1, float64(1)/3)

type Method int

const (
	// Forward use the first order accuracy forward difference.
	Forward Method = iota
	// Central use central difference in interior points and the second order accuracy
	// forward or backward difference near the boundary.
	Central
)

type Bound [2]float64

// Spec configures a finite difference scheme over 𝐱 ∈ ℝⁿ.
//
// # Reference:
//
//   - https://en.wikipedia.org/wiki/Finite_difference
//   - https://github.com/scipy/scipy/blob/main/scipy/optimize/_numdiff.py
//
// # License
//
//   - https://github.com/scipy/scipy/blob/main/LICENSE.txt
type Spec struct {
	N int
	// Finite difference method to use.
	Method Method
	// Lower and upper bounds on independent variables.
	// Use it to limit the range of function evaluation.
	Bounds []Bound
	// Relative step size used to compute absolute step size.
	// The default absolute step size is h = eps * sign(x0) * max(1, abs(x0)) with eps selected by Method.
	// Otherwise, absolute step size is computed as h = RelStep * sign(x0) * abs(x0).
	RelStep float64
	// Absolute step size to use, possibly adjusted to fit into the bounds.
	// For Central method the sign of AbsStep is ignored.
	AbsStep float64
	// Don't check if x0 is out of bounds.
	NotChkBnd bool
	work
}

type work struct {
	f0, f1, f2 []float64
	h          []float64
	oneSide    []bool
	bounds     []Bound // Bounds with NaN replaced by ±Inf
}

// Check validates the scheme against x0 and m outputs, and sizes the workspace.
func (s *Spec) Check(x0 []float64, m int) (err error) {

	switch {
	case s.N <= 0 || m <= 0:
		return errors.New("negative dimensions")
	case s.Method != Forward && s.Method != Central:
		return errors.New("unknown method")
	case s.N != len(x0):
		return errors.New("invalid x0 dimensions")
	}

	s.bounds = s.bounds[:0]
	if s.Bounds != nil {
		if len(s.Bounds) != len(x0) {
			return errors.New("invalid bound dimension")
		}
		s.bounds = append(s.bounds, s.Bounds...)
		for i := range s.bounds {
			b := &s.bounds[i]
			if math.IsNaN(b[0]) {
				b[0] = math.Inf(-1)
			}
			if math.IsNaN(b[1]) {
				b[1] = math.Inf(1)
			}
			if b[0] > b[1] {
				return errors.New("invalid bound range")
			}
			if !s.NotChkBnd && (x0[i] < b[0] || x0[i] > b[1]) {
				return errors.New("x0 violates bound constraints")
			}
		}
	}

	if len(s.f0) != m {
		s.f0 = make([]float64, m)
		s.f1 = make([]float64, m)
		s.f2 = make([]float64, m)
	}
	if len(s.h) != s.N {
		s.h = make([]float64, s.N)
		s.oneSide = make([]bool, s.N)
	}
	return nil
}

// Gradient estimates ∇f(x0) into grad.
func (s *Spec) Gradient(f func(x []float64) float64, x0, grad []float64) error {
	if f == nil {
		return errors.New("object function is required")
	}
	if err := s.Check(x0, 1); err != nil {
		return err
	}
	if len(grad) != s.N {
		return errors.New("invalid gradient dimensions")
	}
	fun := func(x, y []float64) { y[0] = f(x) }
	s.diff(fun, x0, func(_, j int, v float64) { grad[j] = v })
	return nil
}

// Jacobian estimates ∂fᵢ/∂xⱼ of f: ℝⁿ → ℝᵐ into the m×n matrix jac.
func (s *Spec) Jacobian(f func(x, y []float64), x0 []float64, jac *mat.Dense) error {
	if f == nil {
		return errors.New("object function is required")
	}
	m, n := jac.Dims()
	if err := s.Check(x0, m); err != nil {
		return err
	}
	if n != s.N {
		return errors.New("invalid jacobian dimensions")
	}
	s.diff(f, x0, jac.Set)
	return nil
}

// Hessian estimates ∇²f(x0) by differencing the analytic gradient grad of f.
// The estimate is symmetrized as ½(𝐉 + 𝐉ᵀ) before it is stored into hess.
func (s *Spec) Hessian(grad func(x, g []float64), x0 []float64, hess *mat.SymDense) error {
	if grad == nil {
		return errors.New("gradient function is required")
	}
	if hess.SymmetricDim() != s.N {
		return errors.New("invalid hessian dimensions")
	}
	jac := mat.NewDense(s.N, s.N, nil)
	if err := s.Jacobian(grad, x0, jac); err != nil {
		return err
	}
	for i := 0; i < s.N; i++ {
		for j := i; j < s.N; j++ {
			hess.SetSym(i, j, 0.5*(jac.At(i, j)+jac.At(j, i)))
		}
	}
	return nil
}

// diff evaluates the difference quotients and reports them through set(i, j, ∂fᵢ/∂xⱼ).
// x0 is perturbed in place and restored before returning.
func (s *Spec) diff(fun func(x, y []float64), x0 []float64, set func(i, j int, v float64)) {

	bnd := false
	for _, b := range s.bounds {
		if bnd = !(math.IsInf(b[0], 0) && math.IsInf(b[1], 0)); bnd {
			break
		}
	}

	s.absoluteStep(x0)
	s.adjustToBounds(x0, bnd)

	f0, f1, f2 := s.f0, s.f1, s.f2
	fun(x0, f0)
	for j, h := range s.h {
		t := x0[j]
		switch {
		case s.Method == Forward:
			x0[j] = t + h
			fun(x0, f1)
			for i := range f0 {
				set(i, j, (f1[i]-f0[i])/h)
			}
		case s.oneSide[j]:
			x0[j] = t + h
			fun(x0, f1)
			x0[j] = t + 2*h
			fun(x0, f2)
			for i := range f0 {
				set(i, j, (4*f1[i]-3*f0[i]-f2[i])/(2*h))
			}
		default:
			x0[j] = t - h
			fun(x0, f1)
			x0[j] = t + h
			fun(x0, f2)
			for i := range f0 {
				set(i, j, (f2[i]-f1[i])/(2*h))
			}
		}
		x0[j] = t
	}
}

func (s *Spec) absoluteStep(x0 []float64) {
	h := s.h
	if len(h) != len(x0) {
		panic("numdiff: step dimension not match")
	}

	var eps float64
	switch s.Method {
	case Forward:
		eps = sqrtEps
	case Central:
		eps = cubeEps
	default:
		panic("numdiff: unknown method")
	}

	for i, v := range x0 {
		auto := math.Copysign(eps, v) * math.Max(1.0, math.Abs(v))
		if s.AbsStep == 0 && s.RelStep == 0 {
			h[i] = auto
			continue
		}
		d := s.AbsStep
		if d == 0 {
			d = math.Copysign(s.RelStep, v) * math.Abs(v)
		}
		if (v+d)-v == 0 {
			d = auto
		}
		h[i] = d
	}
}

func (s *Spec) adjustToBounds(x0 []float64, bnd bool) {
	h, o := s.h, s.oneSide
	for i := range o {
		o[i] = false
	}
	if s.Method == Central {
		for i, v := range h {
			h[i] = math.Abs(v)
		}
	}

	if !bnd {
		return
	}

	b := s.bounds
	if len(x0) != len(b) || len(x0) != len(h) {
		panic("numdiff: bound dimension not match")
	}

	for i, x := range x0 {
		lb, ub := b[i][0], b[i][1]
		ld, ud := x-lb, ub-x
		if s.Method == Forward {
			xh := x + h[i]
			violated := xh < lb || xh > ub
			fitting := math.Abs(h[i]) < math.Max(ld, ud)
			switch {
			case violated && fitting:
				h[i] = -h[i]
			case !fitting && ud >= ld:
				h[i] = ud
			case !fitting:
				h[i] = -ld
			}
			continue
		}
		central := ld >= h[i] && ud >= h[i]
		if !central {
			if ud >= ld {
				h[i] = math.Min(h[i], 0.5*ud)
			} else {
				h[i] = -math.Min(h[i], 0.5*ld)
			}
			o[i] = true
		}
		if minDist := math.Min(ud, ld); !central && math.Abs(h[i]) <= minDist {
			h[i] = minDist
			o[i] = false
		}
	}
}
