// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package bench

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/curioloop/madopt/model"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/plot/vg"
)

// Report holds the outcome of one benchmark run. Durations are per round.
type Report struct {
	N, M            int
	NNZJac, NNZHess int

	Build, Init time.Duration
	EvalF       time.Duration
	EvalGradF   time.Duration
	EvalG       time.Duration
	EvalJacG    time.Duration
	EvalH       time.Duration
	EvalHPar    time.Duration // zero when the parallel hessian is skipped

	Objective  float64
	Violation  float64
	HessNorm   float64 // ‖𝜵²ℒ‖₂ over the stored entries
	Mismatches []model.Mismatch
}

// Run builds the tutorial model described by c and times every callback.
func Run(ctx context.Context, c *Config, logger *model.Logger) (*Report, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	n := c.N()
	r := &Report{}

	start := time.Now()
	p := Tutorial(n, c.Mode)
	r.Build = time.Since(start)

	start = time.Now()
	m, err := p.New(logger)
	if err != nil {
		return nil, err
	}
	r.Init = time.Since(start)
	r.N, r.M, r.NNZJac, r.NNZHess = m.Dims()

	x := StartPoint(n)
	grad := make([]float64, r.N)
	g := make([]float64, r.M)
	jac := make([]float64, r.NNZJac)
	hess := make([]float64, r.NNZHess)
	lambda := make([]float64, r.M)
	for k := range lambda {
		lambda[k] = 1
	}

	// newX is set on every call so that each one pays for a full evaluation
	rounds := time.Duration(c.Repeat)
	timed := func(f func()) time.Duration {
		start := time.Now()
		for range c.Repeat {
			f()
		}
		return time.Since(start) / rounds
	}
	r.EvalF = timed(func() { r.Objective = m.EvalF(x, true) })
	r.EvalGradF = timed(func() { m.EvalGradF(x, true, grad) })
	r.EvalG = timed(func() { m.EvalG(x, true, g) })
	r.EvalJacG = timed(func() { m.EvalJacG(x, true, jac) })
	r.EvalH = timed(func() { m.EvalH(x, true, 1, lambda, hess) })
	r.HessNorm = floats.Norm(hess, 2)

	if c.Workers > 0 {
		par := make([]float64, r.NNZHess)
		start := time.Now()
		for range c.Repeat {
			if err := m.EvalHParallel(ctx, x, true, 1, lambda, par, c.Workers); err != nil {
				return nil, err
			}
		}
		r.EvalHPar = time.Since(start) / rounds
		if !floats.EqualApprox(hess, par, 1e-9*max(1, r.HessNorm)) {
			return nil, fmt.Errorf("parallel hessian differs from serial by %v", floats.Distance(hess, par, 2))
		}
	}
	r.Violation = m.Violation(x)

	if c.Check.Enable {
		method, _ := c.Check.method()
		if r.Mismatches, err = m.CheckDerivatives(x, method, c.Check.Tol); err != nil {
			return nil, err
		}
	}

	if c.Spy != "" {
		if err := Spy(m, c.Spy, 6*vg.Inch); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Print writes a human readable summary.
func (r *Report) Print(w io.Writer) {
	_, _ = fmt.Fprintf(w, "n = %d, m = %d, nnz_jac = %d, nnz_hess = %d\n", r.N, r.M, r.NNZJac, r.NNZHess)
	_, _ = fmt.Fprintf(w, "%-14s %v\n", "build", r.Build)
	_, _ = fmt.Fprintf(w, "%-14s %v\n", "init", r.Init)
	_, _ = fmt.Fprintf(w, "%-14s %v\n", "eval_f", r.EvalF)
	_, _ = fmt.Fprintf(w, "%-14s %v\n", "eval_grad_f", r.EvalGradF)
	_, _ = fmt.Fprintf(w, "%-14s %v\n", "eval_g", r.EvalG)
	_, _ = fmt.Fprintf(w, "%-14s %v\n", "eval_jac_g", r.EvalJacG)
	_, _ = fmt.Fprintf(w, "%-14s %v\n", "eval_h", r.EvalH)
	if r.EvalHPar > 0 {
		_, _ = fmt.Fprintf(w, "%-14s %v\n", "eval_h (par)", r.EvalHPar)
	}
	_, _ = fmt.Fprintf(w, "f = %v, max violation = %v, ‖H‖ = %v\n", r.Objective, r.Violation, r.HessNorm)
	for _, d := range r.Mismatches {
		_, _ = fmt.Fprintln(w, d)
	}
}
