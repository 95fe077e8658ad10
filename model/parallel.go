// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package model

import (
	"context"
	"runtime"
	"slices"

	"github.com/curioloop/madopt/adstack"
	"github.com/curioloop/madopt/constraint"
	"golang.org/x/sync/errgroup"
)

// workspace holds the scratch state of one evaluation block.
type workspace struct {
	stack *adstack.Stack
	hess  []float64
}

// workspaces returns n workspaces, reusing those of earlier calls.
// Each one is used by a single goroutine at a time.
func (m *Model) workspaces(n int) []*workspace {
	for len(m.ws) < n {
		m.ws = append(m.ws, &workspace{stack: adstack.New(), hess: make([]float64, m.pm.Len())})
	}
	return m.ws[:n]
}

// EvalHParallel computes the same values as EvalH with rows partitioned into contiguous blocks
// evaluated by up to workers goroutines (GOMAXPROCS when workers ≤ 0).
// Every block accumulates into a private buffer and the buffers are summed in block order.
func (m *Model) EvalHParallel(ctx context.Context, x []float64, newX bool, objFactor float64, lambda, values []float64, workers int) error {
	if len(lambda) != len(m.cons) {
		panic("model: multiplier dimension not match")
	}
	if len(values) != m.pm.Len() {
		panic("model: hessian dimension not match")
	}
	if len(x) != m.n {
		panic("model: x dimension not match")
	}
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	rows := m.rows
	reval := !m.fresh || newX || !slices.Equal(x, m.x)
	blocks := min(workers, len(rows))
	size := (len(rows) + blocks - 1) / blocks

	ws := m.workspaces(blocks)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for b, w := range ws {
		lo, hi := b*size, min((b+1)*size, len(rows))
		g.Go(func() error {
			clear(w.hess)
			for k := lo; k < hi; k++ {
				if err := ctx.Err(); err != nil {
					return err
				}
				c := rows[k]
				if reval {
					c.SetEvals(x, w.stack)
				}
				if !c.Kind().Has(constraint.CapHessian) {
					continue
				}
				lam := objFactor
				if k > 0 {
					lam = lambda[k-1]
				}
				c.EvalH(x, w.hess, lam)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		m.fresh = false
		return err
	}
	if reval {
		copy(m.x, x)
		m.fresh = true
	}

	clear(values)
	for _, w := range ws {
		for s, v := range w.hess {
			values[s] += v
		}
	}
	if m.logger.enable(LogEval) {
		m.logger.log("eval_h: σ = %v, %d blocks\n", objFactor, blocks)
	}
	return nil
}
