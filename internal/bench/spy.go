// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package bench

import (
	"fmt"
	"strconv"

	"github.com/curioloop/madopt/model"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
)

// flipped labels the negated row axis with positive row numbers.
type flipped struct{ plot.DefaultTicks }

func (f flipped) Ticks(min, max float64) []plot.Tick {
	ticks := f.DefaultTicks.Ticks(min, max)
	for k := range ticks {
		if ticks[k].Label != "" {
			ticks[k].Label = strconv.FormatFloat(-ticks[k].Value, 'g', -1, 64)
		}
	}
	return ticks
}

// SpyPoints returns one point (j, -i) per stored Hessian entry, mirrored
// across the diagonal, so that row 0 is drawn at the top.
func SpyPoints(m *model.Model) plotter.XYs {
	_, _, _, nnz := m.Dims()
	iRow, jCol := make([]int, nnz), make([]int, nnz)
	m.HessStructure(iRow, jCol)

	pts := make(plotter.XYs, 0, 2*nnz)
	for k := range iRow {
		i, j := float64(iRow[k]), float64(jCol[k])
		pts = append(pts, plotter.XY{X: j, Y: -i})
		if i != j {
			pts = append(pts, plotter.XY{X: i, Y: -j})
		}
	}
	return pts
}

// Spy saves the sparsity pattern of the Lagrangian Hessian to path.
// The image format follows the file extension.
func Spy(m *model.Model, path string, size vg.Length) error {
	n, _, _, nnz := m.Dims()

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Hessian sparsity (n=%d, nnz=%d)", n, nnz)
	p.X.Label.Text = "column"
	p.Y.Label.Text = "row"
	p.Y.Tick.Marker = flipped{}

	s, err := plotter.NewScatter(SpyPoints(m))
	if err != nil {
		return fmt.Errorf("spy: %w", err)
	}
	s.GlyphStyle.Shape = draw.BoxGlyph{}
	s.GlyphStyle.Radius = vg.Points(1)
	p.Add(s)

	if err := p.Save(size, size, path); err != nil {
		return fmt.Errorf("spy: cannot save %s: %w", path, err)
	}
	return nil
}
