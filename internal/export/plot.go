package export

import (
	"fmt"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/tissueworks/bioflux/internal/engine"
	"github.com/tissueworks/bioflux/internal/geometry"
)

// PlotVmTrace renders the sampled Vm trace of a run (mean, min, max in mV
// against simulated time) to an image file; the format follows the path
// extension.
func PlotVmTrace(path string, reports []engine.Report) error {
	if len(reports) == 0 {
		return fmt.Errorf("export: no reports to plot")
	}

	p := plot.New()
	p.Title.Text = "Membrane voltage"
	p.X.Label.Text = "time [s]"
	p.Y.Label.Text = "Vm [mV]"

	mean := make(plotter.XYs, len(reports))
	min := make(plotter.XYs, len(reports))
	max := make(plotter.XYs, len(reports))
	for i, r := range reports {
		mean[i].X, mean[i].Y = r.Time, r.VmMean*1e3
		min[i].X, min[i].Y = r.Time, r.VmMin*1e3
		max[i].X, max[i].Y = r.Time, r.VmMax*1e3
	}

	if err := plotutil.AddLines(p, "mean", mean, "min", min, "max", max); err != nil {
		return fmt.Errorf("export: failed to add Vm lines: %w", err)
	}
	if err := p.Save(8*vg.Inch, 4*vg.Inch, path); err != nil {
		return fmt.Errorf("export: failed to save %s: %w", path, err)
	}
	return nil
}

// PlotCellVm renders the cluster as a scatter of cell bodies at their
// positions, colored by per-cell membrane voltage.
func PlotCellVm(path string, c *geometry.Cluster, st *engine.State) error {
	vm := CellVm(c, st)
	if len(vm) == 0 {
		return fmt.Errorf("export: no cells to plot")
	}

	p := plot.New()
	p.Title.Text = "Cell Vm [mV]"
	p.X.Label.Text = "x [m]"
	p.Y.Label.Text = "y [m]"

	pts := make(plotter.XYs, len(c.Cells))
	for ci := range c.Cells {
		pts[ci].X, pts[ci].Y = c.Cells[ci].X, c.Cells[ci].Y
	}
	sc, err := plotter.NewScatter(pts)
	if err != nil {
		return fmt.Errorf("export: failed to build cell scatter: %w", err)
	}

	min, max := vm[0], vm[0]
	for _, v := range vm {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	colors := palette.Heat(16, 1).Colors()
	sc.GlyphStyleFunc = func(i int) draw.GlyphStyle {
		t := 0.0
		if max > min {
			t = (vm[i] - min) / (max - min)
		}
		idx := int(t * float64(len(colors)-1))
		return draw.GlyphStyle{
			Color:  colors[idx],
			Radius: vg.Points(6),
			Shape:  draw.CircleGlyph{},
		}
	}
	p.Add(sc)

	if err := p.Save(6*vg.Inch, 6*vg.Inch, path); err != nil {
		return fmt.Errorf("export: failed to save %s: %w", path, err)
	}
	return nil
}

// envGrid adapts one ion's environment field to the heatmap grid interface.
type envGrid struct {
	c    *geometry.Cluster
	vals []float64
}

func (g envGrid) Dims() (int, int)  { return g.c.GridN, g.c.GridN }
func (g envGrid) X(col int) float64 { return float64(col) * g.c.Delta }
func (g envGrid) Y(row int) float64 { return float64(row) * g.c.Delta }
func (g envGrid) Z(col, row int) float64 {
	return g.vals[g.c.EnvAt(col, row)]
}

// PlotEnvHeatmap renders one ion's environment concentration field.
func PlotEnvHeatmap(path, ionName string, c *geometry.Cluster, st *engine.State, ionIdx int) error {
	if ionIdx < 0 || ionIdx >= len(st.ConcEnv) {
		return fmt.Errorf("export: ion index %d out of range", ionIdx)
	}

	p := plot.New()
	p.Title.Text = ionName + " concentration [mM]"
	p.X.Label.Text = "x [m]"
	p.Y.Label.Text = "y [m]"

	hm := plotter.NewHeatMap(envGrid{c: c, vals: st.ConcEnv[ionIdx]}, palette.Heat(16, 1))
	p.Add(hm)

	if err := p.Save(6*vg.Inch, 6*vg.Inch, path); err != nil {
		return fmt.Errorf("export: failed to save %s: %w", path, err)
	}
	return nil
}
