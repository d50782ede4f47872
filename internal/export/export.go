// Package export renders committed simulation states to CSV tables and
// plots: per-cell voltage and concentration tables, the Vm trace of a run,
// and environment concentration heatmaps.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/tissueworks/bioflux/internal/engine"
	"github.com/tissueworks/bioflux/internal/geometry"
)

// CellVm returns the per-cell membrane voltage [V], averaged over each
// cell's patches.
func CellVm(c *geometry.Cluster, st *engine.State) []float64 {
	out := make([]float64, len(c.Cells))
	for ci := range c.Cells {
		var sum float64
		for _, mi := range c.Cells[ci].Mems {
			sum += st.Vm[mi]
		}
		out[ci] = sum / float64(len(c.Cells[ci].Mems))
	}
	return out
}

// WriteCellCSV writes one row per cell: position, voltage, and the full
// concentration vector (ions then network species).
func WriteCellCSV(w io.Writer, c *geometry.Cluster, st *engine.State, ions, netSpecies []string) error {
	cw := csv.NewWriter(w)

	header := []string{"cell", "x", "y", "vm_mv"}
	for _, name := range ions {
		header = append(header, name+"_mM")
	}
	header = append(header, netSpecies...)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	vm := CellVm(c, st)
	for ci := range c.Cells {
		row := []string{
			strconv.Itoa(ci),
			fmtF(c.Cells[ci].X),
			fmtF(c.Cells[ci].Y),
			fmtF(vm[ci] * 1e3),
		}
		for _, v := range st.ConcCell[ci] {
			row = append(row, fmtF(v))
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("failed to write cell %d: %w", ci, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteEnvCSV writes one row per environment node: position, boundary
// flag, potential, and the per-ion concentrations.
func WriteEnvCSV(w io.Writer, c *geometry.Cluster, st *engine.State, ions []string) error {
	cw := csv.NewWriter(w)

	header := []string{"node", "x", "y", "boundary", "phi_v"}
	for _, name := range ions {
		header = append(header, name+"_mM")
	}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	for n := range c.Env {
		row := []string{
			strconv.Itoa(n),
			fmtF(c.Env[n].X),
			fmtF(c.Env[n].Y),
			strconv.FormatBool(c.Env[n].Boundary),
			fmtF(st.Phi[n]),
		}
		for i := range ions {
			row = append(row, fmtF(st.ConcEnv[i][n]))
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("failed to write node %d: %w", n, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteTraceCSV writes the sampled per-step reports of a run.
func WriteTraceCSV(w io.Writer, reports []engine.Report) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"step", "time_s", "vm_mean_mv", "vm_min_mv", "vm_max_mv", "delta", "underflows"}); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	for _, r := range reports {
		row := []string{
			strconv.Itoa(r.Step),
			fmtF(r.Time),
			fmtF(r.VmMean * 1e3),
			fmtF(r.VmMin * 1e3),
			fmtF(r.VmMax * 1e3),
			fmtF(r.DeltaNorm),
			strconv.Itoa(r.Underflows),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("failed to write step %d: %w", r.Step, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteFile is a small helper that writes through fn into path.
func WriteFile(path string, fn func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := fn(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func fmtF(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
