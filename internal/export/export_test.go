package export

import (
	"bytes"
	"encoding/csv"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/tissueworks/bioflux/internal/engine"
	"github.com/tissueworks/bioflux/internal/geometry"
)

func testCluster(t *testing.T) *geometry.Cluster {
	t.Helper()
	c, err := geometry.Build(geometry.Params{
		CellRadius:    5e-6,
		ClusterRadius: 15e-6,
		WorldSize:     100e-6,
		GridN:         6,
		Thickness:     10e-6,
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return c
}

func testState(c *geometry.Cluster, nIons int) *engine.State {
	st := &engine.State{
		ConcCell: make([][]float64, len(c.Cells)),
		ConcEnv:  make([][]float64, nIons),
		Vm:       make([]float64, len(c.Mems)),
		Phi:      make([]float64, len(c.Env)),
	}
	for ci := range st.ConcCell {
		st.ConcCell[ci] = []float64{10, 139, float64(ci)}
	}
	for i := range st.ConcEnv {
		st.ConcEnv[i] = make([]float64, len(c.Env))
		for n := range st.ConcEnv[i] {
			st.ConcEnv[i][n] = 145 - float64(n%3)
		}
	}
	for mi := range st.Vm {
		st.Vm[mi] = -0.05
	}
	return st
}

func TestCellVmAverages(t *testing.T) {
	c := testCluster(t)
	st := testState(c, 2)
	// Bias one membrane of cell 0 and check the mean moves accordingly.
	st.Vm[c.Cells[0].Mems[0]] = -0.05 + 0.006*float64(geometry.Sides)
	vm := CellVm(c, st)
	if got, want := vm[0], -0.05+0.006; math.Abs(got-want) > 1e-12 {
		t.Errorf("cell 0 vm = %g, want %g", got, want)
	}
	if vm[1] != -0.05 {
		t.Errorf("cell 1 vm = %g, want -0.05", vm[1])
	}
}

func TestWriteCellCSV(t *testing.T) {
	c := testCluster(t)
	st := testState(c, 2)

	var buf bytes.Buffer
	if err := WriteCellCSV(&buf, c, st, []string{"Na", "K"}, []string{"GRN1"}); err != nil {
		t.Fatalf("WriteCellCSV: %v", err)
	}

	rows, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("parse csv: %v", err)
	}
	if len(rows) != len(c.Cells)+1 {
		t.Fatalf("got %d rows, want %d", len(rows), len(c.Cells)+1)
	}
	want := []string{"cell", "x", "y", "vm_mv", "Na_mM", "K_mM", "GRN1"}
	for i, col := range want {
		if rows[0][i] != col {
			t.Errorf("header[%d] = %q, want %q", i, rows[0][i], col)
		}
	}
	// Spot-check a data row: vm in mV, concentrations in order.
	vm, _ := strconv.ParseFloat(rows[1][3], 64)
	if vm != -50 {
		t.Errorf("vm_mv = %g, want -50", vm)
	}
	if rows[1][4] != "10" || rows[1][5] != "139" {
		t.Errorf("conc columns = %q %q", rows[1][4], rows[1][5])
	}
}

func TestWriteEnvCSV(t *testing.T) {
	c := testCluster(t)
	st := testState(c, 2)

	var buf bytes.Buffer
	if err := WriteEnvCSV(&buf, c, st, []string{"Na", "K"}); err != nil {
		t.Fatalf("WriteEnvCSV: %v", err)
	}
	rows, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("parse csv: %v", err)
	}
	if len(rows) != len(c.Env)+1 {
		t.Fatalf("got %d rows, want %d", len(rows), len(c.Env)+1)
	}
	// Corner node is a boundary node.
	if rows[1][3] != "true" {
		t.Errorf("node 0 boundary = %q, want true", rows[1][3])
	}
}

func TestWriteTraceCSV(t *testing.T) {
	reports := []engine.Report{
		{Step: 10, Time: 1e-3, VmMean: -0.05, VmMin: -0.06, VmMax: -0.04, DeltaNorm: 1e-7},
		{Step: 20, Time: 2e-3, VmMean: -0.051, VmMin: -0.061, VmMax: -0.041, Underflows: 3},
	}
	var buf bytes.Buffer
	if err := WriteTraceCSV(&buf, reports); err != nil {
		t.Fatalf("WriteTraceCSV: %v", err)
	}
	rows, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("parse csv: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("got %d rows, want 3", len(rows))
	}
	if rows[2][6] != "3" {
		t.Errorf("underflows column = %q, want 3", rows[2][6])
	}
}

func TestPlotVmTrace(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vm.png")
	reports := []engine.Report{
		{Step: 1, Time: 0.001, VmMean: -0.05, VmMin: -0.06, VmMax: -0.04},
		{Step: 2, Time: 0.002, VmMean: -0.052, VmMin: -0.062, VmMax: -0.042},
		{Step: 3, Time: 0.003, VmMean: -0.054, VmMin: -0.064, VmMax: -0.044},
	}
	if err := PlotVmTrace(path, reports); err != nil {
		t.Fatalf("PlotVmTrace: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Size() == 0 {
		t.Error("plot file is empty")
	}

	if err := PlotVmTrace(filepath.Join(dir, "empty.png"), nil); err == nil {
		t.Error("PlotVmTrace should reject an empty trace")
	}
}

func TestPlotCellVm(t *testing.T) {
	c := testCluster(t)
	st := testState(c, 2)
	// A voltage spread exercises the color mapping.
	for mi := range st.Vm {
		st.Vm[mi] = -0.06 + 0.0001*float64(mi)
	}
	path := filepath.Join(t.TempDir(), "cells.png")
	if err := PlotCellVm(path, c, st); err != nil {
		t.Fatalf("PlotCellVm: %v", err)
	}
	if info, err := os.Stat(path); err != nil || info.Size() == 0 {
		t.Errorf("cell plot not written: %v", err)
	}
}

func TestPlotEnvHeatmap(t *testing.T) {
	c := testCluster(t)
	st := testState(c, 2)
	path := filepath.Join(t.TempDir(), "na.png")
	if err := PlotEnvHeatmap(path, "Na", c, st, 0); err != nil {
		t.Fatalf("PlotEnvHeatmap: %v", err)
	}
	if info, err := os.Stat(path); err != nil || info.Size() == 0 {
		t.Errorf("heatmap not written: %v", err)
	}
	if err := PlotEnvHeatmap(path, "Na", c, st, 5); err == nil {
		t.Error("PlotEnvHeatmap should reject an out-of-range ion index")
	}
}
