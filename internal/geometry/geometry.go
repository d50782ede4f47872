// Package geometry builds and describes the simulated cell cluster: cells
// hex-packed inside a circular tissue mask, their membrane patches, the
// gap-junction edges between facing patches of adjacent cells, and the
// square extracellular grid the cluster is immersed in.
//
// The cluster is an arena of records addressed by stable integer indices.
// It is immutable once built; the engine only ever reads it.
package geometry

import (
	"fmt"
	"math"
)

// Index types keep the different arenas from being mixed up.
type (
	CellIndex int
	MemIndex  int
	EdgeIndex int
	EnvIndex  int
)

// None marks a missing cross-reference (a membrane with no junction).
const None = -1

// Sides is the number of membrane patches per cell.
const Sides = 6

// Cell is one discrete cell body.
type Cell struct {
	Index  CellIndex
	X, Y   float64 // center [m]
	Volume float64 // cytosolic volume [m3]
	Mems   []MemIndex
}

// Membrane is one patch of a cell's membrane. Patches with a junction face
// a neighboring cell; patches without one face the environment.
type Membrane struct {
	Index    MemIndex
	Cell     CellIndex
	X, Y     float64 // patch midpoint [m]
	Nx, Ny   float64 // outward unit normal
	Area     float64 // patch area [m2]
	Env      EnvIndex
	Junction EdgeIndex // None if environment-facing
	Boundary bool      // environment-facing patch at the cluster periphery
}

// Junction is an undirected gap-junction edge between two facing membrane
// patches of adjacent cells.
type Junction struct {
	Index        EdgeIndex
	MemA, MemB   MemIndex
	CellA, CellB CellIndex
	Length       float64 // junctional gap length [m]
}

// EnvNode is one extracellular grid compartment.
type EnvNode struct {
	Index    EnvIndex
	X, Y     float64
	Volume   float64
	Boundary bool // on the outer edge of the world grid
}

// EnvLink is an undirected diffusive link between two adjacent env nodes.
type EnvLink struct {
	A, B EnvIndex
	Dist float64
}

// Params controls cluster construction.
type Params struct {
	CellRadius    float64 // [m]
	ClusterRadius float64 // tissue mask radius [m]
	WorldSize     float64 // env grid side length [m]
	GridN         int     // env grid is GridN x GridN nodes
	Thickness     float64 // extrusion depth of the 2D model [m]
}

// Cluster is the finished topology.
type Cluster struct {
	Cells     []Cell
	Mems      []Membrane
	Junctions []Junction
	Env       []EnvNode
	EnvLinks  []EnvLink

	GridN  int
	Delta  float64 // env grid spacing [m]
	Params Params
}

// Build constructs a cluster: cells packed on a hexagonal lattice and kept
// when inside the circular mask centered on the world, six membrane patches
// per cell, one junction per facing patch pair, and the environment grid.
func Build(p Params) (*Cluster, error) {
	if p.CellRadius <= 0 || p.ClusterRadius <= 0 || p.WorldSize <= 0 || p.Thickness <= 0 {
		return nil, fmt.Errorf("geometry: all lengths must be positive (got %+v)", p)
	}
	if p.GridN < 2 {
		return nil, fmt.Errorf("geometry: grid must be at least 2x2, got %d", p.GridN)
	}
	if 2*p.ClusterRadius > p.WorldSize {
		return nil, fmt.Errorf("geometry: cluster diameter %g exceeds world size %g",
			2*p.ClusterRadius, p.WorldSize)
	}

	c := &Cluster{GridN: p.GridN, Params: p}
	c.Delta = p.WorldSize / float64(p.GridN-1)

	c.buildCells(p)
	if len(c.Cells) == 0 {
		return nil, fmt.Errorf("geometry: mask radius %g too small for cell radius %g",
			p.ClusterRadius, p.CellRadius)
	}
	c.buildEnv(p)
	c.buildMembranes(p)
	c.buildJunctions(p)
	c.bindEnvNodes()
	return c, nil
}

// buildCells packs cell centers on a hex lattice clipped to the mask.
func (c *Cluster) buildCells(p Params) {
	cx := p.WorldSize / 2
	cy := p.WorldSize / 2
	r := p.CellRadius
	rowStep := r * math.Sqrt(3)

	vol := math.Pi * r * r * p.Thickness

	nRows := int(p.ClusterRadius/rowStep) + 1
	nCols := int(p.ClusterRadius/(2*r)) + 1
	for row := -nRows; row <= nRows; row++ {
		y := cy + float64(row)*rowStep
		offset := 0.0
		if row%2 != 0 {
			offset = r
		}
		for col := -nCols - 1; col <= nCols; col++ {
			x := cx + offset + float64(col)*2*r
			if math.Hypot(x-cx, y-cy) > p.ClusterRadius {
				continue
			}
			c.Cells = append(c.Cells, Cell{
				Index:  CellIndex(len(c.Cells)),
				X:      x,
				Y:      y,
				Volume: vol,
			})
		}
	}
}

// buildMembranes creates Sides patches per cell with outward normals at
// uniform angles. Patch area divides the lateral surface of the extruded
// cell evenly.
func (c *Cluster) buildMembranes(p Params) {
	perim := 2 * math.Pi * p.CellRadius
	area := perim * p.Thickness / Sides

	for ci := range c.Cells {
		cell := &c.Cells[ci]
		for k := 0; k < Sides; k++ {
			theta := 2 * math.Pi * float64(k) / Sides
			nx, ny := math.Cos(theta), math.Sin(theta)
			m := Membrane{
				Index:    MemIndex(len(c.Mems)),
				Cell:     cell.Index,
				X:        cell.X + p.CellRadius*nx,
				Y:        cell.Y + p.CellRadius*ny,
				Nx:       nx,
				Ny:       ny,
				Area:     area,
				Junction: None,
				Env:      None,
			}
			cell.Mems = append(cell.Mems, m.Index)
			c.Mems = append(c.Mems, m)
		}
	}
}

// buildJunctions links each pair of adjacent cells through the facing
// membrane patch on either side.
func (c *Cluster) buildJunctions(p Params) {
	cutoff := 2.5 * p.CellRadius
	for i := range c.Cells {
		for j := i + 1; j < len(c.Cells); j++ {
			a, b := &c.Cells[i], &c.Cells[j]
			dx, dy := b.X-a.X, b.Y-a.Y
			dist := math.Hypot(dx, dy)
			if dist > cutoff {
				continue
			}
			ux, uy := dx/dist, dy/dist
			ma := c.facingMem(a, ux, uy)
			mb := c.facingMem(b, -ux, -uy)
			gap := dist - 2*p.CellRadius
			if gap < p.CellRadius*1e-3 {
				gap = p.CellRadius * 1e-3
			}
			jn := Junction{
				Index:  EdgeIndex(len(c.Junctions)),
				MemA:   ma,
				MemB:   mb,
				CellA:  a.Index,
				CellB:  b.Index,
				Length: gap,
			}
			c.Mems[ma].Junction = jn.Index
			c.Mems[mb].Junction = jn.Index
			c.Junctions = append(c.Junctions, jn)
		}
	}
}

// facingMem returns the membrane of cell whose normal best matches (ux, uy).
func (c *Cluster) facingMem(cell *Cell, ux, uy float64) MemIndex {
	best := cell.Mems[0]
	bestDot := math.Inf(-1)
	for _, mi := range cell.Mems {
		m := &c.Mems[mi]
		if dot := m.Nx*ux + m.Ny*uy; dot > bestDot {
			bestDot = dot
			best = mi
		}
	}
	return best
}

// buildEnv lays out the square environment grid and its diffusive links.
func (c *Cluster) buildEnv(p Params) {
	n := p.GridN
	vol := c.Delta * c.Delta * p.Thickness
	for iy := 0; iy < n; iy++ {
		for ix := 0; ix < n; ix++ {
			c.Env = append(c.Env, EnvNode{
				Index:    EnvIndex(len(c.Env)),
				X:        float64(ix) * c.Delta,
				Y:        float64(iy) * c.Delta,
				Volume:   vol,
				Boundary: ix == 0 || iy == 0 || ix == n-1 || iy == n-1,
			})
		}
	}
	for iy := 0; iy < n; iy++ {
		for ix := 0; ix < n; ix++ {
			at := EnvIndex(iy*n + ix)
			if ix+1 < n {
				c.EnvLinks = append(c.EnvLinks, EnvLink{A: at, B: at + 1, Dist: c.Delta})
			}
			if iy+1 < n {
				c.EnvLinks = append(c.EnvLinks, EnvLink{A: at, B: at + EnvIndex(n), Dist: c.Delta})
			}
		}
	}
}

// bindEnvNodes assigns every environment-facing membrane its nearest env
// node and flags it as a boundary patch of the cluster.
func (c *Cluster) bindEnvNodes() {
	for mi := range c.Mems {
		m := &c.Mems[mi]
		if m.Junction != None {
			continue
		}
		m.Env = c.nearestEnv(m.X, m.Y)
		m.Boundary = true
	}
}

// nearestEnv returns the grid node closest to (x, y).
func (c *Cluster) nearestEnv(x, y float64) EnvIndex {
	n := c.GridN
	ix := int(math.Round(x / c.Delta))
	iy := int(math.Round(y / c.Delta))
	if ix < 0 {
		ix = 0
	}
	if iy < 0 {
		iy = 0
	}
	if ix >= n {
		ix = n - 1
	}
	if iy >= n {
		iy = n - 1
	}
	return EnvIndex(iy*n + ix)
}

// EnvAt returns the env node index at grid coordinates (ix, iy).
func (c *Cluster) EnvAt(ix, iy int) EnvIndex {
	return EnvIndex(iy*c.GridN + ix)
}

// Validate checks structural invariants. It is cheap enough to run at
// engine setup after loading a persisted phase.
func (c *Cluster) Validate() error {
	for _, cell := range c.Cells {
		if cell.Volume <= 0 {
			return fmt.Errorf("cell %d has non-positive volume", cell.Index)
		}
		if len(cell.Mems) != Sides {
			return fmt.Errorf("cell %d has %d membranes, want %d", cell.Index, len(cell.Mems), Sides)
		}
	}
	for _, m := range c.Mems {
		if m.Area <= 0 {
			return fmt.Errorf("membrane %d has non-positive area", m.Index)
		}
		if m.Junction == None && m.Env == None {
			return fmt.Errorf("membrane %d faces neither a junction nor the environment", m.Index)
		}
	}
	for _, j := range c.Junctions {
		if j.CellA == j.CellB {
			return fmt.Errorf("junction %d joins cell %d to itself", j.Index, j.CellA)
		}
		if j.MemA == j.MemB {
			return fmt.Errorf("junction %d reuses membrane %d on both sides", j.Index, j.MemA)
		}
		if j.Length <= 0 {
			return fmt.Errorf("junction %d has non-positive length", j.Index)
		}
	}
	return nil
}
