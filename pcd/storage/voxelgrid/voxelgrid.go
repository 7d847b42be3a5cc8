// Package voxelgrid implements a hashed uniform grid. The grid has a power of
// two number of cells per axis and cell addresses wrap around, so positions
// outside the bounding cube share cells with positions inside it.
package voxelgrid

import (
	"math"

	"github.com/golang/geo/r3"

	"github.com/seqsense/pcdmls/mat"
	"github.com/seqsense/pcdmls/pcd"
	"github.com/seqsense/pcdmls/pcd/storage"
)

const (
	maxCellsPerAxis = 128
	none            = -1
)

type VoxelGrid struct {
	heads []int
	next  []int
	pos   []r3.Vector
	alive []bool

	size       int
	mask       int
	origin     r3.Vector
	resolution float64
	resInv     float64
	bounds     mat.Box
}

var _ storage.Index = (*VoxelGrid)(nil)

// New builds a grid over the cloud. The cell size is derived from the average
// point radius, or from the point density if the cloud has no radius.
func New(c *pcd.Cloud) *VoxelGrid {
	target := c.AverageRadius()
	box := c.AABB()
	if target <= 0 && c.Len() > 0 {
		target = mat.MaxComponent(box.Diagonal()) / math.Cbrt(float64(c.Len()))
	}
	v := NewEmpty(box, target)
	for i := 0; i < c.Len(); i++ {
		v.Insert(c.Position(i))
	}
	return v
}

// NewEmpty prepares a grid covering the bounding cube of box. The cell width
// is halved until it is at most target or the grid has 128 cells per axis.
func NewEmpty(box mat.Box, target float64) *VoxelGrid {
	diameter := 1.0
	origin := r3.Vector{}
	if !box.IsEmpty() {
		origin = box.Min
		if d := mat.MaxComponent(box.Diagonal()); d > 0 {
			diameter = d
		}
	}
	if target <= 0 {
		target = diameter
	}
	cellSize := diameter
	size := 1
	for size < maxCellsPerAxis && cellSize > target {
		cellSize /= 2
		size *= 2
	}

	heads := make([]int, size*size*size)
	for i := range heads {
		heads[i] = none
	}
	return &VoxelGrid{
		heads:      heads,
		size:       size,
		mask:       size - 1,
		origin:     origin,
		resolution: cellSize,
		resInv:     1 / cellSize,
		bounds:     mat.EmptyBox(),
	}
}

// Resolution returns the cell width.
func (v *VoxelGrid) Resolution() float64 {
	return v.resolution
}

// Size returns the number of cells per axis.
func (v *VoxelGrid) Size() int {
	return v.size
}

// Len returns the number of cells.
func (v *VoxelGrid) Len() int {
	return len(v.heads)
}

// Points returns the number of live points.
func (v *VoxelGrid) Points() int {
	var n int
	for _, a := range v.alive {
		if a {
			n++
		}
	}
	return n
}

// PosInt returns the unwrapped integer cell coordinates of p.
func (v *VoxelGrid) PosInt(p r3.Vector) [3]int {
	d := p.Sub(v.origin)
	return [3]int{
		int(math.Floor(d.X * v.resInv)),
		int(math.Floor(d.Y * v.resInv)),
		int(math.Floor(d.Z * v.resInv)),
	}
}

// AddrByPosInt returns the wrapped cell address of integer coordinates.
func (v *VoxelGrid) AddrByPosInt(p [3]int) int {
	x, y, z := p[0]&v.mask, p[1]&v.mask, p[2]&v.mask
	return x + (y+z*v.size)*v.size
}

func (v *VoxelGrid) Addr(p r3.Vector) int {
	return v.AddrByPosInt(v.PosInt(p))
}

// Get returns the points registered in the cell of p.
func (v *VoxelGrid) Get(p r3.Vector) []int {
	return v.GetByAddr(v.Addr(p))
}

// GetByAddr returns the points registered in the cell at addr.
func (v *VoxelGrid) GetByAddr(addr int) []int {
	var ids []int
	for i := v.heads[addr]; i != none; i = v.next[i] {
		ids = append(ids, i)
	}
	return ids
}

// Insert registers a new point and returns its index.
func (v *VoxelGrid) Insert(p r3.Vector) int {
	id := len(v.pos)
	v.pos = append(v.pos, p)
	v.next = append(v.next, none)
	v.alive = append(v.alive, true)
	v.link(id)
	return id
}

// Remove unregisters the point. Its index is not reused.
func (v *VoxelGrid) Remove(id int) {
	if !v.alive[id] {
		return
	}
	v.unlink(id, v.Addr(v.pos[id]))
	v.alive[id] = false
}

// Move updates the position of a point and its cell membership.
func (v *VoxelGrid) Move(id int, p r3.Vector) {
	if !v.alive[id] {
		return
	}
	from, to := v.Addr(v.pos[id]), v.Addr(p)
	if from != to {
		v.unlink(id, from)
	}
	v.pos[id] = p
	if from != to {
		v.link(id)
	} else {
		v.bounds.Extend(p)
	}
}

// Position returns the current position of a point.
func (v *VoxelGrid) Position(id int) r3.Vector {
	return v.pos[id]
}

func (v *VoxelGrid) link(id int) {
	a := v.Addr(v.pos[id])
	v.next[id] = v.heads[a]
	v.heads[a] = id
	v.bounds.Extend(v.pos[id])
}

func (v *VoxelGrid) unlink(id, addr int) {
	if v.heads[addr] == id {
		v.heads[addr] = v.next[id]
		v.next[id] = none
		return
	}
	for i := v.heads[addr]; i != none; i = v.next[i] {
		if v.next[i] == id {
			v.next[i] = v.next[id]
			v.next[id] = none
			return
		}
	}
}

func (v *VoxelGrid) scanCell(res *storage.Result, addr int, p r3.Vector, r2 float64) {
	for i := v.heads[addr]; i != none; i = v.next[i] {
		if d2 := v.pos[i].Sub(p).Norm2(); d2 < r2 {
			res.Insert(i, d2)
		}
	}
}

func (v *VoxelGrid) QueryBall(res *storage.Result, p r3.Vector, radius float64) {
	res.Reset()
	if radius <= 0 {
		return
	}
	r2 := radius * radius
	if 2*radius*v.resInv >= float64(v.size) {
		// Covers the whole wrapped lattice; also keeps PosInt away from overflow.
		for a := range v.heads {
			v.scanCell(res, a, p, r2)
		}
		return
	}
	lo := v.PosInt(p.Sub(r3.Vector{X: radius, Y: radius, Z: radius}))
	hi := v.PosInt(p.Add(r3.Vector{X: radius, Y: radius, Z: radius}))
	if lo == hi {
		v.scanCell(res, v.AddrByPosInt(lo), p, r2)
		return
	}
	for k := 0; k < 3; k++ {
		if hi[k]-lo[k]+1 >= v.size {
			// The range wraps onto itself; visit every cell once on this axis.
			lo[k], hi[k] = 0, v.size-1
		}
	}
	for z := lo[2]; z <= hi[2]; z++ {
		for y := lo[1]; y <= hi[1]; y++ {
			for x := lo[0]; x <= hi[0]; x++ {
				v.scanCell(res, v.AddrByPosInt([3]int{x, y, z}), p, r2)
			}
		}
	}
}

// QueryK grows a ball from half a cell by one cell width per pass until the
// result is full or the ball covers every point.
func (v *VoxelGrid) QueryK(res *storage.Result, p r3.Vector) {
	res.Reset()
	if res.MaxNeighbors() == 0 || v.bounds.IsEmpty() {
		return
	}
	far := farthestCornerDistance(v.bounds, p)
	for r := 0.5 * v.resolution; ; r += v.resolution {
		v.QueryBall(res, p, r)
		if res.IsFull() || r > far {
			return
		}
	}
}

func farthestCornerDistance(b mat.Box, p r3.Vector) float64 {
	var sq float64
	for k := 0; k < 3; k++ {
		c := mat.Component(p, k)
		d := math.Max(math.Abs(c-mat.Component(b.Min, k)), math.Abs(c-mat.Component(b.Max, k)))
		sq += d * d
	}
	return math.Sqrt(sq)
}
