// Package voxelgrid groups points into clusters of face, edge or corner
// adjacent occupied cells.
package voxelgrid

import (
	"github.com/golang/geo/r3"

	"github.com/seqsense/pcdmls/pcd"
	storage "github.com/seqsense/pcdmls/pcd/storage/voxelgrid"
)

const initialSliceCap = 8192

var cursor [][3]int

func init() {
	for _, x := range []int{-1, 0, 1} {
		for _, y := range []int{-1, 0, 1} {
			for _, z := range []int{-1, 0, 1} {
				if x == 0 && y == 0 && z == 0 {
					continue
				}
				cursor = append(cursor, [3]int{x, y, z})
			}
		}
	}
}

type VoxelGrid struct {
	*storage.VoxelGrid
}

// New registers the cloud in cells no wider than resolution, unless the
// grid would exceed its maximum size. The grid extends one cell past the
// cloud so that no cell wraps around.
func New(c *pcd.Cloud, resolution float64) *VoxelGrid {
	box := c.AABB()
	if !box.IsEmpty() {
		box.Max = box.Max.Add(r3.Vector{X: resolution, Y: resolution, Z: resolution})
	}
	v := storage.NewEmpty(box, resolution)
	for i := 0; i < c.Len(); i++ {
		v.Insert(c.Position(i))
	}
	return &VoxelGrid{VoxelGrid: v}
}

func (v *VoxelGrid) inside(p [3]int) bool {
	for _, a := range p {
		if a < 0 || a >= v.Size() {
			return false
		}
	}
	return true
}

// Segment returns the points of the cluster containing the cell of p.
func (v *VoxelGrid) Segment(p r3.Vector) []int {
	pos := v.PosInt(p)
	if !v.inside(pos) {
		return nil
	}
	return v.flood(pos, make([]bool, v.Len()))
}

// Clusters returns every cluster of the grid.
func (v *VoxelGrid) Clusters() [][]int {
	searched := make([]bool, v.Len())
	size := v.Size()
	var clusters [][]int
	for addr := range searched {
		if searched[addr] || len(v.GetByAddr(addr)) == 0 {
			continue
		}
		pos := [3]int{addr % size, (addr / size) % size, addr / (size * size)}
		clusters = append(clusters, v.flood(pos, searched))
	}
	return clusters
}

func (v *VoxelGrid) flood(start [3]int, searched []bool) []int {
	next := make([][3]int, 0, initialSliceCap)
	next = append(next, start)
	indice := make([]int, 0, initialSliceCap)

	for len(next) > 0 {
		var pos [3]int
		pos, next = next[0], next[1:]
		addr := v.AddrByPosInt(pos)
		if searched[addr] {
			continue
		}
		searched[addr] = true
		c := v.GetByAddr(addr)
		if len(c) == 0 {
			continue
		}
		indice = append(indice, c...)

		for _, d := range cursor {
			n := [3]int{pos[0] + d[0], pos[1] + d[1], pos[2] + d[2]}
			if !v.inside(n) || searched[v.AddrByPosInt(n)] {
				continue
			}
			next = append(next, n)
		}
	}
	return indice
}
