package voxelgrid

import (
	"errors"
	"image/color"
	"math"

	"github.com/golang/geo/r3"

	"github.com/seqsense/pcdmls/pcd"
	"github.com/seqsense/pcdmls/pcd/filter"
)

const maxVoxels = 1 << 26

var (
	ErrInvalidLeafSize = errors.New("voxelgrid: leaf size must be positive")
	ErrTooManyVoxels   = errors.New("voxelgrid: too many voxels")
)

type Options struct {
	LeafSize r3.Vector
}

type voxelGrid struct {
	Options
}

type voxel struct {
	sum    r3.Vector
	normal r3.Vector
	radius float64
	rgba   [4]float64
	num    int
	index  int
}

// New returns a filter replacing the points of each voxel by their average.
func New(leafSize r3.Vector) filter.Filter {
	vg := &voxelGrid{
		Options: Options{
			LeafSize: leafSize,
		},
	}
	return vg
}

func (f *voxelGrid) Filter(c *pcd.Cloud) (*pcd.Cloud, error) {
	l := f.LeafSize
	if l.X <= 0 || l.Y <= 0 || l.Z <= 0 {
		return nil, ErrInvalidLeafSize
	}
	if c.Len() == 0 {
		return pcd.NewCloud(c.Attrs()), nil
	}
	box := c.AABB()
	min := box.Min
	size := box.Diagonal()
	xs, ys, zs := int(size.X/l.X)+1, int(size.Y/l.Y)+1, int(size.Z/l.Z)+1
	if float64(xs)*float64(ys)*float64(zs) > maxVoxels {
		return nil, ErrTooManyVoxels
	}
	voxels := make([]voxel, xs*ys*zs)

	var n int
	for i := 0; i < c.Len(); i++ {
		pt := c.At(i)
		p := pt.Position.Sub(min)
		x, y, z := cell(p.X/l.X, xs), cell(p.Y/l.Y, ys), cell(p.Z/l.Z, zs)
		v := &voxels[x+xs*(y+ys*z)]
		if v.num == 0 {
			v.index = i
			n++
		}
		v.num++
		v.sum = v.sum.Add(p)
		v.normal = v.normal.Add(pt.Normal)
		v.radius += pt.Radius
		v.rgba[0] += float64(pt.Color.R)
		v.rgba[1] += float64(pt.Color.G)
		v.rgba[2] += float64(pt.Color.B)
		v.rgba[3] += float64(pt.Color.A)
	}

	out := pcd.NewCloud(c.Attrs())
	for i := range voxels {
		v := &voxels[i]
		if v.num == 0 {
			continue
		}
		p := *c.At(v.index)
		if v.num > 1 {
			inv := 1 / float64(v.num)
			p.Position = v.sum.Mul(inv).Add(min)
			if c.Has(pcd.AttrNormal) && v.normal.Norm2() > 0 {
				p.Normal = v.normal.Normalize()
			}
			p.Radius = v.radius * inv
			p.Color = color.RGBA{
				R: uint8(math.Round(v.rgba[0] * inv)),
				G: uint8(math.Round(v.rgba[1] * inv)),
				B: uint8(math.Round(v.rgba[2] * inv)),
				A: uint8(math.Round(v.rgba[3] * inv)),
			}
		}
		out.Append(p)
	}
	return out, nil
}

func cell(v float64, n int) int {
	i := int(v)
	if i >= n {
		return n - 1
	}
	return i
}
