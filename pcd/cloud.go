package pcd

import (
	"image/color"

	"github.com/golang/geo/r3"
	pmat "github.com/seqsense/pcgol/mat"
	"github.com/seqsense/pcgol/pc"

	"github.com/seqsense/pcdmls/mat"
)

// Attr is a set of optional per point attributes.
type Attr uint8

const (
	AttrRadius Attr = 1 << iota
	AttrNormal
	AttrColor
)

func (a Attr) String() string {
	s := "position"
	if a&AttrNormal != 0 {
		s += "+normal"
	}
	if a&AttrRadius != 0 {
		s += "+radius"
	}
	if a&AttrColor != 0 {
		s += "+color"
	}
	return s
}

type Point struct {
	Position r3.Vector
	Normal   r3.Vector
	Radius   float64
	Color    color.RGBA
}

// Cloud is an append-only point store. A point is identified by its index.
type Cloud struct {
	points []Point
	attrs  Attr
}

var _ pc.Vec3RandomAccessor = (*Cloud)(nil)

func NewCloud(attrs Attr, points ...Point) *Cloud {
	return &Cloud{
		points: append([]Point(nil), points...),
		attrs:  attrs,
	}
}

func (c *Cloud) Append(p ...Point) {
	c.points = append(c.points, p...)
}

func (c *Cloud) Len() int {
	return len(c.points)
}

// At returns the i-th point. The point must not be modified.
func (c *Cloud) At(i int) *Point {
	return &c.points[i]
}

func (c *Cloud) Position(i int) r3.Vector {
	return c.points[i].Position
}

func (c *Cloud) Vec3At(i int) pmat.Vec3 {
	return mat.ToVec3(c.points[i].Position)
}

// RawIndexAt returns i; a Cloud has no underlying storage to map into.
func (c *Cloud) RawIndexAt(i int) int {
	return i
}

func (c *Cloud) Attrs() Attr {
	return c.attrs
}

func (c *Cloud) Has(a Attr) bool {
	return c.attrs&a == a
}

func (c *Cloud) AABB() mat.Box {
	b := mat.EmptyBox()
	for i := range c.points {
		b.Extend(c.points[i].Position)
	}
	return b
}

// AverageRadius returns the mean point radius, or 0 if the cloud has no radius.
func (c *Cloud) AverageRadius() float64 {
	if !c.Has(AttrRadius) || len(c.points) == 0 {
		return 0
	}
	var sum float64
	for i := range c.points {
		sum += c.points[i].Radius
	}
	return sum / float64(len(c.points))
}

// SetRadii replaces the radius of every point.
func (c *Cloud) SetRadii(r []float64) {
	if len(r) != len(c.points) {
		panic("pcd: radius count mismatch")
	}
	for i := range c.points {
		c.points[i].Radius = r[i]
	}
	c.attrs |= AttrRadius
}
