package mat

import (
	"math"

	"github.com/golang/geo/r3"
)

// Box is an axis aligned bounding box.
type Box struct {
	Min, Max r3.Vector
}

func EmptyBox() Box {
	inf := math.Inf(1)
	return Box{
		Min: r3.Vector{X: inf, Y: inf, Z: inf},
		Max: r3.Vector{X: -inf, Y: -inf, Z: -inf},
	}
}

func (b *Box) Extend(p r3.Vector) {
	b.Min.X = math.Min(b.Min.X, p.X)
	b.Min.Y = math.Min(b.Min.Y, p.Y)
	b.Min.Z = math.Min(b.Min.Z, p.Z)
	b.Max.X = math.Max(b.Max.X, p.X)
	b.Max.Y = math.Max(b.Max.Y, p.Y)
	b.Max.Z = math.Max(b.Max.Z, p.Z)
}

func (b Box) IsEmpty() bool {
	return b.Min.X > b.Max.X || b.Min.Y > b.Max.Y || b.Min.Z > b.Max.Z
}

func (b Box) Diagonal() r3.Vector {
	if b.IsEmpty() {
		return r3.Vector{}
	}
	return b.Max.Sub(b.Min)
}

func (b Box) Center() r3.Vector {
	return b.Min.Add(b.Max).Mul(0.5)
}

// LongestAxis returns the axis of the largest extent, preferring lower axes on ties.
func (b Box) LongestAxis() int {
	d := b.Diagonal()
	dim := 0
	for i := 1; i < 3; i++ {
		if Component(d, i) > Component(d, dim) {
			dim = i
		}
	}
	return dim
}

func (b Box) Contains(p r3.Vector) bool {
	return b.Min.X <= p.X && p.X <= b.Max.X &&
		b.Min.Y <= p.Y && p.Y <= b.Max.Y &&
		b.Min.Z <= p.Z && p.Z <= b.Max.Z
}

// SqDistance returns the squared distance from p to the box, zero inside.
func (b Box) SqDistance(p r3.Vector) float64 {
	var sq float64
	for i := 0; i < 3; i++ {
		v := Component(p, i)
		if lo := Component(b.Min, i); v < lo {
			sq += (lo - v) * (lo - v)
		} else if hi := Component(b.Max, i); v > hi {
			sq += (v - hi) * (v - hi)
		}
	}
	return sq
}

// Split cuts the box at v along dim.
func (b Box) Split(dim int, v float64) (lower, upper Box) {
	lower, upper = b, b
	SetComponent(&lower.Max, dim, v)
	SetComponent(&upper.Min, dim, v)
	return
}
