package mat

import (
	"math"

	"github.com/golang/geo/r3"
	pmat "github.com/seqsense/pcgol/mat"
)

// Component returns the i-th coordinate of v.
func Component(v r3.Vector, i int) float64 {
	switch i {
	case 0:
		return v.X
	case 1:
		return v.Y
	}
	return v.Z
}

func SetComponent(v *r3.Vector, i int, a float64) {
	switch i {
	case 0:
		v.X = a
	case 1:
		v.Y = a
	default:
		v.Z = a
	}
}

func MaxComponent(v r3.Vector) float64 {
	return math.Max(v.X, math.Max(v.Y, v.Z))
}

func FromVec3(v pmat.Vec3) r3.Vector {
	return r3.Vector{X: float64(v[0]), Y: float64(v[1]), Z: float64(v[2])}
}

func ToVec3(v r3.Vector) pmat.Vec3 {
	return pmat.Vec3{float32(v.X), float32(v.Y), float32(v.Z)}
}

// Normalized returns v scaled to unit length, or the zero vector if v is zero.
func Normalized(v r3.Vector) r3.Vector {
	n := v.Norm()
	if n == 0 {
		return r3.Vector{}
	}
	return v.Mul(1 / n)
}
