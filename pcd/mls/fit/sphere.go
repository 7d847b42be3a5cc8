package fit

import (
	"math"

	"github.com/golang/geo/r3"

	"github.com/seqsense/pcdmls/mat"
)

// planeEpsilon is the magnitude of the quadratic coefficient below which a
// sphere is handled as a plane.
const planeEpsilon = 1e-9

// Sphere is the algebraic sphere u0 + u1 y1 + u2 y2 + u3 y3 + u4 |y|² = 0
// expressed in the local coordinates y = (x - Center) / Scale. The potential
// is Scale times the algebraic value, so that a Pratt normalized sphere has
// a unit gradient on its zero set.
type Sphere struct {
	U      [5]float64
	Center r3.Vector
	Scale  float64
}

func (s *Sphere) local(p r3.Vector) r3.Vector {
	return p.Sub(s.Center).Mul(1 / s.Scale)
}

func (s *Sphere) value(y r3.Vector) float64 {
	return s.U[0] + s.U[1]*y.X + s.U[2]*y.Y + s.U[3]*y.Z + s.U[4]*y.Norm2()
}

func (s *Sphere) linear() r3.Vector {
	return r3.Vector{X: s.U[1], Y: s.U[2], Z: s.U[3]}
}

func (s *Sphere) Potential(p r3.Vector) float64 {
	return s.Scale * s.value(s.local(p))
}

// Gradient returns the gradient of the potential in global coordinates.
func (s *Sphere) Gradient(p r3.Vector) r3.Vector {
	return s.linear().Add(s.local(p).Mul(2 * s.U[4]))
}

func (s *Sphere) Normal(p r3.Vector) r3.Vector {
	return mat.Normalized(s.Gradient(p))
}

// IsPlane reports whether the quadratic term is negligible.
func (s *Sphere) IsPlane() bool {
	return math.Abs(s.U[4]) <= planeEpsilon*math.Max(s.linear().Norm(), 1)
}

// Sphere returns the center and radius in global coordinates, or false for
// planes and imaginary spheres.
func (s *Sphere) Sphere() (r3.Vector, float64, bool) {
	if s.IsPlane() {
		return r3.Vector{}, 0, false
	}
	c := s.linear().Mul(-0.5 / s.U[4])
	r2 := c.Norm2() - s.U[0]/s.U[4]
	if r2 < 0 {
		return r3.Vector{}, 0, false
	}
	return s.Center.Add(c.Mul(s.Scale)), math.Sqrt(r2) * s.Scale, true
}

// Project returns the closest point of the primitive to p. Imaginary spheres
// fall back to a Newton step along the gradient.
func (s *Sphere) Project(p r3.Vector) r3.Vector {
	y := s.local(p)
	if s.IsPlane() {
		n := s.linear()
		n2 := n.Norm2()
		if n2 == 0 {
			return p
		}
		// Plane value ignores the vanishing quadratic term.
		d := s.U[0] + n.Dot(y)
		return s.Center.Add(y.Sub(n.Mul(d / n2)).Mul(s.Scale))
	}
	c := s.linear().Mul(-0.5 / s.U[4])
	r2 := c.Norm2() - s.U[0]/s.U[4]
	d := y.Sub(c)
	dn := d.Norm()
	if r2 < 0 || dn == 0 {
		g := s.linear().Add(y.Mul(2 * s.U[4]))
		g2 := g.Norm2()
		if g2 == 0 {
			return p
		}
		return s.Center.Add(y.Sub(g.Mul(s.value(y) / g2)).Mul(s.Scale))
	}
	return s.Center.Add(c.Add(d.Mul(math.Sqrt(r2) / dn)).Mul(s.Scale))
}

// Global returns the coefficients in global coordinates, scaled so that the
// potential is unchanged.
func (s *Sphere) Global() [5]float64 {
	sc, c := s.Scale, s.Center
	u4 := s.U[4] / sc
	l := s.linear().Sub(c.Mul(2 * u4))
	u0 := sc*s.U[0] - s.linear().Dot(c) + u4*c.Norm2()
	return [5]float64{u0, l.X, l.Y, l.Z, u4}
}

// Pratt returns u1²+u2²+u3²-4u0u4, invariant under the change of frame.
func (s *Sphere) Pratt() float64 {
	return s.linear().Norm2() - 4*s.U[0]*s.U[4]
}

func (s *Sphere) flip() {
	for i := range s.U {
		s.U[i] = -s.U[i]
	}
}

// EvalGlobal evaluates global coefficients u at p.
func EvalGlobal(u [5]float64, p r3.Vector) float64 {
	return u[0] + u[1]*p.X + u[2]*p.Y + u[3]*p.Z + u[4]*p.Norm2()
}
