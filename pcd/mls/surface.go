package mls

import (
	"fmt"
	"image/color"
	"math"

	"github.com/golang/geo/r3"

	"github.com/seqsense/pcdmls/internal/logging"
	"github.com/seqsense/pcdmls/mat"
	"github.com/seqsense/pcdmls/pcd"
	"github.com/seqsense/pcdmls/pcd/mls/fit"
	"github.com/seqsense/pcdmls/pcd/neighborhood"
	"github.com/seqsense/pcdmls/pcd/storage"
)

type state int

const (
	uninitialized state = iota
	neighborhoodComputed
	fitted
	evaluated
)

type Projection struct {
	Position   r3.Vector
	Normal     r3.Vector
	Color      color.RGBA
	Iterations int
}

// Surface evaluates the MLS surface of a Model. The last evaluation position
// and its fit are cached.
type Surface struct {
	model   *Model
	nb      *neighborhood.Neighborhood
	fitter  fit.Fitter
	weight  neighborhood.Quartic
	closest *storage.Result

	state state
	pos   r3.Vector
	grad  r3.Vector
}

func (s *Surface) Model() *Model {
	return s.model
}

// Neighborhood returns the neighborhood of the last evaluation.
func (s *Surface) Neighborhood() *neighborhood.Neighborhood {
	return s.nb
}

func (s *Surface) fit(p r3.Vector) error {
	s.state = uninitialized
	s.pos = p
	n, err := s.nb.Compute(p, s.weight)
	if err != nil {
		return fmt.Errorf("mls: %w", err)
	}
	s.state = neighborhoodComputed
	if n < s.fitter.MinSamples() {
		return fmt.Errorf("mls: %d neighbors: %w", n, ErrInsufficientSamples)
	}
	if s.nb.TotalWeight() <= 0 {
		return fmt.Errorf("mls: zero total weight: %w", ErrDegenerateSystem)
	}
	if err := s.fitter.Fit(s.nb); err != nil {
		logging.Debugf("mls: fit at %v: %v", p, err)
		return fmt.Errorf("mls: %w", err)
	}
	s.state = fitted
	return nil
}

// Evaluate refits at p and returns the potential.
func (s *Surface) Evaluate(p r3.Vector) (float64, error) {
	if err := s.fit(p); err != nil {
		return InvalidPotential, err
	}
	return s.fitter.Potential(p), nil
}

// Potential returns the implicit function at p, or InvalidPotential if no
// primitive can be fitted there.
func (s *Surface) Potential(p r3.Vector) float64 {
	v, err := s.Evaluate(p)
	if err != nil {
		return InvalidPotential
	}
	return v
}

// Gradient returns the gradient of the potential at p. It reuses the fit of
// a previous evaluation at the same position.
func (s *Surface) Gradient(p r3.Vector) (r3.Vector, error) {
	if s.state == evaluated && s.pos == p {
		return s.grad, nil
	}
	if s.state != fitted || s.pos != p {
		if err := s.fit(p); err != nil {
			return r3.Vector{}, err
		}
	}
	s.grad = s.fitter.MLSGradient(s.nb, p)
	s.state = evaluated
	return s.grad, nil
}

func (s *Surface) closestSample(p r3.Vector) (r3.Vector, bool) {
	s.closest.Reset()
	s.model.index.QueryK(s.closest, p)
	if s.closest.Len() == 0 {
		return r3.Vector{}, false
	}
	return s.model.cloud.Position(s.closest.ID(0)), true
}

// step returns the next position estimate of the projection of p0, the
// primitive being fitted at x.
func (s *Surface) step(p0, x r3.Vector) r3.Vector {
	switch s.model.cfg.Projection.Method {
	case AlmostOrtho:
		return s.fitter.Project(p0)
	case Ortho:
		y := s.fitter.Project(x)
		n := mat.Normalized(s.fitter.MLSGradient(s.nb, x))
		if n == (r3.Vector{}) {
			n = s.fitter.Normal(y)
		}
		return p0.Sub(n.Mul(n.Dot(p0.Sub(y))))
	}
	return s.fitter.Project(x)
}

// Project moves p onto the surface by refitting at the running estimate
// until the steps become shorter than the accuracy.
func (s *Surface) Project(p r3.Vector) (Projection, error) {
	cfg := s.model.cfg.Projection
	eps := cfg.Accuracy * s.model.scale

	x := p
	if cfg.StartWithClosest {
		if c, ok := s.closestSample(p); ok {
			x = c
		}
	}

	var iter int
	converged := false
	for iter < cfg.MaxIterations {
		if err := s.fit(x); err != nil {
			return Projection{Iterations: iter}, err
		}
		next := s.step(p, x)
		delta := next.Sub(x).Norm()
		x = next
		iter++
		if math.IsNaN(delta) {
			return Projection{Iterations: iter}, fmt.Errorf("mls: invalid step: %w", ErrDegenerateSystem)
		}
		if cfg.StopRule == StopBelowAccuracy && delta < eps {
			converged = true
			break
		}
		if cfg.StopRule == ContinueWhileBelowAccuracy && delta >= eps {
			break
		}
	}
	if cfg.StopRule == ContinueWhileBelowAccuracy {
		converged = true
	}
	if !converged {
		return Projection{Position: x, Iterations: iter},
			fmt.Errorf("mls: %d iterations: %w", iter, ErrNonConvergence)
	}

	g, err := s.Gradient(x)
	if err != nil {
		return Projection{Position: x, Iterations: iter}, err
	}
	n := mat.Normalized(g)
	if n == (r3.Vector{}) {
		n = s.fitter.Normal(x)
	}
	if cfg.DomainCheck && !s.inDomain(x) {
		return Projection{Position: x, Normal: n, Iterations: iter},
			fmt.Errorf("mls: %v: %w", x, ErrDomainViolation)
	}
	return Projection{
		Position:   x,
		Normal:     n,
		Color:      s.color(),
		Iterations: iter,
	}, nil
}

// inDomain reports whether x lies in the ball of influence of one of the
// current neighbors. Below 1, the normal scale flattens the balls along the
// sample normals.
func (s *Surface) inDomain(x r3.Vector) bool {
	cfg := s.model.cfg.Projection
	hasRadius := s.model.cloud.Has(pcd.AttrRadius)
	useNormal := s.nb.HasNormals() && cfg.DomainNormalScale < 1
	for i := 0; i < s.nb.Len(); i++ {
		r := s.nb.FilterRadius(i)
		if hasRadius {
			r = s.nb.Radius(i)
		}
		r *= cfg.DomainRadiusScale
		d := x.Sub(s.nb.Position(i))
		d2 := d.Norm2()
		if useNormal {
			dn := s.nb.Normal(i).Dot(d)
			dt2 := d2 - dn*dn
			dn /= cfg.DomainNormalScale
			d2 = dt2 + dn*dn
		}
		if d2 < r*r {
			return true
		}
	}
	return false
}

// color returns the weighted mean color of the current neighbors.
func (s *Surface) color() color.RGBA {
	if !s.model.cloud.Has(pcd.AttrColor) || s.nb.Len() == 0 {
		return color.RGBA{}
	}
	var r, g, b, a, sum float64
	for i := 0; i < s.nb.Len(); i++ {
		w := s.nb.Weight(i)
		c := s.nb.Color(i)
		r += w * float64(c.R)
		g += w * float64(c.G)
		b += w * float64(c.B)
		a += w * float64(c.A)
		sum += w
	}
	if sum <= 0 {
		return s.nb.Color(0)
	}
	ch := func(v float64) uint8 {
		return uint8(math.Min(255, math.Round(v/sum)))
	}
	return color.RGBA{R: ch(r), G: ch(g), B: ch(b), A: ch(a)}
}
