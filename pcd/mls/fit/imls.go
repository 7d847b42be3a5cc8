package fit

import (
	"fmt"

	"github.com/golang/geo/r3"

	vmat "github.com/seqsense/pcdmls/mat"
	"github.com/seqsense/pcdmls/pcd/neighborhood"
)

// IMLSFitter is the implicit moving least squares surface: the weighted mean
// of the signed distances to the tangent planes of the samples. Potential and
// Project keep the weights of the last fit, so they are exact at the point
// the neighborhood was computed at.
type IMLSFitter struct {
	// weighted sums at the evaluation point
	weight float64
	mean   r3.Vector
	// centroid of the tangent plane offsets
	offset float64

	grads  []r3.Vector
	fitted bool
}

func NewIMLSFitter() *IMLSFitter {
	return &IMLSFitter{}
}

func (f *IMLSFitter) MinSamples() int {
	return 1
}

func (f *IMLSFitter) Fit(nb *neighborhood.Neighborhood) error {
	f.fitted = false
	if !nb.HasNormals() {
		return fmt.Errorf("imls: %w", ErrMissingNormals)
	}
	if n := nb.Len(); n < f.MinSamples() {
		return fmt.Errorf("imls: %d samples: %w", n, ErrInsufficientSamples)
	}
	f.weight = 0
	f.mean = r3.Vector{}
	f.offset = 0
	for i := 0; i < nb.Len(); i++ {
		w := nb.Weight(i)
		n := nb.Normal(i)
		f.weight += w
		f.mean = f.mean.Add(n.Mul(w))
		f.offset += w * n.Dot(nb.Position(i))
	}
	if f.weight <= 0 {
		return fmt.Errorf("imls: zero total weight: %w", ErrDegenerateSystem)
	}
	if f.mean.Norm() <= 1e-12*f.weight {
		return fmt.Errorf("imls: normals cancel out: %w", ErrDegenerateSystem)
	}
	f.fitted = true
	return nil
}

func (f *IMLSFitter) mustFit() {
	if !f.fitted {
		panic(errNotFitted)
	}
}

// Potential returns Σ w_i n_i·(p - x_i) / Σ w_i with the weights of the fit.
func (f *IMLSFitter) Potential(p r3.Vector) float64 {
	f.mustFit()
	return (f.mean.Dot(p) - f.offset) / f.weight
}

// Normal returns the normalized weighted mean of the sample normals.
func (f *IMLSFitter) Normal(r3.Vector) r3.Vector {
	f.mustFit()
	return vmat.Normalized(f.mean)
}

func (f *IMLSFitter) Project(p r3.Vector) r3.Vector {
	f.mustFit()
	// Moves along the mean normal onto the zero set of the fitted plane.
	l := f.mean.Norm()
	return p.Sub(f.mean.Mul((f.mean.Dot(p) - f.offset) / (l * l)))
}

// MLSGradient returns (Σ ∇w_i h_i + Σ w_i n_i - F Σ ∇w_i) / W with
// h_i = n_i·(p - x_i).
func (f *IMLSFitter) MLSGradient(nb *neighborhood.Neighborhood, p r3.Vector) r3.Vector {
	f.mustFit()
	f.grads = weightGradients(f.grads, nb, p)
	pot := f.Potential(p)
	g := f.mean
	for i, dw := range f.grads {
		h := nb.Normal(i).Dot(p.Sub(nb.Position(i)))
		g = g.Add(dw.Mul(h - pot))
	}
	return g.Mul(1 / f.weight)
}
