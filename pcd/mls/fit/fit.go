// Package fit implements local weighted fits of planes and algebraic spheres
// over a neighborhood, and the gradient of the resulting moving least squares
// potential.
package fit

import (
	"errors"
	"math"

	"github.com/golang/geo/r3"

	"github.com/seqsense/pcdmls/pcd/neighborhood"
)

var (
	ErrInsufficientSamples = errors.New("insufficient samples")
	ErrDegenerateSystem    = errors.New("degenerate system")
	ErrMissingNormals      = errors.New("normals are required")
)

// Fitter fits a primitive to the weighted neighborhood computed at an
// evaluation point. Potential, Normal, Project and MLSGradient require a
// successful Fit and panic otherwise.
type Fitter interface {
	Fit(nb *neighborhood.Neighborhood) error
	MinSamples() int
	// Potential evaluates the fitted primitive.
	Potential(p r3.Vector) float64
	// Normal returns the unit gradient of the fitted primitive.
	Normal(p r3.Vector) r3.Vector
	// Project moves p onto the fitted primitive.
	Project(p r3.Vector) r3.Vector
	// MLSGradient returns the gradient at p of the potential obtained by
	// refitting at every point, nb being the neighborhood computed at p.
	MLSGradient(nb *neighborhood.Neighborhood, p r3.Vector) r3.Vector
}

const errNotFitted = "fit: primitive used before a successful Fit"

// frame is a local coordinate system centered on the weighted centroid and
// scaled by the weighted RMS spread of the samples.
type frame struct {
	center r3.Vector
	scale  float64
	weight float64
}

func newFrame(nb *neighborhood.Neighborhood) (frame, error) {
	var f frame
	for i := 0; i < nb.Len(); i++ {
		w := nb.Weight(i)
		f.weight += w
		f.center = f.center.Add(nb.Position(i).Mul(w))
	}
	if f.weight <= 0 || math.IsNaN(f.weight) {
		return frame{}, ErrDegenerateSystem
	}
	f.center = f.center.Mul(1 / f.weight)

	var spread float64
	for i := 0; i < nb.Len(); i++ {
		spread += nb.Weight(i) * nb.Position(i).Sub(f.center).Norm2()
	}
	f.scale = math.Sqrt(spread / f.weight)
	if f.scale <= 1e-12*(1+f.center.Norm()) {
		f.scale = nb.MeanFilterRadius()
		if f.scale <= 0 {
			f.scale = 1
		}
	}
	return f, nil
}

func (f frame) toLocal(p r3.Vector) r3.Vector {
	return p.Sub(f.center).Mul(1 / f.scale)
}

func (f frame) toGlobal(y r3.Vector) r3.Vector {
	return f.center.Add(y.Mul(f.scale))
}

// features returns [1, y, |y|²].
func features(y r3.Vector) [5]float64 {
	return [5]float64{1, y.X, y.Y, y.Z, y.Norm2()}
}

// weightGradients stores the gradient of every weight with respect to p.
func weightGradients(dst []r3.Vector, nb *neighborhood.Neighborhood, p r3.Vector) []r3.Vector {
	if cap(dst) < nb.Len() {
		dst = make([]r3.Vector, nb.Len())
	}
	dst = dst[:nb.Len()]
	for i := range dst {
		dst[i] = nb.WeightGradient(i, p)
	}
	return dst
}
