// Package mls evaluates moving least squares surfaces defined by a point
// cloud: an implicit potential, its gradient and the projection of points
// onto its zero set.
package mls

import (
	"errors"

	"github.com/seqsense/pcdmls/pcd/mls/fit"
)

var (
	ErrNonConvergence   = errors.New("projection did not converge")
	ErrDomainViolation  = errors.New("point is outside the surface domain")
	ErrEmptyCloud       = errors.New("empty point cloud")
	ErrMissingNormals   = fit.ErrMissingNormals
	ErrDegenerateSystem = fit.ErrDegenerateSystem

	ErrInsufficientSamples = fit.ErrInsufficientSamples
)

// InvalidPotential is returned by Surface.Potential where no primitive can
// be fitted. It is large and positive, so that the point is far outside.
const InvalidPotential = 1e9
