// Package sac implements random sample consensus over point clouds.
package sac

import (
	"github.com/golang/geo/r3"
)

type Sampler interface {
	Sample() int
}

type Model interface {
	// NumSamples returns the number of points defining a model candidate.
	NumSamples() int
	Fit([]int) (Coefficients, bool)
}

type Coefficients interface {
	// Evaluate returns the number of inliers.
	Evaluate() int
	Inliers() []int
	IsIn(r3.Vector) bool
}

type SAC struct {
	Sampler Sampler
	Model   Model

	bestCoeff Coefficients
}

func New(s Sampler, m Model) *SAC {
	return &SAC{Sampler: s, Model: m}
}

// Compute tries n random candidates and keeps the one with most inliers.
// It returns false if no candidate could be fitted.
func (s *SAC) Compute(n int) bool {
	var bestCoeff Coefficients
	var bestE int

	ids := make([]int, s.Model.NumSamples())
	for i := 0; i < n; i++ {
		for j := range ids {
			ids[j] = s.Sampler.Sample()
		}
		coeff, ok := s.Model.Fit(ids)
		if !ok {
			continue
		}
		if e := coeff.Evaluate(); bestCoeff == nil || e > bestE {
			bestE = e
			bestCoeff = coeff
		}
	}
	if bestCoeff == nil {
		return false
	}
	s.bestCoeff = bestCoeff
	return true
}

func (s *SAC) Coefficients() Coefficients {
	return s.bestCoeff
}
