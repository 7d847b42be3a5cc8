// Package plane removes the dominant plane of a cloud, such as a floor
// scanned together with an object.
package plane

import (
	"errors"
	"math/rand"

	"github.com/seqsense/pcdmls/internal/logging"
	"github.com/seqsense/pcdmls/pcd"
	"github.com/seqsense/pcdmls/pcd/filter"
	"github.com/seqsense/pcdmls/pcd/sac"
)

var ErrInvalidOptions = errors.New("plane: invalid options")

type Options struct {
	// Threshold is the largest distance of an inlier to the plane.
	Threshold  float64
	Iterations int
	// MinInliers is the number of inliers required to remove a plane.
	MinInliers int
	Seed       int64
}

type planeRemoval struct {
	Options
}

func New(o Options) filter.Filter {
	return &planeRemoval{Options: o}
}

func (f *planeRemoval) Filter(c *pcd.Cloud) (*pcd.Cloud, error) {
	if f.Threshold <= 0 || f.Iterations < 1 || f.MinInliers < 3 {
		return nil, ErrInvalidOptions
	}
	out := pcd.NewCloud(c.Attrs())
	if c.Len() < f.MinInliers {
		appendAll(out, c)
		return out, nil
	}

	s := sac.New(
		sac.NewRandomSampler(c.Len(), rand.New(rand.NewSource(f.Seed))),
		sac.NewPlaneModel(c, f.Threshold),
	)
	if !s.Compute(f.Iterations) {
		appendAll(out, c)
		return out, nil
	}
	coeff := s.Coefficients()
	if n := coeff.Evaluate(); n < f.MinInliers {
		logging.Debugf("plane: best plane has %d inliers", n)
		appendAll(out, c)
		return out, nil
	}
	for i := 0; i < c.Len(); i++ {
		if !coeff.IsIn(c.Position(i)) {
			out.Append(*c.At(i))
		}
	}
	logging.Debugf("plane: removed %d points", c.Len()-out.Len())
	return out, nil
}

func appendAll(dst, src *pcd.Cloud) {
	for i := 0; i < src.Len(); i++ {
		dst.Append(*src.At(i))
	}
}
