// Package radius estimates point radii from the local sampling density.
package radius

import (
	"errors"
	"math"

	"github.com/seqsense/pcdmls/pcd"
	"github.com/seqsense/pcdmls/pcd/filter"
	"github.com/seqsense/pcdmls/pcd/storage"
	"github.com/seqsense/pcdmls/pcd/storage/kdtree"
)

var (
	ErrInvalidOptions = errors.New("radius: k and scale must be positive")
	ErrNoSpacing      = errors.New("radius: all points coincide")
)

type Options struct {
	// K is the rank of the neighbor whose distance defines the radius.
	K     int
	Scale float64
}

type estimator struct {
	Options
}

// New returns a filter setting the radius of every point to Scale times the
// distance to its K-th nearest neighbor.
func New(k int, scale float64) filter.Filter {
	return &estimator{Options: Options{K: k, Scale: scale}}
}

func (f *estimator) Filter(c *pcd.Cloud) (*pcd.Cloud, error) {
	if f.K < 1 || f.Scale <= 0 {
		return nil, ErrInvalidOptions
	}
	out := pcd.NewCloud(c.Attrs())
	for i := 0; i < c.Len(); i++ {
		out.Append(*c.At(i))
	}
	if c.Len() == 0 {
		return out, nil
	}
	if c.Len() == 1 {
		return nil, ErrNoSpacing
	}

	t := kdtree.New(c, kdtree.DefaultTargetCellSize)
	// the point itself is its own nearest neighbor
	res := storage.NewResult(f.K + 1)
	radii := make([]float64, c.Len())
	var sum float64
	var n int
	for i := range radii {
		res.Reset()
		t.QueryK(res, c.Position(i))
		radii[i] = math.Sqrt(res.TopSquaredDistance()) * f.Scale
		if radii[i] > 0 {
			sum += radii[i]
			n++
		}
	}
	if n == 0 {
		return nil, ErrNoSpacing
	}
	// Duplicated points get the mean radius.
	mean := sum / float64(n)
	for i := range radii {
		if radii[i] == 0 {
			radii[i] = mean
		}
	}
	out.SetRadii(radii)
	return out, nil
}
