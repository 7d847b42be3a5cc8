// Package cluster removes small groups of points isolated from the rest of
// the cloud.
package cluster

import (
	"errors"

	"github.com/seqsense/pcdmls/pcd"
	"github.com/seqsense/pcdmls/pcd/filter"
	"github.com/seqsense/pcdmls/pcd/segmentation/voxelgrid"
)

var ErrInvalidOptions = errors.New("cluster: resolution and minimum size must be positive")

type Options struct {
	Resolution float64
	MinPoints  int
}

type clusterFilter struct {
	Options
}

// New returns a filter keeping the points of clusters holding at least
// minPoints points, cells of the given resolution being connected when
// they touch.
func New(resolution float64, minPoints int) filter.Filter {
	return &clusterFilter{Options: Options{Resolution: resolution, MinPoints: minPoints}}
}

func (f *clusterFilter) Filter(c *pcd.Cloud) (*pcd.Cloud, error) {
	if f.Resolution <= 0 || f.MinPoints < 1 {
		return nil, ErrInvalidOptions
	}
	keep := make([]bool, c.Len())
	for _, cl := range voxelgrid.New(c, f.Resolution).Clusters() {
		if len(cl) < f.MinPoints {
			continue
		}
		for _, i := range cl {
			keep[i] = true
		}
	}
	out := pcd.NewCloud(c.Attrs())
	for i, k := range keep {
		if k {
			out.Append(*c.At(i))
		}
	}
	return out, nil
}
