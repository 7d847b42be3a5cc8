package mls

import (
	"fmt"
	"math"

	"github.com/seqsense/pcdmls/internal/logging"
	"github.com/seqsense/pcdmls/mat"
	"github.com/seqsense/pcdmls/pcd"
	"github.com/seqsense/pcdmls/pcd/mls/fit"
	"github.com/seqsense/pcdmls/pcd/neighborhood"
	"github.com/seqsense/pcdmls/pcd/storage"
	"github.com/seqsense/pcdmls/pcd/storage/balltree"
	"github.com/seqsense/pcdmls/pcd/storage/kdtree"
	"github.com/seqsense/pcdmls/pcd/storage/voxelgrid"
)

// Model holds a cloud and its spatial index. It is read only once built and
// may be shared by the surfaces of several goroutines.
type Model struct {
	cfg   Config
	cloud *pcd.Cloud
	index storage.Index
	tree  *balltree.BallTree

	radius float64
	scale  float64
}

func NewModel(c *pcd.Cloud, cfg Config) (*Model, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if c.Len() == 0 {
		return nil, ErrEmptyCloud
	}
	switch cfg.Kind {
	case KindNormalSphere, KindIMLS:
		if !c.Has(pcd.AttrNormal) {
			return nil, fmt.Errorf("mls: %s surface: %w", cfg.Kind, ErrMissingNormals)
		}
	}

	m := &Model{cfg: cfg, cloud: c}
	box := c.AABB()
	m.scale = box.Diagonal().Norm()
	if m.scale <= 0 {
		m.scale = 1
	}
	spacing := c.AverageRadius()
	if spacing <= 0 {
		spacing = mat.MaxComponent(box.Diagonal()) / math.Cbrt(float64(c.Len()))
	}
	if spacing <= 0 {
		spacing = 1
	}
	m.radius = spacing * cfg.FilterScale

	opts := balltree.DefaultOptions()
	opts.FilterScale = cfg.FilterScale
	opts.TargetCellSize = cfg.TargetCellSize

	index := cfg.Index
	if cfg.Neighborhood == neighborhood.BallTree {
		index = IndexBallTree
	}
	switch index {
	case IndexGrid:
		m.index = voxelgrid.New(c)
	case IndexKdTree:
		m.index = kdtree.New(c, cfg.TargetCellSize)
	case IndexBallTree:
		t, err := balltree.New(c, opts)
		if err != nil {
			return nil, fmt.Errorf("mls: %w", err)
		}
		m.tree = t
		m.index = t
	}
	logging.Debugf("mls: %s surface over %d points, %s index, %s neighborhood",
		cfg.Kind, c.Len(), index, cfg.Neighborhood)
	return m, nil
}

func (m *Model) Cloud() *pcd.Cloud {
	return m.cloud
}

func (m *Model) Config() Config {
	return m.cfg
}

// Scale returns the diagonal length of the cloud bounding box. Projection
// accuracy is relative to it.
func (m *Model) Scale() float64 {
	return m.scale
}

// Radius returns the radius of ball neighborhoods.
func (m *Model) Radius() float64 {
	return m.radius
}

func (m *Model) newNeighborhood() *neighborhood.Neighborhood {
	switch m.cfg.Neighborhood {
	case neighborhood.KNN:
		return neighborhood.NewKNN(m.cloud, m.index, m.cfg.MaxNeighbors)
	case neighborhood.BallTree:
		opts := m.tree.Options
		return neighborhood.NewBallTree(m.cloud, m.tree, opts, m.cfg.MaxNeighbors)
	}
	return neighborhood.NewBall(m.cloud, m.index, m.radius, m.cfg.MaxNeighbors)
}

func (m *Model) newFitter() fit.Fitter {
	switch m.cfg.Kind {
	case KindPlane:
		return fit.NewPlaneFitter(m.cloud.Has(pcd.AttrNormal))
	case KindNormalSphere:
		return fit.NewNormalConstrainedSphereFitter(m.cfg.NormalParameter, m.cfg.NormalParameterScaled)
	case KindIMLS:
		return fit.NewIMLSFitter()
	}
	return fit.NewEigenSphereFitter()
}

// NewSurface returns an evaluator over the model. Surfaces own their scratch
// state and must not be shared between goroutines.
func (m *Model) NewSurface() *Surface {
	return &Surface{
		model:   m,
		nb:      m.newNeighborhood(),
		fitter:  m.newFitter(),
		closest: storage.NewResult(1),
	}
}
