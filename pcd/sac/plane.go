package sac

import (
	"math"

	"github.com/golang/geo/r3"

	"github.com/seqsense/pcdmls/pcd"
)

type planeModel struct {
	cloud     *pcd.Cloud
	threshold float64
	minArea2  float64
}

// NewPlaneModel returns a model of planes through three points of c.
// Points closer than threshold to a plane are its inliers.
func NewPlaneModel(c *pcd.Cloud, threshold float64) Model {
	t2 := threshold * threshold
	return &planeModel{
		cloud:     c,
		threshold: threshold,
		// reject nearly collinear samples
		minArea2: t2 * t2 * 1e-6,
	}
}

func (planeModel) NumSamples() int {
	return 3
}

func (m *planeModel) Fit(ids []int) (Coefficients, bool) {
	if len(ids) != 3 {
		return nil, false
	}
	p0 := m.cloud.Position(ids[0])
	v1 := m.cloud.Position(ids[1]).Sub(p0)
	v2 := m.cloud.Position(ids[2]).Sub(p0)

	norm := v1.Cross(v2)
	if norm.Norm2() <= m.minArea2 {
		return nil, false
	}
	// Plane equation: norm.p = d
	norm = norm.Normalize()
	return &planeCoefficients{
		model: m,
		norm:  norm,
		d:     norm.Dot(p0),
	}, true
}

type planeCoefficients struct {
	model *planeModel
	norm  r3.Vector
	d     float64
}

func (c *planeCoefficients) Evaluate() int {
	var cnt int
	for i := 0; i < c.model.cloud.Len(); i++ {
		if c.IsIn(c.model.cloud.Position(i)) {
			cnt++
		}
	}
	return cnt
}

func (c *planeCoefficients) Inliers() []int {
	n := c.model.cloud.Len()
	out := make([]int, 0, n)
	for i := 0; i < n; i++ {
		if c.IsIn(c.model.cloud.Position(i)) {
			out = append(out, i)
		}
	}
	return out
}

func (c *planeCoefficients) IsIn(p r3.Vector) bool {
	return math.Abs(c.norm.Dot(p)-c.d) < c.model.threshold
}
