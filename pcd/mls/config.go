package mls

import (
	"fmt"

	"github.com/seqsense/pcdmls/pcd/neighborhood"
)

// Kind selects the local primitive fitted at every evaluation point.
type Kind int

const (
	KindPlane Kind = iota
	KindSphere
	KindNormalSphere
	KindIMLS
)

var kindNames = map[Kind]string{
	KindPlane:        "plane",
	KindSphere:       "sphere",
	KindNormalSphere: "normal_sphere",
	KindIMLS:         "imls",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(b []byte) error {
	return parseEnum(kindNames, k, b, "surface kind")
}

// IndexKind selects the spatial index used by ball and k nearest
// neighborhoods.
type IndexKind int

const (
	IndexGrid IndexKind = iota
	IndexKdTree
	IndexBallTree
)

var indexNames = map[IndexKind]string{
	IndexGrid:     "grid",
	IndexKdTree:   "kdtree",
	IndexBallTree: "balltree",
}

func (k IndexKind) String() string {
	if s, ok := indexNames[k]; ok {
		return s
	}
	return "unknown"
}

func (k IndexKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *IndexKind) UnmarshalText(b []byte) error {
	return parseEnum(indexNames, k, b, "index kind")
}

// ProjectionMethod selects the point moved at every projection step.
type ProjectionMethod int

const (
	// Basic projects the running estimate onto the primitive fitted at it.
	Basic ProjectionMethod = iota
	// AlmostOrtho projects the query point onto the primitive fitted at the
	// running estimate.
	AlmostOrtho
	// Ortho projects the query point onto the tangent plane of the MLS
	// surface at the running estimate.
	Ortho
)

var methodNames = map[ProjectionMethod]string{
	Basic:       "basic",
	AlmostOrtho: "almost_ortho",
	Ortho:       "ortho",
}

func (m ProjectionMethod) String() string {
	if s, ok := methodNames[m]; ok {
		return s
	}
	return "unknown"
}

func (m ProjectionMethod) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *ProjectionMethod) UnmarshalText(b []byte) error {
	return parseEnum(methodNames, m, b, "projection method")
}

// StopRule decides when the projection loop ends.
type StopRule int

const (
	// StopBelowAccuracy stops once a step is shorter than the accuracy.
	StopBelowAccuracy StopRule = iota
	// ContinueWhileBelowAccuracy iterates while the steps stay shorter than
	// the accuracy, and stops at the first longer step.
	ContinueWhileBelowAccuracy
)

var stopRuleNames = map[StopRule]string{
	StopBelowAccuracy:          "below",
	ContinueWhileBelowAccuracy: "while_below",
}

func (r StopRule) String() string {
	if s, ok := stopRuleNames[r]; ok {
		return s
	}
	return "unknown"
}

func (r StopRule) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

func (r *StopRule) UnmarshalText(b []byte) error {
	return parseEnum(stopRuleNames, r, b, "stop rule")
}

func parseEnum[T comparable](names map[T]string, dst *T, b []byte, what string) error {
	for k, s := range names {
		if s == string(b) {
			*dst = k
			return nil
		}
	}
	return fmt.Errorf("unknown %s %q", what, b)
}

type ProjectionConfig struct {
	// Accuracy is the step length, relative to the object size, below which
	// the projection has converged.
	Accuracy         float64          `yaml:"accuracy" toml:"accuracy"`
	MaxIterations    int              `yaml:"max_iterations" toml:"max_iterations"`
	Method           ProjectionMethod `yaml:"method" toml:"method"`
	StartWithClosest bool             `yaml:"start_with_closest" toml:"start_with_closest"`
	StopRule         StopRule         `yaml:"stop_rule" toml:"stop_rule"`

	DomainCheck       bool    `yaml:"domain_check" toml:"domain_check"`
	DomainRadiusScale float64 `yaml:"domain_radius_scale" toml:"domain_radius_scale"`
	// DomainNormalScale below 1 shrinks the domain along the sample normals.
	DomainNormalScale float64 `yaml:"domain_normal_scale" toml:"domain_normal_scale"`
}

type Config struct {
	Kind         Kind              `yaml:"kind" toml:"kind"`
	Index        IndexKind         `yaml:"index" toml:"index"`
	Neighborhood neighborhood.Kind `yaml:"neighborhood" toml:"neighborhood"`

	// FilterScale multiplies the point radii into kernel radii.
	FilterScale    float64 `yaml:"filter_scale" toml:"filter_scale"`
	MaxNeighbors   int     `yaml:"max_neighbors" toml:"max_neighbors"`
	TargetCellSize int     `yaml:"target_cell_size" toml:"target_cell_size"`

	NormalParameter       float64 `yaml:"normal_parameter" toml:"normal_parameter"`
	NormalParameterScaled bool    `yaml:"normal_parameter_scaled" toml:"normal_parameter_scaled"`

	Projection ProjectionConfig `yaml:"projection" toml:"projection"`
}

func DefaultConfig() Config {
	return Config{
		Kind:                  KindSphere,
		Index:                 IndexKdTree,
		Neighborhood:          neighborhood.BallTree,
		FilterScale:           2,
		MaxNeighbors:          64,
		TargetCellSize:        16,
		NormalParameter:       1,
		NormalParameterScaled: true,
		Projection: ProjectionConfig{
			Accuracy:          1e-4,
			MaxIterations:     20,
			Method:            Basic,
			DomainCheck:       true,
			DomainRadiusScale: 1,
			DomainNormalScale: 1,
		},
	}
}

func (c Config) Validate() error {
	switch {
	case c.Kind.String() == "unknown":
		return fmt.Errorf("config: invalid kind %d", c.Kind)
	case c.Index.String() == "unknown":
		return fmt.Errorf("config: invalid index %d", c.Index)
	case c.Neighborhood.String() == "unknown":
		return fmt.Errorf("config: invalid neighborhood %d", c.Neighborhood)
	case c.FilterScale <= 0:
		return fmt.Errorf("config: filter_scale must be positive, got %g", c.FilterScale)
	case c.MaxNeighbors < 1:
		return fmt.Errorf("config: max_neighbors must be positive, got %d", c.MaxNeighbors)
	case c.TargetCellSize < 1:
		return fmt.Errorf("config: target_cell_size must be positive, got %d", c.TargetCellSize)
	case c.NormalParameter < 0:
		return fmt.Errorf("config: normal_parameter must not be negative, got %g", c.NormalParameter)
	}
	p := c.Projection
	switch {
	case p.Accuracy <= 0:
		return fmt.Errorf("config: projection accuracy must be positive, got %g", p.Accuracy)
	case p.MaxIterations < 1:
		return fmt.Errorf("config: projection max_iterations must be positive, got %d", p.MaxIterations)
	case p.Method.String() == "unknown":
		return fmt.Errorf("config: invalid projection method %d", p.Method)
	case p.StopRule.String() == "unknown":
		return fmt.Errorf("config: invalid stop rule %d", p.StopRule)
	case p.DomainRadiusScale <= 0:
		return fmt.Errorf("config: domain_radius_scale must be positive, got %g", p.DomainRadiusScale)
	case p.DomainNormalScale <= 0 || p.DomainNormalScale > 1:
		return fmt.Errorf("config: domain_normal_scale must be in (0, 1], got %g", p.DomainNormalScale)
	}
	return nil
}
