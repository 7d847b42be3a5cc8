package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/seqsense/pcdmls/internal/logging"
	"github.com/seqsense/pcdmls/pcd/mls"
)

type preprocessConfig struct {
	// PlaneThreshold enables the removal of the dominant plane, 0 disables.
	PlaneThreshold  float64 `yaml:"plane_threshold" toml:"plane_threshold"`
	PlaneIterations int     `yaml:"plane_iterations" toml:"plane_iterations"`
	PlaneMinInliers int     `yaml:"plane_min_inliers" toml:"plane_min_inliers"`
	// MinClusterPoints drops clusters of fewer points, 0 disables.
	MinClusterPoints  int     `yaml:"min_cluster_points" toml:"min_cluster_points"`
	ClusterResolution float64 `yaml:"cluster_resolution" toml:"cluster_resolution"`
	// LeafSize is the voxel size of the input downsampling, 0 disables.
	LeafSize float64 `yaml:"leaf_size" toml:"leaf_size"`
	// QueryLeafSize is the voxel size of the query downsampling, 0 disables.
	QueryLeafSize float64 `yaml:"query_leaf_size" toml:"query_leaf_size"`
	// Radii are estimated when the input has none.
	RadiusNeighbors int     `yaml:"radius_neighbors" toml:"radius_neighbors"`
	RadiusScale     float64 `yaml:"radius_scale" toml:"radius_scale"`
}

type config struct {
	Surface    mls.Config       `yaml:"surface" toml:"surface"`
	Preprocess preprocessConfig `yaml:"preprocess" toml:"preprocess"`
	Logging    logging.Config   `yaml:"logging" toml:"logging"`
}

func defaultConfig() config {
	return config{
		Surface: mls.DefaultConfig(),
		Preprocess: preprocessConfig{
			PlaneIterations:   200,
			PlaneMinInliers:   100,
			ClusterResolution: 0.1,
			RadiusNeighbors:   8,
			RadiusScale:       1,
		},
		Logging: logging.Config{
			MaxSize: 100,
			MaxAge:  30,
		},
	}
}

// loadConfig reads a YAML or TOML file over the defaults.
func loadConfig(path string) (config, error) {
	c := defaultConfig()
	if path == "" {
		return c, nil
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.DecodeFile(path, &c); err != nil {
			return c, fmt.Errorf("config %s: %w", path, err)
		}
	case ".yaml", ".yml":
		b, err := os.ReadFile(path)
		if err != nil {
			return c, err
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return c, fmt.Errorf("config %s: %w", path, err)
		}
	default:
		return c, fmt.Errorf("config %s: unknown format", path)
	}
	if err := c.Surface.Validate(); err != nil {
		return c, err
	}
	p := c.Preprocess
	switch {
	case p.PlaneThreshold < 0, p.MinClusterPoints < 0, p.LeafSize < 0, p.QueryLeafSize < 0:
		return c, fmt.Errorf("config %s: negative preprocess parameter", path)
	case p.PlaneThreshold > 0 && (p.PlaneIterations < 1 || p.PlaneMinInliers < 3):
		return c, fmt.Errorf("config %s: plane removal needs iterations and at least 3 inliers", path)
	case p.MinClusterPoints > 0 && p.ClusterResolution <= 0:
		return c, fmt.Errorf("config %s: cluster_resolution must be positive", path)
	case p.RadiusNeighbors < 1 || p.RadiusScale <= 0:
		return c, fmt.Errorf("config %s: radius estimation needs positive neighbors and scale", path)
	}
	return c, nil
}
