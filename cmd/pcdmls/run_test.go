package main

import (
	"context"
	"image/color"
	"math"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/golang/geo/r3"

	"github.com/seqsense/pcdmls/pcd"
	"github.com/seqsense/pcdmls/pcd/mls"
)

func sphereCloud(n int, attrs pcd.Attr) *pcd.Cloud {
	c := pcd.NewCloud(attrs)
	golden := math.Pi * (3 - math.Sqrt(5))
	for i := 0; i < n; i++ {
		y := 1 - 2*(float64(i)+0.5)/float64(n)
		r := math.Sqrt(1 - y*y)
		phi := float64(i) * golden
		p := r3.Vector{X: math.Cos(phi) * r, Y: y, Z: math.Sin(phi) * r}
		c.Append(pcd.Point{Position: p, Normal: p, Color: color.RGBA{R: 200, G: 100, B: 50, A: 255}})
	}
	return c
}

func saveCloud(t *testing.T, path string, c *pcd.Cloud) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := c.Save(f); err != nil {
		t.Fatal(err)
	}
}

func TestLoadConfig(t *testing.T) {
	expected := defaultConfig()
	expected.Surface.Kind = mls.KindPlane
	expected.Surface.Projection.MaxIterations = 5
	expected.Preprocess.LeafSize = 0.05
	expected.Logging.Logfile = "pcdmls.log"

	testCases := map[string]struct {
		file  string
		input string
	}{
		"YAML": {
			file: "config.yaml",
			input: `surface:
  kind: plane
  projection:
    max_iterations: 5
preprocess:
  leaf_size: 0.05
logging:
  logfile: pcdmls.log
`,
		},
		"TOML": {
			file: "config.toml",
			input: `[surface]
kind = "plane"

[surface.projection]
max_iterations = 5

[preprocess]
leaf_size = 0.05

[logging]
logfile = "pcdmls.log"
`,
		},
	}
	for name, tt := range testCases {
		tt := tt
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), tt.file)
			if err := os.WriteFile(path, []byte(tt.input), 0644); err != nil {
				t.Fatal(err)
			}
			cfg, err := loadConfig(path)
			if err != nil {
				t.Fatal(err)
			}
			if !reflect.DeepEqual(expected, cfg) {
				t.Errorf("Expected %+v, got %+v", expected, cfg)
			}
		})
	}
}

func TestLoadConfigErrors(t *testing.T) {
	testCases := map[string]struct {
		file  string
		input string
	}{
		"UnknownFormat":    {file: "config.json", input: "{}"},
		"InvalidSurface":   {file: "config.yaml", input: "surface:\n  max_neighbors: 0\n"},
		"InvalidCluster":   {file: "config.yaml", input: "preprocess:\n  min_cluster_points: 3\n  cluster_resolution: 0\n"},
		"InvalidRadius":    {file: "config.toml", input: "[preprocess]\nradius_neighbors = 0\n"},
		"InvalidEnum":      {file: "config.toml", input: "[surface]\nindex = \"octree\"\n"},
		"NegativeLeafSize": {file: "config.yaml", input: "preprocess:\n  leaf_size: -1\n"},
		"InvalidPlane":     {file: "config.yaml", input: "preprocess:\n  plane_threshold: 0.01\n  plane_min_inliers: 2\n"},
	}
	for name, tt := range testCases {
		tt := tt
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), tt.file)
			if err := os.WriteFile(path, []byte(tt.input), 0644); err != nil {
				t.Fatal(err)
			}
			if _, err := loadConfig(path); err == nil {
				t.Error("Expected error")
			}
		})
	}
	if cfg, err := loadConfig(""); err != nil || !reflect.DeepEqual(defaultConfig(), cfg) {
		t.Errorf("Expected defaults without a file, got %+v, %v", cfg, err)
	}
}

func TestLoadQueries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "query.pcd")
	saveCloud(t, path, pcd.NewCloud(0,
		pcd.Point{Position: r3.Vector{X: 0.1, Y: 0.1, Z: 0.1}},
		pcd.Point{Position: r3.Vector{X: 0.12, Y: 0.1, Z: 0.1}},
		pcd.Point{Position: r3.Vector{X: 1.1, Y: 1.1, Z: 1.1}},
	))

	testCases := map[string]struct {
		leaf     float64
		expected int
	}{
		"Raw":         {leaf: 0, expected: 3},
		"Downsampled": {leaf: 0.5, expected: 2},
	}
	for name, tt := range testCases {
		tt := tt
		t.Run(name, func(t *testing.T) {
			q, err := loadQueries(path, tt.leaf)
			if err != nil {
				t.Fatal(err)
			}
			if len(q) != tt.expected {
				t.Errorf("Expected %d queries, got %d", tt.expected, len(q))
			}
		})
	}
}

func TestRun(t *testing.T) {
	const n = 500
	dir := t.TempDir()
	in := filepath.Join(dir, "in.pcd")
	saveCloud(t, in, sphereCloud(n, pcd.AttrNormal|pcd.AttrColor))

	queries := pcd.NewCloud(0)
	for i := 0; i < 20; i++ {
		a := float64(i) * 0.3
		p := r3.Vector{X: math.Cos(a), Y: math.Sin(a), Z: 0.5}.Normalize().Mul(1.02)
		queries.Append(pcd.Point{Position: p})
	}
	query := filepath.Join(dir, "query.pcd")
	saveCloud(t, query, queries)

	testCases := map[string]struct {
		query    string
		expected int
	}{
		"InputPoints": {expected: n},
		"QueryFile":   {query: query, expected: queries.Len()},
	}
	for name, tt := range testCases {
		tt := tt
		t.Run(name, func(t *testing.T) {
			out := filepath.Join(t.TempDir(), "out.pcd")
			err := run(context.Background(), defaultConfig(), options{
				input:   in,
				query:   tt.query,
				output:  out,
				workers: 3,
			})
			if err != nil {
				t.Fatal(err)
			}
			f, err := os.Open(out)
			if err != nil {
				t.Fatal(err)
			}
			defer f.Close()
			c, err := pcd.Load(f)
			if err != nil {
				t.Fatal(err)
			}
			if !c.Has(pcd.AttrNormal | pcd.AttrColor) {
				t.Errorf("Unexpected attributes %s", c.Attrs())
			}
			if c.Len() < tt.expected*9/10 {
				t.Fatalf("Expected about %d points, got %d", tt.expected, c.Len())
			}
			for i := 0; i < c.Len(); i++ {
				p := c.At(i)
				if math.Abs(p.Position.Norm()-1) > 1e-3 {
					t.Errorf("Point %d not on the sphere: %v", i, p.Position)
				}
				if p.Normal.Dot(p.Position.Normalize()) < 0.99 {
					t.Errorf("Point %d: normal %v does not point outwards", i, p.Normal)
				}
				if p.Color != (color.RGBA{R: 200, G: 100, B: 50, A: 255}) {
					t.Errorf("Point %d: unexpected color %v", i, p.Color)
				}
			}
		})
	}
}

func TestRunErrors(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.pcd")
	saveCloud(t, in, sphereCloud(50, 0))

	testCases := map[string]options{
		"NoWorkers":    {input: in, output: filepath.Join(dir, "out.pcd")},
		"MissingInput": {input: filepath.Join(dir, "none.pcd"), output: filepath.Join(dir, "out.pcd"), workers: 1},
		"MissingQuery": {input: in, query: filepath.Join(dir, "none.pcd"), output: filepath.Join(dir, "out.pcd"), workers: 1},
	}
	for name, o := range testCases {
		o := o
		t.Run(name, func(t *testing.T) {
			if err := run(context.Background(), defaultConfig(), o); err == nil {
				t.Error("Expected error")
			}
		})
	}
}
