package plane

import (
	"errors"
	"math"
	"testing"

	"github.com/golang/geo/r3"

	"github.com/seqsense/pcdmls/pcd"
)

// floorAndBall returns a 10x10 floor grid followed by 50 points of a ball
// above it.
func floorAndBall() *pcd.Cloud {
	c := pcd.NewCloud(pcd.AttrNormal)
	for i := 0; i < 10; i++ {
		for j := 0; j < 10; j++ {
			c.Append(pcd.Point{
				Position: r3.Vector{X: float64(i) * 0.1, Y: float64(j) * 0.1},
				Normal:   r3.Vector{Z: 1},
			})
		}
	}
	center := r3.Vector{X: 0.5, Y: 0.5, Z: 1}
	golden := math.Pi * (3 - math.Sqrt(5))
	for i := 0; i < 50; i++ {
		y := 1 - 2*(float64(i)+0.5)/50
		r := math.Sqrt(1 - y*y)
		n := r3.Vector{X: math.Cos(float64(i)*golden) * r, Y: y, Z: math.Sin(float64(i)*golden) * r}
		c.Append(pcd.Point{Position: center.Add(n.Mul(0.3)), Normal: n})
	}
	return c
}

func TestPlaneRemoval(t *testing.T) {
	testCases := map[string]struct {
		minInliers int
		expected   int
	}{
		"Removed":  {minInliers: 50, expected: 50},
		"TooSmall": {minInliers: 120, expected: 150},
	}
	for name, tt := range testCases {
		tt := tt
		t.Run(name, func(t *testing.T) {
			c := floorAndBall()
			out, err := New(Options{
				Threshold:  0.01,
				Iterations: 100,
				MinInliers: tt.minInliers,
				Seed:       1,
			}).Filter(c)
			if err != nil {
				t.Fatal(err)
			}
			if out.Len() != tt.expected {
				t.Fatalf("Expected %d points, got %d", tt.expected, out.Len())
			}
			if out.Attrs() != c.Attrs() {
				t.Errorf("Expected attributes %s, got %s", c.Attrs(), out.Attrs())
			}
			if tt.expected == 50 {
				for i := 0; i < out.Len(); i++ {
					if out.At(i).Position.Z < 0.5 {
						t.Errorf("Floor point %v was not removed", out.At(i).Position)
					}
				}
			}
		})
	}
}

func TestPlaneRemovalErrors(t *testing.T) {
	testCases := map[string]Options{
		"Threshold":  {Threshold: 0, Iterations: 10, MinInliers: 3},
		"Iterations": {Threshold: 0.1, Iterations: 0, MinInliers: 3},
		"MinInliers": {Threshold: 0.1, Iterations: 10, MinInliers: 2},
	}
	for name, o := range testCases {
		o := o
		t.Run(name, func(t *testing.T) {
			if _, err := New(o).Filter(floorAndBall()); !errors.Is(err, ErrInvalidOptions) {
				t.Errorf("Expected error %v, got %v", ErrInvalidOptions, err)
			}
		})
	}
}
