package mat

import (
	"math"
	"reflect"
	"testing"

	"github.com/golang/geo/r3"
	pmat "github.com/seqsense/pcgol/mat"
)

func TestBox(t *testing.T) {
	b := EmptyBox()
	if !b.IsEmpty() {
		t.Fatal("EmptyBox must be empty")
	}
	if d := b.Diagonal(); d != (r3.Vector{}) {
		t.Errorf("Diagonal of empty box must be zero, got %v", d)
	}

	b.Extend(r3.Vector{X: 1, Y: 2, Z: 3})
	b.Extend(r3.Vector{X: -1, Y: 6, Z: 4})
	expected := Box{Min: r3.Vector{X: -1, Y: 2, Z: 3}, Max: r3.Vector{X: 1, Y: 6, Z: 4}}
	if !reflect.DeepEqual(expected, b) {
		t.Fatalf("Expected %v, got %v", expected, b)
	}
	if axis := b.LongestAxis(); axis != 1 {
		t.Errorf("Expected longest axis 1, got %d", axis)
	}
	if c := b.Center(); c != (r3.Vector{X: 0, Y: 4, Z: 3.5}) {
		t.Errorf("Unexpected center %v", c)
	}

	lower, upper := b.Split(1, 4)
	if lower.Max.Y != 4 || upper.Min.Y != 4 || lower.Min != b.Min || upper.Max != b.Max {
		t.Errorf("Unexpected split %v %v", lower, upper)
	}
}

func TestBoxSqDistance(t *testing.T) {
	b := Box{Max: r3.Vector{X: 1, Y: 1, Z: 1}}

	testCases := map[string]struct {
		p        r3.Vector
		expected float64
	}{
		"Inside":  {p: r3.Vector{X: 0.5, Y: 0.5, Z: 0.5}, expected: 0},
		"Face":    {p: r3.Vector{X: 3, Y: 0.5, Z: 0.5}, expected: 4},
		"Edge":    {p: r3.Vector{X: -1, Y: 2, Z: 0.5}, expected: 2},
		"Corner":  {p: r3.Vector{X: 2, Y: 2, Z: 2}, expected: 3},
		"OnFace":  {p: r3.Vector{X: 1, Y: 0, Z: 0}, expected: 0},
		"Outside": {p: r3.Vector{X: 0, Y: 0, Z: -0.5}, expected: 0.25},
	}
	for name, tt := range testCases {
		tt := tt
		t.Run(name, func(t *testing.T) {
			if d := b.SqDistance(tt.p); math.Abs(d-tt.expected) > 1e-12 {
				t.Errorf("Expected %f, got %f", tt.expected, d)
			}
		})
	}
}

func TestComponent(t *testing.T) {
	v := r3.Vector{X: 1, Y: 2, Z: 3}
	for i := 0; i < 3; i++ {
		SetComponent(&v, i, Component(v, i)*2)
	}
	if v != (r3.Vector{X: 2, Y: 4, Z: 6}) {
		t.Errorf("Unexpected vector %v", v)
	}
	if m := MaxComponent(v); m != 6 {
		t.Errorf("Expected max component 6, got %f", m)
	}
}

func TestVec3Conversion(t *testing.T) {
	in := pmat.Vec3{1.5, -2, 0.25}
	if out := ToVec3(FromVec3(in)); !in.Equal(out) {
		t.Errorf("Expected %v, got %v", in, out)
	}
	if n := Normalized(r3.Vector{}); n != (r3.Vector{}) {
		t.Errorf("Normalized zero vector must be zero, got %v", n)
	}
	if n := Normalized(r3.Vector{Z: 3}); n != (r3.Vector{Z: 1}) {
		t.Errorf("Expected unit z, got %v", n)
	}
}
