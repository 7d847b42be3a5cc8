package fit

import (
	"errors"
	"math"
	"testing"

	"github.com/golang/geo/r3"

	"github.com/seqsense/pcdmls/pcd"
	"github.com/seqsense/pcdmls/pcd/neighborhood"
	"github.com/seqsense/pcdmls/pcd/storage/kdtree"
)

func ballNeighborhood(c *pcd.Cloud, radius float64) *neighborhood.Neighborhood {
	return neighborhood.NewBall(c, kdtree.New(c, 8), radius, 256)
}

func compute(t *testing.T, nb *neighborhood.Neighborhood, p r3.Vector) {
	t.Helper()
	if _, err := nb.Compute(p, neighborhood.Quartic{}); err != nil {
		t.Fatal(err)
	}
}

// wavyCloud samples z = 0.1 sin(3x) cos(2y) on a regular grid.
func wavyCloud(attrs pcd.Attr) *pcd.Cloud {
	c := pcd.NewCloud(attrs | pcd.AttrRadius)
	for i := -10; i <= 10; i++ {
		for j := -10; j <= 10; j++ {
			x, y := float64(i)*0.1, float64(j)*0.1
			z := 0.1 * math.Sin(3*x) * math.Cos(2*y)
			n := r3.Vector{
				X: -0.3 * math.Cos(3*x) * math.Cos(2*y),
				Y: 0.2 * math.Sin(3*x) * math.Sin(2*y),
				Z: 1,
			}.Normalize()
			c.Append(pcd.Point{Position: r3.Vector{X: x, Y: y, Z: z}, Normal: n, Radius: 0.1})
		}
	}
	return c
}

func planeCloud() *pcd.Cloud {
	c := pcd.NewCloud(pcd.AttrNormal | pcd.AttrRadius)
	for i := 0; i < 10; i++ {
		for j := 0; j < 10; j++ {
			c.Append(pcd.Point{
				Position: r3.Vector{X: float64(i) * 0.1, Y: float64(j) * 0.1},
				Normal:   r3.Vector{Z: 1},
				Radius:   0.1,
			})
		}
	}
	return c
}

func TestPlaneFitter(t *testing.T) {
	testCases := map[string]struct {
		attrs pcd.Attr
	}{
		"Normals": {attrs: pcd.AttrNormal},
		"PCA":     {attrs: 0},
	}
	for name, tt := range testCases {
		tt := tt
		t.Run(name, func(t *testing.T) {
			src := planeCloud()
			c := pcd.NewCloud(tt.attrs | pcd.AttrRadius)
			for i := 0; i < src.Len(); i++ {
				c.Append(*src.At(i))
			}
			nb := ballNeighborhood(c, 0.5)
			f := NewPlaneFitter(tt.attrs == pcd.AttrNormal)

			for _, d := range []float64{0, 0.05, -0.2} {
				p := r3.Vector{X: 0.45, Y: 0.45, Z: d}
				compute(t, nb, p)
				if err := f.Fit(nb); err != nil {
					t.Fatal(err)
				}
				if pot := f.Potential(p); math.Abs(pot-d) > 1e-9 {
					t.Errorf("Expected potential %f, got %f", d, pot)
				}
				if n := f.Normal(p); n.Sub(r3.Vector{Z: 1}).Norm() > 1e-9 {
					t.Errorf("Expected normal (0, 0, 1), got %v", n)
				}
			}

			onPlane := r3.Vector{X: 0.3, Y: 0.4}
			compute(t, nb, onPlane)
			if err := f.Fit(nb); err != nil {
				t.Fatal(err)
			}
			if proj := f.Project(onPlane); proj.Sub(onPlane).Norm() > 1e-9 {
				t.Errorf("Expected %v to be a fixed point, got %v", onPlane, proj)
			}
			above := r3.Vector{X: 0.3, Y: 0.4, Z: 0.1}
			if proj := f.Project(above); proj.Sub(onPlane).Norm() > 1e-9 {
				t.Errorf("Expected projection %v, got %v", onPlane, proj)
			}
		})
	}
}

func TestPlaneFitterMinSamples(t *testing.T) {
	testCases := map[string]struct {
		withNormals bool
		attrs       pcd.Attr
		minSamples  int
		err         error
	}{
		"Normals": {withNormals: true, attrs: pcd.AttrNormal, minSamples: 1},
		"PCA":     {withNormals: false, attrs: 0, minSamples: 3, err: ErrInsufficientSamples},
	}
	for name, tt := range testCases {
		tt := tt
		t.Run(name, func(t *testing.T) {
			f := NewPlaneFitter(tt.withNormals)
			if n := f.MinSamples(); n != tt.minSamples {
				t.Fatalf("Expected MinSamples %d, got %d", tt.minSamples, n)
			}
			for _, pts := range [][]pcd.Point{
				{{Position: r3.Vector{}, Normal: r3.Vector{Z: 1}, Radius: 0.1}},
				{
					{Position: r3.Vector{}, Normal: r3.Vector{Z: 1}, Radius: 0.1},
					{Position: r3.Vector{X: 0.1}, Normal: r3.Vector{Z: 1}, Radius: 0.1},
				},
			} {
				nb := ballNeighborhood(pcd.NewCloud(tt.attrs|pcd.AttrRadius, pts...), 0.5)
				p := r3.Vector{X: 0.05, Z: 0.2}
				compute(t, nb, p)
				err := f.Fit(nb)
				if !errors.Is(err, tt.err) {
					t.Fatalf("%d samples: expected error %v, got %v", len(pts), tt.err, err)
				}
				if err != nil {
					continue
				}
				if pot := f.Potential(p); math.Abs(pot-0.2) > 1e-9 {
					t.Errorf("%d samples: expected potential 0.2, got %f", len(pts), pot)
				}
			}
		})
	}
}

func TestPlaneFitterCollinear(t *testing.T) {
	c := pcd.NewCloud(pcd.AttrRadius)
	for i := 0; i < 10; i++ {
		c.Append(pcd.Point{Position: r3.Vector{X: float64(i) * 0.1}, Radius: 0.1})
	}
	nb := ballNeighborhood(c, 1)
	compute(t, nb, r3.Vector{X: 0.5})
	if err := NewPlaneFitter(false).Fit(nb); !errors.Is(err, ErrDegenerateSystem) {
		t.Errorf("Expected ErrDegenerateSystem, got %v", err)
	}
}

func TestEigenSphereFitterExact(t *testing.T) {
	center := r3.Vector{X: 1, Y: -0.5, Z: 0.3}
	const radius = 2.0
	dirs := []r3.Vector{
		{X: 1},
		{Y: 1},
		{Z: 1},
		{X: -0.6, Y: -0.8},
		{Y: -0.6, Z: -0.8},
	}

	testCases := map[string]struct {
		attrs  pcd.Attr
		inward bool
		sign   float64
	}{
		"NoNormals":     {attrs: 0, sign: 1},
		"OutwardNormal": {attrs: pcd.AttrNormal, sign: 1},
		"InwardNormal":  {attrs: pcd.AttrNormal, inward: true, sign: -1},
	}
	for name, tt := range testCases {
		tt := tt
		t.Run(name, func(t *testing.T) {
			c := pcd.NewCloud(tt.attrs | pcd.AttrRadius)
			for _, d := range dirs {
				n := d
				if tt.inward {
					n = n.Mul(-1)
				}
				c.Append(pcd.Point{Position: center.Add(d.Mul(radius)), Normal: n, Radius: 0.5})
			}
			nb := ballNeighborhood(c, 10)
			p := center.Add(r3.Vector{X: 0.5, Y: 0.5, Z: 0.5})
			compute(t, nb, p)
			if nb.Len() != 5 {
				t.Fatalf("Expected 5 neighbors, got %d", nb.Len())
			}

			f := NewEigenSphereFitter()
			if err := f.Fit(nb); err != nil {
				t.Fatal(err)
			}
			u := f.Global()
			for i := 0; i < c.Len(); i++ {
				if v := EvalGlobal(u, c.Position(i)); math.Abs(v) > 1e-9 {
					t.Errorf("Sample %d: expected zero, got %g", i, v)
				}
			}
			if q := u[1]*u[1] + u[2]*u[2] + u[3]*u[3] - 4*u[0]*u[4]; math.Abs(q-1) > 1e-9 {
				t.Errorf("Expected unit Pratt norm, got %f", q)
			}
			ctr, r, ok := f.Sphere.Sphere()
			if !ok {
				t.Fatal("Expected a real sphere")
			}
			if ctr.Sub(center).Norm() > 1e-9 || math.Abs(r-radius) > 1e-9 {
				t.Errorf("Expected sphere (%v, %f), got (%v, %f)", center, radius, ctr, r)
			}

			// (r² - R²) / 2R one unit outside the sphere
			out := center.Add(r3.Vector{X: radius + 1})
			if pot := f.Potential(out); math.Abs(pot-tt.sign*1.25) > 1e-9 {
				t.Errorf("Expected potential %f, got %f", tt.sign*1.25, pot)
			}
			proj := f.Project(out)
			if math.Abs(proj.Sub(center).Norm()-radius) > 1e-9 {
				t.Errorf("Projection %v is not on the sphere", proj)
			}
		})
	}
}

func TestEigenSphereFitterPlanar(t *testing.T) {
	nb := ballNeighborhood(planeCloud(), 0.5)
	p := r3.Vector{X: 0.45, Y: 0.45, Z: 0.1}
	compute(t, nb, p)
	f := NewEigenSphereFitter()
	if err := f.Fit(nb); err != nil {
		t.Fatal(err)
	}
	if !f.IsPlane() {
		t.Errorf("Expected a plane, got %v", f.U)
	}
	if pot := f.Potential(p); math.Abs(pot-0.1) > 1e-9 {
		t.Errorf("Expected potential 0.1, got %f", pot)
	}
}

func TestNormalConstrainedSphereFitter(t *testing.T) {
	nb := ballNeighborhood(planeCloud(), 0.5)
	f := NewNormalConstrainedSphereFitter(1, true)
	for _, d := range []float64{0, 0.05, -0.2} {
		p := r3.Vector{X: 0.45, Y: 0.45, Z: d}
		compute(t, nb, p)
		if err := f.Fit(nb); err != nil {
			t.Fatal(err)
		}
		if pot := f.Potential(p); math.Abs(pot-d) > 1e-6 {
			t.Errorf("Expected potential %f, got %f", d, pot)
		}
	}
}

func TestNormalConstrainedSphereFitterSingleSample(t *testing.T) {
	c := pcd.NewCloud(pcd.AttrNormal|pcd.AttrRadius, pcd.Point{
		Position: r3.Vector{X: 1, Y: 2, Z: 3},
		Normal:   r3.Vector{Y: 1},
		Radius:   0.5,
	})
	nb := ballNeighborhood(c, 1)
	p := r3.Vector{X: 1.1, Y: 2.3, Z: 3}
	compute(t, nb, p)
	f := NewNormalConstrainedSphereFitter(1, true)
	if err := f.Fit(nb); err != nil {
		t.Fatal(err)
	}
	if pot := f.Potential(p); math.Abs(pot-0.3) > 1e-12 {
		t.Errorf("Expected potential 0.3, got %f", pot)
	}
	if g := f.MLSGradient(nb, p); g.Sub(r3.Vector{Y: 1}).Norm() > 1e-12 {
		t.Errorf("Expected gradient (0, 1, 0), got %v", g)
	}
}

func TestIMLSFitter(t *testing.T) {
	nb := ballNeighborhood(planeCloud(), 0.5)
	f := NewIMLSFitter()
	p := r3.Vector{X: 0.45, Y: 0.45, Z: 0.2}
	compute(t, nb, p)
	if err := f.Fit(nb); err != nil {
		t.Fatal(err)
	}
	if pot := f.Potential(p); math.Abs(pot-0.2) > 1e-12 {
		t.Errorf("Expected potential 0.2, got %f", pot)
	}
	if proj := f.Project(p); proj.Sub(r3.Vector{X: 0.45, Y: 0.45}).Norm() > 1e-12 {
		t.Errorf("Unexpected projection %v", proj)
	}
}

func TestIMLSProjectOntoFittedPlane(t *testing.T) {
	nb := ballNeighborhood(wavyCloud(pcd.AttrNormal), 0.35)
	f := NewIMLSFitter()
	for _, p := range []r3.Vector{
		{X: 0.1, Y: 0.2, Z: 0.15},
		{X: -0.4, Y: 0.3, Z: -0.1},
		{X: 0.5, Y: -0.5, Z: 0.3},
	} {
		compute(t, nb, p)
		if err := f.Fit(nb); err != nil {
			t.Fatal(err)
		}
		q := f.Project(p)
		if pot := f.Potential(q); math.Abs(pot) > 1e-12 {
			t.Errorf("p=%v: expected zero potential after projection, got %g", p, pot)
		}
		d := q.Sub(p)
		if c := d.Cross(f.Normal(p)).Norm(); c > 1e-12 {
			t.Errorf("p=%v: projection must move along the normal, off by %g", p, c)
		}
	}
}

func TestFitErrors(t *testing.T) {
	sparse := pcd.NewCloud(pcd.AttrNormal|pcd.AttrRadius,
		pcd.Point{Position: r3.Vector{}, Normal: r3.Vector{Z: 1}, Radius: 0.1},
		pcd.Point{Position: r3.Vector{X: 0.1}, Normal: r3.Vector{Z: 1}, Radius: 0.1},
	)
	noNormals := wavyCloud(0)

	testCases := map[string]struct {
		fitter Fitter
		cloud  *pcd.Cloud
		err    error
	}{
		"SphereInsufficient":        {fitter: NewEigenSphereFitter(), cloud: sparse, err: ErrInsufficientSamples},
		"PlaneInsufficient":         {fitter: NewPlaneFitter(false), cloud: pcd.NewCloud(pcd.AttrRadius, *sparse.At(0)), err: ErrInsufficientSamples},
		"NormalSphereMissingNormal": {fitter: NewNormalConstrainedSphereFitter(1, false), cloud: noNormals, err: ErrMissingNormals},
		"IMLSMissingNormal":         {fitter: NewIMLSFitter(), cloud: noNormals, err: ErrMissingNormals},
	}
	for name, tt := range testCases {
		tt := tt
		t.Run(name, func(t *testing.T) {
			nb := ballNeighborhood(tt.cloud, 0.5)
			compute(t, nb, r3.Vector{})
			if err := tt.fitter.Fit(nb); !errors.Is(err, tt.err) {
				t.Errorf("Expected error %v, got %v", tt.err, err)
			}
		})
	}
}

func TestNotFittedPanics(t *testing.T) {
	fitters := map[string]Fitter{
		"Plane":        NewPlaneFitter(false),
		"Sphere":       NewEigenSphereFitter(),
		"NormalSphere": NewNormalConstrainedSphereFitter(1, true),
		"IMLS":         NewIMLSFitter(),
	}
	for name, f := range fitters {
		f := f
		t.Run(name, func(t *testing.T) {
			defer func() {
				if recover() == nil {
					t.Error("Expected panic")
				}
			}()
			f.Potential(r3.Vector{})
		})
	}
}

func TestMLSGradient(t *testing.T) {
	testCases := map[string]struct {
		fitter Fitter
		attrs  pcd.Attr
	}{
		"Plane":        {fitter: NewPlaneFitter(true), attrs: pcd.AttrNormal},
		"PlanePCA":     {fitter: NewPlaneFitter(false), attrs: 0},
		"Sphere":       {fitter: NewEigenSphereFitter(), attrs: 0},
		"NormalSphere": {fitter: NewNormalConstrainedSphereFitter(1, true), attrs: pcd.AttrNormal},
		"IMLS":         {fitter: NewIMLSFitter(), attrs: pcd.AttrNormal},
	}
	points := []r3.Vector{
		{X: 0.05, Y: -0.1, Z: 0.08},
		{X: -0.32, Y: 0.21, Z: -0.05},
		{X: 0.4, Y: 0.37, Z: 0.12},
	}
	for name, tt := range testCases {
		tt := tt
		t.Run(name, func(t *testing.T) {
			nb := ballNeighborhood(wavyCloud(tt.attrs), 0.35)
			potential := func(q r3.Vector) float64 {
				compute(t, nb, q)
				if err := tt.fitter.Fit(nb); err != nil {
					t.Fatal(err)
				}
				return tt.fitter.Potential(q)
			}
			const h = 1e-5
			for _, p := range points {
				var fd r3.Vector
				for k, e := range []r3.Vector{{X: h}, {Y: h}, {Z: h}} {
					v := (potential(p.Add(e)) - potential(p.Sub(e))) / (2 * h)
					switch k {
					case 0:
						fd.X = v
					case 1:
						fd.Y = v
					case 2:
						fd.Z = v
					}
				}
				potential(p)
				g := tt.fitter.MLSGradient(nb, p)
				if g.Sub(fd).Norm() > 1e-5*math.Max(1, fd.Norm()) {
					t.Errorf("At %v: expected gradient %v, got %v", p, fd, g)
				}
			}
		})
	}
}
