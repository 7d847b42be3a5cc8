package fit

import (
	"fmt"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"

	"github.com/seqsense/pcdmls/internal/logging"
	"github.com/seqsense/pcdmls/pcd/neighborhood"
)

// NormalConstrainedSphereFitter fits an algebraic sphere whose gradient
// follows the sample normals. NormalParameter balances the normal term
// against the algebraic distance; with ScaleByRadius it is expressed in
// units of the mean filter radius.
type NormalConstrainedSphereFitter struct {
	Sphere

	NormalParameter float64
	ScaleByRadius   bool

	frame frame
	beta  float64
	m     *mat.SymDense
	b     *mat.VecDense
	chol  mat.Cholesky
	// single sample, the fit degenerates to the tangent plane
	plane bool

	grads  []r3.Vector
	fitted bool
}

func NewNormalConstrainedSphereFitter(normalParameter float64, scaleByRadius bool) *NormalConstrainedSphereFitter {
	return &NormalConstrainedSphereFitter{
		NormalParameter: normalParameter,
		ScaleByRadius:   scaleByRadius,
		m:               mat.NewSymDense(5, nil),
		b:               mat.NewVecDense(5, nil),
	}
}

func (f *NormalConstrainedSphereFitter) MinSamples() int {
	return 1
}

// gradientOuter adds s·Σ_k g_k g_kᵀ to m, g_k being the gradient of the
// features along axis k at y.
func gradientOuter(m *[5][5]float64, y r3.Vector, s float64) {
	yv := [3]float64{y.X, y.Y, y.Z}
	for k := 0; k < 3; k++ {
		m[k+1][k+1] += s
		m[k+1][4] += 2 * yv[k] * s
	}
	m[4][4] += 4 * y.Norm2() * s
}

func (f *NormalConstrainedSphereFitter) Fit(nb *neighborhood.Neighborhood) error {
	f.fitted = false
	if !nb.HasNormals() {
		return fmt.Errorf("normal constrained sphere: %w", ErrMissingNormals)
	}
	n := nb.Len()
	if n < f.MinSamples() {
		return fmt.Errorf("normal constrained sphere: %d samples: %w", n, ErrInsufficientSamples)
	}
	fr, err := newFrame(nb)
	if err != nil {
		return fmt.Errorf("normal constrained sphere: %w", err)
	}
	f.frame = fr

	if n == 1 {
		y := fr.toLocal(nb.Position(0))
		nrm := nb.Normal(0)
		f.Sphere = Sphere{
			U:      [5]float64{-nrm.Dot(y), nrm.X, nrm.Y, nrm.Z, 0},
			Center: fr.center,
			Scale:  fr.scale,
		}
		f.plane = true
		f.fitted = true
		return nil
	}
	f.plane = false

	beta := f.NormalParameter * f.NormalParameter
	if f.ScaleByRadius {
		r := nb.MeanFilterRadius()
		beta *= r * r
	}
	f.beta = beta / (fr.scale * fr.scale)

	var a [5][5]float64
	var rhs [5]float64
	for i := 0; i < n; i++ {
		w := nb.Weight(i)
		y := fr.toLocal(nb.Position(i))
		v := features(y)
		for r := 0; r < 5; r++ {
			for c := r; c < 5; c++ {
				a[r][c] += w * v[r] * v[c]
			}
		}
		gradientOuter(&a, y, w*f.beta)
		nrm := nb.Normal(i)
		rhs[1] += w * f.beta * nrm.X
		rhs[2] += w * f.beta * nrm.Y
		rhs[3] += w * f.beta * nrm.Z
		rhs[4] += w * f.beta * 2 * nrm.Dot(y)
	}
	for r := 0; r < 5; r++ {
		for c := r; c < 5; c++ {
			f.m.SetSym(r, c, a[r][c])
		}
		f.b.SetVec(r, rhs[r])
	}
	if !f.chol.Factorize(f.m) {
		logging.Debugf("normal constrained sphere: system is not positive definite")
		return fmt.Errorf("normal constrained sphere: cholesky: %w", ErrDegenerateSystem)
	}
	var u mat.VecDense
	if err := f.chol.SolveVecTo(&u, f.b); err != nil {
		if _, ok := err.(mat.Condition); !ok {
			return fmt.Errorf("normal constrained sphere: %v: %w", err, ErrDegenerateSystem)
		}
	}
	f.Sphere = Sphere{Center: fr.center, Scale: fr.scale}
	for r := 0; r < 5; r++ {
		f.U[r] = u.AtVec(r)
	}
	f.fitted = true
	return nil
}

func (f *NormalConstrainedSphereFitter) mustFit() {
	if !f.fitted {
		panic(errNotFitted)
	}
}

func (f *NormalConstrainedSphereFitter) Potential(p r3.Vector) float64 {
	f.mustFit()
	return f.Sphere.Potential(p)
}

func (f *NormalConstrainedSphereFitter) Normal(p r3.Vector) r3.Vector {
	f.mustFit()
	return f.Sphere.Normal(p)
}

func (f *NormalConstrainedSphereFitter) Project(p r3.Vector) r3.Vector {
	f.mustFit()
	return f.Sphere.Project(p)
}

// MLSGradient differentiates M u = b: du = M⁻¹(db - dM u).
func (f *NormalConstrainedSphereFitter) MLSGradient(nb *neighborhood.Neighborhood, p r3.Vector) r3.Vector {
	f.mustFit()
	base := f.Sphere.Gradient(p)
	if f.plane {
		return base
	}
	f.grads = weightGradients(f.grads, nb, p)

	rhs := mat.NewDense(5, 3, nil)
	for i, g := range f.grads {
		if g == (r3.Vector{}) {
			continue
		}
		y := f.frame.toLocal(nb.Position(i))
		v := features(y)
		var mi [5][5]float64
		for r := 0; r < 5; r++ {
			for c := r; c < 5; c++ {
				mi[r][c] = v[r] * v[c]
			}
		}
		gradientOuter(&mi, y, f.beta)
		for r := 0; r < 5; r++ {
			for c := 0; c < r; c++ {
				mi[r][c] = mi[c][r]
			}
		}
		nrm := nb.Normal(i)
		bi := [5]float64{0, f.beta * nrm.X, f.beta * nrm.Y, f.beta * nrm.Z, f.beta * 2 * nrm.Dot(y)}
		var miu [5]float64
		for r := 0; r < 5; r++ {
			for c := 0; c < 5; c++ {
				miu[r] += mi[r][c] * f.U[c]
			}
		}
		gv := [3]float64{g.X, g.Y, g.Z}
		for r := 0; r < 5; r++ {
			for k := 0; k < 3; k++ {
				rhs.Set(r, k, rhs.At(r, k)+gv[k]*(bi[r]-miu[r]))
			}
		}
	}

	var du mat.Dense
	if err := f.chol.SolveTo(&du, rhs); err != nil {
		if _, ok := err.(mat.Condition); !ok {
			logging.Debugf("normal constrained sphere: gradient system: %v", err)
			return base
		}
	}
	phi := features(f.frame.toLocal(p))
	grad := [3]float64{base.X, base.Y, base.Z}
	for k := 0; k < 3; k++ {
		var v float64
		for r := 0; r < 5; r++ {
			v += phi[r] * du.At(r, k)
		}
		grad[k] += f.frame.scale * v
	}
	return r3.Vector{X: grad[0], Y: grad[1], Z: grad[2]}
}
