package fit

import (
	"fmt"
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"

	"github.com/seqsense/pcdmls/internal/logging"
	"github.com/seqsense/pcdmls/pcd/neighborhood"
)

const (
	// singularThreshold is the determinant, relative to the fifth power of
	// the mean diagonal, below which the covariance is treated as singular.
	singularThreshold = 1e-12
	// minCofactorNorm rejects cofactor solutions of degenerate samples.
	minCofactorNorm = 1e-4
	// zeroEigenvalue snaps eigenvalues of the reduced problem to zero.
	zeroEigenvalue = 1e-9
)

// prattMatrix encodes u1²+u2²+u3²-4u0u4 as uᵀCu.
var prattMatrix = mat.NewSymDense(5, []float64{
	0, 0, 0, 0, -2,
	0, 1, 0, 0, 0,
	0, 0, 1, 0, 0,
	0, 0, 0, 1, 0,
	-2, 0, 0, 0, 0,
})

// EigenSphereFitter fits an algebraic sphere minimizing the weighted
// algebraic distance under the Pratt normalization. Normals are only used
// to orient the result.
type EigenSphereFitter struct {
	Sphere

	frame  frame
	mu     float64
	cov    *mat.SymDense
	chol   mat.Cholesky
	l      mat.TriDense
	linv   mat.TriDense
	eig    mat.EigenSym
	values []float64
	vecs   mat.Dense

	grads  []r3.Vector
	fitted bool
}

func NewEigenSphereFitter() *EigenSphereFitter {
	return &EigenSphereFitter{cov: mat.NewSymDense(5, nil)}
}

func (f *EigenSphereFitter) MinSamples() int {
	return 5
}

func (f *EigenSphereFitter) Fit(nb *neighborhood.Neighborhood) error {
	f.fitted = false
	if n := nb.Len(); n < f.MinSamples() {
		return fmt.Errorf("sphere: %d samples: %w", n, ErrInsufficientSamples)
	}
	fr, err := newFrame(nb)
	if err != nil {
		return fmt.Errorf("sphere: %w", err)
	}
	f.frame = fr

	var a [5][5]float64
	for i := 0; i < nb.Len(); i++ {
		w := nb.Weight(i)
		v := features(fr.toLocal(nb.Position(i)))
		for r := 0; r < 5; r++ {
			for c := r; c < 5; c++ {
				a[r][c] += w * v[r] * v[c]
			}
		}
	}
	var trace float64
	for r := 0; r < 5; r++ {
		trace += a[r][r]
	}
	if trace <= 0 {
		return fmt.Errorf("sphere: zero covariance: %w", ErrDegenerateSystem)
	}
	// Eigenvectors do not depend on the scale of the covariance.
	norm := 5 / trace
	for r := 0; r < 5; r++ {
		for c := r; c < 5; c++ {
			f.cov.SetSym(r, c, a[r][c]*norm)
		}
	}

	var u [5]float64
	if math.Abs(mat.Det(f.cov)) < singularThreshold {
		if u, err = f.cofactorSolution(); err != nil {
			return err
		}
		f.mu = 0
	} else if u, err = f.eigenSolution(); err != nil {
		return err
	}

	f.Sphere = Sphere{U: u, Center: fr.center, Scale: fr.scale}
	f.orient(nb)
	f.fitted = true
	return nil
}

// cofactorSolution returns the kernel of a singular covariance as its
// largest row of cofactors.
func (f *EigenSphereFitter) cofactorSolution() ([5]float64, error) {
	var best [5]float64
	var bestNorm float64
	minor := mat.NewDense(4, 4, nil)
	for r := 0; r < 5; r++ {
		var row [5]float64
		var n2 float64
		for c := 0; c < 5; c++ {
			// adj(A)[r][c] = (-1)^(r+c) det(A without row c and column r)
			for i, ii := 0, 0; i < 5; i++ {
				if i == c {
					continue
				}
				for j, jj := 0, 0; j < 5; j++ {
					if j == r {
						continue
					}
					minor.Set(ii, jj, f.cov.At(i, j))
					jj++
				}
				ii++
			}
			row[c] = mat.Det(minor)
			if (r+c)%2 == 1 {
				row[c] = -row[c]
			}
			n2 += row[c] * row[c]
		}
		if n2 > bestNorm {
			best, bestNorm = row, n2
		}
	}
	if math.Sqrt(bestNorm) < minCofactorNorm {
		logging.Debugf("sphere: cofactor norm %g below threshold", math.Sqrt(bestNorm))
		return best, fmt.Errorf("sphere: cofactor norm %g: %w", math.Sqrt(bestNorm), ErrDegenerateSystem)
	}
	return prattNormalize(best)
}

func prattNormalize(u [5]float64) ([5]float64, error) {
	q := u[1]*u[1] + u[2]*u[2] + u[3]*u[3] - 4*u[0]*u[4]
	if q <= 0 {
		return u, fmt.Errorf("sphere: imaginary solution: %w", ErrDegenerateSystem)
	}
	s := 1 / math.Sqrt(q)
	for i := range u {
		u[i] *= s
	}
	return u, nil
}

// eigenSolution solves A u = mu C u through the Cholesky factor A = L Lᵀ,
// as the symmetric problem L⁻¹ C L⁻ᵀ z = (1/mu) z, and keeps the smallest
// strictly positive mu.
func (f *EigenSphereFitter) eigenSolution() ([5]float64, error) {
	var u [5]float64
	if !f.chol.Factorize(f.cov) {
		logging.Debugf("sphere: covariance is not positive definite")
		return u, fmt.Errorf("sphere: cholesky: %w", ErrDegenerateSystem)
	}
	f.chol.LTo(&f.l)
	if err := f.linv.InverseTri(&f.l); err != nil {
		return u, fmt.Errorf("sphere: %v: %w", err, ErrDegenerateSystem)
	}
	var tmp, m mat.Dense
	tmp.Mul(&f.linv, prattMatrix)
	m.Mul(&tmp, f.linv.T())
	reduced := mat.NewSymDense(5, nil)
	for r := 0; r < 5; r++ {
		for c := r; c < 5; c++ {
			reduced.SetSym(r, c, 0.5*(m.At(r, c)+m.At(c, r)))
		}
	}
	if !f.eig.Factorize(reduced, true) {
		return u, fmt.Errorf("sphere: eigen decomposition failed: %w", ErrDegenerateSystem)
	}
	f.values = f.eig.Values(f.values)
	f.eig.VectorsTo(&f.vecs)

	best := -1
	for i, v := range f.values {
		if math.Abs(v) < zeroEigenvalue {
			continue
		}
		if v > 0 && (best < 0 || v > f.values[best]) {
			best = i
		}
	}
	if best < 0 {
		return u, fmt.Errorf("sphere: no positive eigenvalue: %w", ErrDegenerateSystem)
	}
	z := mat.NewVecDense(5, nil)
	for r := 0; r < 5; r++ {
		z.SetVec(r, f.vecs.At(r, best))
	}
	var x mat.VecDense
	x.MulVec(f.linv.T(), z)
	for r := 0; r < 5; r++ {
		u[r] = x.AtVec(r)
	}
	f.mu = 1 / f.values[best]
	return prattNormalize(u)
}

// orient makes the gradient agree with the sample normals, or makes the
// quadratic coefficient non negative without normals.
func (f *EigenSphereFitter) orient(nb *neighborhood.Neighborhood) {
	if nb.HasNormals() {
		var agreement float64
		for i := 0; i < nb.Len(); i++ {
			agreement += nb.Weight(i) * f.Sphere.Gradient(nb.Position(i)).Dot(nb.Normal(i))
		}
		if agreement < 0 {
			f.flip()
		}
		return
	}
	if f.U[4] < 0 {
		f.flip()
	}
}

func (f *EigenSphereFitter) mustFit() {
	if !f.fitted {
		panic(errNotFitted)
	}
}

func (f *EigenSphereFitter) Potential(p r3.Vector) float64 {
	f.mustFit()
	return f.Sphere.Potential(p)
}

func (f *EigenSphereFitter) Normal(p r3.Vector) r3.Vector {
	f.mustFit()
	return f.Sphere.Normal(p)
}

func (f *EigenSphereFitter) Project(p r3.Vector) r3.Vector {
	f.mustFit()
	return f.Sphere.Project(p)
}

// MLSGradient differentiates the eigenpair: dmu = uᵀ dA u and du solves the
// system bordered by the normalization constraint
//
//	[A - mu C   C u] [du]   [(dmu C - dA) u]
//	[(C u)ᵀ       0] [ l] = [      0       ]
func (f *EigenSphereFitter) MLSGradient(nb *neighborhood.Neighborhood, p r3.Vector) r3.Vector {
	f.mustFit()
	f.grads = weightGradients(f.grads, nb, p)
	y := f.frame.toLocal(p)
	base := f.Sphere.Gradient(p)

	// The covariance was normalized, apply the same factor to its derivative.
	var trace float64
	for r := 0; r < 5; r++ {
		trace += f.cov.At(r, r)
	}
	var rawTrace float64
	feats := make([][5]float64, nb.Len())
	for i := range feats {
		feats[i] = features(f.frame.toLocal(nb.Position(i)))
		for r := 0; r < 5; r++ {
			rawTrace += nb.Weight(i) * feats[i][r] * feats[i][r]
		}
	}
	norm := trace / rawTrace

	u := mat.NewVecDense(5, f.U[:])
	cu := mat.NewVecDense(5, nil)
	cu.MulVec(prattMatrix, u)

	k := mat.NewDense(6, 6, nil)
	for r := 0; r < 5; r++ {
		for c := 0; c < 5; c++ {
			k.Set(r, c, f.cov.At(r, c)-f.mu*prattMatrix.At(r, c))
		}
		k.Set(r, 5, cu.AtVec(r))
		k.Set(5, r, cu.AtVec(r))
	}

	rhs := mat.NewDense(6, 3, nil)
	for d := 0; d < 3; d++ {
		// dA u and uᵀ dA u
		var dau [5]float64
		for i, g := range f.grads {
			gd := [3]float64{g.X, g.Y, g.Z}[d] * norm
			if gd == 0 {
				continue
			}
			fu := 0.0
			for r := 0; r < 5; r++ {
				fu += feats[i][r] * f.U[r]
			}
			for r := 0; r < 5; r++ {
				dau[r] += gd * feats[i][r] * fu
			}
		}
		var dmu float64
		for r := 0; r < 5; r++ {
			dmu += f.U[r] * dau[r]
		}
		for r := 0; r < 5; r++ {
			rhs.Set(r, d, dmu*cu.AtVec(r)-dau[r])
		}
	}

	var sol mat.Dense
	if err := sol.Solve(k, rhs); err != nil {
		if _, ok := err.(mat.Condition); !ok {
			logging.Debugf("sphere: gradient system: %v", err)
			return base
		}
	}

	phi := features(y)
	grad := [3]float64{base.X, base.Y, base.Z}
	for d := 0; d < 3; d++ {
		var v float64
		for r := 0; r < 5; r++ {
			v += phi[r] * sol.At(r, d)
		}
		grad[d] += f.frame.scale * v
	}
	return r3.Vector{X: grad[0], Y: grad[1], Z: grad[2]}
}
