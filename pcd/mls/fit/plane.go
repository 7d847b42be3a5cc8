package fit

import (
	"fmt"
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"

	vmat "github.com/seqsense/pcdmls/mat"
	"github.com/seqsense/pcdmls/pcd/neighborhood"
)

// PlaneFitter fits the plane through the weighted centroid. The normal is the
// normalized weighted mean of the sample normals, or the direction of least
// weighted variance when the cloud has no normals.
type PlaneFitter struct {
	center r3.Vector
	normal r3.Vector
	weight float64

	// set when the normal comes from the sample normals
	mean   r3.Vector
	useNrm bool

	// covariance analysis
	cov    *mat.SymDense
	eig    mat.EigenSym
	values []float64
	vecs   mat.Dense

	grads  []r3.Vector
	fitted bool

	withNormals bool
}

const minPCASamples = 3

// NewPlaneFitter returns a plane fitter. withNormals tells whether the
// neighborhoods it fits carry normals, which lets a single sample define
// the plane.
func NewPlaneFitter(withNormals bool) *PlaneFitter {
	return &PlaneFitter{cov: mat.NewSymDense(3, nil), withNormals: withNormals}
}

func (f *PlaneFitter) MinSamples() int {
	if f.withNormals {
		return 1
	}
	return minPCASamples
}

func (f *PlaneFitter) Fit(nb *neighborhood.Neighborhood) error {
	f.fitted = false
	n := nb.Len()
	f.useNrm = nb.HasNormals()
	if n < 1 || (!f.useNrm && n < minPCASamples) {
		return fmt.Errorf("plane: %d samples: %w", n, ErrInsufficientSamples)
	}

	f.weight = 0
	f.center = r3.Vector{}
	f.mean = r3.Vector{}
	for i := 0; i < n; i++ {
		w := nb.Weight(i)
		f.weight += w
		f.center = f.center.Add(nb.Position(i).Mul(w))
		if f.useNrm {
			f.mean = f.mean.Add(nb.Normal(i).Mul(w))
		}
	}
	if f.weight <= 0 {
		return fmt.Errorf("plane: zero total weight: %w", ErrDegenerateSystem)
	}
	f.center = f.center.Mul(1 / f.weight)

	if f.useNrm {
		if f.mean.Norm() <= 1e-12*f.weight {
			return fmt.Errorf("plane: normals cancel out: %w", ErrDegenerateSystem)
		}
		f.normal = vmat.Normalized(f.mean)
		f.fitted = true
		return nil
	}

	f.covariance(nb)
	if !f.eig.Factorize(f.cov, true) {
		return fmt.Errorf("plane: eigen decomposition failed: %w", ErrDegenerateSystem)
	}
	f.values = f.eig.Values(f.values)
	f.eig.VectorsTo(&f.vecs)
	// Values are ascending, the first vector spans the least variance.
	if f.values[1] <= 1e-12*f.values[2] {
		return fmt.Errorf("plane: collinear samples: %w", ErrDegenerateSystem)
	}
	nrm := r3.Vector{X: f.vecs.At(0, 0), Y: f.vecs.At(1, 0), Z: f.vecs.At(2, 0)}
	if vmat.Component(nrm, int(nrm.LargestComponent())) < 0 {
		nrm = nrm.Mul(-1)
	}
	f.normal = nrm
	f.fitted = true
	return nil
}

func (f *PlaneFitter) covariance(nb *neighborhood.Neighborhood) {
	var c [3][3]float64
	for i := 0; i < nb.Len(); i++ {
		w := nb.Weight(i)
		d := nb.Position(i).Sub(f.center)
		dv := [3]float64{d.X, d.Y, d.Z}
		for r := 0; r < 3; r++ {
			for k := r; k < 3; k++ {
				c[r][k] += w * dv[r] * dv[k]
			}
		}
	}
	for r := 0; r < 3; r++ {
		for k := r; k < 3; k++ {
			f.cov.SetSym(r, k, c[r][k]/f.weight)
		}
	}
}

func (f *PlaneFitter) mustFit() {
	if !f.fitted {
		panic(errNotFitted)
	}
}

// Center returns the weighted centroid of the last fit.
func (f *PlaneFitter) Center() r3.Vector {
	f.mustFit()
	return f.center
}

func (f *PlaneFitter) Potential(p r3.Vector) float64 {
	f.mustFit()
	return f.normal.Dot(p.Sub(f.center))
}

func (f *PlaneFitter) Normal(r3.Vector) r3.Vector {
	f.mustFit()
	return f.normal
}

func (f *PlaneFitter) Project(p r3.Vector) r3.Vector {
	f.mustFit()
	return p.Sub(f.normal.Mul(f.normal.Dot(p.Sub(f.center))))
}

func (f *PlaneFitter) MLSGradient(nb *neighborhood.Neighborhood, p r3.Vector) r3.Vector {
	f.mustFit()
	f.grads = weightGradients(f.grads, nb, p)

	// dc/dp_k = sum_i dw_i/dp_k (x_i - c) / W
	var dc [3]r3.Vector
	var dm [3]r3.Vector
	for i, g := range f.grads {
		d := nb.Position(i).Sub(f.center)
		gv := [3]float64{g.X, g.Y, g.Z}
		for k := 0; k < 3; k++ {
			dc[k] = dc[k].Add(d.Mul(gv[k] / f.weight))
			if f.useNrm {
				dm[k] = dm[k].Add(nb.Normal(i).Mul(gv[k]))
			}
		}
	}

	var dn [3]r3.Vector
	if f.useNrm {
		inv := 1 / f.mean.Norm()
		for k := 0; k < 3; k++ {
			// derivative of m/|m|
			dn[k] = dm[k].Sub(f.normal.Mul(f.normal.Dot(dm[k]))).Mul(inv)
		}
	} else {
		dn = f.normalDerivative(nb)
	}

	off := p.Sub(f.center)
	var grad [3]float64
	nv := [3]float64{f.normal.X, f.normal.Y, f.normal.Z}
	for k := 0; k < 3; k++ {
		grad[k] = nv[k] + dn[k].Dot(off) - f.normal.Dot(dc[k])
	}
	return r3.Vector{X: grad[0], Y: grad[1], Z: grad[2]}
}

// normalDerivative differentiates the least variance eigenvector by first
// order perturbation of the covariance.
func (f *PlaneFitter) normalDerivative(nb *neighborhood.Neighborhood) [3]r3.Vector {
	var dn [3]r3.Vector
	var sumG r3.Vector
	for _, g := range f.grads {
		sumG = sumG.Add(g)
	}
	sg := [3]float64{sumG.X, sumG.Y, sumG.Z}
	for k := 0; k < 3; k++ {
		// dCov = (sum_i dw_i d_i d_iᵀ - Cov sum_i dw_i) / W
		var dcov [3][3]float64
		for i, g := range f.grads {
			gk := [3]float64{g.X, g.Y, g.Z}[k]
			d := nb.Position(i).Sub(f.center)
			dv := [3]float64{d.X, d.Y, d.Z}
			for r := 0; r < 3; r++ {
				for c := 0; c < 3; c++ {
					dcov[r][c] += gk * dv[r] * dv[c]
				}
			}
		}
		for r := 0; r < 3; r++ {
			for c := 0; c < 3; c++ {
				dcov[r][c] = (dcov[r][c] - f.cov.At(r, c)*sg[k]) / f.weight
			}
		}

		n := [3]float64{f.normal.X, f.normal.Y, f.normal.Z}
		var dcn [3]float64
		for r := 0; r < 3; r++ {
			for c := 0; c < 3; c++ {
				dcn[r] += dcov[r][c] * n[c]
			}
		}
		for j := 1; j < 3; j++ {
			gap := f.values[0] - f.values[j]
			if math.Abs(gap) < 1e-15 {
				continue
			}
			v := r3.Vector{X: f.vecs.At(0, j), Y: f.vecs.At(1, j), Z: f.vecs.At(2, j)}
			a := (v.X*dcn[0] + v.Y*dcn[1] + v.Z*dcn[2]) / gap
			dn[k] = dn[k].Add(v.Mul(a))
		}
	}
	return dn
}
