// Package neighborhood turns spatial query results into weighted neighbor
// sets for local surface fitting.
package neighborhood

import (
	"fmt"
	"image/color"
	"math"

	"github.com/golang/geo/r3"

	"github.com/seqsense/pcdmls/pcd"
	"github.com/seqsense/pcdmls/pcd/storage"
	"github.com/seqsense/pcdmls/pcd/storage/balltree"
)

type Kind int

const (
	// Ball collects the points within a fixed radius.
	Ball Kind = iota
	// KNN collects the k nearest points and scales the kernel to the farthest.
	KNN
	// BallTree collects the points whose influence ball contains the query.
	BallTree
)

func (k Kind) String() string {
	switch k {
	case Ball:
		return "ball"
	case KNN:
		return "knn"
	case BallTree:
		return "balltree"
	}
	return "unknown"
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(b []byte) error {
	for _, c := range []Kind{Ball, KNN, BallTree} {
		if c.String() == string(b) {
			*k = c
			return nil
		}
	}
	return fmt.Errorf("unknown neighborhood kind %q", b)
}

const (
	bufferMargin = 16
	knnEpsilon   = 1e-3
)

// Neighborhood is the weighted neighbor set of the last Compute call.
// It owns scratch buffers and is not safe for concurrent use.
type Neighborhood struct {
	kind  Kind
	cloud *pcd.Cloud
	index storage.Index
	res   *storage.Result

	radius float64

	tree        *balltree.BallTree
	treeOpts    balltree.Options
	filterScale float64

	n        int
	weights  []float64
	dweights []float64
	scales   []float64
}

// NewBall returns a neighborhood of fixed radius over idx.
func NewBall(c *pcd.Cloud, idx storage.Index, radius float64, maxNeighbors int) *Neighborhood {
	return &Neighborhood{
		kind:   Ball,
		cloud:  c,
		index:  idx,
		res:    storage.NewResult(maxNeighbors),
		radius: radius,
	}
}

// NewKNN returns a neighborhood of the k nearest points over idx.
func NewKNN(c *pcd.Cloud, idx storage.Index, k int) *Neighborhood {
	return &Neighborhood{
		kind:  KNN,
		cloud: c,
		index: idx,
		res:   storage.NewResult(k),
	}
}

// NewBallTree returns a neighborhood whose points are those with the query
// inside their influence ball. tree may be nil or shared; it is rebuilt for
// this neighborhood when the filter scale no longer matches.
func NewBallTree(c *pcd.Cloud, tree *balltree.BallTree, opts balltree.Options, maxNeighbors int) *Neighborhood {
	nb := &Neighborhood{
		kind:        BallTree,
		cloud:       c,
		res:         storage.NewResult(maxNeighbors),
		tree:        tree,
		treeOpts:    opts,
		filterScale: opts.FilterScale,
	}
	if tree != nil {
		nb.index = tree
	}
	return nb
}

func (nb *Neighborhood) Kind() Kind {
	return nb.kind
}

func (nb *Neighborhood) Cloud() *pcd.Cloud {
	return nb.cloud
}

// SetRadius changes the radius of a Ball neighborhood.
func (nb *Neighborhood) SetRadius(r float64) {
	nb.radius = r
}

// SetFilterScale changes the influence scale of a BallTree neighborhood.
// The tree is rebuilt on the next Compute.
func (nb *Neighborhood) SetFilterScale(s float64) {
	nb.filterScale = s
}

func (nb *Neighborhood) FilterScale() float64 {
	return nb.filterScale
}

func (nb *Neighborhood) ensureTree() error {
	if nb.tree != nil && nb.tree.FilterScale == nb.filterScale {
		return nil
	}
	o := nb.treeOpts
	o.FilterScale = nb.filterScale
	t, err := balltree.New(nb.cloud, o)
	if err != nil {
		return err
	}
	nb.tree = t
	nb.index = t
	return nil
}

// Compute queries the neighbors of p and, if w is not nil, their weights.
// It returns the number of neighbors found.
func (nb *Neighborhood) Compute(p r3.Vector, w WeightingFunction) (int, error) {
	switch nb.kind {
	case Ball:
		nb.index.QueryBall(nb.res, p, nb.radius)
	case KNN:
		nb.index.QueryK(nb.res, p)
	case BallTree:
		if err := nb.ensureTree(); err != nil {
			return 0, err
		}
		nb.tree.QueryDomain(nb.res, p)
	}
	nb.n = nb.res.Len()
	nb.grow(nb.n)

	if nb.n == 0 {
		return 0, nil
	}

	switch nb.kind {
	case Ball:
		s := 1 / (nb.radius * nb.radius)
		for i := 0; i < nb.n; i++ {
			nb.scales[i] = s
		}
	case KNN:
		var maxD2 float64
		for i := 0; i < nb.n; i++ {
			maxD2 = math.Max(maxD2, nb.res.SquaredDistance(i))
		}
		s := 1.0
		if maxD2 > 0 {
			s = 1 / (maxD2 * (1 + knnEpsilon))
		}
		for i := 0; i < nb.n; i++ {
			nb.scales[i] = s
		}
	case BallTree:
		for i := 0; i < nb.n; i++ {
			r := nb.tree.Influence(nb.res.ID(i))
			nb.scales[i] = 1 / (r * r)
		}
	}

	if w != nil {
		x2 := nb.weights[:nb.n]
		for i := range x2 {
			x2[i] = nb.res.SquaredDistance(i) * nb.scales[i]
		}
		// Weights may overwrite x2 in place, derivatives go first.
		w.DerivativeWeights(nb.dweights[:nb.n], x2)
		w.Weights(x2, x2)
	}
	return nb.n, nil
}

func (nb *Neighborhood) grow(n int) {
	if len(nb.weights) >= n {
		return
	}
	size := n + bufferMargin
	nb.weights = make([]float64, size)
	nb.dweights = make([]float64, size)
	nb.scales = make([]float64, size)
}

func (nb *Neighborhood) Len() int {
	return nb.n
}

// Index returns the cloud index of the i-th neighbor.
func (nb *Neighborhood) Index(i int) int {
	return nb.res.ID(i)
}

func (nb *Neighborhood) Point(i int) *pcd.Point {
	return nb.cloud.At(nb.res.ID(i))
}

func (nb *Neighborhood) Position(i int) r3.Vector {
	return nb.cloud.At(nb.res.ID(i)).Position
}

func (nb *Neighborhood) Normal(i int) r3.Vector {
	return nb.cloud.At(nb.res.ID(i)).Normal
}

func (nb *Neighborhood) Radius(i int) float64 {
	return nb.cloud.At(nb.res.ID(i)).Radius
}

func (nb *Neighborhood) Color(i int) color.RGBA {
	return nb.cloud.At(nb.res.ID(i)).Color
}

func (nb *Neighborhood) HasNormals() bool {
	return nb.cloud.Has(pcd.AttrNormal)
}

func (nb *Neighborhood) SquaredDistance(i int) float64 {
	return nb.res.SquaredDistance(i)
}

func (nb *Neighborhood) Weight(i int) float64 {
	return nb.weights[i]
}

func (nb *Neighborhood) DerivativeWeight(i int) float64 {
	return nb.dweights[i]
}

// Scale returns the inverse squared filter radius applied to the i-th neighbor.
func (nb *Neighborhood) Scale(i int) float64 {
	return nb.scales[i]
}

// FilterRadius returns the kernel support radius of the i-th neighbor.
func (nb *Neighborhood) FilterRadius(i int) float64 {
	return 1 / math.Sqrt(nb.scales[i])
}

// MeanFilterRadius returns the average kernel support radius.
func (nb *Neighborhood) MeanFilterRadius() float64 {
	if nb.n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < nb.n; i++ {
		sum += nb.FilterRadius(i)
	}
	return sum / float64(nb.n)
}

// WeightGradient returns the gradient of the i-th weight with respect to the
// evaluation point p.
func (nb *Neighborhood) WeightGradient(i int, p r3.Vector) r3.Vector {
	return p.Sub(nb.Position(i)).Mul(2 * nb.dweights[i] * nb.scales[i])
}

// TotalWeight returns the sum of the weights.
func (nb *Neighborhood) TotalWeight() float64 {
	var sum float64
	for i := 0; i < nb.n; i++ {
		sum += nb.weights[i]
	}
	return sum
}

// Closest returns the position of the nearest neighbor to p, or false if the
// neighborhood is empty.
func (nb *Neighborhood) Closest(p r3.Vector) (r3.Vector, bool) {
	if nb.n == 0 {
		return r3.Vector{}, false
	}
	best, bestD2 := 0, math.Inf(1)
	for i := 0; i < nb.n; i++ {
		if d2 := nb.Position(i).Sub(p).Norm2(); d2 < bestD2 {
			best, bestD2 = i, d2
		}
	}
	return nb.Position(best), true
}
