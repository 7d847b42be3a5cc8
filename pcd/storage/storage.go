// Package storage defines the query contract shared by the spatial indices.
package storage

import (
	"github.com/golang/geo/r3"

	"github.com/seqsense/pcdmls/pcd/storage/pqueue"
)

// Index answers neighbor queries against a fixed point set. A built index is
// only read during queries and may be shared by goroutines, each owning its
// own Result.
type Index interface {
	// QueryBall collects points strictly closer than radius to p. When more
	// than res.MaxNeighbors() qualify, the nearest ones are kept.
	QueryBall(res *Result, p r3.Vector, radius float64)
	// QueryK collects up to res.MaxNeighbors() nearest points to p.
	QueryK(res *Result, p r3.Vector)
}

type Neighbor struct {
	Index           int
	SquaredDistance float64
}

// Result holds the neighbors found by the last query. Entries are unordered
// until Sort is called.
type Result struct {
	q *pqueue.Queue
}

func NewResult(maxNeighbors int) *Result {
	return &Result{q: pqueue.NewMax(maxNeighbors)}
}

func (r *Result) MaxNeighbors() int {
	return r.q.Cap()
}

func (r *Result) SetMaxNeighbors(n int) {
	r.q.SetSize(n)
}

// Reset clears the result before a new query.
func (r *Result) Reset() {
	r.q.Init()
}

func (r *Result) Len() int {
	return r.q.Len()
}

func (r *Result) At(i int) Neighbor {
	it := r.q.At(i)
	return Neighbor{Index: it.Index, SquaredDistance: it.Weight}
}

func (r *Result) ID(i int) int {
	return r.q.At(i).Index
}

func (r *Result) SquaredDistance(i int) float64 {
	return r.q.At(i).Weight
}

// Sort orders the neighbors by ascending distance.
func (r *Result) Sort() {
	r.q.Sort()
}

// Insert offers a candidate at squared distance d2.
func (r *Result) Insert(index int, d2 float64) {
	r.q.Insert(index, d2)
}

func (r *Result) IsFull() bool {
	return r.q.IsFull()
}

// TopIndex returns the index of the farthest retained neighbor.
func (r *Result) TopIndex() int {
	return r.q.TopIndex()
}

// TopSquaredDistance returns the squared distance of the farthest retained
// neighbor. It is the pruning bound of branch and bound searches.
func (r *Result) TopSquaredDistance() float64 {
	return r.q.TopWeight()
}

func (r *Result) RemoveTop() {
	r.q.RemoveTop()
}

// IDs returns the neighbor indices in the current order.
func (r *Result) IDs() []int {
	ids := make([]int, r.Len())
	for i := range ids {
		ids[i] = r.ID(i)
	}
	return ids
}
