// Package balltree implements a spatial subdivision where every point is
// registered in each cell its ball of influence overlaps. The influence
// radius of a point is its radius multiplied by the filter scale.
package balltree

import (
	"errors"
	"math"

	"github.com/golang/geo/r3"

	"github.com/seqsense/pcdmls/mat"
	"github.com/seqsense/pcdmls/pcd"
	"github.com/seqsense/pcdmls/pcd/storage"
)

var ErrNoRadius = errors.New("balltree: point radius is required")

const maybeNearest = -1

type Options struct {
	FilterScale    float64
	TargetCellSize int
	// LeafRadiusFactor stops subdivision once the mean influence radius
	// scaled by this factor exceeds the longest cell extent.
	LeafRadiusFactor float64
	MaxDepth         int
}

func DefaultOptions() Options {
	return Options{
		FilterScale:      2,
		TargetCellSize:   16,
		LeafRadiusFactor: 0.9,
		MaxDepth:         48,
	}
}

type entry struct {
	index int
	// owned is set in the only leaf whose cell contains the point.
	owned bool
}

type node struct {
	leaf bool
	box  mat.Box

	dim      int
	split    float64
	children [2]int

	start, end int
}

type BallTree struct {
	Options

	pos       []r3.Vector
	influence []float64
	maxInfl   float64
	entries   []entry
	nodes     []node
}

var _ storage.Index = (*BallTree)(nil)

func New(c *pcd.Cloud, o Options) (*BallTree, error) {
	if !c.Has(pcd.AttrRadius) {
		return nil, ErrNoRadius
	}
	def := DefaultOptions()
	if o.TargetCellSize < 1 {
		o.TargetCellSize = def.TargetCellSize
	}
	if o.LeafRadiusFactor <= 0 {
		o.LeafRadiusFactor = def.LeafRadiusFactor
	}
	if o.MaxDepth < 1 {
		o.MaxDepth = def.MaxDepth
	}
	if o.FilterScale <= 0 {
		o.FilterScale = def.FilterScale
	}

	t := &BallTree{
		Options:   o,
		pos:       make([]r3.Vector, c.Len()),
		influence: make([]float64, c.Len()),
	}
	items := make([]entry, c.Len())
	for i := range t.pos {
		p := c.At(i)
		t.pos[i] = p.Position
		t.influence[i] = p.Radius * o.FilterScale
		t.maxInfl = math.Max(t.maxInfl, t.influence[i])
		items[i] = entry{index: i, owned: true}
	}
	if len(items) > 0 {
		t.build(items, c.AABB(), 0)
	}
	return t, nil
}

func (t *BallTree) Len() int {
	return len(t.pos)
}

// Influence returns the influence radius of the i-th point.
func (t *BallTree) Influence(i int) float64 {
	return t.influence[i]
}

// Leaves returns the point indices registered in each leaf.
func (t *BallTree) Leaves() [][]int {
	var out [][]int
	for i := range t.nodes {
		nd := &t.nodes[i]
		if !nd.leaf {
			continue
		}
		ids := make([]int, 0, nd.end-nd.start)
		for _, e := range t.entries[nd.start:nd.end] {
			ids = append(ids, e.index)
		}
		out = append(out, ids)
	}
	return out
}

func (t *BallTree) build(items []entry, box mat.Box, depth int) int {
	id := len(t.nodes)
	t.nodes = append(t.nodes, node{box: box})

	if t.isLeaf(items, box, depth) {
		t.makeLeaf(id, items)
		return id
	}

	dim := box.LongestAxis()
	split := 0.5 * (mat.Component(box.Min, dim) + mat.Component(box.Max, dim))
	lower, upper := box.Split(dim, split)

	var left, right []entry
	for _, e := range items {
		p := t.pos[e.index]
		r2 := t.influence[e.index] * t.influence[e.index]
		below := mat.Component(p, dim) < split
		if lower.SqDistance(p) <= r2 {
			left = append(left, entry{index: e.index, owned: e.owned && below})
		}
		if upper.SqDistance(p) <= r2 {
			right = append(right, entry{index: e.index, owned: e.owned && !below})
		}
	}
	if len(left) == len(items) && len(right) == len(items) {
		// Every ball spans the split, subdividing does not separate anything.
		t.makeLeaf(id, items)
		return id
	}

	l := t.build(left, lower, depth+1)
	r := t.build(right, upper, depth+1)
	t.nodes[id] = node{box: box, dim: dim, split: split, children: [2]int{l, r}}
	return id
}

func (t *BallTree) isLeaf(items []entry, box mat.Box, depth int) bool {
	if len(items) < t.TargetCellSize || depth >= t.MaxDepth {
		return true
	}
	var sum float64
	for _, e := range items {
		sum += t.influence[e.index]
	}
	avg := sum / float64(len(items))
	return avg*t.LeafRadiusFactor > mat.MaxComponent(box.Diagonal())
}

func (t *BallTree) makeLeaf(id int, items []entry) {
	start := len(t.entries)
	t.entries = append(t.entries, items...)
	t.nodes[id].leaf = true
	t.nodes[id].start, t.nodes[id].end = start, len(t.entries)
}

// QueryDomain collects the points whose ball of influence contains p.
func (t *BallTree) QueryDomain(res *storage.Result, p r3.Vector) {
	res.Reset()
	if len(t.nodes) == 0 {
		return
	}
	if !t.nodes[0].box.Contains(p) {
		t.searchDomain(0, res, p)
		return
	}
	n := 0
	for !t.nodes[n].leaf {
		nd := &t.nodes[n]
		if mat.Component(p, nd.dim) < nd.split {
			n = nd.children[0]
		} else {
			n = nd.children[1]
		}
	}
	nd := &t.nodes[n]
	for _, e := range t.entries[nd.start:nd.end] {
		t.insertInDomain(res, e.index, p)
	}
}

func (t *BallTree) insertInDomain(res *storage.Result, i int, p r3.Vector) {
	d2 := t.pos[i].Sub(p).Norm2()
	if r := t.influence[i]; d2 < r*r {
		res.Insert(i, d2)
	}
}

// searchDomain visits the owned entries of every cell within reach of p.
func (t *BallTree) searchDomain(n int, res *storage.Result, p r3.Vector) {
	nd := &t.nodes[n]
	if nd.box.SqDistance(p) >= t.maxInfl*t.maxInfl {
		return
	}
	if !nd.leaf {
		t.searchDomain(nd.children[0], res, p)
		t.searchDomain(nd.children[1], res, p)
		return
	}
	for _, e := range t.entries[nd.start:nd.end] {
		if e.owned {
			t.insertInDomain(res, e.index, p)
		}
	}
}

func (t *BallTree) QueryBall(res *storage.Result, p r3.Vector, radius float64) {
	t.query(res, p, radius*radius)
}

func (t *BallTree) QueryK(res *storage.Result, p r3.Vector) {
	t.query(res, p, math.Inf(1))
}

func (t *BallTree) query(res *storage.Result, p r3.Vector, bound float64) {
	res.Reset()
	if res.MaxNeighbors() == 0 || len(t.nodes) == 0 {
		return
	}
	res.Insert(maybeNearest, bound)
	t.search(0, res, p)
	if res.Len() > 0 && res.TopIndex() == maybeNearest {
		res.RemoveTop()
	}
}

func (t *BallTree) search(n int, res *storage.Result, p r3.Vector) {
	nd := &t.nodes[n]
	if nd.box.SqDistance(p) >= res.TopSquaredDistance() {
		return
	}
	if nd.leaf {
		for _, e := range t.entries[nd.start:nd.end] {
			if !e.owned {
				continue
			}
			if d2 := t.pos[e.index].Sub(p).Norm2(); d2 < res.TopSquaredDistance() {
				res.Insert(e.index, d2)
			}
		}
		return
	}
	near, far := nd.children[0], nd.children[1]
	if mat.Component(p, nd.dim) >= nd.split {
		near, far = far, near
	}
	t.search(near, res, p)
	t.search(far, res, p)
}
