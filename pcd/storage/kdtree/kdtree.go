// Package kdtree implements a k-d tree over a point cloud. Cells are split at
// the midpoint of their longest axis and leaves are contiguous ranges of a
// permuted index array.
package kdtree

import (
	"math"

	"github.com/golang/geo/r3"

	"github.com/seqsense/pcdmls/mat"
	"github.com/seqsense/pcdmls/pcd"
	"github.com/seqsense/pcdmls/pcd/storage"
)

const (
	DefaultTargetCellSize = 16

	// maybeNearest seeds the result so that the pruning bound is defined
	// before any real candidate is found.
	maybeNearest = -1
)

type node struct {
	leaf bool

	// internal
	dim      int
	split    float64
	children [2]int

	// leaf
	start, end int
}

type KdTree struct {
	pos   []r3.Vector
	perm  []int
	nodes []node
	box   mat.Box

	targetCellSize int
}

var _ storage.Index = (*KdTree)(nil)

// New builds the tree. Leaves hold at most targetCellSize points unless they
// consist of identical positions.
func New(c *pcd.Cloud, targetCellSize int) *KdTree {
	if targetCellSize < 1 {
		targetCellSize = DefaultTargetCellSize
	}
	t := &KdTree{
		pos:            make([]r3.Vector, c.Len()),
		perm:           make([]int, c.Len()),
		box:            c.AABB(),
		targetCellSize: targetCellSize,
	}
	for i := range t.pos {
		t.pos[i] = c.Position(i)
		t.perm[i] = i
	}
	if len(t.pos) > 0 {
		t.build(0, len(t.pos), t.box, false)
	}
	return t
}

func (t *KdTree) Len() int {
	return len(t.pos)
}

// Depth returns the depth of the deepest leaf.
func (t *KdTree) Depth() int {
	if len(t.nodes) == 0 {
		return 0
	}
	return t.depth(0)
}

func (t *KdTree) depth(n int) int {
	nd := &t.nodes[n]
	if nd.leaf {
		return 1
	}
	a, b := t.depth(nd.children[0]), t.depth(nd.children[1])
	if a > b {
		return a + 1
	}
	return b + 1
}

// Leaves returns the index ranges of all leaves.
func (t *KdTree) Leaves() [][]int {
	var out [][]int
	for i := range t.nodes {
		if nd := &t.nodes[i]; nd.leaf {
			out = append(out, t.perm[nd.start:nd.end])
		}
	}
	return out
}

func (t *KdTree) build(start, end int, box mat.Box, tight bool) int {
	id := len(t.nodes)
	t.nodes = append(t.nodes, node{})
	if end-start <= t.targetCellSize {
		t.nodes[id] = node{leaf: true, start: start, end: end}
		return id
	}

	dim := box.LongestAxis()
	split := 0.5 * (mat.Component(box.Min, dim) + mat.Component(box.Max, dim))
	mid := t.partition(start, end, dim, split)

	if mid == start || mid == end {
		if tight {
			t.nodes[id] = node{leaf: true, start: start, end: end}
			return id
		}
		// All points fell on one side; retry on their tight bounds.
		b := mat.EmptyBox()
		for _, i := range t.perm[start:end] {
			b.Extend(t.pos[i])
		}
		if mat.MaxComponent(b.Diagonal()) == 0 {
			t.nodes[id] = node{leaf: true, start: start, end: end}
			return id
		}
		t.nodes = t.nodes[:id]
		return t.build(start, end, b, true)
	}

	lower, upper := box.Split(dim, split)
	left := t.build(start, mid, lower, false)
	right := t.build(mid, end, upper, false)
	t.nodes[id] = node{dim: dim, split: split, children: [2]int{left, right}}
	return id
}

// partition moves the points below split to the front of the range and
// returns the first index of the upper part.
func (t *KdTree) partition(start, end, dim int, split float64) int {
	i, j := start, end-1
	for i <= j {
		if mat.Component(t.pos[t.perm[i]], dim) < split {
			i++
		} else {
			t.perm[i], t.perm[j] = t.perm[j], t.perm[i]
			j--
		}
	}
	return i
}

func (t *KdTree) QueryBall(res *storage.Result, p r3.Vector, radius float64) {
	t.query(res, p, radius*radius)
}

func (t *KdTree) QueryK(res *storage.Result, p r3.Vector) {
	t.query(res, p, math.Inf(1))
}

func (t *KdTree) query(res *storage.Result, p r3.Vector, bound float64) {
	res.Reset()
	if res.MaxNeighbors() == 0 || len(t.nodes) == 0 {
		return
	}
	res.Insert(maybeNearest, bound)

	var off [3]float64
	var sq float64
	for k := 0; k < 3; k++ {
		v := mat.Component(p, k)
		if lo := mat.Component(t.box.Min, k); v < lo {
			off[k] = lo - v
		} else if hi := mat.Component(t.box.Max, k); v > hi {
			off[k] = v - hi
		}
		sq += off[k] * off[k]
	}
	if sq < bound {
		t.search(0, res, p, &off, sq)
	}

	if res.Len() > 0 && res.TopIndex() == maybeNearest {
		res.RemoveTop()
	}
}

func (t *KdTree) search(n int, res *storage.Result, p r3.Vector, off *[3]float64, sq float64) {
	nd := &t.nodes[n]
	if nd.leaf {
		for _, i := range t.perm[nd.start:nd.end] {
			if d2 := t.pos[i].Sub(p).Norm2(); d2 < res.TopSquaredDistance() {
				res.Insert(i, d2)
			}
		}
		return
	}

	diff := mat.Component(p, nd.dim) - nd.split
	near, far := nd.children[0], nd.children[1]
	if diff >= 0 {
		near, far = far, near
	}
	t.search(near, res, p, off, sq)

	old := off[nd.dim]
	newSq := sq - old*old + diff*diff
	if newSq < res.TopSquaredDistance() {
		off[nd.dim] = math.Abs(diff)
		t.search(far, res, p, off, newSq)
		off[nd.dim] = old
	}
}
