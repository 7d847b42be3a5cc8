// Package pqueue provides a fixed capacity priority queue retaining the best
// weighted indices seen so far.
package pqueue

import (
	"sort"
)

type Item struct {
	Index  int
	Weight float64
}

// Queue keeps at most Cap() items. The top of a max queue is the item with the
// largest weight, that is the first to be evicted, so the queue retains the
// smallest weights. A min queue retains the largest ones.
type Queue struct {
	items []Item
	size  int
	max   bool
}

func NewMax(capacity int) *Queue {
	return &Queue{items: make([]Item, capacity), max: true}
}

func NewMin(capacity int) *Queue {
	return &Queue{items: make([]Item, capacity)}
}

// SetSize changes the capacity and clears the queue.
func (q *Queue) SetSize(capacity int) {
	if cap(q.items) >= capacity {
		q.items = q.items[:capacity]
	} else {
		q.items = make([]Item, capacity)
	}
	q.size = 0
}

// Init clears the queue.
func (q *Queue) Init() {
	q.size = 0
}

func (q *Queue) Len() int {
	return q.size
}

func (q *Queue) Cap() int {
	return len(q.items)
}

func (q *Queue) IsFull() bool {
	return q.size == len(q.items)
}

// At returns the i-th item in heap order, or in sorted order after Sort.
func (q *Queue) At(i int) Item {
	return q.items[i]
}

func (q *Queue) TopIndex() int {
	return q.items[0].Index
}

func (q *Queue) TopWeight() float64 {
	return q.items[0].Weight
}

// before reports whether a must stay above b in the heap.
func (q *Queue) before(a, b float64) bool {
	if q.max {
		return a > b
	}
	return a < b
}

// Insert adds an item. When the queue is full the top is replaced only if the
// new weight is strictly better, so ties keep the earlier item.
func (q *Queue) Insert(index int, weight float64) {
	if q.size < len(q.items) {
		q.items[q.size] = Item{Index: index, Weight: weight}
		q.size++
		q.bubbleUp(q.size - 1)
		return
	}
	if q.size == 0 || !q.before(q.items[0].Weight, weight) {
		return
	}
	q.items[0] = Item{Index: index, Weight: weight}
	q.bubbleDown(0)
}

func (q *Queue) RemoveTop() {
	if q.size == 0 {
		return
	}
	q.size--
	if q.size > 0 {
		q.items[0] = q.items[q.size]
		q.bubbleDown(0)
	}
}

// Sort orders the retained items from best to worst: ascending weights for a
// max queue, descending for a min queue. Call Init before inserting again.
func (q *Queue) Sort() {
	items := q.items[:q.size]
	sort.SliceStable(items, func(i, j int) bool {
		return q.before(items[j].Weight, items[i].Weight)
	})
}

func (q *Queue) bubbleUp(i int) {
	for i > 0 {
		parent := (i - 1) / 2
		if !q.before(q.items[i].Weight, q.items[parent].Weight) {
			return
		}
		q.items[i], q.items[parent] = q.items[parent], q.items[i]
		i = parent
	}
}

func (q *Queue) bubbleDown(i int) {
	for {
		top := i
		l, r := 2*i+1, 2*i+2
		if l < q.size && q.before(q.items[l].Weight, q.items[top].Weight) {
			top = l
		}
		if r < q.size && q.before(q.items[r].Weight, q.items[top].Weight) {
			top = r
		}
		if top == i {
			return
		}
		q.items[i], q.items[top] = q.items[top], q.items[i]
		i = top
	}
}
