package pqueue

import (
	"math/rand"
	"reflect"
	"sort"
	"testing"
)

func TestMaxQueueKeepsSmallest(t *testing.T) {
	rnd := rand.New(rand.NewSource(1))
	for _, k := range []int{1, 5, 16, 100} {
		q := NewMax(k)
		var all []Item
		for i := 0; i < 200; i++ {
			it := Item{Index: i, Weight: rnd.Float64()}
			all = append(all, it)
			q.Insert(it.Index, it.Weight)
		}
		sort.Slice(all, func(i, j int) bool { return all[i].Weight < all[j].Weight })

		q.Sort()
		if q.Len() != k {
			t.Fatalf("k=%d: expected %d items, got %d", k, k, q.Len())
		}
		got := make([]Item, q.Len())
		for i := range got {
			got[i] = q.At(i)
		}
		if !reflect.DeepEqual(all[:k], got) {
			t.Errorf("k=%d: expected %v, got %v", k, all[:k], got)
		}
	}
}

func TestMinQueueKeepsLargest(t *testing.T) {
	q := NewMin(3)
	for i, w := range []float64{5, 1, 9, 3, 7, 2} {
		q.Insert(i, w)
	}
	if w := q.TopWeight(); w != 5 {
		t.Errorf("Expected top weight 5, got %f", w)
	}
	q.Sort()
	expected := []Item{{2, 9}, {4, 7}, {0, 5}}
	for i, e := range expected {
		if it := q.At(i); it != e {
			t.Errorf("At(%d): expected %v, got %v", i, e, it)
		}
	}
}

func TestQueueTopAndRemove(t *testing.T) {
	q := NewMax(4)
	for i, w := range []float64{3, 1, 4, 1.5} {
		q.Insert(i, w)
	}
	if !q.IsFull() {
		t.Fatal("Queue must be full")
	}
	var order []float64
	for q.Len() > 0 {
		order = append(order, q.TopWeight())
		q.RemoveTop()
	}
	if expected := []float64{4, 3, 1.5, 1}; !reflect.DeepEqual(expected, order) {
		t.Errorf("Expected %v, got %v", expected, order)
	}
	q.RemoveTop()
	if q.Len() != 0 {
		t.Error("RemoveTop on empty queue must be a no-op")
	}
}

func TestQueueEdgeCases(t *testing.T) {
	testCases := map[string]struct {
		capacity int
		inserts  []Item
		expected []Item
	}{
		"ZeroCapacity": {
			capacity: 0,
			inserts:  []Item{{0, 1}, {1, 0}},
			expected: []Item{},
		},
		"TieKeepsEarlier": {
			capacity: 1,
			inserts:  []Item{{0, 1}, {1, 1}},
			expected: []Item{{0, 1}},
		},
		"StrictlyBetterReplaces": {
			capacity: 1,
			inserts:  []Item{{0, 1}, {1, 0.5}},
			expected: []Item{{1, 0.5}},
		},
	}
	for name, tt := range testCases {
		tt := tt
		t.Run(name, func(t *testing.T) {
			q := NewMax(tt.capacity)
			for _, it := range tt.inserts {
				q.Insert(it.Index, it.Weight)
			}
			q.Sort()
			got := []Item{}
			for i := 0; i < q.Len(); i++ {
				got = append(got, q.At(i))
			}
			if !reflect.DeepEqual(tt.expected, got) {
				t.Errorf("Expected %v, got %v", tt.expected, got)
			}
		})
	}
}

func TestSetSize(t *testing.T) {
	q := NewMax(2)
	q.Insert(0, 1)
	q.SetSize(5)
	if q.Len() != 0 || q.Cap() != 5 {
		t.Fatalf("Unexpected state after SetSize: len %d cap %d", q.Len(), q.Cap())
	}
	q.SetSize(1)
	q.Insert(0, 2)
	q.Insert(1, 1)
	if q.TopIndex() != 1 {
		t.Errorf("Expected index 1 retained, got %d", q.TopIndex())
	}
	q.Init()
	if q.Len() != 0 {
		t.Error("Init must clear the queue")
	}
}
