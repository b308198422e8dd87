package sched

import (
	"container/heap"
	"time"

	"github.com/TLimoges33/Syn-OS-sub002/internal/proc"
)

// Fair is the CFS-like fair-share order: it always selects the minimum
// virtual runtime among ready processes, ties broken by PID. Virtual runtime
// is CPU time weighted by the inverse priority weight, accounted by the
// process table on every tick.
type Fair struct {
	heap fairHeap
}

// NewFair creates an empty fair-share order.
func NewFair() *Fair {
	f := &Fair{}
	heap.Init(&f.heap)
	return f
}

func (f *Fair) Name() string { return "fair" }

func (f *Fair) Enqueue(e *Entry) {
	heap.Push(&f.heap, e)
}

func (f *Fair) Remove(pid proc.PID) bool {
	for _, e := range f.heap {
		if e.PID == pid {
			heap.Remove(&f.heap, e.index)
			return true
		}
	}
	return false
}

func (f *Fair) Pick(_ time.Time) *Entry {
	if f.heap.Len() == 0 {
		return nil
	}
	return heap.Pop(&f.heap).(*Entry)
}

func (f *Fair) Len() int { return f.heap.Len() }

var _ Algorithm = (*Fair)(nil)

// fairHeap orders by virtual runtime ascending, PID ascending.
type fairHeap []*Entry

func (h fairHeap) Len() int { return len(h) }

func (h fairHeap) Less(i, j int) bool {
	if h[i].VRuntime != h[j].VRuntime {
		return h[i].VRuntime < h[j].VRuntime
	}
	return h[i].PID < h[j].PID
}

func (h fairHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *fairHeap) Push(x interface{}) {
	e := x.(*Entry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *fairHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}
