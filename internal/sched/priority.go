package sched

import (
	"container/heap"
	"time"

	"github.com/TLimoges33/Syn-OS-sub002/internal/proc"
)

// AgingConfig tunes the anti-starvation mechanism of the priority algorithm.
// A ready-but-unscheduled process gains Increment priority points each time
// Threshold elapses, so a Low-class process eventually overtakes a stream of
// High-class arrivals. Increment 0 or Threshold 0 disables aging.
type AgingConfig struct {
	Threshold time.Duration
	Increment int
}

// Enabled reports whether the configuration actually ages anything.
func (c AgingConfig) Enabled() bool {
	return c.Threshold > 0 && c.Increment > 0
}

// Priority selects the highest priority class first, FIFO within a class.
// Starvation of lower classes is bounded by aging.
type Priority struct {
	heap  prioHeap
	aging AgingConfig
}

// NewPriority creates a priority order with the given aging configuration.
func NewPriority(aging AgingConfig) *Priority {
	p := &Priority{aging: aging}
	heap.Init(&p.heap)
	return p
}

func (p *Priority) Name() string { return "priority" }

func (p *Priority) Enqueue(e *Entry) {
	e.lastAged = e.EnqueuedAt
	heap.Push(&p.heap, e)
}

func (p *Priority) Remove(pid proc.PID) bool {
	for _, e := range p.heap {
		if e.PID == pid {
			heap.Remove(&p.heap, e.index)
			return true
		}
	}
	return false
}

// Pick applies pending aging credit, then returns the best entry.
func (p *Priority) Pick(now time.Time) *Entry {
	if p.heap.Len() == 0 {
		return nil
	}
	if p.aging.Enabled() {
		p.age(now)
	}
	return heap.Pop(&p.heap).(*Entry)
}

// age grants Increment points per full Threshold each entry has waited.
func (p *Priority) age(now time.Time) {
	changed := false
	for _, e := range p.heap {
		steps := int(now.Sub(e.lastAged) / p.aging.Threshold)
		if steps > 0 {
			e.Boost += steps * p.aging.Increment
			e.lastAged = e.lastAged.Add(time.Duration(steps) * p.aging.Threshold)
			changed = true
		}
	}
	if changed {
		heap.Init(&p.heap)
	}
}

func (p *Priority) Len() int { return p.heap.Len() }

var _ Algorithm = (*Priority)(nil)

// prioHeap orders by effective priority descending, insertion order ascending.
type prioHeap []*Entry

func (h prioHeap) Len() int { return len(h) }

func (h prioHeap) Less(i, j int) bool {
	ei, ej := effective(h[i]), effective(h[j])
	if ei != ej {
		return ei > ej
	}
	return h[i].Seq < h[j].Seq
}

func (h prioHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *prioHeap) Push(x interface{}) {
	e := x.(*Entry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *prioHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}
