package sched

import (
	"container/heap"
	"time"

	"github.com/TLimoges33/Syn-OS-sub002/internal/proc"
)

// DeadlineMiss reports a real-time process whose deadline passed before it
// was dispatched. Misses are reported exactly once per enqueue, never
// silently dropped.
type DeadlineMiss struct {
	PID      proc.PID
	Deadline time.Time
	LateBy   time.Duration
}

// Realtime schedules processes earliest-deadline-first. Entries without a
// deadline run after all deadline-bearing entries, in insertion order.
type Realtime struct {
	heap   edfHeap
	onMiss func(DeadlineMiss)
}

// NewRealtime creates an EDF order. onMiss (may be nil) receives every
// detected deadline miss.
func NewRealtime(onMiss func(DeadlineMiss)) *Realtime {
	r := &Realtime{onMiss: onMiss}
	heap.Init(&r.heap)
	return r
}

func (r *Realtime) Name() string { return "realtime" }

func (r *Realtime) Enqueue(e *Entry) {
	e.missed = false
	heap.Push(&r.heap, e)
}

func (r *Realtime) Remove(pid proc.PID) bool {
	for _, e := range r.heap {
		if e.PID == pid {
			heap.Remove(&r.heap, e.index)
			return true
		}
	}
	return false
}

// Pick returns the earliest-deadline entry. A missed deadline is reported
// and the entry is still dispatched: degrading is the recovery policy,
// aborting is the caller's call.
func (r *Realtime) Pick(now time.Time) *Entry {
	if r.heap.Len() == 0 {
		return nil
	}
	e := heap.Pop(&r.heap).(*Entry)
	if !e.Deadline.IsZero() && now.After(e.Deadline) && !e.missed {
		e.missed = true
		if r.onMiss != nil {
			r.onMiss(DeadlineMiss{
				PID:      e.PID,
				Deadline: e.Deadline,
				LateBy:   now.Sub(e.Deadline),
			})
		}
	}
	return e
}

func (r *Realtime) Len() int { return r.heap.Len() }

var _ Algorithm = (*Realtime)(nil)

// edfHeap orders by deadline ascending; deadline-less entries last, FIFO.
type edfHeap []*Entry

func (h edfHeap) Len() int { return len(h) }

func (h edfHeap) Less(i, j int) bool {
	di, dj := h[i].Deadline, h[j].Deadline
	switch {
	case di.IsZero() && dj.IsZero():
		return h[i].Seq < h[j].Seq
	case di.IsZero():
		return false
	case dj.IsZero():
		return true
	case !di.Equal(dj):
		return di.Before(dj)
	default:
		return h[i].Seq < h[j].Seq
	}
}

func (h edfHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *edfHeap) Push(x interface{}) {
	e := x.(*Entry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *edfHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}
