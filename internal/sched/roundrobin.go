package sched

import (
	"time"

	"github.com/TLimoges33/Syn-OS-sub002/internal/proc"
)

// RoundRobin rotates through the ready queue in FIFO order. Processes that
// become ready at the same instant are ordered by insertion.
type RoundRobin struct {
	fifo []*Entry
}

// NewRoundRobin creates an empty round-robin order.
func NewRoundRobin() *RoundRobin {
	return &RoundRobin{}
}

func (r *RoundRobin) Name() string { return "round_robin" }

func (r *RoundRobin) Enqueue(e *Entry) {
	r.fifo = append(r.fifo, e)
}

func (r *RoundRobin) Remove(pid proc.PID) bool {
	for i, e := range r.fifo {
		if e.PID == pid {
			r.fifo = append(r.fifo[:i], r.fifo[i+1:]...)
			return true
		}
	}
	return false
}

func (r *RoundRobin) Pick(_ time.Time) *Entry {
	if len(r.fifo) == 0 {
		return nil
	}
	e := r.fifo[0]
	r.fifo = r.fifo[1:]
	return e
}

func (r *RoundRobin) Len() int { return len(r.fifo) }

var _ Algorithm = (*RoundRobin)(nil)
