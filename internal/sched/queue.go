package sched

import (
	"sync"
	"time"

	"github.com/TLimoges33/Syn-OS-sub002/internal/proc"
)

// ReadyQueue is the shared ready structure. Multiple cores insert (on
// unblock) and remove (on dispatch) concurrently; the membership map
// guarantees an entry is never lost or duplicated.
//
// Membership covers Ready and Running processes — a dispatched process stays
// a member until it blocks or terminates, it is just no longer eligible for
// Pick. This keeps the ready structure and PCB state in exact agreement.
type ReadyQueue struct {
	mu      sync.Mutex
	alg     Algorithm
	members map[proc.PID]bool // value: currently dispatched (running)
	seq     uint64
	now     func() time.Time
}

// NewReadyQueue wraps an algorithm in a concurrent ready structure.
func NewReadyQueue(alg Algorithm) *ReadyQueue {
	return &ReadyQueue{
		alg:     alg,
		members: make(map[proc.PID]bool),
		now:     time.Now,
	}
}

// SetClock replaces the enqueue timestamp source. Tests use it to control
// aging.
func (q *ReadyQueue) SetClock(now func() time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.now = now
}

// AlgorithmName returns the wrapped algorithm's name.
func (q *ReadyQueue) AlgorithmName() string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.alg.Name()
}

// Add makes a process schedulable. Idempotent: a PID already a member is
// never enqueued twice. Implements proc.ReadySet.
func (q *ReadyQueue) Add(p *proc.Process) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.members[p.PID]; ok {
		return
	}
	q.members[p.PID] = false
	q.alg.Enqueue(q.entryFor(p))
}

// Take removes a process from the set entirely. Implements proc.ReadySet.
func (q *ReadyQueue) Take(pid proc.PID) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	running, ok := q.members[pid]
	if !ok {
		return false
	}
	delete(q.members, pid)
	if !running {
		q.alg.Remove(pid)
	}
	return true
}

// Contains reports membership. Implements proc.ReadySet.
func (q *ReadyQueue) Contains(pid proc.PID) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	_, ok := q.members[pid]
	return ok
}

// Pop selects the next process to dispatch and marks it running. Returns
// false if nothing is eligible.
func (q *ReadyQueue) Pop(now time.Time) (proc.PID, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	e := q.alg.Pick(now)
	if e == nil {
		return 0, false
	}
	q.members[e.PID] = true
	return e.PID, true
}

// Requeue returns a preempted or yielding process to the eligible order,
// with scheduling fields refreshed from the PCB.
func (q *ReadyQueue) Requeue(p *proc.Process) {
	q.mu.Lock()
	defer q.mu.Unlock()

	running, ok := q.members[p.PID]
	if !ok || !running {
		return
	}
	q.members[p.PID] = false
	q.alg.Enqueue(q.entryFor(p))
}

// Eligible returns the number of entries waiting for dispatch.
func (q *ReadyQueue) Eligible() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.alg.Len()
}

// Members returns the total membership count (eligible + running).
func (q *ReadyQueue) Members() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.members)
}

func (q *ReadyQueue) entryFor(p *proc.Process) *Entry {
	q.seq++
	return &Entry{
		PID:        p.PID,
		Class:      p.Class,
		Nice:       p.Nice,
		Seq:        q.seq,
		VRuntime:   p.VRuntime,
		Deadline:   p.Deadline,
		EnqueuedAt: q.now(),
	}
}
