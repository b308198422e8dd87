// Package sched implements the scheduler core: a concurrent ready structure
// shared by all cores, four pluggable selection algorithms, and the per-core
// dispatch loop. Selection is deterministic given the same ready set,
// priorities and internal counters, so every algorithm is unit-testable.
package sched

import (
	"errors"
	"time"

	"github.com/TLimoges33/Syn-OS-sub002/internal/proc"
)

// ErrDeadlineMissed reports a real-time scheduling failure. It is an event,
// not a scheduler crash: the missed process is still dispatched (degrade
// policy) and the miss is surfaced to the observer.
var ErrDeadlineMissed = errors.New("deadline missed")

// Entry is a scheduling unit: the snapshot of the PCB fields an algorithm
// orders by. Entries are owned by the ready queue.
type Entry struct {
	PID      proc.PID
	Class    proc.Class
	Nice     float64
	Seq      uint64 // insertion order, FIFO tie-break
	VRuntime time.Duration
	Deadline time.Time // zero = no deadline

	EnqueuedAt time.Time
	Boost      int       // aging credit (priority algorithm)
	lastAged   time.Time // last time aging was applied
	missed     bool      // deadline miss already reported
	index      int       // heap bookkeeping
}

// Algorithm orders ready entries and picks the next process to run.
// Implementations are not safe for concurrent use; the ReadyQueue
// serializes access.
type Algorithm interface {
	Name() string
	Enqueue(e *Entry)
	// Remove takes an entry out of the order. Returns false if absent.
	Remove(pid proc.PID) bool
	// Pick removes and returns the next entry, or nil if none is ready.
	Pick(now time.Time) *Entry
	Len() int
}

// classRank maps a priority class to its selection rank.
func classRank(c proc.Class) int {
	return int(c)
}

// effective computes the priority algorithm's score for an entry: class
// dominates, then the aging boost, then the externally-supplied bias.
func effective(e *Entry) int {
	return classRank(e.Class)*1000 + e.Boost + int(e.Nice*100)
}
