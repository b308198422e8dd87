// Package observer is the optional debug/profiling consumer: it records
// trace events from the process event log and scheduler, and derives
// hotspot reports. It never sits in the scheduling path.
package observer

import (
	"context"
	"sort"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/TLimoges33/Syn-OS-sub002/internal/proc"
	"github.com/TLimoges33/Syn-OS-sub002/internal/sched"
)

// activity is the per-process tally the recorder builds from events.
type activity struct {
	dispatches  uint64
	preemptions uint64
	blocks      uint64
	signals     uint64
	misses      uint64
}

// Hotspot is one row of a profiling report.
type Hotspot struct {
	PID                 proc.PID
	Name                string
	CPUTime             string // formatted duration
	Dispatches          uint64
	Preemptions         uint64
	InvoluntarySwitches uint64
	DeadlineMisses      uint64
}

// Recorder aggregates process events into per-pid activity counters.
type Recorder struct {
	mu     sync.Mutex
	table  *proc.Table
	counts map[proc.PID]*activity
	misses []sched.DeadlineMiss
	tracer trace.Tracer
}

// NewRecorder creates a recorder over the given table.
func NewRecorder(table *proc.Table) *Recorder {
	return &Recorder{
		table:  table,
		counts: make(map[proc.PID]*activity),
		tracer: Tracer(),
	}
}

// Run consumes process events until the channel closes or ctx is done.
// Typically fed from EventLog.SubscribeSince.
func (r *Recorder) Run(ctx context.Context, events <-chan proc.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			r.Consume(evt)
		}
	}
}

// Consume folds one event into the per-pid tallies and emits a span for it.
func (r *Recorder) Consume(evt proc.Event) {
	r.mu.Lock()
	a := r.tally(evt.PID)
	switch evt.Type {
	case proc.EventStateChanged:
		switch {
		case evt.NewState == proc.StateRunning.String():
			a.dispatches++
		case evt.OldState == proc.StateRunning.String() && evt.NewState == proc.StateReady.String():
			a.preemptions++
		case evt.NewState == proc.StateBlocked.String():
			a.blocks++
		}
	case proc.EventSignal:
		a.signals++
	}
	r.mu.Unlock()

	_, span := r.tracer.Start(context.Background(), "proc."+string(evt.Type),
		trace.WithAttributes(
			attribute.Int64("pid", int64(evt.PID)),
			attribute.String("new_state", evt.NewState),
		))
	span.End()
}

// RecordMiss registers a real-time deadline miss. Wired as the EDF
// algorithm's onMiss callback; also bumps the PCB's miss counter.
func (r *Recorder) RecordMiss(m sched.DeadlineMiss) {
	r.mu.Lock()
	r.misses = append(r.misses, m)
	r.tally(m.PID).misses++
	r.mu.Unlock()

	_ = r.table.Update(m.PID, func(p *proc.Process) {
		p.Stats.DeadlineMisses++
	})

	_, span := r.tracer.Start(context.Background(), "sched.deadline_miss",
		trace.WithAttributes(
			attribute.Int64("pid", int64(m.PID)),
			attribute.Int64("late_us", m.LateBy.Microseconds()),
		))
	span.End()
}

// Misses returns a copy of all recorded deadline misses.
func (r *Recorder) Misses() []sched.DeadlineMiss {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]sched.DeadlineMiss(nil), r.misses...)
}

// Hotspots returns the top-n processes by accumulated CPU time, with their
// switch and dispatch tallies. Zombies are included: their counters are
// still readable until reaped.
func (r *Recorder) Hotspots(n int) []Hotspot {
	procs := r.table.List()

	sort.Slice(procs, func(i, j int) bool {
		if procs[i].CPUTime != procs[j].CPUTime {
			return procs[i].CPUTime > procs[j].CPUTime
		}
		return procs[i].PID < procs[j].PID
	})
	if n > 0 && len(procs) > n {
		procs = procs[:n]
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Hotspot, 0, len(procs))
	for _, p := range procs {
		h := Hotspot{
			PID:                 p.PID,
			Name:                p.Name,
			CPUTime:             p.CPUTime.String(),
			InvoluntarySwitches: p.Stats.InvoluntarySwitches,
			DeadlineMisses:      p.Stats.DeadlineMisses,
		}
		if a, ok := r.counts[p.PID]; ok {
			h.Dispatches = a.dispatches
			h.Preemptions = a.preemptions
		}
		out = append(out, h)
	}
	return out
}

func (r *Recorder) tally(pid proc.PID) *activity {
	a, ok := r.counts[pid]
	if !ok {
		a = &activity{}
		r.counts[pid] = a
	}
	return a
}
