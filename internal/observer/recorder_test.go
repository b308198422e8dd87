package observer

import (
	"context"
	"testing"
	"time"

	"github.com/TLimoges33/Syn-OS-sub002/internal/proc"
	"github.com/TLimoges33/Syn-OS-sub002/internal/sched"
)

func TestConsumeTalliesDispatches(t *testing.T) {
	table := proc.NewTable()
	pid, err := table.Create(proc.CreateRequest{Name: "job", User: "root"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	r := NewRecorder(table)
	r.Consume(proc.Event{Type: proc.EventStateChanged, PID: pid,
		OldState: "ready", NewState: "running"})
	r.Consume(proc.Event{Type: proc.EventStateChanged, PID: pid,
		OldState: "running", NewState: "ready"})
	r.Consume(proc.Event{Type: proc.EventStateChanged, PID: pid,
		OldState: "running", NewState: "blocked"})
	r.Consume(proc.Event{Type: proc.EventSignal, PID: pid, Signal: "SIGUSR1"})

	hs := r.Hotspots(10)
	if len(hs) != 1 {
		t.Fatalf("hotspots = %d, want 1", len(hs))
	}
	if hs[0].Dispatches != 1 {
		t.Fatalf("dispatches = %d, want 1", hs[0].Dispatches)
	}
	if hs[0].Preemptions != 1 {
		t.Fatalf("preemptions = %d, want 1", hs[0].Preemptions)
	}
}

func TestRecordMissBumpsPCBCounter(t *testing.T) {
	table := proc.NewTable()
	pid, _ := table.Create(proc.CreateRequest{Name: "rt", User: "root", Class: proc.ClassRealtime})

	r := NewRecorder(table)
	r.RecordMiss(sched.DeadlineMiss{PID: pid, Deadline: time.Now(), LateBy: 5 * time.Millisecond})

	misses := r.Misses()
	if len(misses) != 1 || misses[0].PID != pid {
		t.Fatalf("misses = %+v", misses)
	}

	stats, err := table.GetStats(pid)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.DeadlineMisses != 1 {
		t.Fatalf("PCB deadline misses = %d, want 1", stats.DeadlineMisses)
	}
}

func TestHotspotsOrderedByCPUTime(t *testing.T) {
	table := proc.NewTable()
	cold, _ := table.Create(proc.CreateRequest{Name: "cold", User: "root"})
	hot, _ := table.Create(proc.CreateRequest{Name: "hot", User: "root"})
	warm, _ := table.Create(proc.CreateRequest{Name: "warm", User: "root"})

	_ = table.ChargeCPU(hot, 300*time.Millisecond)
	_ = table.ChargeCPU(warm, 100*time.Millisecond)
	_ = table.ChargeCPU(cold, 10*time.Millisecond)

	r := NewRecorder(table)

	hs := r.Hotspots(2)
	if len(hs) != 2 {
		t.Fatalf("hotspots = %d, want top 2", len(hs))
	}
	if hs[0].PID != hot || hs[1].PID != warm {
		t.Fatalf("order = %d, %d; want %d, %d", hs[0].PID, hs[1].PID, hot, warm)
	}
}

func TestRunDrainsEventChannel(t *testing.T) {
	table := proc.NewTable()
	el, err := proc.NewEventLog(64, "")
	if err != nil {
		t.Fatalf("event log: %v", err)
	}
	table.SetEventLog(el)

	r := NewRecorder(table)
	ch := el.SubscribeSince(0, 64)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		r.Run(ctx, ch)
		close(done)
	}()

	pid, _ := table.Create(proc.CreateRequest{Name: "job", User: "root"})
	_ = table.MarkRunning(pid, time.Now())
	_ = table.ToReady(pid, false)

	// Wait for the state-change event to land in the tallies.
	deadline := time.Now().Add(time.Second)
	for {
		hs := r.Hotspots(1)
		if len(hs) == 1 && hs[0].Preemptions == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("recorder never observed the preemption event")
		}
		time.Sleep(time.Millisecond)
	}

	el.Unsubscribe(ch)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after the channel closed")
	}
}
