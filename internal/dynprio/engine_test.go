package dynprio

import (
	"errors"
	"testing"
	"time"

	"github.com/TLimoges33/Syn-OS-sub002/internal/proc"
)

func newTestEngine(t *testing.T, rules []Rule, affinity AffinityFunc) (*Engine, *proc.Table, proc.PID) {
	t.Helper()
	table := proc.NewTable()
	pid, err := table.Create(proc.CreateRequest{Name: "job", User: "root", Class: proc.ClassNormal})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return NewEngine(table, rules, affinity), table, pid
}

func TestRuleTriggersAndAdjusts(t *testing.T) {
	rule := Rule{
		Name:       "busy-up",
		Metric:     MetricCPU,
		Comparison: Above,
		Threshold:  80,
		Delta:      1,
	}
	e, table, pid := newTestEngine(t, []Rule{rule}, nil)

	applied, err := e.Evaluate(pid, Metrics{CPUPercent: 95})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(applied) != 1 {
		t.Fatalf("applied = %d, want 1", len(applied))
	}
	adj := applied[0]
	if adj.Old != proc.ClassNormal || adj.New != proc.ClassHigh {
		t.Fatalf("adjustment %s -> %s, want normal -> high", adj.Old, adj.New)
	}
	if adj.Reason == "" || adj.ID == "" {
		t.Fatalf("adjustment must carry reasoning and an id: %+v", adj)
	}

	p, _ := table.Get(pid)
	if p.Class != proc.ClassHigh {
		t.Fatalf("class = %s, want high", p.Class)
	}
}

func TestRuleBelowThresholdDoesNothing(t *testing.T) {
	rule := Rule{Name: "busy-up", Metric: MetricCPU, Comparison: Above, Threshold: 80, Delta: 1}
	e, table, pid := newTestEngine(t, []Rule{rule}, nil)

	applied, err := e.Evaluate(pid, Metrics{CPUPercent: 40})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(applied) != 0 {
		t.Fatalf("applied = %v, want none", applied)
	}
	p, _ := table.Get(pid)
	if p.Class != proc.ClassNormal {
		t.Fatalf("class changed without a trigger: %s", p.Class)
	}
}

func TestClassClampedAtBounds(t *testing.T) {
	rule := Rule{Name: "mem-down", Metric: MetricMemory, Comparison: Above, Threshold: 90, Delta: -5}
	e, table, pid := newTestEngine(t, []Rule{rule}, nil)

	applied, err := e.Evaluate(pid, Metrics{MemoryPercent: 99})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(applied) != 1 || applied[0].New != proc.ClassLow {
		t.Fatalf("applied = %+v, want clamp to low", applied)
	}
	p, _ := table.Get(pid)
	if p.Class != proc.ClassLow {
		t.Fatalf("class = %s, want low", p.Class)
	}
}

func TestAutoRevertAfterDeadline(t *testing.T) {
	rule := Rule{
		Name:        "busy-up",
		Metric:      MetricCPU,
		Comparison:  Above,
		Threshold:   80,
		Delta:       1,
		RevertAfter: 10 * time.Second,
	}
	e, table, pid := newTestEngine(t, []Rule{rule}, nil)

	base := time.Now()
	clock := base
	e.SetClock(func() time.Time { return clock })

	if _, err := e.Evaluate(pid, Metrics{CPUPercent: 95}); err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if e.ActiveCount() != 1 {
		t.Fatalf("active = %d, want 1", e.ActiveCount())
	}

	// Before the deadline: nothing reverts.
	if reverted := e.Tick(base.Add(9 * time.Second)); len(reverted) != 0 {
		t.Fatalf("premature revert: %+v", reverted)
	}

	// At/after the deadline: the class moves back.
	reverted := e.Tick(base.Add(10*time.Second + time.Millisecond))
	if len(reverted) != 1 || !reverted[0].Reverted {
		t.Fatalf("reverted = %+v, want 1 reverted adjustment", reverted)
	}
	p, _ := table.Get(pid)
	if p.Class != proc.ClassNormal {
		t.Fatalf("class after revert = %s, want normal", p.Class)
	}
	if e.ActiveCount() != 0 {
		t.Fatalf("active after revert = %d, want 0", e.ActiveCount())
	}
}

func TestRenewedJustificationExtendsRevert(t *testing.T) {
	rule := Rule{
		Name:        "busy-up",
		Metric:      MetricCPU,
		Comparison:  Above,
		Threshold:   80,
		Delta:       1,
		RevertAfter: 10 * time.Second,
	}
	e, table, pid := newTestEngine(t, []Rule{rule}, nil)

	base := time.Now()
	clock := base
	e.SetClock(func() time.Time { return clock })

	if _, err := e.Evaluate(pid, Metrics{CPUPercent: 95}); err != nil {
		t.Fatalf("evaluate: %v", err)
	}

	// The condition still holds at t+8s: the revert deadline moves to t+18s.
	clock = base.Add(8 * time.Second)
	applied, err := e.Evaluate(pid, Metrics{CPUPercent: 95})
	if err != nil {
		t.Fatalf("re-evaluate: %v", err)
	}
	if len(applied) != 0 {
		t.Fatalf("renewal must not re-apply, got %+v", applied)
	}

	if reverted := e.Tick(base.Add(12 * time.Second)); len(reverted) != 0 {
		t.Fatalf("reverted despite renewal: %+v", reverted)
	}
	p, _ := table.Get(pid)
	if p.Class != proc.ClassHigh {
		t.Fatalf("class = %s, want still high", p.Class)
	}

	if reverted := e.Tick(base.Add(19 * time.Second)); len(reverted) != 1 {
		t.Fatalf("expected revert at the extended deadline, got %+v", reverted)
	}
}

func TestRevertSkippedWhenClassChangedMeanwhile(t *testing.T) {
	rule := Rule{
		Name:        "busy-up",
		Metric:      MetricCPU,
		Comparison:  Above,
		Threshold:   80,
		Delta:       1,
		RevertAfter: time.Second,
	}
	e, table, pid := newTestEngine(t, []Rule{rule}, nil)

	base := time.Now()
	e.SetClock(func() time.Time { return base })

	if _, err := e.Evaluate(pid, Metrics{CPUPercent: 95}); err != nil {
		t.Fatalf("evaluate: %v", err)
	}

	// Something else moved the class: the stale revert must not undo it.
	if err := table.SetClass(pid, proc.ClassRealtime); err != nil {
		t.Fatalf("set class: %v", err)
	}
	e.Tick(base.Add(2 * time.Second))

	p, _ := table.Get(pid)
	if p.Class != proc.ClassRealtime {
		t.Fatalf("class = %s, stale revert overwrote a newer change", p.Class)
	}
}

func TestRateCapLimitsAdjustmentsPerSecond(t *testing.T) {
	rule := Rule{
		Name:       "flappy",
		Metric:     MetricCPU,
		Comparison: Above,
		Threshold:  80,
		Delta:      1,
		MaxPerSec:  2,
	}

	table := proc.NewTable()
	e := NewEngine(table, []Rule{rule}, nil)

	base := time.Now()
	e.SetClock(func() time.Time { return base })

	// Distinct processes so the active-adjustment dedupe does not apply.
	var pids []proc.PID
	for i := 0; i < 4; i++ {
		pid, err := table.Create(proc.CreateRequest{Name: "job", User: "root", Class: proc.ClassNormal})
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		pids = append(pids, pid)
	}

	fired := 0
	for _, pid := range pids {
		applied, err := e.Evaluate(pid, Metrics{CPUPercent: 95})
		if err != nil {
			t.Fatalf("evaluate: %v", err)
		}
		fired += len(applied)
	}
	if fired != 2 {
		t.Fatalf("rule fired %d times in one second, cap is 2", fired)
	}

	// A second later the window is clear again.
	later := base.Add(1100 * time.Millisecond)
	e.SetClock(func() time.Time { return later })
	applied, err := e.Evaluate(pids[2], Metrics{CPUPercent: 95})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(applied) != 1 {
		t.Fatalf("rule should fire after the window clears, got %d", len(applied))
	}
}

func TestAffinityWrittenToNice(t *testing.T) {
	e, table, pid := newTestEngine(t, nil, func(proc.PID) float64 { return 0.7 })

	if _, err := e.Evaluate(pid, Metrics{}); err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	p, _ := table.Get(pid)
	if p.Nice != 0.7 {
		t.Fatalf("nice = %f, want 0.7", p.Nice)
	}
}

func TestAffinityClampedToUnitRange(t *testing.T) {
	e, table, pid := newTestEngine(t, nil, func(proc.PID) float64 { return 3.5 })

	if _, err := e.Evaluate(pid, Metrics{}); err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	p, _ := table.Get(pid)
	if p.Nice != 1 {
		t.Fatalf("nice = %f, want clamp to 1", p.Nice)
	}
}

func TestHistoryRecordsEveryAdjustment(t *testing.T) {
	rules := []Rule{
		{Name: "cpu-up", Metric: MetricCPU, Comparison: Above, Threshold: 80, Delta: 1},
		{Name: "io-down", Metric: MetricIOWait, Comparison: Above, Threshold: 50, Delta: -1},
	}
	e, _, pid := newTestEngine(t, rules, nil)

	if _, err := e.Evaluate(pid, Metrics{CPUPercent: 95, IOWaitPercent: 60}); err != nil {
		t.Fatalf("evaluate: %v", err)
	}

	hist := e.History()
	if len(hist) != 2 {
		t.Fatalf("history = %d entries, want 2", len(hist))
	}
	if hist[0].Rule != "cpu-up" || hist[1].Rule != "io-down" {
		t.Fatalf("history order = %s, %s", hist[0].Rule, hist[1].Rule)
	}
}

func TestEvaluateUnknownPIDFails(t *testing.T) {
	e, _, _ := newTestEngine(t, nil, nil)

	_, err := e.Evaluate(999, Metrics{})
	if !errors.Is(err, proc.ErrProcessNotFound) {
		t.Fatalf("expected ErrProcessNotFound, got %v", err)
	}
}
