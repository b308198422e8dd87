package dynprio

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/TLimoges33/Syn-OS-sub002/internal/proc"
	"github.com/TLimoges33/Syn-OS-sub002/internal/synlog"
)

// Rule is one threshold policy: when the metric crosses the threshold in
// the given direction, the process's class moves by Delta steps.
type Rule struct {
	Name        string
	Metric      Metric
	Comparison  Comparison
	Threshold   float64
	Delta       int           // signed class steps
	RevertAfter time.Duration // 0 = no auto-revert
	MaxPerSec   int           // adjustment rate cap, 0 = DefaultMaxPerSec
}

// DefaultMaxPerSec caps rule firing when a rule does not set its own.
const DefaultMaxPerSec = 4

// Adjustment records one applied priority change.
type Adjustment struct {
	ID        string
	PID       proc.PID
	Rule      string
	Old       proc.Class
	New       proc.Class
	Reason    string
	AppliedAt time.Time
	RevertAt  time.Time // zero = never
	Reverted  bool
}

// Engine evaluates rules against metric samples and issues priority
// adjustments into the process table. Auto-revert is honored by Tick.
type Engine struct {
	mu       sync.Mutex
	table    *proc.Table
	rules    []Rule
	affinity AffinityFunc
	now      func() time.Time

	history []*Adjustment
	active  map[activeKey]*Adjustment
	windows map[string][]time.Time // per-rule fire timestamps, 1s sliding
}

type activeKey struct {
	pid  proc.PID
	rule string
}

// NewEngine creates an engine over the given table and rules. affinity may
// be nil, in which case the affinity metric reads 0.
func NewEngine(table *proc.Table, rules []Rule, affinity AffinityFunc) *Engine {
	return &Engine{
		table:    table,
		rules:    rules,
		affinity: affinity,
		now:      time.Now,
		active:   make(map[activeKey]*Adjustment),
		windows:  make(map[string][]time.Time),
	}
}

// SetClock replaces the time source, for deterministic revert tests.
func (e *Engine) SetClock(now func() time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.now = now
}

// Evaluate applies all triggered rules to one process given a fresh metric
// sample. The affinity score is also written into the PCB's bias field so
// the priority algorithm sees it. Returns the adjustments applied.
func (e *Engine) Evaluate(pid proc.PID, sample Metrics) ([]Adjustment, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, err := e.table.Get(pid)
	if err != nil {
		return nil, fmt.Errorf("evaluate PID %d: %w", pid, err)
	}

	aff := 0.0
	if e.affinity != nil {
		aff = e.affinity(pid)
		if aff < 0 {
			aff = 0
		} else if aff > 1 {
			aff = 1
		}
		_ = e.table.SetNice(pid, aff)
	}

	now := e.now()
	var applied []Adjustment
	current := p.Class

	for _, r := range e.rules {
		v := value(r.Metric, sample, aff)
		if !r.Comparison.triggered(v, r.Threshold) {
			continue
		}

		key := activeKey{pid, r.Name}
		if adj, ok := e.active[key]; ok && !adj.Reverted {
			// Renewed justification: extend the revert deadline.
			if r.RevertAfter > 0 {
				adj.RevertAt = now.Add(r.RevertAfter)
			}
			continue
		}

		if !e.allowLocked(r, now) {
			synlog.For("dynprio").Debug("rate capped", "rule", r.Name, "pid", pid)
			continue
		}

		next := clampClass(int(current) + r.Delta)
		if next == current {
			continue
		}

		adj := &Adjustment{
			ID:        uuid.NewString(),
			PID:       pid,
			Rule:      r.Name,
			Old:       current,
			New:       next,
			Reason:    describe(r, v, current, next),
			AppliedAt: now,
		}
		if r.RevertAfter > 0 {
			adj.RevertAt = now.Add(r.RevertAfter)
		}

		if err := e.table.SetClass(pid, next); err != nil {
			return applied, fmt.Errorf("adjust PID %d: %w", pid, err)
		}

		e.history = append(e.history, adj)
		e.active[key] = adj
		applied = append(applied, *adj)
		current = next

		synlog.For("dynprio").Info("priority adjusted",
			"pid", pid, "rule", r.Name, "old", adj.Old.String(), "new", adj.New.String())
	}
	return applied, nil
}

// allowLocked enforces the per-rule rate cap over a 1-second sliding window.
func (e *Engine) allowLocked(r Rule, now time.Time) bool {
	max := r.MaxPerSec
	if max <= 0 {
		max = DefaultMaxPerSec
	}

	cutoff := now.Add(-time.Second)
	window := e.windows[r.Name]
	fresh := window[:0]
	for _, ts := range window {
		if ts.After(cutoff) {
			fresh = append(fresh, ts)
		}
	}
	if len(fresh) >= max {
		e.windows[r.Name] = fresh
		return false
	}
	e.windows[r.Name] = append(fresh, now)
	return true
}

// Tick reverts every adjustment whose deadline has passed without renewed
// justification. The class only moves back if nothing else changed it in
// the meantime. Returns the adjustments reverted.
func (e *Engine) Tick(now time.Time) []Adjustment {
	e.mu.Lock()
	defer e.mu.Unlock()

	var reverted []Adjustment
	for key, adj := range e.active {
		if adj.Reverted || adj.RevertAt.IsZero() || now.Before(adj.RevertAt) {
			continue
		}

		p, err := e.table.Get(adj.PID)
		if err == nil && p.Class == adj.New {
			_ = e.table.SetClass(adj.PID, adj.Old)
			synlog.For("dynprio").Info("priority reverted",
				"pid", adj.PID, "rule", adj.Rule, "class", adj.Old.String())
		}
		adj.Reverted = true
		delete(e.active, key)
		reverted = append(reverted, *adj)
	}
	return reverted
}

// History returns a copy of all recorded adjustments, oldest first.
func (e *Engine) History() []Adjustment {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]Adjustment, len(e.history))
	for i, adj := range e.history {
		out[i] = *adj
	}
	return out
}

// ActiveCount returns the number of adjustments pending revert.
func (e *Engine) ActiveCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.active)
}
