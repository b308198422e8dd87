package sched

import (
	"errors"
	"fmt"
	"time"

	"github.com/TLimoges33/Syn-OS-sub002/internal/proc"
	"github.com/TLimoges33/Syn-OS-sub002/internal/synlog"
)

// CPULimiter charges consumed CPU time against a per-process resource limit.
// Implemented by the resource tracker; ErrResourceExhausted on a charge means
// the process ran past its MaxCPUTime budget.
type CPULimiter interface {
	ChargeCPU(pid proc.PID, delta time.Duration) error
}

// Core is one logical CPU's scheduling loop. Cores are independent but share
// the process table and the ready queue; exactly one process is Running per
// core at a time.
type Core struct {
	id     int
	table  *proc.Table
	queue  *ReadyQueue
	engine proc.ContextEngine
	slice  time.Duration // default time-slice for processes without one

	limiter CPULimiter // optional, nil = no CPU-time limit enforcement
	current proc.PID   // 0 = idle
}

// NewCore creates a scheduling core. slice is the default time-slice applied
// to processes that do not carry their own.
func NewCore(id int, table *proc.Table, queue *ReadyQueue, engine proc.ContextEngine, slice time.Duration) *Core {
	return &Core{
		id:     id,
		table:  table,
		queue:  queue,
		engine: engine,
		slice:  slice,
	}
}

// ID returns the core number.
func (c *Core) ID() int { return c.id }

// SetLimiter wires CPU-time limit enforcement into the tick path.
func (c *Core) SetLimiter(l CPULimiter) { c.limiter = l }

// Current returns the PID running on this core, 0 if idle.
func (c *Core) Current() proc.PID { return c.current }

// Schedule is the selection step: pending signals are delivered to the
// running process first (the defined delivery point), then, if the core is
// idle, the algorithm picks the next process and its context is switched in.
// Returns the running PID and whether a switch happened.
func (c *Core) Schedule(now time.Time) (proc.PID, bool, []proc.Delivery) {
	deliveries := c.deliverSignals()

	if c.current != 0 {
		// Signal delivery may have terminated or stopped the process.
		p, err := c.table.Get(c.current)
		if err != nil || p.State != proc.StateRunning {
			c.current = 0
		} else {
			return c.current, false, deliveries
		}
	}

	pid, ok := c.queue.Pop(now)
	if !ok {
		return 0, false, deliveries
	}
	if err := c.table.MarkRunning(pid, now); err != nil {
		// Lost the race against a concurrent terminate: drop membership.
		c.queue.Take(pid)
		synlog.For("sched").Debug("dispatch race", "core", c.id, "pid", pid, "err", err)
		return 0, false, deliveries
	}

	c.switchIn(pid)
	c.current = pid
	return pid, true, deliveries
}

// Tick accounts delta of CPU time to the running process and preempts it
// when its time-slice expires (involuntary switch). Driven by the external
// timer interrupt.
func (c *Core) Tick(now time.Time, delta time.Duration) {
	if c.current == 0 {
		return
	}
	if err := c.table.ChargeCPU(c.current, delta); err != nil {
		c.current = 0
		return
	}
	if c.limiter != nil {
		if err := c.limiter.ChargeCPU(c.current, delta); err != nil {
			if errors.Is(err, proc.ErrResourceExhausted) {
				// The process ran past its CPU-time budget: kill it.
				synlog.For("sched").Warn("cpu limit exceeded",
					"core", c.id, "pid", c.current, "err", err)
				_ = c.table.SendSignal(0, c.current, proc.SIGKILL)
				c.current = 0
				return
			}
			synlog.For("sched").Debug("cpu charge", "core", c.id, "pid", c.current, "err", err)
		}
	}

	p, err := c.table.Get(c.current)
	if err != nil || p.State != proc.StateRunning {
		c.current = 0
		return
	}

	slice := p.TimeSlice
	if slice == 0 {
		slice = c.slice
	}
	if p.SliceUsed >= slice {
		c.preempt(&p)
	}
}

// Yield requeues the running process voluntarily.
func (c *Core) Yield() error {
	if c.current == 0 {
		return fmt.Errorf("yield on idle core %d: %w", c.id, proc.ErrInvalidState)
	}
	pid := c.current
	c.switchOut(pid)
	if err := c.table.ToReady(pid, true); err != nil {
		return fmt.Errorf("yield PID %d: %w", pid, err)
	}
	p, err := c.table.Get(pid)
	if err == nil {
		c.queue.Requeue(&p)
	}
	c.current = 0
	return nil
}

// BlockCurrent moves the running process out of the ready set for the given
// reason (I/O wait, semaphore wait). It re-enters only on explicit wake.
func (c *Core) BlockCurrent(reason proc.BlockReason) error {
	if c.current == 0 {
		return fmt.Errorf("block on idle core %d: %w", c.id, proc.ErrInvalidState)
	}
	pid := c.current
	c.switchOut(pid)
	if err := c.table.Block(pid, reason); err != nil {
		return fmt.Errorf("block PID %d: %w", pid, err)
	}
	c.current = 0
	return nil
}

// preempt forces the running process back to Ready after slice expiry.
func (c *Core) preempt(p *proc.Process) {
	pid := p.PID
	c.switchOut(pid)
	if err := c.table.ToReady(pid, false); err != nil {
		c.current = 0
		return
	}
	snap, err := c.table.Get(pid)
	if err == nil {
		c.queue.Requeue(&snap)
	}
	synlog.For("sched").Debug("preempted", "core", c.id, "pid", pid)
	c.current = 0
}

// deliverSignals consumes the pending queue of the running process.
// Custom-handler signals are returned for the caller to arrange the switch
// into user handler code; defaults are applied by the router.
func (c *Core) deliverSignals() []proc.Delivery {
	if c.current == 0 {
		return nil
	}
	deliveries, err := c.table.Router().DeliverPending(c.current)
	if err != nil {
		synlog.For("sched").Debug("signal delivery", "core", c.id, "pid", c.current, "err", err)
	}
	return deliveries
}

// switchIn restores the saved register context of a dispatched process.
func (c *Core) switchIn(pid proc.PID) {
	_ = c.table.Update(pid, func(p *proc.Process) {
		if !p.Ctx.Empty() {
			c.engine.Restore(p, p.Ctx)
		}
	})
}

// switchOut saves the register context of the process leaving the core.
func (c *Core) switchOut(pid proc.PID) {
	_ = c.table.Update(pid, func(p *proc.Process) {
		p.Ctx = c.engine.Save(p)
	})
}
