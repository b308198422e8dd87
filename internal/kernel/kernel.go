// Package kernel wires the process table, scheduler, resource tracker,
// dynamic priority engine and debug observer into one running system and
// exposes the in-process syscall-style API.
package kernel

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/TLimoges33/Syn-OS-sub002/internal/dynprio"
	"github.com/TLimoges33/Syn-OS-sub002/internal/observer"
	"github.com/TLimoges33/Syn-OS-sub002/internal/proc"
	"github.com/TLimoges33/Syn-OS-sub002/internal/resources"
	"github.com/TLimoges33/Syn-OS-sub002/internal/sched"
	"github.com/TLimoges33/Syn-OS-sub002/internal/synlog"
)

// Kernel is the assembled process lifecycle and scheduling core.
type Kernel struct {
	cfg      Config
	table    *proc.Table
	queue    *sched.ReadyQueue
	cores    []*sched.Core
	tracker  *resources.Tracker
	engine   *dynprio.Engine
	recorder *observer.Recorder
	events   *proc.EventLog
	tree     *proc.TreeOps
	memory   MemoryManager
	ipc      IPCManager

	mu       sync.Mutex // guards core dispatch (Schedule/Tick per core)
	stopOnce sync.Once
	stopped  chan struct{}
}

// Option customizes kernel construction.
type Option func(*Kernel)

// WithMemoryManager replaces the built-in flat memory manager.
func WithMemoryManager(m MemoryManager) Option {
	return func(k *Kernel) { k.memory = m }
}

// WithIPCManager wires an external IPC subsystem.
func WithIPCManager(m IPCManager) Option {
	return func(k *Kernel) { k.ipc = m }
}

// WithAffinity supplies the external affinity score source for the dynamic
// priority engine.
func WithAffinity(fn dynprio.AffinityFunc) Option {
	return func(k *Kernel) { k.engine = dynprio.NewEngine(k.table, k.cfg.Rules(), fn) }
}

// New assembles a kernel from config. The first created process should be
// init (PID 1); orphans are re-parented to it.
func New(cfg Config, opts ...Option) (*Kernel, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	events, err := proc.NewEventLog(cfg.EventLogSize, cfg.EventLogPath)
	if err != nil {
		return nil, fmt.Errorf("kernel: %w", err)
	}

	table := proc.NewTable()
	tracker := resources.NewTracker(cfg.Limits())
	recorder := observer.NewRecorder(table)

	queue := sched.NewReadyQueue(cfg.NewAlgorithm(recorder.RecordMiss))

	table.SetReadySet(queue)
	table.SetResources(tracker)
	table.SetEventLog(events)

	k := &Kernel{
		cfg:      cfg,
		table:    table,
		queue:    queue,
		tracker:  tracker,
		recorder: recorder,
		events:   events,
		tree:     proc.NewTreeOps(table),
		memory:   NewFlatMemoryManager(),
		ipc:      NoopIPCManager{},
		stopped:  make(chan struct{}),
	}
	k.engine = dynprio.NewEngine(table, cfg.Rules(), nil)

	for _, opt := range opts {
		opt(k)
	}

	table.OnTerminate(k.memory.CleanupProcessMemory)
	table.OnTerminate(k.ipc.ReleaseResourcesFor)

	engine := proc.SoftwareContextEngine{}
	for i := 0; i < cfg.Cores; i++ {
		core := sched.NewCore(i, table, queue, engine, cfg.TimeSlice)
		core.SetLimiter(tracker)
		k.cores = append(k.cores, core)
	}

	synlog.For("kernel").Info("assembled",
		"node", cfg.NodeName, "cores", cfg.Cores, "algorithm", queue.AlgorithmName())
	return k, nil
}

// Table exposes the process table for subsystems built on top of the kernel.
func (k *Kernel) Table() *proc.Table { return k.table }

// Events exposes the event log for observers.
func (k *Kernel) Events() *proc.EventLog { return k.events }

// Recorder exposes the debug observer.
func (k *Kernel) Recorder() *observer.Recorder { return k.recorder }

// Engine exposes the dynamic priority engine.
func (k *Kernel) Engine() *dynprio.Engine { return k.engine }

// Tracker exposes the resource tracker.
func (k *Kernel) Tracker() *resources.Tracker { return k.tracker }

// Tree exposes process tree operations (descendants, branch kill, reparent).
func (k *Kernel) Tree() *proc.TreeOps { return k.tree }

// --- Syscall-style API ---

// CreateProcess creates a fresh process and allocates its stack.
func (k *Kernel) CreateProcess(req proc.CreateRequest) (proc.PID, error) {
	pid, err := k.table.Create(req)
	if err != nil {
		return 0, err
	}
	if err := k.allocateStack(pid); err != nil {
		_ = k.table.Terminate(pid, 1)
		return 0, err
	}
	k.table.CountSyscall(req.Parent)
	return pid, nil
}

// Fork clones an existing process. The child inherits the parent's stack
// image through the resource tracker's fork copy.
func (k *Kernel) Fork(parent proc.PID) (proc.PID, error) {
	pid, err := k.table.Fork(parent)
	if err != nil {
		return 0, err
	}
	k.table.CountSyscall(parent)
	return pid, nil
}

// Exec replaces a process's program in place and gives it a fresh stack.
func (k *Kernel) Exec(pid proc.PID, program string, args, env []string) error {
	if err := k.table.Exec(pid, program, args, env); err != nil {
		return err
	}
	k.table.CountSyscall(pid)
	return k.allocateStack(pid)
}

// Terminate ends a process with the given exit code.
func (k *Kernel) Terminate(pid proc.PID, exitCode int) error {
	return k.table.Terminate(pid, exitCode)
}

// SendSignal delivers a signal from sender to target. Sender 0 is the kernel.
func (k *Kernel) SendSignal(sender, target proc.PID, sig proc.Signal) error {
	if sender != 0 {
		k.table.CountSyscall(sender)
	}
	return k.table.SendSignal(sender, target, sig)
}

// Wait blocks the parent until a matching child terminates, then reaps it.
// child 0 matches any child.
func (k *Kernel) Wait(parent, child proc.PID) (proc.PID, int, error) {
	k.table.CountSyscall(parent)
	return k.table.Wait(parent, child)
}

// GetProcessInfo returns a snapshot of one PCB.
func (k *Kernel) GetProcessInfo(pid proc.PID) (proc.Process, error) {
	return k.table.Get(pid)
}

// ListProcesses returns snapshots of all processes sorted by PID.
func (k *Kernel) ListProcesses() []proc.Process {
	return k.table.List()
}

// GetProcessStats returns the monotonic counters for a process.
func (k *Kernel) GetProcessStats(pid proc.PID) (proc.Stats, error) {
	return k.table.GetStats(pid)
}

// Usage returns the resource accounting view for a process.
func (k *Kernel) Usage(pid proc.PID) (resources.Usage, error) {
	return k.tracker.Usage(pid)
}

func (k *Kernel) allocateStack(pid proc.PID) error {
	size := k.cfg.StackSize
	if size == 0 {
		size = 1 << 20
	}
	base, err := k.memory.AllocateStack(pid, size)
	if err != nil {
		return fmt.Errorf("stack for PID %d: %w", pid, err)
	}
	if err := k.tracker.AllocateMemory(pid, base, size, resources.PermRead|resources.PermWrite); err != nil {
		return fmt.Errorf("stack for PID %d: %w", pid, err)
	}
	return nil
}

// --- Scheduling entry points ---

// Schedule runs one selection step on every core and returns the PIDs now
// running (0 for an idle core).
func (k *Kernel) Schedule(now time.Time) []proc.PID {
	k.mu.Lock()
	defer k.mu.Unlock()

	out := make([]proc.PID, len(k.cores))
	for i, core := range k.cores {
		pid, _, _ := core.Schedule(now)
		out[i] = pid
	}
	return out
}

// HandleTimerInterrupt is the external timer source's entry point: it charges
// delta to every running process, preempts expired slices, redispatches, and
// advances the dynamic priority engine's revert clock.
func (k *Kernel) HandleTimerInterrupt(now time.Time, delta time.Duration) {
	k.mu.Lock()
	for _, core := range k.cores {
		core.Tick(now, delta)
		core.Schedule(now)
	}
	k.mu.Unlock()

	k.engine.Tick(now)
}

// Run drives the kernel from an internal ticker until ctx is done. Each tick
// acts as one timer interrupt.
func (k *Kernel) Run(ctx context.Context) {
	interval := k.cfg.TickInterval
	if interval <= 0 {
		interval = 5 * time.Millisecond
	}

	events := k.events.SubscribeSince(0, 256)
	go k.recorder.Run(ctx, events)
	go NewMonitor(DefaultMonitorConfig(), k.table).Run(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			k.Shutdown()
			return
		case now := <-ticker.C:
			k.HandleTimerInterrupt(now, now.Sub(last))
			last = now
		}
	}
}

// Shutdown flushes and closes the event log. Safe to call more than once.
func (k *Kernel) Shutdown() {
	k.stopOnce.Do(func() {
		k.events.Close()
		close(k.stopped)
		synlog.For("kernel").Info("shut down", "node", k.cfg.NodeName)
	})
}
