package proc

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// ReadySet is the scheduler's account of schedulable processes. The table
// keeps PCB state and ready-set membership in lockstep: a process is a member
// if and only if it is Ready or Running.
type ReadySet interface {
	// Add makes a process schedulable. Idempotent.
	Add(p *Process)
	// Take removes a process from the set entirely (block/terminate).
	// Returns false if the process was not a member.
	Take(pid PID) bool
	// Contains reports membership.
	Contains(pid PID) bool
}

// ResourceHook is implemented by the resource tracker. The table invokes it
// on create/fork/exec/terminate; it must be safe to call Cleanup twice.
type ResourceHook interface {
	Initialize(pid PID)
	ForkResources(parent, child PID) error
	ExecReset(pid PID)
	Cleanup(pid PID)
}

// CreateRequest describes a fresh process to create.
type CreateRequest struct {
	Parent    PID // 0 = no parent
	Name      string
	User      string
	Class     Class
	Args      []string
	Env       []string
	TimeSlice time.Duration
	Deadline  time.Time // realtime processes only
}

// Table is the process table: the single source of truth for process
// existence and state. All subsystems receive it by constructor injection;
// there is no global instance.
type Table struct {
	mu      sync.Mutex
	cond    *sync.Cond // signalled when a child terminates (wakes waiters)
	procs   map[PID]*Process
	nextPID PID
	maxPID  PID // 0 = unbounded
	termSeq uint64

	ready       ReadySet
	resources   ResourceHook
	eventLog    *EventLog
	router      *Router
	onTerminate []func(PID) // external collaborators: memory/IPC release
}

// NewTable creates an empty process table. PID 0 is reserved for the kernel
// itself; allocation starts at 1 so the first process is init.
func NewTable() *Table {
	t := &Table{
		procs:   make(map[PID]*Process),
		nextPID: InitPID,
	}
	t.cond = sync.NewCond(&t.mu)
	t.router = NewRouter(t)
	return t
}

// Router returns the signal router bound to this table.
func (t *Table) Router() *Router { return t.router }

// SetReadySet wires the scheduler's ready structure. Must be called before
// the first Create.
func (t *Table) SetReadySet(rs ReadySet) { t.ready = rs }

// SetResources wires the resource tracker.
func (t *Table) SetResources(rh ResourceHook) { t.resources = rh }

// SetEventLog wires an EventLog so mutations emit events.
func (t *Table) SetEventLog(el *EventLog) { t.eventLog = el }

// SetMaxPID bounds the PID space (0 = unbounded). Used to exercise the
// identity-exhaustion path in tests.
func (t *Table) SetMaxPID(max PID) { t.maxPID = max }

// OnTerminate registers a callback run after a process terminates, outside
// the table lock. The kernel registers the external memory and IPC managers
// here so their per-process resources are released.
func (t *Table) OnTerminate(fn func(PID)) {
	t.onTerminate = append(t.onTerminate, fn)
}

func (t *Table) emit(evt Event) {
	if t.eventLog != nil {
		t.eventLog.Emit(evt)
	}
}

// Create allocates a PID, initializes a PCB in Ready, registers it with the
// resource tracker and the ready set. Fails only on identity exhaustion.
func (t *Table) Create(req CreateRequest) (PID, error) {
	t.mu.Lock()

	if req.Parent != 0 {
		if _, ok := t.procs[req.Parent]; !ok {
			t.mu.Unlock()
			return 0, fmt.Errorf("create %q: parent %d: %w", req.Name, req.Parent, ErrProcessNotFound)
		}
	}
	if t.maxPID != 0 && t.nextPID > t.maxPID {
		t.mu.Unlock()
		return 0, fmt.Errorf("create %q: PID space: %w", req.Name, ErrResourceExhausted)
	}

	pid := t.nextPID
	t.nextPID++

	now := time.Now()
	p := &Process{
		PID:       pid,
		PPID:      req.Parent,
		User:      req.User,
		Name:      req.Name,
		Args:      append([]string(nil), req.Args...),
		Env:       append([]string(nil), req.Env...),
		State:     StateReady,
		Class:     req.Class,
		TimeSlice: req.TimeSlice,
		Deadline:  req.Deadline,
		Sig:       newSignalState(),
		StartedAt: now,
		UpdatedAt: now,
	}
	t.procs[pid] = p

	if req.Parent != 0 {
		parent := t.procs[req.Parent]
		parent.Children = append(parent.Children, pid)
	}

	if t.resources != nil {
		t.resources.Initialize(pid)
	}
	if t.ready != nil {
		t.ready.Add(p)
	}
	t.emit(eventCreated(p))
	t.mu.Unlock()
	return pid, nil
}

// Fork clones the parent PCB under a new identity. Counters, signal queue
// and children are reset; args, env, context, mask and dispositions are
// deep-copied. Handle duplication follows the resource tracker's
// inheritance flags. The child starts Ready.
func (t *Table) Fork(parent PID) (PID, error) {
	t.mu.Lock()

	pp, ok := t.procs[parent]
	if !ok {
		t.mu.Unlock()
		return 0, fmt.Errorf("fork: parent %d: %w", parent, ErrProcessNotFound)
	}
	if pp.State == StateTerminated {
		t.mu.Unlock()
		return 0, fmt.Errorf("fork: parent %d is terminated: %w", parent, ErrInvalidState)
	}
	if t.maxPID != 0 && t.nextPID > t.maxPID {
		t.mu.Unlock()
		return 0, fmt.Errorf("fork: PID space: %w", ErrResourceExhausted)
	}

	pid := t.nextPID
	t.nextPID++

	now := time.Now()
	c := pp.clone()
	c.PID = pid
	c.PPID = parent
	c.State = StateReady
	c.Reason = BlockNone
	c.Stopped = false
	c.ExitCode = 0
	c.CPUTime = 0
	c.VRuntime = 0
	c.SliceUsed = 0
	c.LastScheduled = time.Time{}
	c.Sig.Pending = nil
	c.Stats = Stats{}
	c.StartedAt = now
	c.UpdatedAt = now
	c.TerminatedAt = time.Time{}
	c.termSeq = 0

	t.procs[pid] = c
	pp.Children = append(pp.Children, pid)

	if t.resources != nil {
		if err := t.resources.ForkResources(parent, pid); err != nil {
			// Undo the registration: the child never existed.
			delete(t.procs, pid)
			pp.Children = pp.Children[:len(pp.Children)-1]
			t.mu.Unlock()
			return 0, fmt.Errorf("fork from %d: %w", parent, err)
		}
	}
	if t.ready != nil {
		t.ready.Add(c)
	}
	t.emit(eventForked(c))
	t.mu.Unlock()
	return pid, nil
}

// Exec reinitializes a process in place for a new program: name, args and
// env are replaced, signal handlers reset to default and non-inherited
// handles closed. PID, parent linkage, the signal mask and CPU-time
// accounting are preserved.
func (t *Table) Exec(pid PID, program string, args, env []string) error {
	t.mu.Lock()

	p, ok := t.procs[pid]
	if !ok {
		t.mu.Unlock()
		return fmt.Errorf("exec %q: PID %d: %w", program, pid, ErrProcessNotFound)
	}
	if p.State == StateTerminated {
		t.mu.Unlock()
		return fmt.Errorf("exec %q: PID %d is terminated: %w", program, pid, ErrInvalidState)
	}

	p.Name = program
	p.Args = append([]string(nil), args...)
	p.Env = append([]string(nil), env...)
	p.Sig.Dispositions = make(map[Signal]Disposition)
	p.Ctx = Context{}
	p.UpdatedAt = time.Now()

	if t.resources != nil {
		t.resources.ExecReset(pid)
	}
	t.emit(eventExeced(p))
	t.mu.Unlock()
	return nil
}

// Terminate transitions a process to Terminated(exitCode). The PCB is
// retained as a zombie until the parent reaps it via Wait. Children are
// re-parented to init, resource bindings released, and SIGCHLD delivered to
// the parent.
func (t *Table) Terminate(pid PID, exitCode int) error {
	t.mu.Lock()

	p, ok := t.procs[pid]
	if !ok {
		t.mu.Unlock()
		return fmt.Errorf("terminate PID %d: %w", pid, ErrProcessNotFound)
	}
	if p.State == StateTerminated {
		t.mu.Unlock()
		return fmt.Errorf("terminate PID %d twice: %w", pid, ErrInvalidState)
	}

	wasMember := p.Runnable()
	if t.ready != nil && wasMember {
		if !t.ready.Take(pid) {
			// State said schedulable but the ready structure disagreed.
			// Scheduling cannot proceed on inconsistent state.
			panic(fmt.Sprintf("proc: table corrupt: PID %d %s but absent from ready set", pid, p.State))
		}
	}

	p.State = StateTerminated
	p.Reason = BlockNone
	p.Stopped = false
	p.ExitCode = exitCode
	p.Sig.Pending = nil
	t.termSeq++
	p.termSeq = t.termSeq
	p.TerminatedAt = time.Now()
	p.UpdatedAt = p.TerminatedAt

	// Orphan adoption: surviving children (including zombies) move under
	// init so they can still be waited on.
	t.adoptChildrenLocked(p)

	ppid := p.PPID
	t.emit(eventTerminated(p))

	t.mu.Unlock()

	if t.resources != nil {
		t.resources.Cleanup(pid)
	}
	for _, fn := range t.onTerminate {
		fn(pid)
	}
	if ppid != 0 {
		_ = t.router.Send(0, ppid, SIGCHLD)
	}

	// Wake any parent blocked in Wait.
	t.mu.Lock()
	t.cond.Broadcast()
	t.mu.Unlock()
	return nil
}

// adoptChildrenLocked re-parents the children of a dying process to init.
// If init itself is dying (or absent), children become parentless.
func (t *Table) adoptChildrenLocked(dying *Process) {
	if len(dying.Children) == 0 {
		return
	}
	var adoptive *Process
	if dying.PID != InitPID {
		if ip, ok := t.procs[InitPID]; ok && ip.State != StateTerminated {
			adoptive = ip
		}
	}
	for _, cpid := range dying.Children {
		c, ok := t.procs[cpid]
		if !ok {
			continue
		}
		if adoptive != nil {
			c.PPID = adoptive.PID
			adoptive.Children = append(adoptive.Children, cpid)
		} else {
			c.PPID = 0
		}
	}
	dying.Children = nil
}

// Wait blocks the calling process until a matching zombie child exists, then
// reaps it and returns its PID and exit code. child 0 matches any child;
// ties break to the earliest-terminated. If the parent has no children that
// could ever satisfy the wait, it fails immediately with ErrNoChildAvailable
// instead of blocking forever.
//
// The suspension is cooperative at the process level: the parent transitions
// to Blocked(wait_child) and leaves the ready set, so cores keep scheduling
// other processes.
func (t *Table) Wait(parent PID, child PID) (PID, int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	blocked := false
	for {
		pp, ok := t.procs[parent]
		if !ok {
			return 0, 0, fmt.Errorf("wait: parent %d: %w", parent, ErrProcessNotFound)
		}

		if z := t.matchZombieLocked(pp, child); z != nil {
			pid, code := z.PID, z.ExitCode
			t.reapLocked(pp, z)
			if blocked {
				t.unblockLocked(pp)
			}
			return pid, code, nil
		}

		if !t.hasWaitableLocked(pp, child) {
			if blocked {
				t.unblockLocked(pp)
			}
			return 0, 0, fmt.Errorf("wait: PID %d: %w", parent, ErrNoChildAvailable)
		}

		if !blocked {
			t.blockLocked(pp, BlockWaitChild)
			blocked = true
		}
		t.cond.Wait()
	}
}

// matchZombieLocked returns the earliest-terminated zombie child matching
// the selector, or nil.
func (t *Table) matchZombieLocked(parent *Process, child PID) *Process {
	var best *Process
	for _, cpid := range parent.Children {
		if child != 0 && cpid != child {
			continue
		}
		c, ok := t.procs[cpid]
		if !ok || c.State != StateTerminated {
			continue
		}
		if best == nil || c.termSeq < best.termSeq {
			best = c
		}
	}
	return best
}

// hasWaitableLocked reports whether any child could still satisfy the wait.
func (t *Table) hasWaitableLocked(parent *Process, child PID) bool {
	for _, cpid := range parent.Children {
		if child != 0 && cpid != child {
			continue
		}
		if _, ok := t.procs[cpid]; ok {
			return true
		}
	}
	return false
}

// reapLocked removes a zombie PCB from the table and the parent's child list.
func (t *Table) reapLocked(parent, zombie *Process) {
	delete(t.procs, zombie.PID)
	for i, cpid := range parent.Children {
		if cpid == zombie.PID {
			parent.Children = append(parent.Children[:i], parent.Children[i+1:]...)
			break
		}
	}
	t.emit(eventReaped(zombie))
}

// SendSignal delivers a signal from sender to target via the router.
// sender 0 is the kernel.
func (t *Table) SendSignal(sender, target PID, sig Signal) error {
	return t.router.Send(sender, target, sig)
}

// --- Scheduler-facing transitions ---

// MarkRunning transitions a Ready process to Running on dispatch: updates
// its last-scheduled timestamp and resets the consumed slice.
func (t *Table) MarkRunning(pid PID, now time.Time) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.procs[pid]
	if !ok {
		return fmt.Errorf("dispatch PID %d: %w", pid, ErrProcessNotFound)
	}
	if p.State != StateReady {
		return fmt.Errorf("dispatch PID %d in state %s: %w", pid, p.State, ErrInvalidState)
	}
	p.State = StateRunning
	p.LastScheduled = now
	p.SliceUsed = 0
	p.UpdatedAt = now
	return nil
}

// ToReady transitions a Running process back to Ready. voluntary marks a
// yield; involuntary a time-slice preemption. The matching context-switch
// counter is incremented.
func (t *Table) ToReady(pid PID, voluntary bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.procs[pid]
	if !ok {
		return fmt.Errorf("requeue PID %d: %w", pid, ErrProcessNotFound)
	}
	if p.State != StateRunning {
		return fmt.Errorf("requeue PID %d in state %s: %w", pid, p.State, ErrInvalidState)
	}
	p.State = StateReady
	if voluntary {
		p.Stats.VoluntarySwitches++
	} else {
		p.Stats.InvoluntarySwitches++
	}
	p.SliceUsed = 0
	p.UpdatedAt = time.Now()
	t.emit(eventState(p, StateRunning, StateReady))
	return nil
}

// Block moves a Ready or Running process out of the ready set for the given
// reason (I/O wait, semaphore, wait-for-child, stop).
func (t *Table) Block(pid PID, reason BlockReason) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.procs[pid]
	if !ok {
		return fmt.Errorf("block PID %d: %w", pid, ErrProcessNotFound)
	}
	if !p.Runnable() {
		return fmt.Errorf("block PID %d in state %s: %w", pid, p.State, ErrInvalidState)
	}
	t.blockLocked(p, reason)
	return nil
}

// Unblock re-enters a Blocked process into the ready set (event satisfied).
func (t *Table) Unblock(pid PID) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.procs[pid]
	if !ok {
		return fmt.Errorf("unblock PID %d: %w", pid, ErrProcessNotFound)
	}
	if p.State != StateBlocked {
		return fmt.Errorf("unblock PID %d in state %s: %w", pid, p.State, ErrInvalidState)
	}
	t.unblockLocked(p)
	return nil
}

func (t *Table) blockLocked(p *Process, reason BlockReason) {
	old := p.State
	if p.State == StateRunning {
		p.Stats.VoluntarySwitches++
	}
	if t.ready != nil && p.Runnable() {
		t.ready.Take(p.PID)
	}
	p.State = StateBlocked
	p.Reason = reason
	p.UpdatedAt = time.Now()
	t.emit(eventState(p, old, StateBlocked))
}

func (t *Table) unblockLocked(p *Process) {
	old := p.State
	if p.Stopped {
		// A SIGSTOP arrived while the process was waiting: the wake is
		// consumed but the process stays blocked, now for the stop itself.
		p.Stopped = false
		p.Reason = BlockStopped
		p.UpdatedAt = time.Now()
		return
	}
	p.State = StateReady
	p.Reason = BlockNone
	p.UpdatedAt = time.Now()
	if t.ready != nil {
		t.ready.Add(p)
	}
	t.emit(eventState(p, old, StateReady))
}

// ChargeCPU accounts a slice of consumed CPU time to a process: raw CPU
// time, the consumed portion of the current slice, and virtual runtime
// weighted by the inverse of the priority weight.
func (t *Table) ChargeCPU(pid PID, delta time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.procs[pid]
	if !ok {
		return fmt.Errorf("charge PID %d: %w", pid, ErrProcessNotFound)
	}
	p.CPUTime += delta
	p.SliceUsed += delta
	p.VRuntime += delta / time.Duration(p.Class.Weight())
	return nil
}

// --- Mutators used by dynprio and accounting ---

// SetClass changes a process's priority class.
func (t *Table) SetClass(pid PID, class Class) error {
	return t.Update(pid, func(p *Process) { p.Class = class })
}

// SetNice sets the externally-supplied bias value in [0,1].
func (t *Table) SetNice(pid PID, nice float64) error {
	return t.Update(pid, func(p *Process) { p.Nice = nice })
}

// Update mutates a PCB in place under the table lock.
func (t *Table) Update(pid PID, fn func(*Process)) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.procs[pid]
	if !ok {
		return fmt.Errorf("update PID %d: %w", pid, ErrProcessNotFound)
	}
	fn(p)
	p.UpdatedAt = time.Now()
	return nil
}

// CountSyscall increments the syscall counter.
func (t *Table) CountSyscall(pid PID) {
	_ = t.Update(pid, func(p *Process) { p.Stats.Syscalls++ })
}

// CountIPCOp increments the IPC operation counter.
func (t *Table) CountIPCOp(pid PID) {
	_ = t.Update(pid, func(p *Process) { p.Stats.IPCOps++ })
}

// CountPageFault increments the page fault counter.
func (t *Table) CountPageFault(pid PID) {
	_ = t.Update(pid, func(p *Process) { p.Stats.PageFaults++ })
}

// --- Read-only queries ---

// Get returns a snapshot copy of a PCB.
func (t *Table) Get(pid PID) (Process, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.procs[pid]
	if !ok {
		return Process{}, fmt.Errorf("PID %d: %w", pid, ErrProcessNotFound)
	}
	return t.snapshotLocked(p), nil
}

// GetStats returns a copy of the monotonic counters for a process.
func (t *Table) GetStats(pid PID) (Stats, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.procs[pid]
	if !ok {
		return Stats{}, fmt.Errorf("stats for PID %d: %w", pid, ErrProcessNotFound)
	}
	return p.Stats, nil
}

// List returns snapshots of all processes (zombies included), sorted by PID.
func (t *Table) List() []Process {
	t.mu.Lock()
	defer t.mu.Unlock()

	list := make([]Process, 0, len(t.procs))
	for _, p := range t.procs {
		list = append(list, t.snapshotLocked(p))
	}
	sort.Slice(list, func(i, j int) bool { return list[i].PID < list[j].PID })
	return list
}

// PIDs returns all live PIDs, sorted.
func (t *Table) PIDs() []PID {
	t.mu.Lock()
	defer t.mu.Unlock()

	pids := make([]PID, 0, len(t.procs))
	for pid := range t.procs {
		pids = append(pids, pid)
	}
	sort.Slice(pids, func(i, j int) bool { return pids[i] < pids[j] })
	return pids
}

// ChildrenOf returns snapshots of the direct children in creation order.
func (t *Table) ChildrenOf(pid PID) []Process {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.procs[pid]
	if !ok {
		return nil
	}
	out := make([]Process, 0, len(p.Children))
	for _, cpid := range p.Children {
		if c, ok := t.procs[cpid]; ok {
			out = append(out, t.snapshotLocked(c))
		}
	}
	return out
}

// Len returns the number of live PCBs, zombies included.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.procs)
}

func (t *Table) snapshotLocked(p *Process) Process {
	c := *p
	c.Children = append([]PID(nil), p.Children...)
	c.Args = append([]string(nil), p.Args...)
	c.Env = append([]string(nil), p.Env...)
	c.Ctx = p.Ctx.Clone()
	c.Sig = p.Sig.clone()
	return c
}
