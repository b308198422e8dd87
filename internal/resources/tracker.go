// Package resources tracks per-process memory allocations, open handles and
// resource limits. The process table invokes it on create/fork/exec/
// terminate; everything else reads through the read-only query API.
package resources

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/TLimoges33/Syn-OS-sub002/internal/proc"
	"github.com/TLimoges33/Syn-OS-sub002/internal/synlog"
)

// Perm is a memory region permission bitmask.
type Perm uint8

const (
	PermRead Perm = 1 << iota
	PermWrite
	PermExec
)

func (p Perm) String() string {
	buf := []byte("---")
	if p&PermRead != 0 {
		buf[0] = 'r'
	}
	if p&PermWrite != 0 {
		buf[1] = 'w'
	}
	if p&PermExec != 0 {
		buf[2] = 'x'
	}
	return string(buf)
}

// HandleFlag describes open-handle behavior across fork and exec.
type HandleFlag uint8

const (
	// FlagInherit duplicates the handle into fork children.
	FlagInherit HandleFlag = 1 << iota
	// FlagCloseOnExec closes the handle when the process execs.
	FlagCloseOnExec
)

// MemoryRegion is one allocation record.
type MemoryRegion struct {
	Base        uint64
	Size        uint64
	Perms       Perm
	AllocatedAt time.Time
}

// Handle is one open file/IPC handle record.
type Handle struct {
	ID       int
	Path     string
	Flags    HandleFlag
	OpenedAt time.Time
}

// Limits bounds what a process may consume. Zero means unlimited.
type Limits struct {
	MaxMemory  uint64
	MaxHandles int
	MaxCPUTime time.Duration
	MaxStack   uint64
}

// Usage is the read-only view of a process's accounting, for cross-process
// queries (e.g. a parent inspecting a child). Mutation always goes through
// the owning pid's operations.
type Usage struct {
	MemoryBytes uint64
	Regions     []MemoryRegion
	Handles     []Handle
	CPUTime     time.Duration
	Limits      Limits
}

// account is the per-pid record set, owned exclusively by that pid's
// accounting context.
type account struct {
	limits     Limits
	regions    map[uint64]MemoryRegion
	handles    map[int]Handle
	nextHandle int
	memUsed    uint64
	cpuUsed    time.Duration
}

// Tracker is the resource accounting table, keyed by PID.
type Tracker struct {
	mu       sync.RWMutex
	accounts map[proc.PID]*account
	defaults Limits
}

// NewTracker creates a tracker applying the given default limits to every
// new process.
func NewTracker(defaults Limits) *Tracker {
	return &Tracker{
		accounts: make(map[proc.PID]*account),
		defaults: defaults,
	}
}

// Initialize opens an accounting context for a new process.
func (t *Tracker) Initialize(pid proc.PID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.accounts[pid]; ok {
		return
	}
	t.accounts[pid] = &account{
		limits:  t.defaults,
		regions: make(map[uint64]MemoryRegion),
		handles: make(map[int]Handle),
	}
}

// SetLimits replaces the limits for a process.
func (t *Tracker) SetLimits(pid proc.PID, limits Limits) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	a, ok := t.accounts[pid]
	if !ok {
		return fmt.Errorf("limits for PID %d: %w", pid, proc.ErrProcessNotFound)
	}
	a.limits = limits
	return nil
}

// ForkResources copies the parent's accounting into a fresh child context:
// memory regions are copied, handles are duplicated only when marked
// FlagInherit, limits are inherited. The copy is all-or-nothing: if the
// child's limits cannot hold the inherited set, nothing is created.
func (t *Tracker) ForkResources(parent, child proc.PID) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	pa, ok := t.accounts[parent]
	if !ok {
		return fmt.Errorf("fork resources: parent %d: %w", parent, proc.ErrProcessNotFound)
	}

	inherited := 0
	for _, h := range pa.handles {
		if h.Flags&FlagInherit != 0 {
			inherited++
		}
	}
	if pa.limits.MaxMemory > 0 && pa.memUsed > pa.limits.MaxMemory {
		return fmt.Errorf("fork resources: child %d memory: %w", child, proc.ErrResourceExhausted)
	}
	if pa.limits.MaxHandles > 0 && inherited > pa.limits.MaxHandles {
		return fmt.Errorf("fork resources: child %d handles: %w", child, proc.ErrResourceExhausted)
	}

	ca := &account{
		limits:     pa.limits,
		regions:    make(map[uint64]MemoryRegion, len(pa.regions)),
		handles:    make(map[int]Handle, inherited),
		nextHandle: pa.nextHandle,
		memUsed:    pa.memUsed,
	}
	for base, r := range pa.regions {
		ca.regions[base] = r
	}
	for id, h := range pa.handles {
		if h.Flags&FlagInherit != 0 {
			ca.handles[id] = h
		}
	}
	t.accounts[child] = ca
	return nil
}

// ExecReset applies exec semantics to the accounting: the memory map is
// dropped (the new program image replaces it) and close-on-exec handles are
// closed. CPU accounting and limits are preserved.
func (t *Tracker) ExecReset(pid proc.PID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	a, ok := t.accounts[pid]
	if !ok {
		return
	}
	a.regions = make(map[uint64]MemoryRegion)
	a.memUsed = 0
	for id, h := range a.handles {
		if h.Flags&FlagCloseOnExec != 0 {
			delete(a.handles, id)
		}
	}
}

// Cleanup releases everything a process holds. Idempotent: a second call on
// the same pid is a no-op.
func (t *Tracker) Cleanup(pid proc.PID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.accounts[pid]; !ok {
		return
	}
	delete(t.accounts, pid)
	synlog.For("resources").Debug("cleaned up", "pid", pid)
}

// AllocateMemory records an allocation. A request that would exceed
// MaxMemory fails with ResourceExhausted and records nothing.
func (t *Tracker) AllocateMemory(pid proc.PID, base, size uint64, perms Perm) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	a, ok := t.accounts[pid]
	if !ok {
		return fmt.Errorf("alloc for PID %d: %w", pid, proc.ErrProcessNotFound)
	}
	if _, exists := a.regions[base]; exists {
		return fmt.Errorf("alloc for PID %d at %#x: region exists: %w", pid, base, proc.ErrInvalidState)
	}
	if a.limits.MaxMemory > 0 && a.memUsed+size > a.limits.MaxMemory {
		return fmt.Errorf("alloc for PID %d: %d+%d exceeds max %d: %w",
			pid, a.memUsed, size, a.limits.MaxMemory, proc.ErrResourceExhausted)
	}

	a.regions[base] = MemoryRegion{Base: base, Size: size, Perms: perms, AllocatedAt: time.Now()}
	a.memUsed += size
	return nil
}

// FreeMemory releases a recorded allocation.
func (t *Tracker) FreeMemory(pid proc.PID, base uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	a, ok := t.accounts[pid]
	if !ok {
		return fmt.Errorf("free for PID %d: %w", pid, proc.ErrProcessNotFound)
	}
	r, exists := a.regions[base]
	if !exists {
		return fmt.Errorf("free for PID %d at %#x: %w", pid, base, proc.ErrInvalidState)
	}
	delete(a.regions, base)
	a.memUsed -= r.Size
	return nil
}

// OpenHandle records a new open file/IPC handle and returns its id.
func (t *Tracker) OpenHandle(pid proc.PID, path string, flags HandleFlag) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	a, ok := t.accounts[pid]
	if !ok {
		return 0, fmt.Errorf("open for PID %d: %w", pid, proc.ErrProcessNotFound)
	}
	if a.limits.MaxHandles > 0 && len(a.handles) >= a.limits.MaxHandles {
		return 0, fmt.Errorf("open for PID %d: %d handles at max: %w",
			pid, len(a.handles), proc.ErrResourceExhausted)
	}

	a.nextHandle++
	id := a.nextHandle
	a.handles[id] = Handle{ID: id, Path: path, Flags: flags, OpenedAt: time.Now()}
	return id, nil
}

// CloseHandle removes an open handle record.
func (t *Tracker) CloseHandle(pid proc.PID, id int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	a, ok := t.accounts[pid]
	if !ok {
		return fmt.Errorf("close for PID %d: %w", pid, proc.ErrProcessNotFound)
	}
	if _, exists := a.handles[id]; !exists {
		return fmt.Errorf("close for PID %d handle %d: %w", pid, id, proc.ErrInvalidState)
	}
	delete(a.handles, id)
	return nil
}

// ChargeCPU accounts consumed CPU time against the MaxCPUTime limit.
// Exceeding the limit returns ResourceExhausted so the caller can decide to
// terminate the process; the charge itself is still recorded.
func (t *Tracker) ChargeCPU(pid proc.PID, delta time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	a, ok := t.accounts[pid]
	if !ok {
		return fmt.Errorf("cpu charge for PID %d: %w", pid, proc.ErrProcessNotFound)
	}
	a.cpuUsed += delta
	if a.limits.MaxCPUTime > 0 && a.cpuUsed > a.limits.MaxCPUTime {
		return fmt.Errorf("cpu charge for PID %d: %s exceeds max %s: %w",
			pid, a.cpuUsed, a.limits.MaxCPUTime, proc.ErrResourceExhausted)
	}
	return nil
}

// Usage returns a read-only copy of a process's accounting.
func (t *Tracker) Usage(pid proc.PID) (Usage, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	a, ok := t.accounts[pid]
	if !ok {
		return Usage{}, fmt.Errorf("usage for PID %d: %w", pid, proc.ErrProcessNotFound)
	}

	u := Usage{
		MemoryBytes: a.memUsed,
		CPUTime:     a.cpuUsed,
		Limits:      a.limits,
		Regions:     make([]MemoryRegion, 0, len(a.regions)),
		Handles:     make([]Handle, 0, len(a.handles)),
	}
	for _, r := range a.regions {
		u.Regions = append(u.Regions, r)
	}
	sort.Slice(u.Regions, func(i, j int) bool { return u.Regions[i].Base < u.Regions[j].Base })
	for _, h := range a.handles {
		u.Handles = append(u.Handles, h)
	}
	sort.Slice(u.Handles, func(i, j int) bool { return u.Handles[i].ID < u.Handles[j].ID })
	return u, nil
}

// Tracked returns the number of live accounting contexts.
func (t *Tracker) Tracked() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.accounts)
}

var _ proc.ResourceHook = (*Tracker)(nil)
