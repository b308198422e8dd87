package kernel

import (
	"sync"

	"github.com/TLimoges33/Syn-OS-sub002/internal/proc"
	"github.com/TLimoges33/Syn-OS-sub002/internal/synlog"
)

// MemoryManager is the external memory subsystem the kernel collaborates
// with. The lifecycle core only needs two things from it: a stack for a new
// process, and release of everything on termination.
type MemoryManager interface {
	// AllocateStack reserves a stack region for a new process and returns
	// its base address.
	AllocateStack(pid proc.PID, size uint64) (uint64, error)
	// CleanupProcessMemory releases all memory held by a terminated process.
	CleanupProcessMemory(pid proc.PID)
}

// IPCManager is the external IPC subsystem. Terminating a process must
// release the IPC resources registered to it.
type IPCManager interface {
	ReleaseResourcesFor(pid proc.PID)
}

// FlatMemoryManager is the built-in memory manager: a bump allocator over a
// flat address space. Real hardware-backed managers satisfy the same
// interface.
type FlatMemoryManager struct {
	mu     sync.Mutex
	next   uint64
	stacks map[proc.PID]uint64
}

const stackRegionBase = 0x7f00_0000_0000

// NewFlatMemoryManager creates the built-in manager.
func NewFlatMemoryManager() *FlatMemoryManager {
	return &FlatMemoryManager{
		next:   stackRegionBase,
		stacks: make(map[proc.PID]uint64),
	}
}

// AllocateStack hands out the next free stack slot.
func (m *FlatMemoryManager) AllocateStack(pid proc.PID, size uint64) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	base := m.next
	m.next += size
	m.stacks[pid] = base
	return base, nil
}

// CleanupProcessMemory forgets the process's stack slot.
func (m *FlatMemoryManager) CleanupProcessMemory(pid proc.PID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.stacks[pid]; ok {
		delete(m.stacks, pid)
		synlog.For("memory").Debug("stack released", "pid", pid)
	}
}

// NoopIPCManager satisfies IPCManager for deployments without an IPC layer.
type NoopIPCManager struct{}

func (NoopIPCManager) ReleaseResourcesFor(proc.PID) {}

var (
	_ MemoryManager = (*FlatMemoryManager)(nil)
	_ IPCManager    = NoopIPCManager{}
)
