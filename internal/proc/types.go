package proc

import (
	"time"
)

// PID is a unique process identifier.
// PIDs are allocated monotonically and never reused: the 64-bit space is
// large enough that exhaustion is a theoretical ResourceExhausted condition.
type PID = uint64

// InitPID is the first allocated process, the adoptive parent for orphans.
const InitPID PID = 1

// State represents the lifecycle state of a process.
type State int

const (
	StateReady      State = iota // runnable, present in the ready structure
	StateRunning                 // currently executing on a core
	StateBlocked                 // waiting for an event, not schedulable
	StateTerminated              // exited, zombie until reaped
)

func (s State) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StateRunning:
		return "running"
	case StateBlocked:
		return "blocked"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// BlockReason says why a blocked process is blocked.
type BlockReason int

const (
	BlockNone      BlockReason = iota
	BlockWaitChild             // waiting for a child to terminate
	BlockIO                    // waiting for I/O completion
	BlockSemaphore             // waiting on a semaphore
	BlockStopped               // stopped by SIGSTOP, resumed by SIGCONT
)

func (r BlockReason) String() string {
	switch r {
	case BlockNone:
		return "none"
	case BlockWaitChild:
		return "wait_child"
	case BlockIO:
		return "io"
	case BlockSemaphore:
		return "semaphore"
	case BlockStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Class is the scheduling priority class of a process.
type Class int

const (
	ClassLow Class = iota
	ClassNormal
	ClassHigh
	ClassRealtime
)

func (c Class) String() string {
	switch c {
	case ClassLow:
		return "low"
	case ClassNormal:
		return "normal"
	case ClassHigh:
		return "high"
	case ClassRealtime:
		return "realtime"
	default:
		return "unknown"
	}
}

// Weight returns the fair-share weight of a class. Higher weight means
// virtual runtime accumulates slower, so the process gets more CPU.
func (c Class) Weight() int64 {
	switch c {
	case ClassLow:
		return 1
	case ClassNormal:
		return 2
	case ClassHigh:
		return 4
	case ClassRealtime:
		return 8
	default:
		return 1
	}
}

// Stats holds monotonically increasing per-process counters.
// They are never reset and are read by the debug observer.
type Stats struct {
	PageFaults          uint64
	VoluntarySwitches   uint64
	InvoluntarySwitches uint64
	Syscalls            uint64
	IPCOps              uint64
	DeadlineMisses      uint64
}

// Process is the process control block: the canonical per-process record.
// All fields are guarded by the owning Table's lock; external readers get
// copies via Table.Get / Table.List.
type Process struct {
	PID      PID
	PPID     PID   // 0 = no parent
	Children []PID // insertion order = creation order
	User     string
	Name     string
	Args     []string
	Env      []string

	State    State
	Reason   BlockReason
	// Stopped marks a SIGSTOP received while already Blocked for another
	// reason. The original Reason is kept so the pending wake stays valid;
	// the stop takes effect if the wake arrives first.
	Stopped  bool
	ExitCode int

	// Scheduling fields.
	Class         Class
	Nice          float64 // externally-supplied bias in [0,1], see dynprio
	CPUTime       time.Duration
	VRuntime      time.Duration // priority-weighted CPU time (fair-share)
	LastScheduled time.Time
	TimeSlice     time.Duration
	SliceUsed     time.Duration
	Deadline      time.Time // zero = no realtime deadline

	// Register snapshot, saved when not Running. Owned by the PCB.
	Ctx Context

	Sig   SignalState
	Stats Stats

	StartedAt    time.Time
	UpdatedAt    time.Time
	TerminatedAt time.Time

	// termSeq orders zombies by termination for wait tie-breaking.
	termSeq uint64
}

// clone deep-copies a PCB for fork. Identity, counters and signal queue are
// reset by the caller.
func (p *Process) clone() *Process {
	c := *p
	c.Children = nil
	c.Args = append([]string(nil), p.Args...)
	c.Env = append([]string(nil), p.Env...)
	c.Ctx = p.Ctx.Clone()
	c.Sig = p.Sig.clone()
	return &c
}

// Runnable reports whether the process belongs in the ready structure.
func (p *Process) Runnable() bool {
	return p.State == StateReady || p.State == StateRunning
}

// Zombie reports whether the process has terminated but not been reaped.
func (p *Process) Zombie() bool {
	return p.State == StateTerminated
}
