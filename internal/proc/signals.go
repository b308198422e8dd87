package proc

import (
	"fmt"
)

// Signal identifies a process signal, numbered after POSIX.
type Signal int

const (
	SIGHUP  Signal = 1  // parent changed / reload request
	SIGINT  Signal = 2  // interrupt
	SIGKILL Signal = 9  // forced termination, unmaskable, uncatchable
	SIGUSR1 Signal = 10 // user-defined
	SIGUSR2 Signal = 12 // user-defined
	SIGTERM Signal = 15 // graceful termination request
	SIGCHLD Signal = 17 // child terminated
	SIGCONT Signal = 18 // resume a stopped process, immediate
	SIGSTOP Signal = 19 // stop execution, unmaskable, uncatchable
)

func (s Signal) String() string {
	switch s {
	case SIGHUP:
		return "SIGHUP"
	case SIGINT:
		return "SIGINT"
	case SIGKILL:
		return "SIGKILL"
	case SIGUSR1:
		return "SIGUSR1"
	case SIGUSR2:
		return "SIGUSR2"
	case SIGTERM:
		return "SIGTERM"
	case SIGCHLD:
		return "SIGCHLD"
	case SIGCONT:
		return "SIGCONT"
	case SIGSTOP:
		return "SIGSTOP"
	default:
		return fmt.Sprintf("SIG(%d)", int(s))
	}
}

// DefaultAction is the built-in policy applied when a signal's disposition
// is DispDefault.
type DefaultAction int

const (
	ActionTerminate DefaultAction = iota // kill the process (128+signo exit)
	ActionIgnore                         // discard
	ActionStop                           // enter Blocked(stopped)
	ActionContinue                       // leave Blocked(stopped)
)

// defaultAction documents the built-in policy per signal:
//
//	SIGHUP, SIGINT, SIGTERM, SIGUSR1, SIGUSR2, SIGKILL → terminate
//	SIGCHLD                                            → ignore
//	SIGSTOP                                            → stop
//	SIGCONT                                            → continue
func defaultAction(sig Signal) DefaultAction {
	switch sig {
	case SIGCHLD:
		return ActionIgnore
	case SIGSTOP:
		return ActionStop
	case SIGCONT:
		return ActionContinue
	default:
		return ActionTerminate
	}
}

// DispositionKind selects how a delivered signal is handled.
type DispositionKind int

const (
	DispDefault DispositionKind = iota
	DispIgnore
	DispCustom
)

// Disposition maps a signal to its handling. For DispCustom the core only
// records the user handler address; arranging the switch into handler code
// is the caller's responsibility.
type Disposition struct {
	Kind    DispositionKind
	Handler uintptr
}

// SignalState is the per-PCB signal bookkeeping.
type SignalState struct {
	Mask         uint64               // bitmask of blocked signals
	Pending      []Signal             // FIFO queue
	Dispositions map[Signal]Disposition
}

func newSignalState() SignalState {
	return SignalState{Dispositions: make(map[Signal]Disposition)}
}

func (s SignalState) clone() SignalState {
	c := SignalState{
		Mask:         s.Mask,
		Pending:      append([]Signal(nil), s.Pending...),
		Dispositions: make(map[Signal]Disposition, len(s.Dispositions)),
	}
	for sig, d := range s.Dispositions {
		c.Dispositions[sig] = d
	}
	return c
}

func (s *SignalState) masked(sig Signal) bool {
	return s.Mask&(1<<uint(sig)) != 0
}

// Delivery describes one signal delivered to a custom handler. The core's
// responsibility ends at "signal ready for delivery, handler address is X".
type Delivery struct {
	Sig     Signal
	Handler uintptr
}

// Router delivers signals to processes and applies default dispositions.
// All signal state lives in the PCB; the router is the policy layer over
// the table.
type Router struct {
	table *Table
}

// NewRouter creates a signal router backed by the given table.
func NewRouter(table *Table) *Router {
	return &Router{table: table}
}

// Send delivers a signal from sender to target.
//
// SIGKILL bypasses masking, discards the pending queue and terminates the
// target immediately. SIGSTOP/SIGCONT toggle Blocked(stopped)/Ready without
// queueing. Every other signal is enqueued FIFO unless blocked by the
// target's mask, and consumed at the next delivery point.
//
// sender 0 is the kernel and may signal anything. Otherwise the sender must
// be root or share the target's user, else ErrInsufficientPermissions.
func (r *Router) Send(sender, target PID, sig Signal) error {
	t := r.table

	t.mu.Lock()
	p, ok := t.procs[target]
	if !ok {
		t.mu.Unlock()
		return fmt.Errorf("signal %s to PID %d: %w", sig, target, ErrProcessNotFound)
	}
	if err := r.checkPermission(sender, p); err != nil {
		t.mu.Unlock()
		return fmt.Errorf("signal %s to PID %d: %w", sig, target, err)
	}
	if p.State == StateTerminated {
		t.mu.Unlock()
		return fmt.Errorf("signal %s to PID %d: %w", sig, target, ErrInvalidState)
	}

	switch sig {
	case SIGKILL:
		p.Sig.Pending = nil
		t.mu.Unlock()
		// Terminate re-validates under its own critical section.
		if err := t.Terminate(target, 128+int(sig)); err != nil {
			return fmt.Errorf("SIGKILL PID %d: %w", target, err)
		}
		return nil

	case SIGSTOP:
		if p.State == StateBlocked {
			// Already waiting on something else: keep that reason so the
			// pending wake stays valid, and remember the stop.
			if p.Reason != BlockStopped {
				p.Stopped = true
			}
		} else {
			t.blockLocked(p, BlockStopped)
		}
		t.emit(eventSignal(target, sig))
		t.mu.Unlock()
		return nil

	case SIGCONT:
		if p.State == StateBlocked {
			if p.Reason == BlockStopped {
				t.unblockLocked(p)
			} else {
				// Blocked for another reason: cancel the remembered stop,
				// but only the original wake re-enters the ready set.
				p.Stopped = false
			}
		}
		t.emit(eventSignal(target, sig))
		t.mu.Unlock()
		return nil

	default:
		if p.Sig.masked(sig) {
			// Blocked by mask: not enqueued.
			t.mu.Unlock()
			return nil
		}
		p.Sig.Pending = append(p.Sig.Pending, sig)
		t.emit(eventSignal(target, sig))
		t.mu.Unlock()
		return nil
	}
}

// checkPermission enforces the signal permission boundary.
// Caller holds the table lock.
func (r *Router) checkPermission(sender PID, target *Process) error {
	if sender == 0 {
		return nil // kernel
	}
	sp, ok := r.table.procs[sender]
	if !ok {
		return ErrProcessNotFound
	}
	if sp.User == "root" || sp.User == target.User {
		return nil
	}
	return ErrInsufficientPermissions
}

// SetDisposition installs the handling for a signal.
// SIGKILL and SIGSTOP cannot be caught or ignored.
func (r *Router) SetDisposition(pid PID, sig Signal, d Disposition) error {
	if sig == SIGKILL || sig == SIGSTOP {
		return fmt.Errorf("disposition for %s: %w", sig, ErrInvalidState)
	}

	t := r.table
	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.procs[pid]
	if !ok {
		return fmt.Errorf("disposition for PID %d: %w", pid, ErrProcessNotFound)
	}
	if p.State == StateTerminated {
		return fmt.Errorf("disposition for PID %d: %w", pid, ErrInvalidState)
	}
	p.Sig.Dispositions[sig] = d
	return nil
}

// SetMask replaces the blocked-signal bitmask. SIGKILL and SIGSTOP bits are
// stripped: they cannot be masked.
func (r *Router) SetMask(pid PID, mask uint64) error {
	mask &^= 1 << uint(SIGKILL)
	mask &^= 1 << uint(SIGSTOP)

	t := r.table
	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.procs[pid]
	if !ok {
		return fmt.Errorf("mask for PID %d: %w", pid, ErrProcessNotFound)
	}
	p.Sig.Mask = mask
	return nil
}

// Pending returns a copy of the pending queue for a process.
func (r *Router) Pending(pid PID) ([]Signal, error) {
	t := r.table
	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.procs[pid]
	if !ok {
		return nil, fmt.Errorf("pending for PID %d: %w", pid, ErrProcessNotFound)
	}
	return append([]Signal(nil), p.Sig.Pending...), nil
}

// DeliverPending consumes the target's pending queue in FIFO order.
// Default dispositions are applied by the router; custom handlers are
// returned to the caller as Deliveries. Called by each core before a
// scheduling decision for its running process.
func (r *Router) DeliverPending(pid PID) ([]Delivery, error) {
	t := r.table

	t.mu.Lock()
	p, ok := t.procs[pid]
	if !ok {
		t.mu.Unlock()
		return nil, fmt.Errorf("deliver for PID %d: %w", pid, ErrProcessNotFound)
	}

	queue := p.Sig.Pending
	p.Sig.Pending = nil

	var deliveries []Delivery
	var killWith Signal
	fatal := false

	for _, sig := range queue {
		d, has := p.Sig.Dispositions[sig]
		if has && d.Kind == DispIgnore {
			continue
		}
		if has && d.Kind == DispCustom {
			deliveries = append(deliveries, Delivery{Sig: sig, Handler: d.Handler})
			continue
		}

		// Only queue-able signals reach here; SIGSTOP/SIGCONT are resolved
		// at Send and SIGKILL never enqueues.
		switch defaultAction(sig) {
		case ActionIgnore:
			// Dequeued and discarded.
		case ActionTerminate:
			fatal = true
			killWith = sig
		}
		if fatal {
			// Remaining queued signals are discarded on termination.
			break
		}
	}
	t.mu.Unlock()

	if fatal {
		if err := t.Terminate(pid, 128+int(killWith)); err != nil {
			return deliveries, fmt.Errorf("deliver %s to PID %d: %w", killWith, pid, err)
		}
	}
	return deliveries, nil
}
