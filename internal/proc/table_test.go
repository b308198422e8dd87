package proc

import (
	"errors"
	"testing"
	"time"
)

// fakeReadySet is a minimal ReadySet for table tests.
type fakeReadySet struct {
	members map[PID]bool
}

func newFakeReadySet() *fakeReadySet {
	return &fakeReadySet{members: make(map[PID]bool)}
}

func (f *fakeReadySet) Add(p *Process) { f.members[p.PID] = true }
func (f *fakeReadySet) Take(pid PID) bool {
	if !f.members[pid] {
		return false
	}
	delete(f.members, pid)
	return true
}
func (f *fakeReadySet) Contains(pid PID) bool { return f.members[pid] }

func newTestTable() (*Table, *fakeReadySet) {
	t := NewTable()
	rs := newFakeReadySet()
	t.SetReadySet(rs)
	return t, rs
}

func TestCreateAssignsSequentialPIDs(t *testing.T) {
	tbl, rs := newTestTable()

	init, err := tbl.Create(CreateRequest{Name: "init", User: "root", Class: ClassHigh})
	if err != nil {
		t.Fatalf("create init: %v", err)
	}
	if init != InitPID {
		t.Fatalf("expected init PID %d, got %d", InitPID, init)
	}

	child, err := tbl.Create(CreateRequest{Parent: init, Name: "child", User: "root"})
	if err != nil {
		t.Fatalf("create child: %v", err)
	}
	if child != init+1 {
		t.Fatalf("expected PID %d, got %d", init+1, child)
	}

	p, err := tbl.Get(child)
	if err != nil {
		t.Fatalf("get child: %v", err)
	}
	if p.State != StateReady {
		t.Fatalf("new process should be ready, got %s", p.State)
	}
	if p.PPID != init {
		t.Fatalf("expected PPID %d, got %d", init, p.PPID)
	}
	if !rs.Contains(child) {
		t.Fatal("new process missing from ready set")
	}

	parent, _ := tbl.Get(init)
	if len(parent.Children) != 1 || parent.Children[0] != child {
		t.Fatalf("parent children = %v, want [%d]", parent.Children, child)
	}
}

func TestCreateRejectsUnknownParent(t *testing.T) {
	tbl, _ := newTestTable()

	_, err := tbl.Create(CreateRequest{Parent: 99, Name: "orphan"})
	if !errors.Is(err, ErrProcessNotFound) {
		t.Fatalf("expected ErrProcessNotFound, got %v", err)
	}
}

func TestCreateExhaustsPIDSpace(t *testing.T) {
	tbl, _ := newTestTable()
	tbl.SetMaxPID(2)

	if _, err := tbl.Create(CreateRequest{Name: "a"}); err != nil {
		t.Fatalf("create a: %v", err)
	}
	if _, err := tbl.Create(CreateRequest{Name: "b"}); err != nil {
		t.Fatalf("create b: %v", err)
	}
	_, err := tbl.Create(CreateRequest{Name: "c"})
	if !errors.Is(err, ErrResourceExhausted) {
		t.Fatalf("expected ErrResourceExhausted, got %v", err)
	}
}

func TestForkClonesAndResets(t *testing.T) {
	tbl, _ := newTestTable()

	parent, _ := tbl.Create(CreateRequest{
		Name:  "shell",
		User:  "alice",
		Class: ClassNormal,
		Args:  []string{"-l"},
		Env:   []string{"HOME=/home/alice"},
	})
	_ = tbl.Router().SetMask(parent, 1<<uint(SIGUSR1))
	_ = tbl.ChargeCPU(parent, 50*time.Millisecond)
	_ = tbl.SendSignal(0, parent, SIGUSR2)

	child, err := tbl.Fork(parent)
	if err != nil {
		t.Fatalf("fork: %v", err)
	}

	c, _ := tbl.Get(child)
	if c.Name != "shell" || c.User != "alice" {
		t.Fatalf("child identity not inherited: %s/%s", c.Name, c.User)
	}
	if len(c.Args) != 1 || c.Args[0] != "-l" {
		t.Fatalf("args not copied: %v", c.Args)
	}
	if c.PPID != parent {
		t.Fatalf("child PPID = %d, want %d", c.PPID, parent)
	}
	if c.CPUTime != 0 {
		t.Fatalf("child CPU time should reset, got %s", c.CPUTime)
	}
	if len(c.Sig.Pending) != 0 {
		t.Fatalf("child pending queue should be empty, got %v", c.Sig.Pending)
	}
	if c.Sig.Mask != 1<<uint(SIGUSR1) {
		t.Fatal("signal mask should be inherited")
	}
	if len(c.Children) != 0 {
		t.Fatalf("child should start with no children, got %v", c.Children)
	}

	// Deep copy: mutating the child's args must not touch the parent.
	_ = tbl.Update(child, func(p *Process) { p.Args[0] = "mutated" })
	pp, _ := tbl.Get(parent)
	if pp.Args[0] != "-l" {
		t.Fatal("fork aliased the argument slice")
	}
}

func TestForkFromZombieFails(t *testing.T) {
	tbl, _ := newTestTable()

	pid, _ := tbl.Create(CreateRequest{Name: "a"})
	if err := tbl.Terminate(pid, 0); err != nil {
		t.Fatalf("terminate: %v", err)
	}
	_, err := tbl.Fork(pid)
	if !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
}

func TestExecReplacesProgramPreservesIdentity(t *testing.T) {
	tbl, _ := newTestTable()

	pid, _ := tbl.Create(CreateRequest{Name: "shell", User: "alice"})
	_ = tbl.ChargeCPU(pid, 30*time.Millisecond)
	_ = tbl.Router().SetMask(pid, 1<<uint(SIGINT))
	_ = tbl.Router().SetDisposition(pid, SIGTERM, Disposition{Kind: DispIgnore})
	_ = tbl.SendSignal(0, pid, SIGUSR1)

	if err := tbl.Exec(pid, "worker", []string{"--queue", "q1"}, nil); err != nil {
		t.Fatalf("exec: %v", err)
	}

	p, _ := tbl.Get(pid)
	if p.Name != "worker" {
		t.Fatalf("name = %q, want worker", p.Name)
	}
	if p.CPUTime != 30*time.Millisecond {
		t.Fatalf("CPU accounting should survive exec, got %s", p.CPUTime)
	}
	if p.Sig.Mask != 1<<uint(SIGINT) {
		t.Fatal("mask should survive exec")
	}
	if len(p.Sig.Pending) != 1 || p.Sig.Pending[0] != SIGUSR1 {
		t.Fatalf("pending signals should survive exec, got %v", p.Sig.Pending)
	}
	if len(p.Sig.Dispositions) != 0 {
		t.Fatal("dispositions should reset to default on exec")
	}
}

func TestTerminateRetainsZombieUntilReaped(t *testing.T) {
	tbl, rs := newTestTable()

	parent, _ := tbl.Create(CreateRequest{Name: "init", User: "root"})
	child, _ := tbl.Create(CreateRequest{Parent: parent, Name: "job"})

	if err := tbl.Terminate(child, 3); err != nil {
		t.Fatalf("terminate: %v", err)
	}
	if err := tbl.Terminate(child, 3); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("double terminate should fail with ErrInvalidState, got %v", err)
	}

	z, err := tbl.Get(child)
	if err != nil {
		t.Fatalf("zombie must stay queryable: %v", err)
	}
	if !z.Zombie() || z.ExitCode != 3 {
		t.Fatalf("zombie state=%s exit=%d", z.State, z.ExitCode)
	}
	if rs.Contains(child) {
		t.Fatal("terminated process must leave the ready set")
	}

	pid, code, err := tbl.Wait(parent, 0)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if pid != child || code != 3 {
		t.Fatalf("wait = (%d, %d), want (%d, 3)", pid, code, child)
	}

	if _, err := tbl.Get(child); !errors.Is(err, ErrProcessNotFound) {
		t.Fatalf("reaped PCB should be gone, got %v", err)
	}
}

func TestWaitPicksEarliestTerminated(t *testing.T) {
	tbl, _ := newTestTable()

	parent, _ := tbl.Create(CreateRequest{Name: "init", User: "root"})
	a, _ := tbl.Create(CreateRequest{Parent: parent, Name: "a"})
	b, _ := tbl.Create(CreateRequest{Parent: parent, Name: "b"})

	_ = tbl.Terminate(b, 1)
	_ = tbl.Terminate(a, 2)

	pid, code, err := tbl.Wait(parent, 0)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if pid != b || code != 1 {
		t.Fatalf("wait = (%d, %d), want earliest zombie (%d, 1)", pid, code, b)
	}
}

func TestWaitBlocksUntilChildTerminates(t *testing.T) {
	tbl, _ := newTestTable()

	parent, _ := tbl.Create(CreateRequest{Name: "init", User: "root"})
	child, _ := tbl.Create(CreateRequest{Parent: parent, Name: "job"})

	type result struct {
		pid  PID
		code int
		err  error
	}
	done := make(chan result, 1)
	go func() {
		pid, code, err := tbl.Wait(parent, child)
		done <- result{pid, code, err}
	}()

	// Give the waiter time to block.
	deadline := time.Now().Add(time.Second)
	for {
		p, _ := tbl.Get(parent)
		if p.State == StateBlocked && p.Reason == BlockWaitChild {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("parent never blocked in wait")
		}
		time.Sleep(time.Millisecond)
	}

	if err := tbl.Terminate(child, 7); err != nil {
		t.Fatalf("terminate: %v", err)
	}

	select {
	case r := <-done:
		if r.err != nil {
			t.Fatalf("wait: %v", r.err)
		}
		if r.pid != child || r.code != 7 {
			t.Fatalf("wait = (%d, %d), want (%d, 7)", r.pid, r.code, child)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("wait did not wake after child termination")
	}

	p, _ := tbl.Get(parent)
	if p.State != StateReady {
		t.Fatalf("parent should be ready after wait, got %s", p.State)
	}
}

func TestWaitWithoutChildrenFailsFast(t *testing.T) {
	tbl, _ := newTestTable()

	pid, _ := tbl.Create(CreateRequest{Name: "loner"})
	_, _, err := tbl.Wait(pid, 0)
	if !errors.Is(err, ErrNoChildAvailable) {
		t.Fatalf("expected ErrNoChildAvailable, got %v", err)
	}

	// Waiting on a specific PID that is not a child fails the same way.
	other, _ := tbl.Create(CreateRequest{Name: "other"})
	_, _, err = tbl.Wait(pid, other)
	if !errors.Is(err, ErrNoChildAvailable) {
		t.Fatalf("expected ErrNoChildAvailable for non-child, got %v", err)
	}
}

func TestOrphansAdoptedByInit(t *testing.T) {
	tbl, _ := newTestTable()

	init, _ := tbl.Create(CreateRequest{Name: "init", User: "root"})
	mid, _ := tbl.Create(CreateRequest{Parent: init, Name: "mid"})
	leaf, _ := tbl.Create(CreateRequest{Parent: mid, Name: "leaf"})

	if err := tbl.Terminate(mid, 0); err != nil {
		t.Fatalf("terminate mid: %v", err)
	}

	l, _ := tbl.Get(leaf)
	if l.PPID != init {
		t.Fatalf("orphan PPID = %d, want init %d", l.PPID, init)
	}

	// Init can reap the zombie mid, then wait on the adopted leaf.
	pid, _, err := tbl.Wait(init, 0)
	if err != nil || pid != mid {
		t.Fatalf("reap mid = (%d, %v)", pid, err)
	}
	_ = tbl.Terminate(leaf, 0)
	pid, _, err = tbl.Wait(init, leaf)
	if err != nil || pid != leaf {
		t.Fatalf("reap adopted leaf = (%d, %v)", pid, err)
	}
}

func TestSchedulerTransitions(t *testing.T) {
	tbl, rs := newTestTable()

	pid, _ := tbl.Create(CreateRequest{Name: "a"})
	now := time.Now()

	if err := tbl.MarkRunning(pid, now); err != nil {
		t.Fatalf("mark running: %v", err)
	}
	if err := tbl.MarkRunning(pid, now); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("double dispatch should fail, got %v", err)
	}

	_ = tbl.ChargeCPU(pid, 10*time.Millisecond)
	p, _ := tbl.Get(pid)
	if p.CPUTime != 10*time.Millisecond || p.SliceUsed != 10*time.Millisecond {
		t.Fatalf("accounting: cpu=%s slice=%s", p.CPUTime, p.SliceUsed)
	}
	// ClassLow weight 1: vruntime advances 1:1.
	if p.VRuntime != 10*time.Millisecond {
		t.Fatalf("vruntime = %s, want 10ms", p.VRuntime)
	}

	if err := tbl.ToReady(pid, false); err != nil {
		t.Fatalf("to ready: %v", err)
	}
	p, _ = tbl.Get(pid)
	if p.Stats.InvoluntarySwitches != 1 {
		t.Fatalf("involuntary switches = %d, want 1", p.Stats.InvoluntarySwitches)
	}

	if err := tbl.Block(pid, BlockIO); err != nil {
		t.Fatalf("block: %v", err)
	}
	if rs.Contains(pid) {
		t.Fatal("blocked process must leave the ready set")
	}
	if err := tbl.Unblock(pid); err != nil {
		t.Fatalf("unblock: %v", err)
	}
	if !rs.Contains(pid) {
		t.Fatal("unblocked process must rejoin the ready set")
	}
	if err := tbl.Unblock(pid); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("unblocking a ready process should fail, got %v", err)
	}
}

func TestVRuntimeWeightedByClass(t *testing.T) {
	tbl, _ := newTestTable()

	low, _ := tbl.Create(CreateRequest{Name: "low", Class: ClassLow})
	rt, _ := tbl.Create(CreateRequest{Name: "rt", Class: ClassRealtime})

	_ = tbl.ChargeCPU(low, 80*time.Millisecond)
	_ = tbl.ChargeCPU(rt, 80*time.Millisecond)

	lp, _ := tbl.Get(low)
	rp, _ := tbl.Get(rt)
	if lp.VRuntime != 80*time.Millisecond {
		t.Fatalf("low vruntime = %s, want 80ms", lp.VRuntime)
	}
	if rp.VRuntime != 10*time.Millisecond {
		t.Fatalf("realtime vruntime = %s, want 10ms (weight 8)", rp.VRuntime)
	}
}

func TestOnTerminateHooksRun(t *testing.T) {
	tbl, _ := newTestTable()

	var released []PID
	tbl.OnTerminate(func(pid PID) { released = append(released, pid) })

	pid, _ := tbl.Create(CreateRequest{Name: "a"})
	_ = tbl.Terminate(pid, 0)

	if len(released) != 1 || released[0] != pid {
		t.Fatalf("terminate hooks got %v, want [%d]", released, pid)
	}
}

func TestListSortedAndSnapshotted(t *testing.T) {
	tbl, _ := newTestTable()

	for _, name := range []string{"a", "b", "c"} {
		if _, err := tbl.Create(CreateRequest{Name: name}); err != nil {
			t.Fatalf("create %s: %v", name, err)
		}
	}

	list := tbl.List()
	if len(list) != 3 {
		t.Fatalf("len = %d, want 3", len(list))
	}
	for i := 1; i < len(list); i++ {
		if list[i-1].PID >= list[i].PID {
			t.Fatal("list not sorted by PID")
		}
	}

	// Snapshots are copies: mutating one must not reach the table.
	list[0].Name = "mutated"
	p, _ := tbl.Get(list[0].PID)
	if p.Name == "mutated" {
		t.Fatal("List leaked an aliased PCB")
	}
}
