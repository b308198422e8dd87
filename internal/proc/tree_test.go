package proc

import (
	"errors"
	"testing"
)

// buildTree creates init -> (a -> (a1, a2), b).
func buildTree(t *testing.T) (*Table, *TreeOps, map[string]PID) {
	t.Helper()
	tbl, _ := newTestTable()
	tree := NewTreeOps(tbl)

	pids := make(map[string]PID)
	var err error
	if pids["init"], err = tbl.Create(CreateRequest{Name: "init", User: "root"}); err != nil {
		t.Fatalf("create init: %v", err)
	}
	if pids["a"], err = tbl.Create(CreateRequest{Parent: pids["init"], Name: "a", User: "root"}); err != nil {
		t.Fatalf("create a: %v", err)
	}
	if pids["a1"], err = tbl.Create(CreateRequest{Parent: pids["a"], Name: "a1", User: "root"}); err != nil {
		t.Fatalf("create a1: %v", err)
	}
	if pids["a2"], err = tbl.Create(CreateRequest{Parent: pids["a"], Name: "a2", User: "root"}); err != nil {
		t.Fatalf("create a2: %v", err)
	}
	if pids["b"], err = tbl.Create(CreateRequest{Parent: pids["init"], Name: "b", User: "root"}); err != nil {
		t.Fatalf("create b: %v", err)
	}
	return tbl, tree, pids
}

func TestDescendantsRecursive(t *testing.T) {
	_, tree, pids := buildTree(t)

	desc := tree.Descendants(pids["init"])
	if len(desc) != 4 {
		t.Fatalf("descendants of init = %d, want 4", len(desc))
	}

	seen := make(map[PID]bool)
	for _, p := range desc {
		seen[p.PID] = true
	}
	for _, name := range []string{"a", "a1", "a2", "b"} {
		if !seen[pids[name]] {
			t.Fatalf("descendant %s missing", name)
		}
	}
	if seen[pids["init"]] {
		t.Fatal("root must not be its own descendant")
	}
}

func TestKillBranchTerminatesLeavesFirst(t *testing.T) {
	tbl, tree, pids := buildTree(t)

	killed, err := tree.KillBranch(pids["a"])
	if err != nil {
		t.Fatalf("kill branch: %v", err)
	}
	if len(killed) != 3 {
		t.Fatalf("killed %d, want 3 (a1, a2, a)", len(killed))
	}
	// Root of the branch dies last.
	if killed[len(killed)-1] != pids["a"] {
		t.Fatalf("branch root must die last, order = %v", killed)
	}

	for _, name := range []string{"a", "a1", "a2"} {
		p, err := tbl.Get(pids[name])
		if err != nil {
			t.Fatalf("get %s: %v", name, err)
		}
		if !p.Zombie() {
			t.Fatalf("%s state = %s, want terminated", name, p.State)
		}
	}

	// Sibling branch untouched.
	b, _ := tbl.Get(pids["b"])
	if b.Zombie() {
		t.Fatal("sibling branch must survive")
	}
}

func TestKillBranchUnknownRoot(t *testing.T) {
	_, tree, _ := buildTree(t)

	_, err := tree.KillBranch(999)
	if !errors.Is(err, ErrProcessNotFound) {
		t.Fatalf("expected ErrProcessNotFound, got %v", err)
	}
}

func TestReparentMovesChild(t *testing.T) {
	tbl, tree, pids := buildTree(t)

	if err := tree.Reparent(pids["a1"], pids["b"]); err != nil {
		t.Fatalf("reparent: %v", err)
	}

	p, _ := tbl.Get(pids["a1"])
	if p.PPID != pids["b"] {
		t.Fatalf("PPID = %d, want %d", p.PPID, pids["b"])
	}

	// Old parent lost the child, new parent gained it.
	for _, c := range tbl.ChildrenOf(pids["a"]) {
		if c.PID == pids["a1"] {
			t.Fatal("old parent still lists the moved child")
		}
	}
	found := false
	for _, c := range tbl.ChildrenOf(pids["b"]) {
		if c.PID == pids["a1"] {
			found = true
		}
	}
	if !found {
		t.Fatal("new parent does not list the moved child")
	}

	// The moved process is notified with SIGHUP.
	pending, _ := tbl.Router().Pending(pids["a1"])
	if len(pending) != 1 || pending[0] != SIGHUP {
		t.Fatalf("pending = %v, want [SIGHUP]", pending)
	}
}

func TestReparentToUnknownParentFails(t *testing.T) {
	_, tree, pids := buildTree(t)

	if err := tree.Reparent(pids["a1"], 999); !errors.Is(err, ErrProcessNotFound) {
		t.Fatalf("expected ErrProcessNotFound, got %v", err)
	}
}
