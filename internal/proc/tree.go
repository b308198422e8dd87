package proc

import (
	"fmt"
	"sort"

	"github.com/TLimoges33/Syn-OS-sub002/internal/synlog"
)

// TreeOps provides high-level operations over the process hierarchy.
type TreeOps struct {
	table *Table
}

// NewTreeOps creates tree operations backed by the given table.
func NewTreeOps(table *Table) *TreeOps {
	return &TreeOps{table: table}
}

// Descendants returns snapshots of every process below pid, recursively.
func (t *TreeOps) Descendants(pid PID) []Process {
	var out []Process
	t.collect(pid, &out)
	return out
}

func (t *TreeOps) collect(pid PID, out *[]Process) {
	for _, c := range t.table.ChildrenOf(pid) {
		*out = append(*out, c)
		t.collect(c.PID, out)
	}
}

// KillBranch terminates a process and all its descendants, leaves first, so
// no child outlives its parent's teardown. Zombies are skipped. Returns the
// PIDs that were terminated.
func (t *TreeOps) KillBranch(pid PID) ([]PID, error) {
	root, err := t.table.Get(pid)
	if err != nil {
		return nil, fmt.Errorf("kill branch: %w", err)
	}

	ordered := t.bottomUp(pid)

	var killed []PID
	for _, target := range ordered {
		if target.Zombie() {
			continue
		}
		if err := t.table.SendSignal(0, target.PID, SIGKILL); err != nil {
			synlog.For("tree").Warn("branch kill failed", "pid", target.PID, "err", err)
			continue
		}
		killed = append(killed, target.PID)
	}

	if !root.Zombie() {
		if err := t.table.SendSignal(0, pid, SIGKILL); err == nil {
			killed = append(killed, pid)
		}
	}
	return killed, nil
}

// bottomUp returns the descendants of root ordered deepest first.
func (t *TreeOps) bottomUp(root PID) []Process {
	desc := t.Descendants(root)

	depth := make(map[PID]int, len(desc))
	for _, p := range desc {
		depth[p.PID] = t.depthFrom(root, p.PID)
	}
	sort.SliceStable(desc, func(i, j int) bool {
		return depth[desc[i].PID] > depth[desc[j].PID]
	})
	return desc
}

func (t *TreeOps) depthFrom(root, pid PID) int {
	d := 0
	cur := pid
	for cur != root {
		p, err := t.table.Get(cur)
		if err != nil || p.PPID == cur || p.PPID == 0 {
			break
		}
		cur = p.PPID
		d++
	}
	return d
}

// Reparent moves a process under a new parent, keeping both child lists
// consistent. The process is notified with SIGHUP.
func (t *TreeOps) Reparent(pid, newParent PID) error {
	if _, err := t.table.Get(newParent); err != nil {
		return fmt.Errorf("reparent: new parent %d: %w", newParent, err)
	}

	var oldParent PID
	err := t.table.Update(pid, func(p *Process) {
		oldParent = p.PPID
		p.PPID = newParent
	})
	if err != nil {
		return fmt.Errorf("reparent: %w", err)
	}

	if oldParent != 0 {
		_ = t.table.Update(oldParent, func(p *Process) {
			for i, c := range p.Children {
				if c == pid {
					p.Children = append(p.Children[:i], p.Children[i+1:]...)
					break
				}
			}
		})
	}
	_ = t.table.Update(newParent, func(p *Process) {
		p.Children = append(p.Children, pid)
	})

	synlog.For("tree").Info("reparented", "pid", pid, "old_ppid", oldParent, "new_ppid", newParent)
	_ = t.table.SendSignal(0, pid, SIGHUP)
	return nil
}
