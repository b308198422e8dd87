package kernel

import (
	"context"
	"time"

	"github.com/TLimoges33/Syn-OS-sub002/internal/proc"
	"github.com/TLimoges33/Syn-OS-sub002/internal/synlog"
)

// MonitorConfig tunes the background health monitor.
type MonitorConfig struct {
	CheckInterval time.Duration
	// ZombieWarnAfter logs zombies that nobody reaped within this window.
	ZombieWarnAfter time.Duration
	// ReapOrphans makes the monitor wait on init's zombie children, the way
	// a real init does. Zombies with a live waiting parent are left alone.
	ReapOrphans bool
}

// DefaultMonitorConfig returns sensible defaults.
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		CheckInterval:   10 * time.Second,
		ZombieWarnAfter: 30 * time.Second,
		ReapOrphans:     true,
	}
}

// Monitor is a background daemon that scans the process table for unreaped
// zombies and reports state tallies. It observes; it never touches the
// scheduling path.
type Monitor struct {
	cfg   MonitorConfig
	table *proc.Table
}

// NewMonitor creates a monitor over the given table.
func NewMonitor(cfg MonitorConfig, table *proc.Table) *Monitor {
	return &Monitor{cfg: cfg, table: table}
}

// Run starts the monitoring loop. Blocks until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	logger := synlog.For("monitor")
	logger.Info("starting", "interval", m.cfg.CheckInterval)

	ticker := time.NewTicker(m.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}

// Sweep runs one monitoring pass: tallies, zombie report, orphan reaping.
func (m *Monitor) Sweep() {
	m.checkZombies()
	m.tally()
	if m.cfg.ReapOrphans {
		m.reapInitChildren()
	}
}

// checkZombies warns about zombies that have outstayed the reap window.
func (m *Monitor) checkZombies() {
	if m.cfg.ZombieWarnAfter <= 0 {
		return
	}
	cutoff := time.Now().Add(-m.cfg.ZombieWarnAfter)
	for _, p := range m.table.List() {
		if p.Zombie() && p.TerminatedAt.Before(cutoff) {
			synlog.For("monitor").Warn("unreaped zombie",
				"pid", p.PID, "name", p.Name, "ppid", p.PPID,
				"terminated_at", p.TerminatedAt.Format(time.TimeOnly))
		}
	}
}

// tally logs a per-state head count.
func (m *Monitor) tally() {
	var ready, running, blocked, zombies int
	for _, p := range m.table.List() {
		switch p.State {
		case proc.StateReady:
			ready++
		case proc.StateRunning:
			running++
		case proc.StateBlocked:
			blocked++
		case proc.StateTerminated:
			zombies++
		}
	}
	synlog.For("monitor").Debug("health",
		"ready", ready, "running", running, "blocked", blocked, "zombies", zombies)
}

// reapInitChildren waits on init's terminated children. Orphans adopted by
// init would otherwise stay zombies forever, since nothing else waits for
// them.
func (m *Monitor) reapInitChildren() {
	for {
		reaped := false
		for _, c := range m.table.ChildrenOf(proc.InitPID) {
			if !c.Zombie() {
				continue
			}
			pid, code, err := m.table.Wait(proc.InitPID, c.PID)
			if err != nil {
				continue
			}
			synlog.For("monitor").Info("reaped orphan", "pid", pid, "exit_code", code)
			reaped = true
		}
		if !reaped {
			return
		}
	}
}
