package kernel

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/TLimoges33/Syn-OS-sub002/internal/dynprio"
	"github.com/TLimoges33/Syn-OS-sub002/internal/resources"
	"github.com/TLimoges33/Syn-OS-sub002/internal/sched"
)

// AgingSettings tunes priority aging (anti-starvation).
type AgingSettings struct {
	Threshold time.Duration `yaml:"threshold"`
	Increment int           `yaml:"increment"`
}

// LimitSettings are the default per-process resource limits.
type LimitSettings struct {
	MaxMemory  uint64        `yaml:"max_memory"`
	MaxHandles int           `yaml:"max_handles"`
	MaxCPUTime time.Duration `yaml:"max_cpu_time"`
	MaxStack   uint64        `yaml:"max_stack"`
}

// RuleSettings is the YAML form of one dynamic-priority rule.
type RuleSettings struct {
	Name        string        `yaml:"name"`
	Metric      string        `yaml:"metric"`     // cpu|memory|io_wait|response|affinity
	Comparison  string        `yaml:"comparison"` // above|below
	Threshold   float64       `yaml:"threshold"`
	Delta       int           `yaml:"delta"`
	RevertAfter time.Duration `yaml:"revert_after"`
	MaxPerSec   int           `yaml:"max_per_sec"`
}

// Config holds system-wide configuration for the kernel.
type Config struct {
	NodeName string `yaml:"node_name"`

	// Scheduling
	Cores        int           `yaml:"cores"`
	Algorithm    string        `yaml:"algorithm"` // round_robin|priority|fair|realtime
	TimeSlice    time.Duration `yaml:"time_slice"`
	TickInterval time.Duration `yaml:"tick_interval"`
	Aging        AgingSettings `yaml:"aging"`

	// Resource accounting
	DefaultLimits LimitSettings `yaml:"default_limits"`
	StackSize     uint64        `yaml:"stack_size"`

	// Dynamic priority policies
	PriorityRules []RuleSettings `yaml:"priority_rules"`

	// Observability
	LogLevel     string `yaml:"log_level"`
	LogFile      string `yaml:"log_file"`
	EventLogPath string `yaml:"event_log_path"`
	EventLogSize int    `yaml:"event_log_size"`
}

// DefaultConfig returns sensible defaults for single-node development.
func DefaultConfig() Config {
	return Config{
		NodeName:     "node1",
		Cores:        2,
		Algorithm:    "priority",
		TimeSlice:    20 * time.Millisecond,
		TickInterval: 5 * time.Millisecond,
		Aging: AgingSettings{
			Threshold: 200 * time.Millisecond,
			Increment: 50,
		},
		DefaultLimits: LimitSettings{
			MaxMemory:  256 << 20,
			MaxHandles: 64,
			MaxCPUTime: 0,
			MaxStack:   8 << 20,
		},
		StackSize:    1 << 20,
		LogLevel:     "info",
		EventLogSize: 4096,
	}
}

// LoadConfig reads a YAML config from path, layered over DefaultConfig.
// An empty path returns the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks the fields that would otherwise fail deep inside wiring.
func (c Config) Validate() error {
	switch c.Algorithm {
	case "round_robin", "priority", "fair", "realtime":
	default:
		return fmt.Errorf("config: unknown algorithm %q", c.Algorithm)
	}
	if c.Cores < 1 {
		return fmt.Errorf("config: cores must be >= 1, got %d", c.Cores)
	}
	if c.TimeSlice <= 0 {
		return fmt.Errorf("config: time_slice must be positive")
	}
	for i, r := range c.PriorityRules {
		if _, err := parseMetric(r.Metric); err != nil {
			return fmt.Errorf("config: rule[%d] (%s): %w", i, r.Name, err)
		}
		if r.Comparison != "above" && r.Comparison != "below" {
			return fmt.Errorf("config: rule[%d] (%s): unknown comparison %q", i, r.Name, r.Comparison)
		}
	}
	return nil
}

// Limits converts the configured defaults into tracker limits.
func (c Config) Limits() resources.Limits {
	return resources.Limits{
		MaxMemory:  c.DefaultLimits.MaxMemory,
		MaxHandles: c.DefaultLimits.MaxHandles,
		MaxCPUTime: c.DefaultLimits.MaxCPUTime,
		MaxStack:   c.DefaultLimits.MaxStack,
	}
}

// Rules converts the configured rule settings into engine rules.
func (c Config) Rules() []dynprio.Rule {
	out := make([]dynprio.Rule, 0, len(c.PriorityRules))
	for _, r := range c.PriorityRules {
		metric, err := parseMetric(r.Metric)
		if err != nil {
			continue // Validate already rejected these on load
		}
		cmp := dynprio.Above
		if r.Comparison == "below" {
			cmp = dynprio.Below
		}
		out = append(out, dynprio.Rule{
			Name:        r.Name,
			Metric:      metric,
			Comparison:  cmp,
			Threshold:   r.Threshold,
			Delta:       r.Delta,
			RevertAfter: r.RevertAfter,
			MaxPerSec:   r.MaxPerSec,
		})
	}
	return out
}

// NewAlgorithm builds the configured scheduling algorithm. onMiss receives
// deadline misses when the realtime algorithm is selected.
func (c Config) NewAlgorithm(onMiss func(sched.DeadlineMiss)) sched.Algorithm {
	switch c.Algorithm {
	case "round_robin":
		return sched.NewRoundRobin()
	case "fair":
		return sched.NewFair()
	case "realtime":
		return sched.NewRealtime(onMiss)
	default:
		return sched.NewPriority(sched.AgingConfig{
			Threshold: c.Aging.Threshold,
			Increment: c.Aging.Increment,
		})
	}
}

func parseMetric(s string) (dynprio.Metric, error) {
	switch s {
	case "cpu":
		return dynprio.MetricCPU, nil
	case "memory":
		return dynprio.MetricMemory, nil
	case "io_wait":
		return dynprio.MetricIOWait, nil
	case "response":
		return dynprio.MetricResponse, nil
	case "affinity":
		return dynprio.MetricAffinity, nil
	default:
		return 0, fmt.Errorf("unknown metric %q", s)
	}
}
