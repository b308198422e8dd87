// Package dynprio adjusts process priorities from observed performance
// metrics and an externally-supplied affinity score. Every adjustment is
// recorded with its reasoning and an optional auto-revert deadline, and the
// adjustment rate is capped per rule to prevent oscillation.
package dynprio

import (
	"fmt"

	"github.com/TLimoges33/Syn-OS-sub002/internal/proc"
)

// Metrics is the externally-produced performance sample for one process.
type Metrics struct {
	CPUPercent    float64
	MemoryPercent float64
	IOWaitPercent float64
	ResponseMS    float64
}

// AffinityFunc supplies the opaque affinity/bias score for a process, in
// [0,1]. The engine treats it as a black-box input; tests inject a plain
// function.
type AffinityFunc func(proc.PID) float64

// Metric selects which sample field a rule inspects.
type Metric int

const (
	MetricCPU Metric = iota
	MetricMemory
	MetricIOWait
	MetricResponse
	MetricAffinity
)

func (m Metric) String() string {
	switch m {
	case MetricCPU:
		return "cpu"
	case MetricMemory:
		return "memory"
	case MetricIOWait:
		return "io_wait"
	case MetricResponse:
		return "response"
	case MetricAffinity:
		return "affinity"
	default:
		return "unknown"
	}
}

// Comparison is the trigger direction of a rule.
type Comparison int

const (
	Above Comparison = iota
	Below
)

func (c Comparison) String() string {
	if c == Below {
		return "below"
	}
	return "above"
}

func (c Comparison) triggered(value, threshold float64) bool {
	if c == Below {
		return value < threshold
	}
	return value > threshold
}

// value extracts the rule's metric from a sample.
func value(m Metric, sample Metrics, affinity float64) float64 {
	switch m {
	case MetricCPU:
		return sample.CPUPercent
	case MetricMemory:
		return sample.MemoryPercent
	case MetricIOWait:
		return sample.IOWaitPercent
	case MetricResponse:
		return sample.ResponseMS
	case MetricAffinity:
		return affinity
	default:
		return 0
	}
}

// clampClass keeps an adjusted class inside the valid range.
func clampClass(c int) proc.Class {
	if c < int(proc.ClassLow) {
		return proc.ClassLow
	}
	if c > int(proc.ClassRealtime) {
		return proc.ClassRealtime
	}
	return proc.Class(c)
}

func describe(r Rule, v float64, old, new proc.Class) string {
	return fmt.Sprintf("%s %.1f %s threshold %.1f: class %s -> %s",
		r.Metric, v, r.Comparison, r.Threshold, old, new)
}
