package types

import (
	"fmt"
	"time"
)

// State is the lifecycle state of the supervised core.
type State int

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
	// StateFailed is transient: a failed start passes through it to Stopped.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Status represents core runtime status
type Status struct {
	State      State
	PID        int
	StartedAt  time.Time
	Uptime     time.Duration
	CoreType   string
	Server     string
	TunEnabled bool
	LastError  string

	// Resource usage of the core process, zero when unavailable.
	RSSBytes   uint64
	CPUPercent float64
}

// Running reports whether the core is up.
func (s *Status) Running() bool {
	return s.State == StateRunning
}

// Stats is one throughput sample.
type Stats struct {
	Kbps       float64
	TotalBytes uint64
	SampledAt  time.Time
	Err        error
}

// CoreType represents the type of proxy core
type CoreType string

const (
	CoreTypeXray CoreType = "xray"
)
