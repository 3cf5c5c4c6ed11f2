package models

import "time"

// Session records one connect/disconnect cycle of the core.
type Session struct {
	ID         string     `json:"id"`
	Server     string     `json:"server"`
	TunEnabled bool       `json:"tun_enabled"`
	PID        int        `json:"pid"`
	StartedAt  time.Time  `json:"started_at"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`
	TotalBytes uint64     `json:"total_bytes"`
	Reason     string     `json:"reason,omitempty"`
}
