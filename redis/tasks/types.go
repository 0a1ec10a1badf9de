package tasks

import "time"

// Task types
const (
	TypeListingSweep   = "listing:sweep"
	TypeHealthCheck    = "health:check"
	TypeConnectionTest = "connection:test"
)

// TaskPriority defines priority levels for tasks
const (
	PriorityLow      = "low"
	PriorityDefault  = "default"
	PriorityCritical = "critical"
)

// SweepPayload is carried by listing:sweep tasks. A zero At means "now".
type SweepPayload struct {
	At time.Time `json:"at,omitempty"`
}
