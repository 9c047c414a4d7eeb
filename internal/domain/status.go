package domain

import "time"

// RunType distinguishes user-initiated runs from time-triggered ones.
type RunType string

const (
	RunManual  RunType = "manual"
	RunAutorun RunType = "autorun"
)

// RunState is the lifecycle tag of one config's automation.
// Legal transitions: idle -> running -> {success, failed} -> idle.
type RunState string

const (
	StateIdle    RunState = "idle"
	StateRunning RunState = "running"
	StateSuccess RunState = "success"
	StateFailed  RunState = "failed"
)

// RunStatus is the orchestrator-owned view of one config's last/current run.
// All mutation goes through the orchestrator's status store.
type RunStatus struct {
	ConfigID    string    `json:"config_id"`
	State       RunState  `json:"state"`
	Reason      string    `json:"reason,omitempty"`
	LastSuccess time.Time `json:"last_success,omitzero"`
	LastFailure time.Time `json:"last_failure,omitzero"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Eligibility is the tri-state outcome surfaced to CLI/GUI callers.
type Eligibility int

const (
	Eligible Eligibility = iota
	NotDueToday
	Disabled
)

// RunOutcome reports one finished (or rejected) automation run.
type RunOutcome struct {
	ConfigID    string
	RunType     RunType
	Eligibility Eligibility
	Success     bool
	Reason      string
	Started     time.Time
	Duration    time.Duration
}

// Text renders a short human-readable status line for status displays.
func (o RunOutcome) Text() string {
	switch {
	case o.Eligibility == Disabled:
		return "disabled"
	case o.Eligibility == NotDueToday:
		return "not due today"
	case o.Success:
		return "booked"
	default:
		return "failed: " + o.Reason
	}
}
