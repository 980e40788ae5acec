package process

import "time"

// Status is a point-in-time copy of the supervisor state.
type Status struct {
	Name       string         `json:"name"`
	State      LifecycleState `json:"state"`
	Running    bool           `json:"running"`
	PID        int            `json:"pid"`
	Port       int            `json:"port"`
	StartedAt  time.Time      `json:"started_at"`
	StoppedAt  time.Time      `json:"stopped_at"`
	ExitErr    string         `json:"exit_error,omitempty"`
	Starts     int            `json:"starts"`
	Auth       string         `json:"auth"`
	Restarting bool           `json:"restarting"`
}
