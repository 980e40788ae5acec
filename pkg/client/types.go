package client

import "time"

// ServerStatus mirrors the supervisor status.
type ServerStatus struct {
	Name       string    `json:"name"`
	State      string    `json:"state"`
	Running    bool      `json:"running"`
	PID        int       `json:"pid"`
	Port       int       `json:"port"`
	StartedAt  time.Time `json:"started_at"`
	StoppedAt  time.Time `json:"stopped_at"`
	ExitErr    string    `json:"exit_error,omitempty"`
	Starts     int       `json:"starts"`
	Auth       string    `json:"auth"`
	Restarting bool      `json:"restarting"`
}

type ScheduleStatus struct {
	Enabled      bool      `json:"enabled"`
	Schedule     string    `json:"schedule"`
	Next         time.Time `json:"next,omitempty"`
	CountingDown bool      `json:"counting_down"`
	Remaining    int       `json:"remaining"`
	Label        string    `json:"label"`
}

type Usage struct {
	CPUPercent float64 `json:"cpu_percent"`
	MemoryMB   float64 `json:"memory_mb"`
}

// Status is the response of GET /status.
type Status struct {
	Server        ServerStatus   `json:"server"`
	PlayersOnline int            `json:"players_online"`
	PeakPlayers   int            `json:"peak_players"`
	AutoRestart   ScheduleStatus `json:"auto_restart"`
	AutoBackup    ScheduleStatus `json:"auto_backup"`
	Usage         Usage          `json:"usage"`
	PeakCPU       float64        `json:"peak_cpu_percent"`
	PeakMemoryMB  float64        `json:"peak_memory_mb"`
}

type Schedule struct {
	AutoRestart ScheduleStatus `json:"auto_restart"`
	AutoBackup  ScheduleStatus `json:"auto_backup"`
}

type Player struct {
	Identity   string    `json:"identity"`
	Name       string    `json:"name"`
	JoinedAt   time.Time `json:"joined_at"`
	Online     bool      `json:"online"`
	IsOp       bool      `json:"is_op"`
	LastSeenAt time.Time `json:"last_seen_at,omitempty"`
}

type Playtime struct {
	Identity     string    `json:"hash"`
	LastName     string    `json:"last_name"`
	TotalSeconds int64     `json:"total_seconds"`
	LastSeen     time.Time `json:"last_seen"`
}

type Ban struct {
	Type        string `json:"type"`
	Target      string `json:"target"`
	By          string `json:"by"`
	Timestamp   int64  `json:"timestamp"`
	Reason      string `json:"reason"`
	DisplayName string `json:"display_name,omitempty"`
}

type Backup struct {
	FileName     string    `json:"file_name"`
	FullPath     string    `json:"full_path"`
	CreatedLocal time.Time `json:"created_local"`
	SizeBytes    int64     `json:"size_bytes"`
	Size         string    `json:"size"`
	Created      string    `json:"created"`
}

type RestoreResult struct {
	Restored  Backup `json:"restored"`
	Safety    Backup `json:"safety"`
	Restarted bool   `json:"restarted"`
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string `json:"error"`
}
