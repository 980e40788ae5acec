package process

import (
	"net"
	"os/exec"
	"strconv"
	"time"
)

const (
	DefaultExecutable    = "java"
	DefaultStopCommand   = "stop"
	DefaultPort          = 5520
	DefaultStopTimeout   = 8 * time.Second
	DefaultRestartSettle = 750 * time.Millisecond
)

// Spec describes how the game server is launched.
type Spec struct {
	Name          string        `json:"name"`
	Executable    string        `json:"executable"`     // defaults to java
	Args          []string      `json:"args"`           // leading arguments, e.g. -jar HytaleServer.jar
	AssetsPath    string        `json:"assets"`         // passed as --assets
	BindHost      string        `json:"bind_host"`      // host part of --bind
	Port          int           `json:"port"`           // used by Restart before the first Start
	BackupDir     string        `json:"backup_dir"`     // passed as --backup-dir
	WorkDir       string        `json:"work_dir"`       // application directory
	Env           []string      `json:"env"`            // extra KEY=VALUE entries, ${VAR} expanded
	StopCommand   string        `json:"stop_command"`   // in-band shutdown command
	StopTimeout   time.Duration `json:"stop_timeout"`   // wait before the process tree is killed
	RestartSettle time.Duration `json:"restart_settle"` // pause between stop and start on restart
}

func (s Spec) withDefaults() Spec {
	if s.Name == "" {
		s.Name = "server"
	}
	if s.Executable == "" {
		s.Executable = DefaultExecutable
	}
	if s.BindHost == "" {
		s.BindHost = "0.0.0.0"
	}
	if s.Port <= 0 {
		s.Port = DefaultPort
	}
	if s.StopCommand == "" {
		s.StopCommand = DefaultStopCommand
	}
	if s.StopTimeout <= 0 {
		s.StopTimeout = DefaultStopTimeout
	}
	if s.RestartSettle < 0 {
		s.RestartSettle = 0
	}
	return s
}

// BuildCommand returns the server command bound to port. The fixed flags
// follow the leading Args so the executable sees them in a stable order.
func (s Spec) BuildCommand(port int) *exec.Cmd {
	args := append([]string(nil), s.Args...)
	if s.AssetsPath != "" {
		args = append(args, "--assets", s.AssetsPath)
	}
	host := s.BindHost
	if host == "" {
		host = "0.0.0.0"
	}
	args = append(args, "--bind", net.JoinHostPort(host, strconv.Itoa(port)))
	if s.BackupDir != "" {
		args = append(args, "--backup-dir", s.BackupDir)
	}
	// #nosec G204 executable and arguments come from the operator's config
	cmd := exec.Command(s.Executable, args...)
	if s.WorkDir != "" {
		cmd.Dir = s.WorkDir
	}
	return cmd
}
