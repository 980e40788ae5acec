package manager

import (
	"log/slog"
	"sync"
	"time"

	"github.com/loykin/hylord/internal/process"
)

// crashPolicy restarts a crashed server after a delay when enabled. The
// supervisor itself never retries.
type crashPolicy struct {
	m *Manager

	mu     sync.Mutex
	timer  *time.Timer
	closed bool
}

func (c *crashPolicy) arm() {
	cfg := c.m.config().Server
	if !cfg.RestartOnCrash {
		return
	}
	if c.m.sup.Restarting() {
		slog.Info("Crash during restart, leaving recovery to the restart")
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	if c.timer != nil {
		c.timer.Stop()
	}
	slog.Warn("Server crashed, restarting", "delay", cfg.CrashDelay)
	c.timer = time.AfterFunc(cfg.CrashDelay, c.fire)
}

func (c *crashPolicy) fire() {
	c.mu.Lock()
	closed := c.closed
	c.timer = nil
	c.mu.Unlock()
	if closed {
		return
	}
	// an operator may have started or acknowledged the server meanwhile
	if c.m.sup.State() != process.StateCrashed {
		return
	}
	if err := c.m.sup.Start(0); err != nil {
		slog.Error("Restart after crash failed", "error", err)
	}
}

// pending reports whether a crash restart is armed.
func (c *crashPolicy) pending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timer != nil
}

func (c *crashPolicy) cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}
