package cron

import (
	"fmt"
	"time"
)

// WarningWindow is how long before a scheduled restart the countdown starts.
const WarningWindow = 600 * time.Second

// IsWarningSecond reports whether players are warned at sec seconds before
// the restart: every full minute from 10 down to 1, then 45, 30, 15 and each
// of the last ten seconds.
func IsWarningSecond(sec int) bool {
	switch {
	case sec >= 60 && sec <= 600:
		return sec%60 == 0
	case sec == 45 || sec == 30 || sec == 15:
		return true
	default:
		return sec >= 0 && sec <= 10
	}
}

// WarningMessage is the in-game text broadcast at sec seconds remaining.
func WarningMessage(sec int) string {
	switch {
	case sec <= 0:
		return "Server is restarting now!"
	case sec >= 60:
		return fmt.Sprintf("Server restart in %d minute%s.", sec/60, plural(sec/60))
	default:
		return fmt.Sprintf("Server restart in %d second%s.", sec, plural(sec))
	}
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}

// Countdown tracks one pre-restart window. Each warning second fires at most
// once; a tick that skips over warning seconds fires the latest one crossed.
type Countdown struct {
	Target     time.Time `json:"target"`
	Remaining  int       `json:"remaining"`
	LastWarned int       `json:"last_warned"`
	prev       int
}

func NewCountdown(target time.Time) *Countdown {
	return &Countdown{Target: target, LastWarned: -1, prev: -1}
}

// Tick updates the remaining seconds from now and returns the warning due,
// if any.
func (c *Countdown) Tick(now time.Time) (msg string, warn bool) {
	rem := int(c.Target.Sub(now).Round(time.Second) / time.Second)
	return c.Step(rem)
}

// Step is Tick for an explicit remaining-seconds value.
func (c *Countdown) Step(remaining int) (msg string, warn bool) {
	if remaining < 0 {
		remaining = 0
	}
	c.Remaining = remaining
	upper := c.prev
	if upper < 0 {
		upper = remaining + 1
	}
	c.prev = remaining

	hit := -1
	for s := remaining; s < upper; s++ {
		if IsWarningSecond(s) {
			hit = s
			break
		}
	}
	if hit < 0 || hit == c.LastWarned {
		return "", false
	}
	c.LastWarned = hit
	return WarningMessage(hit), true
}

// Done reports whether the countdown reached zero.
func (c *Countdown) Done() bool { return c.prev == 0 }
