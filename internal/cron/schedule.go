// Package cron arms the daily/weekly maintenance actions: the restart with
// its in-game countdown and the unattended backup.
package cron

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var ErrInvalidSchedule = errors.New("invalid schedule")

type Mode int

const (
	Daily Mode = iota
	Weekly
)

func (m Mode) String() string {
	if m == Weekly {
		return "Weekly"
	}
	return "Daily"
}

func (m Mode) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

// ParseMode accepts "Daily" and "Weekly" in any case; empty means Daily.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "daily":
		return Daily, nil
	case "weekly":
		return Weekly, nil
	}
	return Daily, fmt.Errorf("%w: unknown mode %q", ErrInvalidSchedule, s)
}

// ParseWeekday accepts English day names ("Sunday", "sun").
func ParseWeekday(s string) (time.Weekday, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return time.Sunday, nil
	}
	for d := time.Sunday; d <= time.Saturday; d++ {
		name := strings.ToLower(d.String())
		if s == name || s == name[:3] {
			return d, nil
		}
	}
	return time.Sunday, fmt.Errorf("%w: unknown day %q", ErrInvalidSchedule, s)
}

// ParseClock parses "HH:MM" in 24-hour form.
func ParseClock(s string) (hour, minute int, err error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, 0, fmt.Errorf("%w: time %q is not HH:MM", ErrInvalidSchedule, s)
	}
	hour, err1 := strconv.Atoi(hh)
	minute, err2 := strconv.Atoi(mm)
	if err1 != nil || err2 != nil || hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("%w: time %q is not HH:MM", ErrInvalidSchedule, s)
	}
	return hour, minute, nil
}

// ScheduleSpec is a recurring wall-clock trigger in local time.
type ScheduleSpec struct {
	Enabled bool         `json:"enabled"`
	Mode    Mode         `json:"mode"`
	Hour    int          `json:"hour"`
	Minute  int          `json:"minute"`
	Weekday time.Weekday `json:"weekday"` // Weekly only
}

func (s ScheduleSpec) Validate() error {
	if s.Hour < 0 || s.Hour > 23 || s.Minute < 0 || s.Minute > 59 {
		return fmt.Errorf("%w: %02d:%02d", ErrInvalidSchedule, s.Hour, s.Minute)
	}
	if s.Mode != Daily && s.Mode != Weekly {
		return fmt.Errorf("%w: mode %d", ErrInvalidSchedule, s.Mode)
	}
	if s.Weekday < time.Sunday || s.Weekday > time.Saturday {
		return fmt.Errorf("%w: weekday %d", ErrInvalidSchedule, s.Weekday)
	}
	return nil
}

func (s ScheduleSpec) String() string {
	if !s.Enabled {
		return "disabled"
	}
	if s.Mode == Weekly {
		return fmt.Sprintf("weekly %s %02d:%02d", s.Weekday, s.Hour, s.Minute)
	}
	return fmt.Sprintf("daily %02d:%02d", s.Hour, s.Minute)
}

// NextOccurrence returns the first trigger strictly after now, in now's
// location. A time equal to now counts as already passed.
func NextOccurrence(s ScheduleSpec, now time.Time) time.Time {
	y, mo, d := now.Date()
	at := time.Date(y, mo, d, s.Hour, s.Minute, 0, 0, now.Location())
	if s.Mode == Weekly {
		ahead := (int(s.Weekday) - int(at.Weekday()) + 7) % 7
		at = time.Date(y, mo, d+ahead, s.Hour, s.Minute, 0, 0, now.Location())
		if !at.After(now) {
			at = time.Date(y, mo, d+ahead+7, s.Hour, s.Minute, 0, 0, now.Location())
		}
		return at
	}
	if !at.After(now) {
		at = time.Date(y, mo, d+1, s.Hour, s.Minute, 0, 0, now.Location())
	}
	return at
}
