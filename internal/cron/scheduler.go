package cron

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loykin/hylord/internal/metrics"
)

// task owns the goroutine of one armed schedule. Replacing it cancels the
// previous goroutine before the next one starts, so a stale timer can never
// fire after a reschedule.
type task struct {
	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// replace cancels the running goroutine, starts run (when non-nil) and
// returns the done channel of the cancelled goroutine.
func (t *task) replace(run func(ctx context.Context)) <-chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	old := t.done
	if t.cancel != nil {
		t.cancel()
		t.cancel, t.done = nil, nil
	}
	if run == nil {
		return old
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	t.cancel, t.done = cancel, done
	go func() {
		defer close(done)
		run(ctx)
	}()
	return old
}

// stop cancels the running goroutine and waits for it to return.
func (t *task) stop() {
	if old := t.replace(nil); old != nil {
		<-old
	}
}

// sleepCtx waits d and reports whether ctx is still live afterwards.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d > 0 {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return false
		case <-t.C:
		}
	}
	return ctx.Err() == nil
}

// from is the instant the next occurrence is computed from. A timer may fire
// marginally before its target, so the previous trigger is never reused.
func from(now, prev time.Time) time.Time {
	if !prev.IsZero() && !now.After(prev) {
		return prev
	}
	return now
}

// Status is a snapshot for display.
type Status struct {
	Enabled      bool      `json:"enabled"`
	Schedule     string    `json:"schedule"`
	Next         time.Time `json:"next,omitempty"`
	CountingDown bool      `json:"counting_down"`
	Remaining    int       `json:"remaining"`
	Label        string    `json:"label"`
}

// Server is what the restart scheduler drives.
type Server interface {
	Running() bool
	SendCommand(text string)
	Restart() error
}

// RestartScheduler restarts the server at the configured time, warning
// players in game during the last WarningWindow. It re-arms itself after
// every trigger until disabled.
type RestartScheduler struct {
	srv    Server
	now    func() time.Time
	tick   time.Duration
	window time.Duration
	next   func(ScheduleSpec, time.Time) time.Time

	t task

	mu     sync.Mutex
	spec   ScheduleSpec
	target time.Time
	cd     *Countdown
}

func NewRestartScheduler(srv Server) *RestartScheduler {
	return &RestartScheduler{
		srv:    srv,
		now:    time.Now,
		tick:   time.Second,
		window: WarningWindow,
		next:   NextOccurrence,
	}
}

// Apply disposes the current schedule and arms spec when it is enabled.
func (r *RestartScheduler) Apply(spec ScheduleSpec) error {
	if spec.Enabled {
		if err := spec.Validate(); err != nil {
			return err
		}
	}
	// Cancel before clearing: a cancelled loop publishes nothing.
	r.t.replace(nil)
	r.mu.Lock()
	r.spec = spec
	r.target, r.cd = time.Time{}, nil
	r.mu.Unlock()
	if !spec.Enabled {
		slog.Info("Auto restart disabled")
		return nil
	}
	r.t.replace(func(ctx context.Context) { r.loop(ctx, spec) })
	return nil
}

// Stop disposes the schedule and waits for its goroutine to exit. A restart
// already in progress runs to completion first.
func (r *RestartScheduler) Stop() {
	r.t.stop()
}

func (r *RestartScheduler) loop(ctx context.Context, spec ScheduleSpec) {
	var prev time.Time
	for {
		target := r.next(spec, from(r.now(), prev))
		if !r.publish(ctx, func() { r.target, r.cd = target, nil }) {
			return
		}
		slog.Info("Auto restart scheduled", "at", target.Format("2006-01-02 15:04"), "schedule", spec.String())

		if !sleepCtx(ctx, target.Sub(r.now())-r.window) {
			return
		}
		if !r.countdown(ctx, target) {
			return
		}
		r.perform(ctx)
		prev = target
		if ctx.Err() != nil {
			return
		}
	}
}

func (r *RestartScheduler) countdown(ctx context.Context, target time.Time) bool {
	cd := NewCountdown(target)
	tk := time.NewTicker(r.tick)
	defer tk.Stop()
	for {
		msg, warn := cd.Tick(r.now())
		c := *cd
		if !r.publish(ctx, func() { r.cd = &c }) {
			return false
		}
		if warn && r.srv.Running() {
			r.srv.SendCommand("say " + msg)
		}
		if cd.Done() {
			return ctx.Err() == nil
		}
		select {
		case <-ctx.Done():
			return false
		case <-tk.C:
		}
	}
}

// publish applies fn under the lock unless ctx has been cancelled.
func (r *RestartScheduler) publish(ctx context.Context, fn func()) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ctx.Err() != nil {
		return false
	}
	fn()
	return true
}

func (r *RestartScheduler) perform(ctx context.Context) {
	r.publish(ctx, func() { r.cd = nil })
	if !r.srv.Running() {
		slog.Info("Auto restart time reached, but server is offline. Skipping.")
		metrics.IncScheduled("restart", "skipped")
		return
	}
	slog.Warn("Auto restart triggered")
	if err := r.srv.Restart(); err != nil {
		slog.Error("Auto restart failed", "error", err)
		metrics.IncScheduled("restart", "failed")
		return
	}
	metrics.IncScheduled("restart", "performed")
}

func (r *RestartScheduler) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := Status{Enabled: r.spec.Enabled, Schedule: r.spec.String(), Next: r.target}
	switch {
	case !r.spec.Enabled:
		st.Label = "Next: --"
	case r.cd != nil:
		st.CountingDown = true
		st.Remaining = r.cd.Remaining
		st.Label = fmt.Sprintf("Restart in %02d:%02d", r.cd.Remaining/60, r.cd.Remaining%60)
	case !r.target.IsZero():
		st.Label = "Next: " + r.target.Format("2006-01-02 15:04")
	default:
		st.Label = "Next: --"
	}
	return st
}

// BackupTarget is what the backup scheduler drives.
type BackupTarget interface {
	Online() bool
	ScheduledBackup(ctx context.Context) error
}

// BackupScheduler takes a daily backup while the server is online. The
// backup runs on its own goroutine so waiting for the archive never delays
// re-arming.
type BackupScheduler struct {
	target BackupTarget
	now    func() time.Time
	next   func(ScheduleSpec, time.Time) time.Time

	t        task
	inFlight atomic.Bool
	wg       sync.WaitGroup

	mu   sync.Mutex
	spec ScheduleSpec
	at   time.Time
}

func NewBackupScheduler(target BackupTarget) *BackupScheduler {
	return &BackupScheduler{target: target, now: time.Now, next: NextOccurrence}
}

// Apply disposes the current schedule and arms spec when it is enabled.
// Backups are always daily; Mode and Weekday are ignored.
func (b *BackupScheduler) Apply(spec ScheduleSpec) error {
	spec.Mode, spec.Weekday = Daily, time.Sunday
	if spec.Enabled {
		if err := spec.Validate(); err != nil {
			return err
		}
	}
	b.t.replace(nil)
	b.mu.Lock()
	b.spec, b.at = spec, time.Time{}
	b.mu.Unlock()
	if !spec.Enabled {
		slog.Info("Auto backup disabled")
		return nil
	}
	b.t.replace(func(ctx context.Context) { b.loop(ctx, spec) })
	return nil
}

// Stop disposes the schedule and waits for a running backup to finish.
func (b *BackupScheduler) Stop() {
	b.t.stop()
	b.wg.Wait()
}

func (b *BackupScheduler) loop(ctx context.Context, spec ScheduleSpec) {
	var prev time.Time
	for {
		at := b.next(spec, from(b.now(), prev))
		b.mu.Lock()
		live := ctx.Err() == nil
		if live {
			b.at = at
		}
		b.mu.Unlock()
		if !live {
			return
		}
		slog.Info("Auto backup scheduled", "at", at.Format("2006-01-02 15:04"))
		if !sleepCtx(ctx, at.Sub(b.now())) {
			return
		}
		b.fire()
		prev = at
	}
}

func (b *BackupScheduler) fire() {
	if !b.target.Online() {
		slog.Info("Auto backup time reached, but server is offline. Skipping.")
		metrics.IncScheduled("backup", "skipped")
		return
	}
	if !b.inFlight.CompareAndSwap(false, true) {
		slog.Warn("Previous auto backup still running, skipping")
		metrics.IncScheduled("backup", "skipped")
		return
	}
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer b.inFlight.Store(false)
		slog.Info("Auto backup triggered")
		if err := b.target.ScheduledBackup(context.Background()); err != nil {
			slog.Error("Auto backup failed", "error", err)
			metrics.IncScheduled("backup", "failed")
			return
		}
		metrics.IncScheduled("backup", "performed")
	}()
}

func (b *BackupScheduler) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	st := Status{Enabled: b.spec.Enabled, Schedule: b.spec.String(), Next: b.at, Label: "Next: --"}
	if b.spec.Enabled && !b.at.IsZero() {
		st.Label = "Next: " + b.at.Format("2006-01-02 15:04")
	}
	return st
}
