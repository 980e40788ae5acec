// Package manager wires the supervised server to everything that reacts to
// it: playtime, roster, bans, backups, maintenance schedules, history and
// metrics.
package manager

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/loykin/hylord/internal/backup"
	"github.com/loykin/hylord/internal/ban"
	"github.com/loykin/hylord/internal/config"
	"github.com/loykin/hylord/internal/cron"
	"github.com/loykin/hylord/internal/history"
	"github.com/loykin/hylord/internal/history/factory"
	"github.com/loykin/hylord/internal/logline"
	"github.com/loykin/hylord/internal/metrics"
	"github.com/loykin/hylord/internal/process"
	"github.com/loykin/hylord/internal/session"
)

type options struct {
	console   io.Writer
	extractor logline.Extractor
	sinks     []history.Sink
	now       func() time.Time
}

type Option func(*options)

// WithConsole mirrors raw server output into w.
func WithConsole(w io.Writer) Option { return func(o *options) { o.console = w } }

func WithExtractor(x logline.Extractor) Option { return func(o *options) { o.extractor = x } }

// WithHistory adds sinks on top of the ones configured by DSN.
func WithHistory(sinks ...history.Sink) Option {
	return func(o *options) { o.sinks = append(o.sinks, sinks...) }
}

func WithClock(now func() time.Time) Option { return func(o *options) { o.now = now } }

// Manager owns one supervised server.
type Manager struct {
	sup        *process.Supervisor
	sessions   *session.Store
	roster     *session.Roster
	bans       *ban.List
	backups    *backup.Engine
	restarts   *cron.RestartScheduler
	autoBackup *cron.BackupScheduler
	recorder   *history.Recorder
	sampler    *metrics.Sampler
	removeObs  func()

	mu  sync.RWMutex
	cfg *config.Config

	crash crashPolicy
	feed  feed

	shutdownOnce sync.Once
	shutdownErr  error
}

// New builds the manager and arms the configured schedules. The server is
// not started.
func New(cfg *config.Config, opts ...Option) (*Manager, error) {
	o := options{now: time.Now}
	for _, fn := range opts {
		fn(&o)
	}

	sinks := append([]history.Sink(nil), o.sinks...)
	if cfg.History.Enabled {
		for _, dsn := range cfg.History.DSNs {
			s, err := factory.NewSinkFromDSN(dsn)
			if err != nil {
				_ = history.NewRecorder(sinks...).Close()
				return nil, fmt.Errorf("history sink %q: %w", dsn, err)
			}
			sinks = append(sinks, s)
		}
	}

	supOpts := []process.Option{process.WithHandshake(cfg.HandshakeConfig())}
	if o.console != nil {
		supOpts = append(supOpts, process.WithConsole(o.console))
	}
	if o.extractor != nil {
		supOpts = append(supOpts, process.WithExtractor(o.extractor))
	}
	sup := process.NewSupervisor(cfg.ProcessSpec(), supOpts...)

	bans := ban.NewList(cfg.BansPath(), cfg.PlayersDir())
	if err := bans.Load(); err != nil {
		slog.Warn("Ban list unreadable, starting empty", "path", cfg.BansPath(), "error", err)
	}

	m := &Manager{
		sup:      sup,
		sessions: session.Open(cfg.SessionsPath(), session.WithClock(o.now)),
		roster:   session.NewRoster(o.now),
		bans:     bans,
		backups:  backup.NewEngine(cfg.BackupConfig(), sup),
		recorder: history.NewRecorder(sinks...),
		sampler:  metrics.NewSampler(sup.PID, cfg.Metrics.SampleInterval),
		cfg:      cfg,
	}
	m.restarts = cron.NewRestartScheduler(sup)
	m.autoBackup = cron.NewBackupScheduler(m)
	m.crash.m = m
	m.removeObs = sup.AddObserver(process.ObserverFunc(m.handle))

	if err := m.applySchedules(cfg); err != nil {
		_ = m.Shutdown()
		return nil, err
	}
	return m, nil
}

func (m *Manager) config() *config.Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

func (m *Manager) name() string { return m.sup.Spec().Name }

// ApplyConfig re-arms both schedules and updates the runtime policies from
// cfg. Process settings such as the port take effect on the next daemon
// start.
func (m *Manager) ApplyConfig(cfg *config.Config) error {
	if err := m.applySchedules(cfg); err != nil {
		return err
	}
	m.mu.Lock()
	m.cfg = cfg
	m.mu.Unlock()
	slog.Info("Configuration applied", "path", cfg.Path())
	return nil
}

func (m *Manager) applySchedules(cfg *config.Config) error {
	rs, err := cfg.RestartSchedule()
	if err != nil {
		return err
	}
	bs, err := cfg.BackupSchedule()
	if err != nil {
		return err
	}
	if err := m.restarts.Apply(rs); err != nil {
		return err
	}
	return m.autoBackup.Apply(bs)
}

// Run samples process usage, starts the server when configured to, and
// blocks until ctx is done. It then shuts everything down.
func (m *Manager) Run(ctx context.Context) error {
	cfg := m.config()
	if cfg.Metrics.Enabled {
		go m.sampler.Run(ctx)
	}
	if cfg.Server.AutoStart {
		if err := m.Start(); err != nil {
			slog.Error("Auto start failed", "error", err)
		}
	}
	<-ctx.Done()
	return m.Shutdown()
}

// Shutdown disarms the schedules, stops the server and flushes history. It
// is safe to call more than once.
func (m *Manager) Shutdown() error {
	m.shutdownOnce.Do(func() {
		m.restarts.Stop()
		m.autoBackup.Stop()
		m.crash.cancel()
		if m.sup.Running() {
			slog.Info("Stopping server for shutdown", "name", m.name())
			if err := m.sup.Stop(); err != nil {
				m.shutdownErr = err
			}
		}
		if n := m.sessions.CloseAll(); n > 0 {
			slog.Info("Closed open sessions", "count", n)
		}
		if m.removeObs != nil {
			m.removeObs()
		}
		m.feed.closeAll()
		if err := m.recorder.Close(); err != nil && m.shutdownErr == nil {
			m.shutdownErr = err
		}
	})
	return m.shutdownErr
}

// Status is the dashboard view of the manager.
type Status struct {
	Server        process.Status `json:"server"`
	PlayersOnline int            `json:"players_online"`
	PeakPlayers   int            `json:"peak_players"`
	AutoRestart   cron.Status    `json:"auto_restart"`
	AutoBackup    cron.Status    `json:"auto_backup"`
	Usage         metrics.Usage  `json:"usage"`
	PeakCPU       float64        `json:"peak_cpu_percent"`
	PeakMemoryMB  float64        `json:"peak_memory_mb"`
}

func (m *Manager) Status() Status {
	usage, peakCPU, peakMB := m.sampler.Last()
	return Status{
		Server:        m.sup.Status(),
		PlayersOnline: m.roster.OnlineCount(),
		PeakPlayers:   m.roster.Peak(),
		AutoRestart:   m.restarts.Status(),
		AutoBackup:    m.autoBackup.Status(),
		Usage:         usage,
		PeakCPU:       peakCPU,
		PeakMemoryMB:  peakMB,
	}
}

// Supervisor exposes the underlying process supervisor.
func (m *Manager) Supervisor() *process.Supervisor { return m.sup }
