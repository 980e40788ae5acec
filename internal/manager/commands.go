package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/loykin/hylord/internal/backup"
	"github.com/loykin/hylord/internal/ban"
	"github.com/loykin/hylord/internal/history"
	"github.com/loykin/hylord/internal/process"
	"github.com/loykin/hylord/internal/session"
)

var ErrEmptyArgument = errors.New("argument is required")

func (m *Manager) Start() error { return m.sup.Start(0) }

func (m *Manager) Stop() error { return m.sup.Stop() }

func (m *Manager) Restart() error { return m.sup.Restart() }

// Command sends a raw console command.
func (m *Manager) Command(text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyArgument
	}
	return m.sup.TrySendCommand(text)
}

func (m *Manager) Say(msg string) error {
	msg = strings.TrimSpace(msg)
	if msg == "" {
		return ErrEmptyArgument
	}
	return m.sup.TrySendCommand("say " + msg)
}

func (m *Manager) Op(name string) error   { return m.playerCommand("op add", name) }
func (m *Manager) Deop(name string) error { return m.playerCommand("op remove", name) }
func (m *Manager) Kick(name string) error { return m.playerCommand("kick", name) }

func (m *Manager) playerCommand(verb, name string) error {
	name = strings.TrimSpace(name)
	if name == "" || strings.ContainsAny(name, " \t") {
		return fmt.Errorf("%w: player name", ErrEmptyArgument)
	}
	if err := m.sup.TrySendCommand(verb + " " + name); err != nil {
		return err
	}
	slog.Info("Player command sent", "command", verb, "player", name)
	return nil
}

func (m *Manager) Ban(name string) error {
	if err := m.bans.Ban(m.sup, name); err != nil {
		return err
	}
	e := history.NewEvent(history.EventBan, m.name())
	e.Player = name
	m.recorder.Record(e)
	return nil
}

// Unban removes target from the ban list; see ban.List.Unban.
func (m *Manager) Unban(target string) (ban.Record, error) {
	rec, err := m.bans.Unban(m.sup, target)
	if err != nil {
		return rec, err
	}
	e := history.NewEvent(history.EventUnban, m.name())
	e.Player, e.Identity = rec.DisplayName, rec.Target
	m.recorder.Record(e)
	return rec, nil
}

// Bans rereads the ban list, which the server edits on its own.
func (m *Manager) Bans() ([]ban.Record, error) {
	if err := m.bans.Load(); err != nil {
		return nil, err
	}
	return m.bans.Records(), nil
}

func (m *Manager) Players() []session.Player { return m.roster.Players() }

func (m *Manager) Playtime() []session.Record { return m.sessions.Records() }

func (m *Manager) Backups() ([]backup.Descriptor, error) { return m.backups.List() }

func (m *Manager) CreateBackup(ctx context.Context) (backup.Descriptor, error) {
	d, err := m.backups.CreateSnapshot(ctx)
	if err != nil {
		return d, err
	}
	m.recordBackup(history.EventBackup, d.FileName)
	return d, nil
}

func (m *Manager) RestoreBackup(ctx context.Context, name string) (backup.RestoreResult, error) {
	res, err := m.backups.RestoreSnapshot(ctx, name)
	if res.Safety.FileName != "" {
		m.recordBackup(history.EventBackup, res.Safety.FileName)
	}
	if err != nil {
		return res, err
	}
	m.recordBackup(history.EventRestore, res.Restored.FileName)
	return res, nil
}

func (m *Manager) recordBackup(t history.EventType, file string) {
	e := history.NewEvent(t, m.name())
	e.Detail = file
	m.recorder.Record(e)
}

// Online implements cron.BackupTarget.
func (m *Manager) Online() bool { return m.sup.State() == process.StateOnline }

// ScheduledBackup implements cron.BackupTarget: an in-band snapshot followed
// by retention.
func (m *Manager) ScheduledBackup(ctx context.Context) error {
	d, err := m.backups.Snapshot(ctx, backup.KindScheduled)
	if err != nil {
		return err
	}
	m.recordBackup(history.EventBackup, d.FileName)
	if keep := m.config().AutoBackup.MaxBackups; keep > 0 {
		if _, err := m.backups.Prune(keep); err != nil {
			slog.Warn("Backup retention failed", "error", err)
		}
	}
	return nil
}
