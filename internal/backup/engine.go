package backup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"github.com/loykin/hylord/internal/metrics"
)

var (
	ErrSnapshotTimeout = errors.New("no completed backup archive appeared in time")
	ErrNoDataDir       = errors.New("data directory not found")
	ErrInvalidArchive  = errors.New("invalid backup archive")
	ErrNotFound        = errors.New("backup not found")
	ErrBusy            = errors.New("another backup operation is running")
)

const (
	DefaultCommand      = "backup"
	DefaultPollInterval = 500 * time.Millisecond
	DefaultTimeout      = 60 * time.Second
)

// Snapshot name prefixes.
const (
	KindManual     = "manual"
	KindScheduled  = "scheduled"
	KindPreRestore = "pre-restore"
)

// Server is the part of the supervisor the engine drives.
type Server interface {
	Running() bool
	Online() bool
	SendCommand(text string)
	Stop() error
	Start(port int) error
}

type Config struct {
	// BackupDir receives the archives, both the server's own and ours.
	BackupDir string
	// DataDir is the world data the offline path archives and restore replaces.
	DataDir      string
	Command      string
	PollInterval time.Duration
	Timeout      time.Duration
}

func (c Config) withDefaults() Config {
	if c.Command == "" {
		c.Command = DefaultCommand
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	return c
}

// Descriptor describes one archive in the backup directory.
type Descriptor struct {
	FileName     string    `json:"file_name"`
	FullPath     string    `json:"full_path"`
	CreatedLocal time.Time `json:"created_local"`
	SizeBytes    int64     `json:"size_bytes"`
}

func (d Descriptor) SizeText() string {
	const kb = 1024
	switch b := float64(d.SizeBytes); {
	case b >= kb*kb*kb:
		return fmt.Sprintf("%.2f GB", b/(kb*kb*kb))
	case b >= kb*kb:
		return fmt.Sprintf("%.2f MB", b/(kb*kb))
	case b >= kb:
		return fmt.Sprintf("%.2f KB", b/kb)
	default:
		return fmt.Sprintf("%d B", d.SizeBytes)
	}
}

func (d Descriptor) CreatedText() string { return d.CreatedLocal.Format("2006-01-02 15:04:05") }

// RestoreResult reports what a restore did.
type RestoreResult struct {
	Restored  Descriptor `json:"restored"`
	Safety    Descriptor `json:"safety"`
	Restarted bool       `json:"restarted"`
}

// Engine creates and restores snapshots of the data directory. Create and
// restore are serialized; a second call while one runs fails with ErrBusy.
type Engine struct {
	cfg Config
	srv Server
	now func() time.Time
	mu  sync.Mutex
}

func NewEngine(cfg Config, srv Server) *Engine {
	return &Engine{cfg: cfg.withDefaults(), srv: srv, now: time.Now}
}

func (e *Engine) Config() Config { return e.cfg }

// CreateSnapshot takes a manual snapshot.
func (e *Engine) CreateSnapshot(ctx context.Context) (Descriptor, error) {
	return e.Snapshot(ctx, KindManual)
}

// Snapshot takes a snapshot named after kind. While the server is online the
// server writes the archive itself; otherwise the data directory is zipped.
func (e *Engine) Snapshot(ctx context.Context, kind string) (Descriptor, error) {
	if !e.mu.TryLock() {
		return Descriptor{}, ErrBusy
	}
	defer e.mu.Unlock()
	return e.snapshot(ctx, kind)
}

func (e *Engine) snapshot(ctx context.Context, kind string) (Descriptor, error) {
	mode := "offline"
	if e.srv != nil && e.srv.Online() {
		mode = "online"
	}
	var (
		d   Descriptor
		err error
	)
	if mode == "online" {
		d, err = e.inBand(ctx, kind)
	} else {
		d, err = e.direct(kind)
	}
	metrics.IncBackup(mode, err)
	if err != nil {
		slog.Error("Backup failed", "kind", kind, "mode", mode, "error", err)
		return Descriptor{}, err
	}
	slog.Info("Backup created", "kind", kind, "mode", mode, "file", d.FileName, "size", d.SizeText())
	return d, nil
}

// inBand asks the server for a backup and waits for the archive to settle:
// a new non-empty file whose size did not change between two polls and that
// saw no write event in between.
func (e *Engine) inBand(ctx context.Context, kind string) (Descriptor, error) {
	if err := os.MkdirAll(e.cfg.BackupDir, 0o755); err != nil {
		return Descriptor{}, fmt.Errorf("create backup dir: %w", err)
	}
	before := e.names()

	var events <-chan fsnotify.Event
	if w, err := fsnotify.NewWatcher(); err != nil {
		slog.Debug("Backup dir watch unavailable, polling only", "error", err)
	} else {
		defer func() { _ = w.Close() }()
		if err := w.Add(e.cfg.BackupDir); err != nil {
			slog.Debug("Backup dir watch unavailable, polling only", "error", err)
		} else {
			events = w.Events
		}
	}

	slog.Info("Requesting backup from server", "command", e.cfg.Command)
	e.srv.SendCommand(e.cfg.Command)

	deadline := time.NewTimer(e.cfg.Timeout)
	defer deadline.Stop()
	tk := time.NewTicker(e.cfg.PollInterval)
	defer tk.Stop()

	var (
		cand     string
		lastSize int64 = -1
		dirty    bool
	)
	for {
		select {
		case <-ctx.Done():
			return Descriptor{}, ctx.Err()
		case <-deadline.C:
			return Descriptor{}, fmt.Errorf("%w after %s", ErrSnapshotTimeout, e.cfg.Timeout)
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if cand != "" && filepath.Base(ev.Name) == cand {
				dirty = true
			}
		case <-tk.C:
			name, size := e.newest(before)
			if name == "" || size == 0 {
				continue
			}
			if name != cand {
				cand, lastSize, dirty = name, size, false
				continue
			}
			if size == lastSize && !dirty {
				return e.rename(filepath.Join(e.cfg.BackupDir, cand), kind)
			}
			lastSize, dirty = size, false
		}
	}
}

// newest returns the most recent archive not present in before.
func (e *Engine) newest(before map[string]struct{}) (string, int64) {
	entries, err := os.ReadDir(e.cfg.BackupDir)
	if err != nil {
		return "", 0
	}
	var (
		best    string
		bestMod time.Time
		size    int64
	)
	for _, ent := range entries {
		if ent.IsDir() || !isArchive(ent.Name()) {
			continue
		}
		if _, seen := before[ent.Name()]; seen {
			continue
		}
		info, err := ent.Info()
		if err != nil {
			continue
		}
		if best == "" || info.ModTime().After(bestMod) {
			best, bestMod, size = ent.Name(), info.ModTime(), info.Size()
		}
	}
	return best, size
}

func (e *Engine) names() map[string]struct{} {
	out := map[string]struct{}{}
	entries, _ := os.ReadDir(e.cfg.BackupDir)
	for _, ent := range entries {
		out[ent.Name()] = struct{}{}
	}
	return out
}

func (e *Engine) rename(src, kind string) (Descriptor, error) {
	dst := e.target(kind)
	if err := os.Rename(src, dst); err != nil {
		return Descriptor{}, fmt.Errorf("rename backup: %w", err)
	}
	return describe(dst)
}

// direct zips the data directory into the backup directory.
func (e *Engine) direct(kind string) (Descriptor, error) {
	info, err := os.Stat(e.cfg.DataDir)
	if err != nil || !info.IsDir() {
		return Descriptor{}, fmt.Errorf("%w: %s", ErrNoDataDir, e.cfg.DataDir)
	}
	if err := os.MkdirAll(e.cfg.BackupDir, 0o755); err != nil {
		return Descriptor{}, fmt.Errorf("create backup dir: %w", err)
	}
	dst := e.target(kind)
	// dot-prefixed while being written so listings and in-band polling skip it
	tmp := filepath.Join(e.cfg.BackupDir, "."+filepath.Base(dst)+".partial")
	if err := archiveDir(e.cfg.DataDir, tmp); err != nil {
		_ = os.Remove(tmp)
		return Descriptor{}, fmt.Errorf("archive data dir: %w", err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		_ = os.Remove(tmp)
		return Descriptor{}, fmt.Errorf("rename backup: %w", err)
	}
	return describe(dst)
}

// target picks a free archive path for kind.
func (e *Engine) target(kind string) string {
	stem := kind + "-" + e.now().Format("20060102-150405")
	p := filepath.Join(e.cfg.BackupDir, stem+".zip")
	for i := 1; exists(p); i++ {
		p = filepath.Join(e.cfg.BackupDir, fmt.Sprintf("%s-%d.zip", stem, i))
	}
	return p
}

func describe(path string) (Descriptor, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Descriptor{}, err
	}
	return Descriptor{
		FileName:     info.Name(),
		FullPath:     path,
		CreatedLocal: info.ModTime().Local(),
		SizeBytes:    info.Size(),
	}, nil
}

// List scans the backup directory, newest first.
func (e *Engine) List() ([]Descriptor, error) {
	entries, err := os.ReadDir(e.cfg.BackupDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	out := make([]Descriptor, 0, len(entries))
	for _, ent := range entries {
		if ent.IsDir() || !isArchive(ent.Name()) {
			continue
		}
		d, err := describe(filepath.Join(e.cfg.BackupDir, ent.Name()))
		if err != nil {
			continue
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedLocal.Equal(out[j].CreatedLocal) {
			return out[i].CreatedLocal.After(out[j].CreatedLocal)
		}
		return out[i].FileName > out[j].FileName
	})
	return out, nil
}

// Prune deletes all but the newest keep scheduled archives. Manual and
// pre-restore snapshots are never touched. keep <= 0 keeps everything.
func (e *Engine) Prune(keep int) ([]string, error) {
	if keep <= 0 {
		return nil, nil
	}
	list, err := e.List()
	if err != nil {
		return nil, err
	}
	var scheduled []Descriptor
	for _, d := range list {
		if strings.HasPrefix(d.FileName, KindScheduled+"-") {
			scheduled = append(scheduled, d)
		}
	}
	var removed []string
	for _, d := range scheduled[min(keep, len(scheduled)):] {
		if err := os.Remove(d.FullPath); err != nil {
			slog.Warn("Failed to remove old backup", "file", d.FileName, "error", err)
			continue
		}
		removed = append(removed, d.FileName)
	}
	if len(removed) > 0 {
		slog.Info("Old backups removed", "count", len(removed), "keep", keep)
	}
	return removed, nil
}

// resolve maps a bare archive name to its path inside the backup directory.
func (e *Engine) resolve(name string) (Descriptor, error) {
	if name == "" || name != filepath.Base(name) || strings.ContainsAny(name, `/\`) || !isArchive(name) {
		return Descriptor{}, fmt.Errorf("%w: %q", ErrInvalidArchive, name)
	}
	d, err := describe(filepath.Join(e.cfg.BackupDir, name))
	if err != nil {
		return Descriptor{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return d, nil
}

// RestoreSnapshot replaces the data directory with the contents of the named
// archive. A safety snapshot is always taken first. A failing step aborts the
// rest without rolling back earlier ones.
func (e *Engine) RestoreSnapshot(ctx context.Context, name string) (RestoreResult, error) {
	if !e.mu.TryLock() {
		return RestoreResult{}, ErrBusy
	}
	defer e.mu.Unlock()

	src, err := e.resolve(name)
	if err != nil {
		return RestoreResult{}, err
	}
	res := RestoreResult{Restored: src}
	slog.Info("Restore started", "file", src.FileName)

	slog.Info("Restore: creating safety snapshot")
	safety, err := e.snapshot(ctx, KindPreRestore)
	if err != nil {
		return res, fmt.Errorf("safety snapshot: %w", err)
	}
	res.Safety = safety

	wasRunning := e.srv != nil && e.srv.Running()
	if wasRunning {
		slog.Info("Restore: stopping server")
		if err := e.srv.Stop(); err != nil {
			return res, fmt.Errorf("stop server: %w", err)
		}
	}

	staging := filepath.Join(filepath.Dir(e.cfg.DataDir), ".restore-"+uuid.NewString())
	if err := os.MkdirAll(staging, 0o755); err != nil {
		return res, fmt.Errorf("create staging dir: %w", err)
	}
	defer func() { _ = os.RemoveAll(staging) }()

	slog.Info("Restore: extracting archive", "file", src.FileName)
	if err := extractArchive(src.FullPath, staging); err != nil {
		return res, fmt.Errorf("extract: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return res, err
	}

	slog.Info("Restore: replacing data directory", "dir", e.cfg.DataDir)
	if err := os.RemoveAll(e.cfg.DataDir); err != nil {
		return res, fmt.Errorf("remove data dir: %w", err)
	}
	if err := copyTree(restoreRoot(staging, filepath.Base(e.cfg.DataDir)), e.cfg.DataDir); err != nil {
		return res, fmt.Errorf("copy data dir: %w", err)
	}

	if wasRunning {
		slog.Info("Restore: starting server")
		if err := e.srv.Start(0); err != nil {
			return res, fmt.Errorf("start server: %w", err)
		}
		res.Restarted = true
	}
	slog.Info("Restore completed", "file", src.FileName, "safety", safety.FileName)
	return res, nil
}
