// Package ban reads and edits the server's ban list.
package ban

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/loykin/hylord/internal/session"
)

// Unknown is shown when a ban target cannot be resolved to a display name.
const Unknown = "(unknown)"

var (
	ErrNotFound   = errors.New("ban not found")
	ErrNotRunning = errors.New("server is not running")
	ErrEmptyName  = errors.New("player name is required")
)

// Record mirrors one entry of the server's bans.json. DisplayName is derived
// on every load and never written back.
type Record struct {
	Type        string `json:"type"`
	Target      string `json:"target"`
	By          string `json:"by"`
	Timestamp   int64  `json:"timestamp"`
	Reason      string `json:"reason"`
	DisplayName string `json:"display_name,omitempty"`
}

// IssuedAt converts the epoch-millisecond timestamp.
func (r Record) IssuedAt() time.Time {
	if r.Timestamp <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(r.Timestamp)
}

// Server is the part of the supervisor the ban list needs.
type Server interface {
	Running() bool
	SendCommand(text string)
}

type List struct {
	path       string
	playersDir string

	mu      sync.Mutex
	records []Record
}

func NewList(path, playersDir string) *List {
	return &List{path: path, playersDir: playersDir}
}

// Load rereads the file and resolves display names. On a missing or corrupt
// file the list is empty; the error is returned for logging only.
func (l *List) Load() error {
	recs, err := l.read()
	for i := range recs {
		recs[i].DisplayName = ResolveDisplayName(l.playersDir, recs[i].Target)
	}
	l.mu.Lock()
	l.records = recs
	l.mu.Unlock()
	if err != nil {
		slog.Warn("Ban list unreadable, treating as empty", "path", l.path, "error", err)
		return err
	}
	slog.Debug("Loaded bans", "count", len(recs))
	return nil
}

func (l *List) read() ([]Record, error) {
	b, err := os.ReadFile(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read bans: %w", err)
	}
	if strings.TrimSpace(string(b)) == "" {
		return nil, nil
	}
	var recs []Record
	if err := json.Unmarshal(b, &recs); err != nil {
		return nil, fmt.Errorf("decode bans: %w", err)
	}
	return recs, nil
}

// Records returns a copy of the loaded list.
func (l *List) Records() []Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Record(nil), l.records...)
}

func (l *List) saveLocked() error {
	out := make([]Record, len(l.records))
	for i, r := range l.records {
		r.DisplayName = ""
		out[i] = r
	}
	b, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	return session.WriteFileAtomic(l.path, b)
}

// Ban asks the running server to ban name; the server records the entry in
// bans.json itself, so the list is reloaded on the next Load.
func (l *List) Ban(srv Server, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrEmptyName
	}
	if !srv.Running() {
		return ErrNotRunning
	}
	srv.SendCommand("ban " + name)
	slog.Warn("Ban issued", "player", name)
	return nil
}

// Unban removes target from bans.json. When the server is running and the
// target resolves to a display name, the in-band unban command is sent as
// well; otherwise the change applies on the next server start.
func (l *List) Unban(srv Server, target string) (Record, error) {
	target = strings.TrimSpace(target)
	l.mu.Lock()
	idx := -1
	for i, r := range l.records {
		if strings.EqualFold(r.Target, target) {
			idx = i
			break
		}
	}
	if idx < 0 {
		l.mu.Unlock()
		return Record{}, ErrNotFound
	}
	rec := l.records[idx]
	l.records = append(l.records[:idx:idx], l.records[idx+1:]...)
	err := l.saveLocked()
	l.mu.Unlock()
	if err != nil {
		return rec, fmt.Errorf("save bans: %w", err)
	}
	slog.Warn("Unbanned (removed from ban list)", "target", rec.Target)

	switch {
	case srv == nil || !srv.Running():
		slog.Info("Server is offline, ban list changes apply on next start")
	case rec.DisplayName == "" || rec.DisplayName == Unknown:
		slog.Warn("Could not resolve name for ban target, no unban command sent", "target", rec.Target)
	default:
		srv.SendCommand("unban " + rec.DisplayName)
	}
	return rec, nil
}

type playerFile struct {
	Components struct {
		DisplayName struct {
			DisplayName struct {
				RawText string `json:"RawText"`
			} `json:"DisplayName"`
		} `json:"DisplayName"`
	} `json:"Components"`
}

// ResolveDisplayName reads <playersDir>/<identity>.json and returns the
// player's display name, or Unknown.
func ResolveDisplayName(playersDir, identity string) string {
	identity = strings.TrimSpace(identity)
	if identity == "" || playersDir == "" || strings.ContainsAny(identity, `/\`) || strings.Contains(identity, "..") {
		return Unknown
	}
	b, err := os.ReadFile(filepath.Join(playersDir, identity+".json"))
	if err != nil {
		return Unknown
	}
	var pf playerFile
	if err := json.Unmarshal(b, &pf); err != nil {
		return Unknown
	}
	if name := strings.TrimSpace(pf.Components.DisplayName.DisplayName.RawText); name != "" {
		return name
	}
	return Unknown
}
