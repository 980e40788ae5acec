// Package session keeps per-player playtime across server runs and the live
// player roster derived from join/leave/op console events.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// Record is the persisted playtime of one identity.
type Record struct {
	Identity     string    `json:"hash"`
	LastName     string    `json:"last_name"`
	TotalSeconds int64     `json:"total_seconds"`
	LastSeen     time.Time `json:"last_seen"`
}

// fileRecord is the on-disk shape of a Record. Key names and the timestamp
// layout follow the playtime files written by earlier tools.
type fileRecord struct {
	Hash         string `json:"Hash"`
	LastName     string `json:"LastName"`
	TotalSeconds int64  `json:"TotalSeconds"`
	LastSeen     stamp  `json:"LastSeen"`
}

const (
	stampLayout = "2006-01-02T15:04:05.9999999Z07:00"
	zeroStamp   = "0001-01-01T00:00:00"
)

// stamp decodes RFC 3339 and zoneless local timestamps. Anything it cannot
// read becomes the zero time instead of failing the whole file.
type stamp time.Time

func (s stamp) MarshalJSON() ([]byte, error) {
	t := time.Time(s)
	if t.IsZero() {
		return json.Marshal(zeroStamp)
	}
	return json.Marshal(t.Format(stampLayout))
}

func (s *stamp) UnmarshalJSON(b []byte) error {
	*s = stamp{}
	var v string
	if err := json.Unmarshal(b, &v); err != nil {
		return nil
	}
	v = strings.TrimSpace(v)
	if v == "" || strings.HasPrefix(v, "0001-01-01") {
		return nil
	}
	if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
		*s = stamp(t)
		return nil
	}
	// fractional seconds after the seconds field are accepted while parsing
	if t, err := time.ParseInLocation("2006-01-02T15:04:05", v, time.Local); err == nil {
		*s = stamp(t)
	}
	return nil
}

type active struct {
	identity string
	name     string
	joinedAt time.Time
}

// Store maps identities to cumulative playtime. Every mutation is written to
// disk immediately. Sessions without an identity are tracked for the join and
// leave correlation but never persisted.
type Store struct {
	path string
	now  func() time.Time

	mu      sync.Mutex
	records map[string]*Record // lower-cased identity
	open    []*active
}

type Option func(*Store)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Open loads the store at path. A missing or corrupt file yields an empty
// store; the error is logged, never returned.
func Open(path string, opts ...Option) *Store {
	s := &Store{path: path, now: time.Now, records: make(map[string]*Record)}
	for _, o := range opts {
		o(s)
	}
	if err := s.Load(); err != nil {
		slog.Warn("Session store unreadable, starting empty", "path", path, "error", err)
	}
	return s
}

func key(identity string) string { return strings.ToLower(strings.TrimSpace(identity)) }

// Load replaces the in-memory records with the file contents.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = make(map[string]*Record)
	if s.path == "" {
		return nil
	}
	b, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read sessions: %w", err)
	}
	var list []fileRecord
	if err := json.Unmarshal(b, &list); err != nil {
		return fmt.Errorf("decode sessions: %w", err)
	}
	for _, fr := range list {
		k := key(fr.Hash)
		if k == "" {
			continue
		}
		r := &Record{Identity: fr.Hash, LastName: fr.LastName, TotalSeconds: fr.TotalSeconds, LastSeen: time.Time(fr.LastSeen)}
		if r.TotalSeconds < 0 {
			r.TotalSeconds = 0
		}
		s.records[k] = r
	}
	return nil
}

// Save writes all records atomically.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked()
}

func (s *Store) saveLocked() error {
	if s.path == "" {
		return nil
	}
	list := make([]fileRecord, 0, len(s.records))
	for _, r := range s.records {
		list = append(list, fileRecord{Hash: r.Identity, LastName: r.LastName, TotalSeconds: r.TotalSeconds, LastSeen: stamp(r.LastSeen)})
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Hash < list[j].Hash })
	b, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return err
	}
	return WriteFileAtomic(s.path, b)
}

// OnJoin opens a session for identity (or name when identity is empty). A
// second join for the same key restarts its clock.
func (s *Store) OnJoin(identity, name string) {
	identity, name = strings.TrimSpace(identity), strings.TrimSpace(name)
	if identity == "" && name == "" {
		return
	}
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	if a := s.findLocked(identity, name); a != nil {
		a.joinedAt = now
		if identity != "" {
			a.identity = identity
		}
		a.name = name
	} else {
		s.open = append(s.open, &active{identity: identity, name: name, joinedAt: now})
	}
	if identity == "" {
		return
	}
	rec := s.recordLocked(identity)
	rec.LastName = name
	if err := s.saveLocked(); err != nil {
		slog.Warn("Failed to persist session join", "player", name, "error", err)
	}
}

// OnLeave closes the session matched by identity first and name second, and
// adds the elapsed time to the identity's total. Without a matching join the
// elapsed time is zero. Name matching can attribute a leave to the wrong
// player when two identities share a display name.
func (s *Store) OnLeave(identity, name string) time.Duration {
	identity, name = strings.TrimSpace(identity), strings.TrimSpace(name)
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()

	var elapsed time.Duration
	if a := s.findLocked(identity, name); a != nil {
		elapsed = now.Sub(a.joinedAt)
		if identity == "" {
			identity = a.identity
		}
		if name == "" {
			name = a.name
		}
		s.removeLocked(a)
	}
	if elapsed < 0 {
		elapsed = 0
	}
	if identity == "" {
		return elapsed
	}
	rec := s.recordLocked(identity)
	if name != "" {
		rec.LastName = name
	}
	rec.TotalSeconds += int64(elapsed / time.Second)
	rec.LastSeen = now
	if err := s.saveLocked(); err != nil {
		slog.Warn("Failed to persist session leave", "player", name, "error", err)
	}
	return elapsed
}

// CloseAll ends every open session, as if each player left now. Used when
// the server stops or crashes without printing disconnect lines.
func (s *Store) CloseAll() int {
	s.mu.Lock()
	open := append([]*active(nil), s.open...)
	s.mu.Unlock()
	for _, a := range open {
		s.OnLeave(a.identity, a.name)
	}
	return len(open)
}

func (s *Store) findLocked(identity, name string) *active {
	if k := key(identity); k != "" {
		for _, a := range s.open {
			if key(a.identity) == k {
				return a
			}
		}
	}
	if name == "" {
		return nil
	}
	for _, a := range s.open {
		if a.name == name {
			return a
		}
	}
	return nil
}

func (s *Store) removeLocked(target *active) {
	for i, a := range s.open {
		if a == target {
			s.open = append(s.open[:i], s.open[i+1:]...)
			return
		}
	}
}

func (s *Store) recordLocked(identity string) *Record {
	k := key(identity)
	rec, ok := s.records[k]
	if !ok {
		rec = &Record{Identity: identity}
		s.records[k] = rec
	}
	return rec
}

// Get returns the record of identity.
func (s *Store) Get(identity string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[key(identity)]
	if !ok {
		return Record{}, false
	}
	return *r, true
}

// Records returns all records, longest playtime first.
func (s *Store) Records() []Record {
	s.mu.Lock()
	out := make([]Record, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, *r)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].TotalSeconds != out[j].TotalSeconds {
			return out[i].TotalSeconds > out[j].TotalSeconds
		}
		return out[i].Identity < out[j].Identity
	})
	return out
}

// Playtime formats the total of identity, "--" when unknown.
func (s *Store) Playtime(identity string) string {
	if strings.TrimSpace(identity) == "" {
		return "--"
	}
	r, ok := s.Get(identity)
	if !ok {
		return "--"
	}
	return FormatPlaytime(time.Duration(r.TotalSeconds) * time.Second)
}

// FormatPlaytime renders "3h 12m" from an hour up and "4m 5s" below.
func FormatPlaytime(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64(d / time.Second)
	h, m, sec := total/3600, (total%3600)/60, total%60
	if h >= 1 {
		return fmt.Sprintf("%dh %dm", h, m)
	}
	return fmt.Sprintf("%dm %ds", m, sec)
}

// WriteFileAtomic writes data to a temp file beside path and renames it over
// path, so readers never observe a partial file.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}
