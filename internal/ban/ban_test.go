package ban

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type fakeServer struct {
	running bool
	sent    []string
}

func (f *fakeServer) Running() bool           { return f.running }
func (f *fakeServer) SendCommand(text string) { f.sent = append(f.sent, text) }

func writePlayer(t *testing.T, dir, identity, name string) {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	body := `{"Components":{"DisplayName":{"DisplayName":{"RawText":"` + name + `"}}}}`
	if err := os.WriteFile(filepath.Join(dir, identity+".json"), []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
}

func setup(t *testing.T) (*List, string) {
	t.Helper()
	dir := t.TempDir()
	players := filepath.Join(dir, "universe", "players")
	writePlayer(t, players, "aaa", "Steve")
	bans := `[
  {"type":"infinite","target":"aaa","by":"console","timestamp":1767225600000,"reason":"grief"},
  {"type":"infinite","target":"bbb","by":"console","timestamp":0,"reason":""}
]`
	path := filepath.Join(dir, "bans.json")
	if err := os.WriteFile(path, []byte(bans), 0o600); err != nil {
		t.Fatal(err)
	}
	l := NewList(path, players)
	if err := l.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	return l, path
}

func TestLoadResolvesDisplayNames(t *testing.T) {
	l, _ := setup(t)
	recs := l.Records()
	if len(recs) != 2 {
		t.Fatalf("records = %d", len(recs))
	}
	if recs[0].DisplayName != "Steve" || recs[1].DisplayName != Unknown {
		t.Fatalf("names = %q, %q", recs[0].DisplayName, recs[1].DisplayName)
	}
	if recs[0].IssuedAt().IsZero() || !recs[1].IssuedAt().IsZero() {
		t.Fatalf("IssuedAt conversion wrong")
	}
}

func TestUnbanOnlineSendsCommandAndRewritesFile(t *testing.T) {
	l, path := setup(t)
	srv := &fakeServer{running: true}
	rec, err := l.Unban(srv, "AAA")
	if err != nil {
		t.Fatalf("unban: %v", err)
	}
	if rec.Target != "aaa" || len(srv.sent) != 1 || srv.sent[0] != "unban Steve" {
		t.Fatalf("rec=%+v sent=%v", rec, srv.sent)
	}

	b, _ := os.ReadFile(path)
	if strings.Contains(string(b), "display_name") {
		t.Fatalf("derived name written to disk: %s", b)
	}
	var onDisk []Record
	if err := json.Unmarshal(b, &onDisk); err != nil || len(onDisk) != 1 || onDisk[0].Target != "bbb" {
		t.Fatalf("file not rewritten: %s (%v)", b, err)
	}
}

func TestUnbanUnresolvedOrOfflineSendsNothing(t *testing.T) {
	l, _ := setup(t)
	srv := &fakeServer{running: true}
	if _, err := l.Unban(srv, "bbb"); err != nil {
		t.Fatalf("unban: %v", err)
	}
	off := &fakeServer{}
	if _, err := l.Unban(off, "aaa"); err != nil {
		t.Fatalf("unban offline: %v", err)
	}
	if len(srv.sent)+len(off.sent) != 0 {
		t.Fatalf("no command expected, got %v %v", srv.sent, off.sent)
	}
	if _, err := l.Unban(srv, "aaa"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestBanRequiresRunningServer(t *testing.T) {
	l := NewList(filepath.Join(t.TempDir(), "bans.json"), "")
	if err := l.Ban(&fakeServer{}, "Steve"); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("err = %v", err)
	}
	srv := &fakeServer{running: true}
	if err := l.Ban(srv, "  "); !errors.Is(err, ErrEmptyName) {
		t.Fatalf("err = %v", err)
	}
	if err := l.Ban(srv, "Steve"); err != nil || srv.sent[0] != "ban Steve" {
		t.Fatalf("ban: %v %v", err, srv.sent)
	}
}

func TestCorruptBanListIsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bans.json")
	_ = os.WriteFile(path, []byte("[{"), 0o600)
	l := NewList(path, "")
	if err := l.Load(); err == nil {
		t.Fatalf("expected decode error")
	}
	if len(l.Records()) != 0 {
		t.Fatalf("corrupt list should load empty")
	}
}

func TestResolveDisplayNameRejectsPaths(t *testing.T) {
	dir := t.TempDir()
	writePlayer(t, dir, "ok", "Alex")
	for _, id := range []string{"", "../ok", "a/b", `a\b`, "missing"} {
		if got := ResolveDisplayName(dir, id); got != Unknown {
			t.Errorf("ResolveDisplayName(%q) = %q", id, got)
		}
	}
	if got := ResolveDisplayName(dir, "ok"); got != "Alex" {
		t.Fatalf("got %q", got)
	}
}
