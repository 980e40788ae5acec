package backup

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
)

type fakeServer struct {
	mu      sync.Mutex
	running bool
	online  bool
	calls   []string
	onCmd   func(string)
}

func (f *fakeServer) Running() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

func (f *fakeServer) Online() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.online
}

func (f *fakeServer) SendCommand(text string) {
	f.mu.Lock()
	f.calls = append(f.calls, "cmd:"+text)
	cb := f.onCmd
	f.mu.Unlock()
	if cb != nil {
		cb(text)
	}
}

func (f *fakeServer) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "stop")
	f.running, f.online = false, false
	return nil
}

func (f *fakeServer) Start(int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "start")
	f.running = true
	return nil
}

func (f *fakeServer) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

// readTree returns relative path -> content for every file below dir.
func readTree(t *testing.T, dir string) map[string]string {
	t.Helper()
	out := map[string]string{}
	err := filepath.Walk(dir, func(p string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}
		b, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(dir, p)
		out[filepath.ToSlash(rel)] = string(b)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	return out
}

func zipEntries(t *testing.T, path string) map[string]string {
	t.Helper()
	zr, err := zip.OpenReader(path)
	if err != nil {
		t.Fatal(err)
	}
	defer zr.Close()
	out := map[string]string{}
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			t.Fatal(err)
		}
		b, _ := io.ReadAll(rc)
		rc.Close()
		out[f.Name] = string(b)
	}
	return out
}

func setup(t *testing.T, srv Server) (*Engine, string, string) {
	t.Helper()
	root := t.TempDir()
	data := filepath.Join(root, "universe")
	backups := filepath.Join(root, "backups")
	e := NewEngine(Config{BackupDir: backups, DataDir: data, PollInterval: 40 * time.Millisecond, Timeout: 2 * time.Second}, srv)
	return e, data, backups
}

func TestOfflineSnapshotContainsDataTree(t *testing.T) {
	e, data, _ := setup(t, &fakeServer{})
	writeFile(t, filepath.Join(data, "a.txt"), "alpha")
	writeFile(t, filepath.Join(data, "worlds", "b.bin"), "beta")

	d, err := e.CreateSnapshot(context.Background())
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if !strings.HasPrefix(d.FileName, KindManual+"-") || d.SizeBytes == 0 {
		t.Fatalf("unexpected descriptor %+v", d)
	}
	got := zipEntries(t, d.FullPath)
	want := map[string]string{"universe/a.txt": "alpha", "universe/worlds/b.bin": "beta"}
	if len(got) != len(want) {
		t.Fatalf("entries = %v", got)
	}
	for k, v := range want {
		if got[k] != v {
			t.Fatalf("entry %s = %q, want %q", k, got[k], v)
		}
	}
	list, err := e.List()
	if err != nil || len(list) != 1 || list[0].FileName != d.FileName {
		t.Fatalf("list = %v, %v", list, err)
	}
}

func TestOfflineSnapshotWithoutDataDir(t *testing.T) {
	e, _, _ := setup(t, &fakeServer{})
	if _, err := e.CreateSnapshot(context.Background()); !errors.Is(err, ErrNoDataDir) {
		t.Fatalf("err = %v, want ErrNoDataDir", err)
	}
}

func TestOnlineSnapshotWaitsForSettledArchive(t *testing.T) {
	srv := &fakeServer{running: true, online: true}
	e, _, backups := setup(t, srv)
	if err := os.MkdirAll(backups, 0o755); err != nil {
		t.Fatal(err)
	}
	writeFile(t, filepath.Join(backups, "old.zip"), "previous")

	srv.onCmd = func(cmd string) {
		if cmd != "backup" {
			return
		}
		go func() {
			f, err := os.Create(filepath.Join(backups, "2026-03-04_02-00-00.zip"))
			if err != nil {
				return
			}
			for i := 0; i < 8; i++ {
				_, _ = f.WriteString(strings.Repeat("x", 256))
				_ = f.Sync()
				time.Sleep(10 * time.Millisecond)
			}
			_ = f.Close()
		}()
	}

	d, err := e.CreateSnapshot(context.Background())
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if d.SizeBytes != 2048 {
		t.Fatalf("size = %d, want the completed archive", d.SizeBytes)
	}
	if !strings.HasPrefix(d.FileName, "manual-") {
		t.Fatalf("archive not renamed: %s", d.FileName)
	}
	if _, err := os.Stat(filepath.Join(backups, "2026-03-04_02-00-00.zip")); !os.IsNotExist(err) {
		t.Fatalf("server archive still present: %v", err)
	}
	if _, err := os.Stat(filepath.Join(backups, "old.zip")); err != nil {
		t.Fatalf("existing archive touched: %v", err)
	}
	if calls := srv.Calls(); len(calls) != 1 || calls[0] != "cmd:backup" {
		t.Fatalf("calls = %v", calls)
	}
}

func TestOnlineSnapshotTimesOut(t *testing.T) {
	srv := &fakeServer{running: true, online: true}
	e, _, _ := setup(t, srv)
	e.cfg.Timeout = 200 * time.Millisecond
	if _, err := e.CreateSnapshot(context.Background()); !errors.Is(err, ErrSnapshotTimeout) {
		t.Fatalf("err = %v, want ErrSnapshotTimeout", err)
	}
}

func TestOnlineSnapshotIgnoresEmptyArchive(t *testing.T) {
	srv := &fakeServer{running: true, online: true}
	e, _, backups := setup(t, srv)
	e.cfg.Timeout = 300 * time.Millisecond
	srv.onCmd = func(string) { writeFile(t, filepath.Join(backups, "empty.zip"), "") }
	if _, err := e.CreateSnapshot(context.Background()); !errors.Is(err, ErrSnapshotTimeout) {
		t.Fatalf("err = %v, want ErrSnapshotTimeout", err)
	}
}

func TestRestoreRoundTrip(t *testing.T) {
	srv := &fakeServer{}
	e, data, backups := setup(t, srv)
	writeFile(t, filepath.Join(data, "a.txt"), "A")
	writeFile(t, filepath.Join(data, "sub", "b.txt"), "B")
	snap, err := e.CreateSnapshot(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	// diverge: drop a file, change one, add one
	if err := os.Remove(filepath.Join(data, "a.txt")); err != nil {
		t.Fatal(err)
	}
	writeFile(t, filepath.Join(data, "sub", "b.txt"), "changed")
	writeFile(t, filepath.Join(data, "c.txt"), "C")

	e.now = func() time.Time { return time.Now().Add(time.Hour) }
	res, err := e.RestoreSnapshot(context.Background(), snap.FileName)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	got := readTree(t, data)
	if len(got) != 2 || got["a.txt"] != "A" || got["sub/b.txt"] != "B" {
		t.Fatalf("restored tree = %v", got)
	}
	if res.Restarted {
		t.Fatal("offline server must not be started")
	}

	var safety []string
	entries, _ := os.ReadDir(backups)
	for _, ent := range entries {
		if strings.HasPrefix(ent.Name(), KindPreRestore+"-") {
			safety = append(safety, ent.Name())
		}
	}
	if len(safety) != 1 || safety[0] != res.Safety.FileName {
		t.Fatalf("safety snapshots = %v", safety)
	}
	pre := zipEntries(t, res.Safety.FullPath)
	if pre["universe/c.txt"] != "C" || pre["universe/sub/b.txt"] != "changed" {
		t.Fatalf("safety snapshot does not hold the pre-restore state: %v", pre)
	}
	if left, _ := filepath.Glob(filepath.Join(filepath.Dir(data), ".restore-*")); len(left) != 0 {
		t.Fatalf("staging dir left behind: %v", left)
	}
}

func TestRestoreStopsAndRestartsRunningServer(t *testing.T) {
	srv := &fakeServer{running: true}
	e, data, _ := setup(t, srv)
	writeFile(t, filepath.Join(data, "a.txt"), "A")
	snap, err := e.direct(KindManual)
	if err != nil {
		t.Fatal(err)
	}
	e.now = func() time.Time { return time.Now().Add(time.Hour) }
	res, err := e.RestoreSnapshot(context.Background(), snap.FileName)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if !res.Restarted {
		t.Fatal("expected restart")
	}
	if calls := srv.Calls(); len(calls) != 2 || calls[0] != "stop" || calls[1] != "start" {
		t.Fatalf("calls = %v", calls)
	}
}

func TestRestoreRejectsEscapingEntries(t *testing.T) {
	srv := &fakeServer{running: true}
	e, data, backups := setup(t, srv)
	writeFile(t, filepath.Join(data, "keep.txt"), "K")
	if err := os.MkdirAll(backups, 0o755); err != nil {
		t.Fatal(err)
	}
	evil := filepath.Join(backups, "evil.zip")
	f, err := os.Create(evil)
	if err != nil {
		t.Fatal(err)
	}
	zw := zip.NewWriter(f)
	w, _ := zw.Create("../../outside.txt")
	_, _ = w.Write([]byte("x"))
	_ = zw.Close()
	_ = f.Close()

	if _, err := e.RestoreSnapshot(context.Background(), "evil.zip"); !errors.Is(err, ErrInvalidArchive) {
		t.Fatalf("err = %v, want ErrInvalidArchive", err)
	}
	if got := readTree(t, data); got["keep.txt"] != "K" {
		t.Fatalf("data dir modified: %v", got)
	}
	if calls := srv.Calls(); len(calls) != 1 || calls[0] != "stop" {
		t.Fatalf("aborted restore must not restart, calls = %v", calls)
	}
}

func TestRestoreRejectsPaths(t *testing.T) {
	e, _, _ := setup(t, &fakeServer{})
	for _, name := range []string{"", "../x.zip", "sub/x.zip", "notes.txt"} {
		if _, err := e.RestoreSnapshot(context.Background(), name); !errors.Is(err, ErrInvalidArchive) {
			t.Fatalf("%q: err = %v", name, err)
		}
	}
	if _, err := e.RestoreSnapshot(context.Background(), "missing.zip"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestPruneKeepsNewest(t *testing.T) {
	e, _, backups := setup(t, &fakeServer{})
	base := time.Date(2026, 3, 1, 2, 0, 0, 0, time.Local)
	for i := 0; i < 5; i++ {
		p := filepath.Join(backups, "scheduled-"+string(rune('a'+i))+".zip")
		writeFile(t, p, "zip")
		ts := base.Add(time.Duration(i) * 24 * time.Hour)
		if err := os.Chtimes(p, ts, ts); err != nil {
			t.Fatal(err)
		}
	}
	for _, name := range []string{KindPreRestore + "-x.zip", KindManual + "-y.zip"} {
		p := filepath.Join(backups, name)
		writeFile(t, p, "zip")
		ts := base.Add(-24 * time.Hour)
		if err := os.Chtimes(p, ts, ts); err != nil {
			t.Fatal(err)
		}
	}
	removed, err := e.Prune(2)
	if err != nil {
		t.Fatal(err)
	}
	sort.Strings(removed)
	if strings.Join(removed, ",") != "scheduled-a.zip,scheduled-b.zip,scheduled-c.zip" {
		t.Fatalf("removed = %v", removed)
	}
	list, _ := e.List()
	if len(list) != 4 || list[0].FileName != "scheduled-e.zip" {
		t.Fatalf("list = %v", list)
	}
	for _, name := range []string{KindPreRestore + "-x.zip", KindManual + "-y.zip"} {
		if !exists(filepath.Join(backups, name)) {
			t.Fatalf("%s pruned", name)
		}
	}
	if removed, _ := e.Prune(0); removed != nil {
		t.Fatalf("keep=0 must not prune, removed %v", removed)
	}
}

func TestSizeText(t *testing.T) {
	cases := map[int64]string{
		512:             "512 B",
		2048:            "2.00 KB",
		5 * 1024 * 1024: "5.00 MB",
		3 << 30:         "3.00 GB",
	}
	for n, want := range cases {
		if got := (Descriptor{SizeBytes: n}).SizeText(); got != want {
			t.Errorf("SizeText(%d) = %q, want %q", n, got, want)
		}
	}
}
