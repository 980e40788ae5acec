package server

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/loykin/hylord/internal/auth"
	"github.com/loykin/hylord/internal/config"
	mng "github.com/loykin/hylord/internal/manager"
	"github.com/loykin/hylord/internal/process"
)

const fakeServer = `echo "[HytaleServer] Server booted in 0.1s"
while IFS= read -r line; do
  case "$line" in
    stop) exit 0 ;;
    *) echo "echo: $line" ;;
  esac
done
`

func requireUnix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("tests require /bin/sh on Unix-like systems")
	}
}

func newTestManager(t *testing.T) (*mng.Manager, *config.Config) {
	t.Helper()
	dir := t.TempDir()
	cfg, err := config.Load(filepath.Join(dir, "absent.json"))
	if err != nil {
		t.Fatal(err)
	}
	script := filepath.Join(dir, "server.sh")
	if err := os.WriteFile(script, []byte(fakeServer), 0o755); err != nil {
		t.Fatal(err)
	}
	cfg.Server.Executable = "/bin/sh"
	cfg.Server.Args = []string{script}
	cfg.Server.WorkDir = dir
	cfg.Server.StopTimeout = 3 * time.Second
	m, err := mng.New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = m.Shutdown() })
	return m, cfg
}

func setupRouter(t *testing.T, base string) (http.Handler, *mng.Manager, *config.Config) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	m, cfg := newTestManager(t)
	return NewRouter(m, base, WithMetrics(true)).Handler(), m, cfg
}

func doReq(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		rdr = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rdr)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func eventually(t *testing.T, d time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestStatusOffline(t *testing.T) {
	h, _, _ := setupRouter(t, "/api")
	rec := doReq(t, h, http.MethodGet, "/api/status", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var st struct {
		Server struct {
			State   string `json:"state"`
			Running bool   `json:"running"`
		} `json:"server"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatal(err)
	}
	if st.Server.State != process.StateOffline.String() || st.Server.Running {
		t.Fatalf("status = %+v", st)
	}
}

func TestCommandsOfflineConflict(t *testing.T) {
	h, _, _ := setupRouter(t, "")
	cases := []struct {
		path string
		body any
	}{
		{"/command", map[string]string{"text": "help"}},
		{"/say", map[string]string{"message": "hi"}},
		{"/op", map[string]string{"name": "Steve"}},
		{"/ban", map[string]string{"name": "Steve"}},
	}
	for _, c := range cases {
		rec := doReq(t, h, http.MethodPost, c.path, c.body)
		if rec.Code != http.StatusConflict {
			t.Fatalf("%s: expected 409, got %d: %s", c.path, rec.Code, rec.Body.String())
		}
	}
}

func TestBadRequests(t *testing.T) {
	h, _, _ := setupRouter(t, "")
	if rec := doReq(t, h, http.MethodPost, "/kick", map[string]string{"name": ""}); rec.Code != http.StatusBadRequest {
		t.Fatalf("empty name: got %d", rec.Code)
	}
	req := httptest.NewRequest(http.MethodPost, "/say", strings.NewReader("{"))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("malformed body: got %d", rec.Code)
	}
	if rec := doReq(t, h, http.MethodPost, "/backups/restore", map[string]string{"name": "../x.zip"}); rec.Code != http.StatusBadRequest {
		t.Fatalf("path restore: got %d", rec.Code)
	}
	if rec := doReq(t, h, http.MethodPost, "/backups/restore", map[string]string{"name": "nope.zip"}); rec.Code != http.StatusNotFound {
		t.Fatalf("missing restore: got %d", rec.Code)
	}
}

func TestBackupCreateAndList(t *testing.T) {
	h, _, cfg := setupRouter(t, "/api")
	data := cfg.BackupConfig().DataDir
	if err := os.MkdirAll(data, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(data, "world.dat"), []byte("w"), 0o644); err != nil {
		t.Fatal(err)
	}
	rec := doReq(t, h, http.MethodPost, "/api/backups", nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", rec.Code, rec.Body.String())
	}
	rec = doReq(t, h, http.MethodGet, "/api/backups", nil)
	var list []backupView
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || !strings.HasPrefix(list[0].FileName, "manual-") || list[0].Size == "" {
		t.Fatalf("list = %+v", list)
	}
}

func TestScheduleAndCollections(t *testing.T) {
	h, _, _ := setupRouter(t, "")
	for _, p := range []string{"/schedule", "/players", "/playtime", "/bans"} {
		if rec := doReq(t, h, http.MethodGet, p, nil); rec.Code != http.StatusOK {
			t.Fatalf("%s: got %d", p, rec.Code)
		}
	}
	rec := doReq(t, h, http.MethodGet, "/schedule", nil)
	if !strings.Contains(rec.Body.String(), `"Next: --"`) {
		t.Fatalf("schedule = %s", rec.Body.String())
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h, _, _ := setupRouter(t, "/api")
	rec := doReq(t, h, http.MethodGet, "/metrics", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics: got %d", rec.Code)
	}
}

func TestLifecycleAndEventStream(t *testing.T) {
	requireUnix(t)
	h, m, _ := setupRouter(t, "/api")
	srv := httptest.NewServer(h)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/events"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer func() { _ = conn.Close() }()

	// the subscription is registered after the upgrade completes
	time.Sleep(100 * time.Millisecond)
	resp, err := http.Post(srv.URL+"/api/start", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("start: %d", resp.StatusCode)
	}

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var sawStarted bool
	for !sawStarted {
		var n struct {
			Kind string `json:"kind"`
		}
		if err := conn.ReadJSON(&n); err != nil {
			t.Fatalf("read event: %v", err)
		}
		sawStarted = n.Kind == process.NotifyStarted.String()
	}

	eventually(t, 3*time.Second, "online", m.Online)
	resp, err = http.Post(srv.URL+"/api/stop", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	_ = resp.Body.Close()
	if m.Supervisor().Running() {
		t.Fatal("still running after stop")
	}
}

func TestStatusOfMapsSentinels(t *testing.T) {
	if statusOf(process.ErrNotRunning) != http.StatusConflict {
		t.Fatal("not running should conflict")
	}
	if statusOf(io.EOF) != http.StatusInternalServerError {
		t.Fatal("unknown errors should be 500")
	}
}

func TestBrowserRequestsRejected(t *testing.T) {
	h, _, _ := setupRouter(t, "/api")

	req := httptest.NewRequest(http.MethodPost, "/api/op", strings.NewReader(`{"name":"attacker"}`))
	req.Header.Set("Content-Type", "text/plain")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("text/plain body: got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/op", strings.NewReader(`{"name":"attacker"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("foreign origin: got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/stop", nil)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("empty form post: got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.Header.Set("Origin", "http://"+req.Host)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("same origin: got %d", rec.Code)
	}
}

func TestAuthRequiresCredential(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m, _ := newTestManager(t)
	mw, err := auth.New(auth.Config{Enabled: true, Token: "s3cret", Username: "admin", Password: "pw"})
	if err != nil {
		t.Fatal(err)
	}
	h := NewRouter(m, "/api", WithMetrics(true), WithAuth(mw)).Handler()

	if rec := doReq(t, h, http.MethodGet, "/api/status", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("no credential: got %d", rec.Code)
	}
	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong token: got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("bearer token: got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/players", nil)
	req.SetBasicAuth("admin", "pw")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("basic auth: got %d", rec.Code)
	}

	if rec := doReq(t, h, http.MethodGet, "/metrics", nil); rec.Code != http.StatusOK {
		t.Fatalf("metrics stay public: got %d", rec.Code)
	}
}

func TestEventStreamRejectsForeignOrigin(t *testing.T) {
	h, _, _ := setupRouter(t, "/api")
	srv := httptest.NewServer(h)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/events"
	hdr := http.Header{"Origin": []string{"https://evil.example"}}
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, hdr)
	if err == nil {
		_ = conn.Close()
		t.Fatal("foreign origin upgraded")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %+v", resp)
	}
}
