package manager

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/hylord/internal/ban"
	"github.com/loykin/hylord/internal/config"
	"github.com/loykin/hylord/internal/history"
	"github.com/loykin/hylord/internal/process"
)

const fakeServer = `echo "[HytaleServer] Server booted in 0.1s"
while IFS= read -r line; do
  case "$line" in
    stop) echo "[HytaleServer] Shutting down"; exit 0 ;;
    crash) echo "[HytaleServer] ERROR fatal failure"; exit 3 ;;
    "join "*) set -- $line; echo "[Auth] Mutual authentication complete for $2 ($3)" ;;
    "leave "*) set -- $line; echo "[World] Checking objectives for disconnecting player $2 ($3)" ;;
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

type memSink struct {
	mu     sync.Mutex
	events []history.Event
}

func (s *memSink) Send(_ context.Context, e history.Event) error {
	s.mu.Lock()
	s.events = append(s.events, e)
	s.mu.Unlock()
	return nil
}

func (s *memSink) count(t history.EventType) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg, err := config.Load(filepath.Join(dir, "absent.json"))
	require.NoError(t, err)
	script := filepath.Join(dir, "server.sh")
	require.NoError(t, os.WriteFile(script, []byte(fakeServer), 0o755))
	cfg.Server.Executable = "/bin/sh"
	cfg.Server.Args = []string{script}
	cfg.Server.WorkDir = dir
	cfg.Server.BindHost = "127.0.0.1"
	cfg.Server.StopTimeout = 3 * time.Second
	cfg.Server.RestartSettle = 50 * time.Millisecond
	cfg.Server.CrashDelay = 50 * time.Millisecond
	return cfg
}

func newManager(t *testing.T, cfg *config.Config) (*Manager, *memSink) {
	t.Helper()
	sink := &memSink{}
	m, err := New(cfg, WithHistory(sink))
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Shutdown() })
	return m, sink
}

func startOnline(t *testing.T, m *Manager) {
	t.Helper()
	require.NoError(t, m.Start())
	require.Eventually(t, m.Online, 3*time.Second, 10*time.Millisecond, "server never came online")
}

func playersOnline(m *Manager, n int) func() bool {
	return func() bool { return m.Status().PlayersOnline == n }
}

func TestPlayersTrackedAcrossJoinAndLeave(t *testing.T) {
	requireUnix(t)
	m, sink := newManager(t, testConfig(t))
	events, cancel := m.Subscribe(256)
	defer cancel()
	startOnline(t, m)

	require.NoError(t, m.Command("join Steve abc-123"))
	require.Eventually(t, playersOnline(m, 1), 3*time.Second, 10*time.Millisecond)
	players := m.Players()
	require.Len(t, players, 1)
	assert.Equal(t, "Steve", players[0].Name)
	assert.Equal(t, "abc-123", players[0].Identity)

	require.NoError(t, m.Command("leave Steve abc-123"))
	require.Eventually(t, playersOnline(m, 0), 3*time.Second, 10*time.Millisecond)
	recs := m.Playtime()
	require.Len(t, recs, 1)
	assert.Equal(t, "abc-123", recs[0].Identity)
	assert.Equal(t, "Steve", recs[0].LastName)

	require.NoError(t, m.Stop())
	m.recorder.Flush()
	for _, typ := range []history.EventType{history.EventStart, history.EventJoin, history.EventLeave, history.EventStop} {
		assert.Equal(t, 1, sink.count(typ), "history %s", typ)
	}

	sawOnline := false
drain:
	for {
		select {
		case n, ok := <-events:
			if !ok {
				break drain
			}
			if n.Kind == process.NotifyStateChanged && n.State == process.StateOnline {
				sawOnline = true
			}
		default:
			break drain
		}
	}
	assert.True(t, sawOnline, "subscriber missed the online transition")
}

func TestStopCreditsConnectedPlayers(t *testing.T) {
	requireUnix(t)
	m, _ := newManager(t, testConfig(t))
	startOnline(t, m)
	require.NoError(t, m.Command("join Alex id-9"))
	require.Eventually(t, playersOnline(m, 1), 3*time.Second, 10*time.Millisecond)

	require.NoError(t, m.Stop())
	assert.Equal(t, 0, m.Status().PlayersOnline)
	recs := m.Playtime()
	require.Len(t, recs, 1)
	assert.Equal(t, "id-9", recs[0].Identity)
}

func TestCrashRestartPolicy(t *testing.T) {
	requireUnix(t)
	cfg := testConfig(t)
	cfg.Server.RestartOnCrash = true
	m, sink := newManager(t, cfg)
	startOnline(t, m)

	require.NoError(t, m.Command("crash"))
	require.Eventually(t, func() bool {
		st := m.Status().Server
		return st.State == process.StateOnline && st.Starts == 2
	}, 5*time.Second, 10*time.Millisecond, "server was not restarted after the crash")
	m.recorder.Flush()
	assert.Equal(t, 1, sink.count(history.EventCrash))
}

func TestCrashWithoutPolicyStaysCrashed(t *testing.T) {
	requireUnix(t)
	m, _ := newManager(t, testConfig(t))
	startOnline(t, m)

	require.NoError(t, m.Command("crash"))
	require.Eventually(t, func() bool {
		return m.Status().Server.State == process.StateCrashed
	}, 3*time.Second, 10*time.Millisecond)
	time.Sleep(200 * time.Millisecond)
	st := m.Status().Server
	assert.Equal(t, process.StateCrashed, st.State)
	assert.Equal(t, 1, st.Starts)
	assert.False(t, m.crash.pending())
}

func TestCommandsNeedRunningServer(t *testing.T) {
	m, _ := newManager(t, testConfig(t))
	assert.ErrorIs(t, m.Say("hello"), process.ErrNotRunning)
	assert.ErrorIs(t, m.Op("Steve"), process.ErrNotRunning)
	assert.ErrorIs(t, m.Kick(""), ErrEmptyArgument)
	assert.ErrorIs(t, m.Kick("two words"), ErrEmptyArgument)
	assert.ErrorIs(t, m.Ban("Steve"), ban.ErrNotRunning)
}

func TestScheduledBackupAppliesRetention(t *testing.T) {
	cfg := testConfig(t)
	cfg.AutoBackup.MaxBackups = 2
	m, sink := newManager(t, cfg)

	bc := cfg.BackupConfig()
	require.NoError(t, os.MkdirAll(filepath.Join(bc.DataDir, "worlds"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(bc.DataDir, "worlds", "w.dat"), []byte("w"), 0o644))
	require.NoError(t, os.MkdirAll(bc.BackupDir, 0o755))
	old := time.Now().Add(-72 * time.Hour)
	for _, n := range []string{"pre-restore-1.zip", "manual-1.zip", "scheduled-a.zip", "scheduled-b.zip", "scheduled-c.zip"} {
		p := filepath.Join(bc.BackupDir, n)
		require.NoError(t, os.WriteFile(p, []byte("zip"), 0o644))
		require.NoError(t, os.Chtimes(p, old, old))
		old = old.Add(time.Hour)
	}

	require.NoError(t, m.ScheduledBackup(context.Background()))
	list, err := m.Backups()
	require.NoError(t, err)
	names := make([]string, 0, len(list))
	for _, d := range list {
		names = append(names, d.FileName)
	}
	require.Len(t, names, 4)
	assert.Contains(t, names[0], "scheduled-")
	assert.Equal(t, []string{"scheduled-c.zip", "manual-1.zip", "pre-restore-1.zip"}, names[1:])
	m.recorder.Flush()
	assert.Equal(t, 1, sink.count(history.EventBackup))
}

func TestApplyConfigArmsSchedules(t *testing.T) {
	cfg := testConfig(t)
	m, _ := newManager(t, cfg)
	assert.False(t, m.Status().AutoRestart.Enabled)

	next := *cfg
	next.AutoRestart.Enabled = true
	next.AutoRestart.Time = "04:00"
	require.NoError(t, m.ApplyConfig(&next))
	require.Eventually(t, func() bool {
		return !m.Status().AutoRestart.Next.IsZero()
	}, time.Second, 10*time.Millisecond)
	st := m.Status().AutoRestart
	assert.Equal(t, 4, st.Next.Hour())
	assert.Equal(t, "daily 04:00", st.Schedule)

	bad := next
	bad.AutoRestart.Time = "nope"
	assert.Error(t, m.ApplyConfig(&bad))
}

func TestShutdownStopsServerOnce(t *testing.T) {
	requireUnix(t)
	m, _ := newManager(t, testConfig(t))
	startOnline(t, m)
	events, _ := m.Subscribe(8)

	require.NoError(t, m.Shutdown())
	assert.False(t, m.Supervisor().Running())
	require.NoError(t, m.Shutdown())
	for range events {
	}
}
