package manager

import (
	"log/slog"
	"sync"
	"time"

	"github.com/loykin/hylord/internal/history"
	"github.com/loykin/hylord/internal/logline"
	"github.com/loykin/hylord/internal/metrics"
	"github.com/loykin/hylord/internal/process"
)

// handle runs on the supervisor's reader and exit goroutines. Everything it
// calls either returns quickly or hands off to another goroutine.
func (m *Manager) handle(n process.Notification) {
	switch n.Kind {
	case process.NotifyStarted:
		e := history.NewEvent(history.EventStart, m.name())
		e.PID = n.PID
		m.recorder.Record(e)
	case process.NotifyStopped, process.NotifyCrashed:
		m.endRun(n)
	case process.NotifyLog:
		if n.Event != nil {
			m.onEvent(*n.Event)
		}
	}
	m.feed.publish(n)
}

// endRun credits playtime for everyone still connected; the server is gone
// so no leave lines will follow.
func (m *Manager) endRun(n process.Notification) {
	credited := m.sessions.CloseAll()
	left := m.roster.AllOffline()
	metrics.SetPlayersOnline(0)

	typ := history.EventStop
	if n.Kind == process.NotifyCrashed {
		typ = history.EventCrash
	}
	e := history.NewEvent(typ, m.name())
	e.PID, e.Detail = n.PID, n.Err
	m.recorder.Record(e)
	if credited > 0 || len(left) > 0 {
		slog.Info("Sessions closed with the server", "sessions", credited, "players", len(left))
	}
	if n.Kind == process.NotifyCrashed {
		m.crash.arm()
	}
}

func (m *Manager) onEvent(ev logline.Event) {
	switch ev.Kind {
	case logline.KindPlayerJoined:
		m.sessions.OnJoin(ev.Identity, ev.Name)
		p, reconnect := m.roster.Join(ev.Identity, ev.Name)
		metrics.IncPlayerEvent("join")
		metrics.SetPlayersOnline(m.roster.OnlineCount())
		slog.Info("Player joined", "player", p.Name, "identity", p.Identity, "reconnect", reconnect, "online", m.roster.OnlineCount())
		e := history.NewEvent(history.EventJoin, m.name())
		e.Player, e.Identity = ev.Name, ev.Identity
		m.recorder.Record(e)
	case logline.KindPlayerLeft:
		played := m.sessions.OnLeave(ev.Identity, ev.Name)
		m.roster.Leave(ev.Identity, ev.Name)
		metrics.IncPlayerEvent("leave")
		metrics.SetPlayersOnline(m.roster.OnlineCount())
		slog.Info("Player left", "player", ev.Name, "identity", ev.Identity, "session", played.Round(time.Second), "online", m.roster.OnlineCount())
		e := history.NewEvent(history.EventLeave, m.name())
		e.Player, e.Identity, e.Detail = ev.Name, ev.Identity, played.Round(time.Second).String()
		m.recorder.Record(e)
	case logline.KindPlayerOpChanged:
		m.roster.SetOp(ev.Name, ev.IsOp)
		metrics.IncPlayerEvent("op")
		slog.Info("Operator status changed", "player", ev.Name, "op", ev.IsOp)
	}
}

// feed fans notifications out to live subscribers such as websocket
// clients. Slow subscribers lose notifications instead of stalling the
// supervisor.
type feed struct {
	mu     sync.Mutex
	subs   map[int]chan process.Notification
	next   int
	closed bool
}

func (f *feed) subscribe(buf int) (<-chan process.Notification, func()) {
	if buf <= 0 {
		buf = 64
	}
	ch := make(chan process.Notification, buf)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		close(ch)
		return ch, func() {}
	}
	if f.subs == nil {
		f.subs = make(map[int]chan process.Notification)
	}
	f.next++
	id := f.next
	f.subs[id] = ch
	return ch, func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		if c, ok := f.subs[id]; ok {
			delete(f.subs, id)
			close(c)
		}
	}
}

func (f *feed) publish(n process.Notification) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.subs {
		select {
		case ch <- n:
		default:
		}
	}
}

func (f *feed) closeAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	for id, ch := range f.subs {
		delete(f.subs, id)
		close(ch)
	}
}

// Subscribe streams every supervisor notification until the returned
// cancel function is called or the manager shuts down.
func (m *Manager) Subscribe(buf int) (<-chan process.Notification, func()) {
	return m.feed.subscribe(buf)
}
