// Package handshake follows the server's interactive login flow layered on
// top of its console output: boot detection, the missing-credentials prompt,
// the login URL and the final success line.
package handshake

import (
	"log/slog"
	"net/url"
	"strings"
	"sync"

	"github.com/loykin/hylord/internal/logline"
)

// DefaultLoginCommand is issued when the server reports missing credentials.
const DefaultLoginCommand = "/auth login browser"

// DefaultAllowedHosts lists the login provider hosts whose URLs are surfaced.
var DefaultAllowedHosts = []string{"oauth.accounts.hytale.com", "accounts.hytale.com"}

type State int

const (
	NotBooted State = iota
	Booted
	AuthRequested
	Authenticated
)

func (s State) String() string {
	switch s {
	case Booted:
		return "booted"
	case AuthRequested:
		return "auth_requested"
	case Authenticated:
		return "authenticated"
	default:
		return "not_booted"
	}
}

// Commander delivers in-band commands to the running server.
type Commander interface {
	SendCommand(text string)
}

// Outcome tells the caller what the observed event changed.
type Outcome struct {
	// BecameOnline is set exactly once per run, on the first boot marker.
	BecameOnline bool
}

type Config struct {
	LoginCommand string
	AllowedHosts []string
}

// Tracker is safe for concurrent use, although the supervisor feeds it from
// its single reader goroutine.
type Tracker struct {
	mu      sync.Mutex
	state   State
	booted  bool
	cmd     Commander
	login   string
	allowed []string
}

func New(cmd Commander, cfg Config) *Tracker {
	login := strings.TrimSpace(cfg.LoginCommand)
	if login == "" {
		login = DefaultLoginCommand
	}
	allowed := cfg.AllowedHosts
	if len(allowed) == 0 {
		allowed = DefaultAllowedHosts
	}
	hosts := make([]string, 0, len(allowed))
	for _, h := range allowed {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			hosts = append(hosts, h)
		}
	}
	return &Tracker{cmd: cmd, login: login, allowed: hosts}
}

func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Booted reports whether the boot marker was seen during the current run.
func (t *Tracker) Booted() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.booted
}

// Reset returns the tracker to NotBooted; called on every start/stop cycle.
func (t *Tracker) Reset() {
	t.mu.Lock()
	t.state = NotBooted
	t.booted = false
	t.mu.Unlock()
}

// Observe filters auth-flow events through the state machine. Events that
// are not valid in the current state are demoted to unclassified lines so the
// text is never lost. Non-auth events pass through untouched.
func (t *Tracker) Observe(ev logline.Event) (logline.Event, Outcome) {
	var out Outcome
	sendLogin := false

	t.mu.Lock()
	switch ev.Kind {
	case logline.KindServerBooted:
		if t.booted {
			ev = demote(ev)
			break
		}
		t.booted = true
		out.BecameOnline = true
		if t.state == NotBooted {
			t.state = Booted
		}
	case logline.KindAuthRequired:
		if t.state != Booted {
			ev = demote(ev)
			break
		}
		t.state = AuthRequested
		sendLogin = true
	case logline.KindAuthURLReceived:
		if t.state != AuthRequested || !t.validURL(ev.URL) {
			ev = demote(ev)
		}
	case logline.KindAuthSucceeded:
		t.state = Authenticated
	}
	t.mu.Unlock()

	if sendLogin && t.cmd != nil {
		slog.Info("Server requested credentials, issuing login", "command", t.login)
		t.cmd.SendCommand(t.login)
	}
	return ev, out
}

// validURL accepts only https links whose host is an allowed provider host or
// a subdomain of one.
func (t *Tracker) validURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme != "https" || u.User != nil || u.Port() != "" {
		return false
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return false
	}
	for _, h := range t.allowed {
		if host == h || strings.HasSuffix(host, "."+h) {
			return true
		}
	}
	return false
}

func demote(ev logline.Event) logline.Event {
	d := logline.Unclassified(ev.Raw)
	d.At = ev.At
	return d
}
