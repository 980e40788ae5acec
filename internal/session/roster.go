package session

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// Player is one roster entry. Entries survive disconnects so the roster
// doubles as a history of everyone seen since the daemon started.
type Player struct {
	Identity   string    `json:"identity"`
	Name       string    `json:"name"`
	JoinedAt   time.Time `json:"joined_at"`
	Online     bool      `json:"online"`
	IsOp       bool      `json:"is_op"`
	LastSeenAt time.Time `json:"last_seen_at,omitempty"`
}

// SessionLength is the time since the current join, zero when offline.
func (p Player) SessionLength(now time.Time) time.Duration {
	if !p.Online {
		return 0
	}
	return now.Sub(p.JoinedAt)
}

type Roster struct {
	now func() time.Time

	mu      sync.Mutex
	players []*Player
	peak    int
}

func NewRoster(now func() time.Time) *Roster {
	if now == nil {
		now = time.Now
	}
	return &Roster{now: now}
}

// Join marks a player online. An entry with the same identity, or failing
// that the same name, is reused; reconnect reports an identity match on a
// player that was still online.
func (r *Roster) Join(identity, name string) (p Player, reconnect bool) {
	identity, name = strings.TrimSpace(identity), strings.TrimSpace(name)
	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.byIdentity(identity)
	if e != nil {
		reconnect = e.Online
	} else {
		e = r.byName(name)
	}
	if e == nil {
		e = &Player{}
		r.players = append(r.players, e)
	}
	if identity != "" {
		e.Identity = identity
	}
	e.Name = name
	e.JoinedAt = r.now()
	e.Online = true
	if n := r.onlineLocked(); n > r.peak {
		r.peak = n
	}
	return *e, reconnect
}

// Leave marks the player matched by identity, then name, offline.
func (r *Roster) Leave(identity, name string) (Player, bool) {
	identity, name = strings.TrimSpace(identity), strings.TrimSpace(name)
	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.byIdentity(identity)
	if e == nil {
		e = r.byName(name)
	}
	if e == nil || !e.Online {
		return Player{}, false
	}
	e.Online = false
	e.LastSeenAt = r.now()
	return *e, true
}

// SetOp records an operator change, creating an offline entry for players
// never seen joining.
func (r *Roster) SetOp(name string, isOp bool) Player {
	name = strings.TrimSpace(name)
	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.byName(name)
	if e == nil {
		e = &Player{Name: name}
		r.players = append(r.players, e)
	}
	e.IsOp = isOp
	return *e
}

// AllOffline marks every player offline and resets the run peak.
func (r *Roster) AllOffline() []Player {
	r.mu.Lock()
	defer r.mu.Unlock()
	var left []Player
	now := r.now()
	for _, e := range r.players {
		if e.Online {
			e.Online = false
			e.LastSeenAt = now
			left = append(left, *e)
		}
	}
	r.peak = 0
	return left
}

// Find looks a player up by identity or name.
func (r *Roster) Find(identityOrName string) (Player, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.byIdentity(identityOrName)
	if e == nil {
		e = r.byName(identityOrName)
	}
	if e == nil {
		return Player{}, false
	}
	return *e, true
}

// Players returns online players first, each group ordered by name.
func (r *Roster) Players() []Player {
	r.mu.Lock()
	out := make([]Player, 0, len(r.players))
	for _, e := range r.players {
		out = append(out, *e)
	}
	r.mu.Unlock()
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Online != out[j].Online {
			return out[i].Online
		}
		return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name)
	})
	return out
}

func (r *Roster) OnlineCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.onlineLocked()
}

// Peak is the highest online count since the last AllOffline.
func (r *Roster) Peak() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.peak
}

func (r *Roster) onlineLocked() int {
	n := 0
	for _, e := range r.players {
		if e.Online {
			n++
		}
	}
	return n
}

func (r *Roster) byIdentity(identity string) *Player {
	k := key(identity)
	if k == "" {
		return nil
	}
	for _, e := range r.players {
		if key(e.Identity) == k {
			return e
		}
	}
	return nil
}

func (r *Roster) byName(name string) *Player {
	if name == "" {
		return nil
	}
	for _, e := range r.players {
		if e.Name == name {
			return e
		}
	}
	return nil
}
