package process

import (
	"log/slog"
	"time"

	"github.com/loykin/hylord/internal/logline"
)

// Notification is delivered to observers for every lifecycle change and for
// every classified console line. Event is set only for NotifyLog.
type Notification struct {
	Kind  NotificationKind `json:"kind"`
	At    time.Time        `json:"at"`
	State LifecycleState   `json:"state"`
	PID   int              `json:"pid,omitempty"`
	Event *logline.Event   `json:"event,omitempty"`
	Err   string           `json:"error,omitempty"`
}

// Observer receives notifications synchronously, in order, from the goroutine
// that produced them. Implementations must not block.
type Observer interface {
	Notify(n Notification)
}

type ObserverFunc func(Notification)

func (f ObserverFunc) Notify(n Notification) { f(n) }

type observerEntry struct {
	id  uint64
	obs Observer
}

// AddObserver registers o and returns a function that removes it.
func (s *Supervisor) AddObserver(o Observer) func() {
	s.obsMu.Lock()
	s.nextObs++
	id := s.nextObs
	s.observers = append(s.observers, observerEntry{id: id, obs: o})
	s.obsMu.Unlock()
	return func() {
		s.obsMu.Lock()
		defer s.obsMu.Unlock()
		for i, e := range s.observers {
			if e.id == id {
				s.observers = append(s.observers[:i:i], s.observers[i+1:]...)
				return
			}
		}
	}
}

func (s *Supervisor) emit(n Notification) {
	if n.At.IsZero() {
		n.At = time.Now()
	}
	s.obsMu.RLock()
	obs := append([]observerEntry(nil), s.observers...)
	s.obsMu.RUnlock()
	for _, e := range obs {
		s.deliver(e.obs, n)
	}
}

func (s *Supervisor) deliver(o Observer, n Notification) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Observer panicked", "name", s.spec.Name, "kind", n.Kind.String(), "panic", r)
		}
	}()
	o.Notify(n)
}
