// Package history exports server lifecycle, player and backup events to
// analytics stores. It is append-only and independent from the live state.
package history

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EventType defines the kind of recorded event.
type EventType string

const (
	EventStart   EventType = "start"
	EventStop    EventType = "stop"
	EventCrash   EventType = "crash"
	EventJoin    EventType = "join"
	EventLeave   EventType = "leave"
	EventBan     EventType = "ban"
	EventUnban   EventType = "unban"
	EventBackup  EventType = "backup"
	EventRestore EventType = "restore"
)

// Event is one row of history.
type Event struct {
	ID         string    `json:"id"`
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Server     string    `json:"server"`
	PID        int       `json:"pid,omitempty"`
	Player     string    `json:"player,omitempty"`
	Identity   string    `json:"identity,omitempty"`
	// Detail carries the exit error, session length or archive name.
	Detail string `json:"detail,omitempty"`
}

// NewEvent stamps a fresh id and the current UTC time.
func NewEvent(t EventType, server string) Event {
	return Event{ID: uuid.NewString(), Type: t, OccurredAt: time.Now().UTC(), Server: server}
}

// Sink is a destination for history events (analytics/statistics systems).
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}
