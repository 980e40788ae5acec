package logline

import "time"

// Kind identifies which variant of Event is populated.
type Kind int

const (
	KindUnclassified Kind = iota
	KindPlayerJoined
	KindPlayerLeft
	KindPlayerOpChanged
	KindServerBooted
	KindAuthRequired
	KindAuthURLReceived
	KindAuthSucceeded
)

var kindNames = map[Kind]string{
	KindUnclassified:    "unclassified",
	KindPlayerJoined:    "player_joined",
	KindPlayerLeft:      "player_left",
	KindPlayerOpChanged: "player_op_changed",
	KindServerBooted:    "server_booted",
	KindAuthRequired:    "auth_required",
	KindAuthURLReceived: "auth_url_received",
	KindAuthSucceeded:   "auth_succeeded",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// MarshalText lets Kind render as its name in JSON payloads.
func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// Severity is inferred for lines that carry no structured meaning.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
)

func (s Severity) String() string {
	switch s {
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	default:
		return "info"
	}
}

func (s Severity) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Event is the structured result of classifying one sanitized output line.
// Only the fields belonging to Kind are meaningful; Raw always holds the
// sanitized line it was derived from.
type Event struct {
	Kind     Kind      `json:"kind"`
	Name     string    `json:"name,omitempty"`
	Identity string    `json:"identity,omitempty"`
	IsOp     bool      `json:"is_op,omitempty"`
	URL      string    `json:"url,omitempty"`
	Raw      string    `json:"raw"`
	Severity Severity  `json:"severity"`
	At       time.Time `json:"at"`
}

// Unclassified builds the fallback event for raw, inferring its severity.
func Unclassified(raw string) Event {
	return Event{Kind: KindUnclassified, Raw: raw, Severity: InferSeverity(raw)}
}
