package process

// LifecycleState is the supervisor's single view of the server.
type LifecycleState int

const (
	StateOffline LifecycleState = iota
	StateStarting
	StateOnline
	StateCrashed
)

func (s LifecycleState) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateOnline:
		return "online"
	case StateCrashed:
		return "crashed"
	default:
		return "offline"
	}
}

func (s LifecycleState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Running reports whether a process exists in this state.
func (s LifecycleState) Running() bool { return s == StateStarting || s == StateOnline }

type NotificationKind int

const (
	NotifyStarted NotificationKind = iota
	NotifyStopped
	NotifyCrashed
	NotifyStateChanged
	NotifyLog
)

func (k NotificationKind) String() string {
	switch k {
	case NotifyStarted:
		return "started"
	case NotifyStopped:
		return "stopped"
	case NotifyCrashed:
		return "crashed"
	case NotifyStateChanged:
		return "state_changed"
	default:
		return "log"
	}
}

func (k NotificationKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }
