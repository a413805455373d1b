package procmgr

import (
	"time"
)

// State is the lifecycle position of a supervisor.
type State int32

const (
	StateIdle State = iota
	StateMonitoring
	StateTerminating
	StateJoined
	StateForceKilled
	StateDone
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateMonitoring:
		return "monitoring"
	case StateTerminating:
		return "terminating"
	case StateJoined:
		return "joined"
	case StateForceKilled:
		return "force_killed"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

// MarshalText renders the state name, so JSON snapshots carry strings.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Reasons reported in Result and Event.
const (
	ReasonNone              = "none"
	ReasonShutdownRequested = "shutdown_requested"
	ReasonProcessDied       = "process_died"
)

// EventType captures the notifications emitted on the events channel.
type EventType string

const (
	EventTypeStateChanged      EventType = "state_changed"
	EventTypeShutdownRequested EventType = "shutdown_requested"
	EventTypeExited            EventType = "exited"
	EventTypeTerminate         EventType = "terminate"
	EventTypeKill              EventType = "kill"
	EventTypeJoinFailed        EventType = "join_failed"
)

// Event is a single lifecycle notification. Process is empty for events that
// concern the whole set.
type Event struct {
	Timestamp time.Time
	Process   string
	Pid       int
	Type      EventType
	State     State
	Reason    string
	Message   string
	Err       error
}

// Result summarises how a monitor run ended.
type Result struct {
	// Reason is ReasonShutdownRequested, ReasonProcessDied, or ReasonNone
	// when every process exited on its own before any termination.
	Reason string
	// ForceKilled reports whether the grace window elapsed and survivors
	// were hard-killed.
	ForceKilled bool
}

// ProcessStatus is a point-in-time view of one supervised process.
type ProcessStatus struct {
	Name  string `json:"name"`
	Pid   int    `json:"pid"`
	Alive bool   `json:"alive"`
}

// Status is a point-in-time view of a supervisor.
type Status struct {
	Topology          string          `json:"topology,omitempty"`
	State             State           `json:"state"`
	Reason            string          `json:"reason"`
	ShutdownRequested bool            `json:"shutdownRequested"`
	Terminated        bool            `json:"terminated"`
	FirstDeadTime     *time.Time      `json:"firstDeadTime,omitempty"`
	ShutdownTimeout   time.Duration   `json:"shutdownTimeout"`
	PollInterval      time.Duration   `json:"pollInterval"`
	Processes         []ProcessStatus `json:"processes"`
}

// AliveCount returns the number of processes reported alive.
func (s Status) AliveCount() int {
	n := 0
	for _, p := range s.Processes {
		if p.Alive {
			n++
		}
	}
	return n
}
