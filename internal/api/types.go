package api

import (
	"time"

	"github.com/jianglan89/rtp-llm/internal/procmgr"
)

// Controller exposes the supervisor operations required by control servers.
type Controller interface {
	Snapshot() procmgr.Status
	GracefulShutdown()
	ShutdownRequested() bool
}

// ProcessReport describes one supervised process.
type ProcessReport struct {
	Name  string `json:"name"`
	Pid   int    `json:"pid"`
	Alive bool   `json:"alive"`
}

// StatusReport aggregates supervisor status for API consumers.
type StatusReport struct {
	Topology          string          `json:"topology"`
	State             string          `json:"state"`
	Reason            string          `json:"reason"`
	ShutdownRequested bool            `json:"shutdown_requested"`
	Terminated        bool            `json:"terminated"`
	FirstDeadTime     *time.Time      `json:"first_dead_time,omitempty"`
	ShutdownTimeout   string          `json:"shutdown_timeout"`
	PollInterval      string          `json:"poll_interval"`
	Alive             int             `json:"alive"`
	Total             int             `json:"total"`
	GeneratedAt       time.Time       `json:"generated_at"`
	Processes         []ProcessReport `json:"processes"`
}

// ShutdownResult captures the outcome of a shutdown request.
type ShutdownResult struct {
	Accepted         bool   `json:"accepted"`
	AlreadyRequested bool   `json:"already_requested"`
	State            string `json:"state"`
}

// NewStatusReport converts a supervisor snapshot into its API shape.
func NewStatusReport(st procmgr.Status, now time.Time) *StatusReport {
	report := &StatusReport{
		Topology:          st.Topology,
		State:             st.State.String(),
		Reason:            st.Reason,
		ShutdownRequested: st.ShutdownRequested,
		Terminated:        st.Terminated,
		FirstDeadTime:     st.FirstDeadTime,
		ShutdownTimeout:   st.ShutdownTimeout.String(),
		PollInterval:      st.PollInterval.String(),
		Alive:             st.AliveCount(),
		Total:             len(st.Processes),
		GeneratedAt:       now.UTC(),
		Processes:         make([]ProcessReport, 0, len(st.Processes)),
	}
	for _, p := range st.Processes {
		report.Processes = append(report.Processes, ProcessReport{Name: p.Name, Pid: p.Pid, Alive: p.Alive})
	}
	return report
}
