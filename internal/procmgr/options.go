package procmgr

import (
	"time"

	"github.com/rs/zerolog"
)

// Clock abstracts wall time so the monitor loop can run against a fake
// clock in tests.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

type realClock struct{}

func (realClock) Now() time.Time        { return time.Now() }
func (realClock) Sleep(d time.Duration) { time.Sleep(d) }

// Option configures a Supervisor. Options are applied at construction and
// are fixed for the supervisor's lifetime.
type Option func(*Supervisor)

// WithShutdownTimeout sets the grace window between soft terminate and hard
// kill. Non-positive values keep the default.
func WithShutdownTimeout(d time.Duration) Option {
	return func(s *Supervisor) {
		if d > 0 {
			s.shutdownTimeout = d
		}
	}
}

// WithPollInterval sets the monitor loop period. Non-positive values keep the
// default.
func WithPollInterval(d time.Duration) Option {
	return func(s *Supervisor) {
		if d > 0 {
			s.pollInterval = d
		}
	}
}

// WithLogger replaces the component logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Supervisor) {
		s.logger = logger
	}
}

// WithEvents sets a channel that receives lifecycle events. Sends never
// block; events are dropped when the channel is full.
func WithEvents(events chan<- Event) Option {
	return func(s *Supervisor) {
		s.events = events
	}
}

// WithClock injects the time source.
func WithClock(clock Clock) Option {
	return func(s *Supervisor) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithTopology labels logs and metrics with the topology name.
func WithTopology(name string) Option {
	return func(s *Supervisor) {
		s.topology = name
	}
}
