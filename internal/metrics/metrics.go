package metrics

import (
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registry = prometheus.NewRegistry()

	supervisedProcesses = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "rtpsup",
		Name:      "supervised_processes",
		Help:      "Number of processes registered with a running supervisor.",
	}, []string{"topology"})

	aliveProcesses = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "rtpsup",
		Name:      "alive_processes",
		Help:      "Number of supervised processes observed alive at the last poll.",
	}, []string{"topology"})

	processSignals = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rtpsup",
		Name:      "process_signals_total",
		Help:      "Termination requests issued to supervised processes, by kind and outcome.",
	}, []string{"process", "kind", "outcome"})

	shutdowns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rtpsup",
		Name:      "shutdowns_total",
		Help:      "Completed supervisor shutdowns by trigger and terminal state.",
	}, []string{"topology", "reason", "outcome"})

	shutdownDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "rtpsup",
		Name:      "shutdown_duration_seconds",
		Help:      "Time from the first termination request until every process was joined.",
		Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 20, 30, 50, 60, 120},
	}, []string{"topology"})

	joinFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rtpsup",
		Name:      "join_failures_total",
		Help:      "Errors returned while joining supervised processes.",
	}, []string{"process"})

	buildInfo = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "rtpsup",
		Name:      "build_info",
		Help:      "Build metadata for the running rtpsup binary.",
	}, []string{"go_version", "vcs", "vcs_revision", "vcs_time", "vcs_modified"})

	buildInfoOnce sync.Once
)

// Signal kinds recorded by ObserveSignal.
const (
	SignalTerminate = "terminate"
	SignalKill      = "kill"
)

func init() {
	registry.MustRegister(supervisedProcesses, aliveProcesses, processSignals, shutdowns, shutdownDuration, joinFailures, buildInfo)
}

// Registry returns the Prometheus registry containing all rtpsup metrics.
func Registry() *prometheus.Registry {
	return registry
}

// SetSupervised records how many processes a supervisor owns.
func SetSupervised(topology string, n int) {
	supervisedProcesses.WithLabelValues(label(topology)).Set(float64(n))
}

// SetAlive records how many supervised processes were alive at the last poll.
func SetAlive(topology string, n int) {
	aliveProcesses.WithLabelValues(label(topology)).Set(float64(n))
}

// ObserveSignal counts a terminate or kill request. A nil error is recorded as
// "sent", anything else as "error".
func ObserveSignal(process, kind string, err error) {
	outcome := "sent"
	if err != nil {
		outcome = "error"
	}
	processSignals.WithLabelValues(label(process), kind, outcome).Inc()
}

// ObserveShutdown records the trigger and terminal state of a finished
// supervisor run along with how long the shutdown took. A zero duration skips
// the histogram, which happens when processes exited without being asked to.
func ObserveShutdown(topology, reason, outcome string, d time.Duration) {
	shutdowns.WithLabelValues(label(topology), label(reason), label(outcome)).Inc()
	if d > 0 {
		shutdownDuration.WithLabelValues(label(topology)).Observe(d.Seconds())
	}
}

// IncJoinFailure counts a failed join for the given process.
func IncJoinFailure(process string) {
	joinFailures.WithLabelValues(label(process)).Inc()
}

// EmitBuildInfo publishes build metadata about the running binary.
func EmitBuildInfo() {
	buildInfoOnce.Do(func() {
		labels := prometheus.Labels{
			"go_version":   runtime.Version(),
			"vcs":          "",
			"vcs_revision": "",
			"vcs_time":     "",
			"vcs_modified": "",
		}
		if info, ok := debug.ReadBuildInfo(); ok {
			if info.GoVersion != "" {
				labels["go_version"] = info.GoVersion
			}
			for _, setting := range info.Settings {
				switch setting.Key {
				case "vcs":
					labels["vcs"] = setting.Value
				case "vcs.revision":
					labels["vcs_revision"] = setting.Value
				case "vcs.time":
					labels["vcs_time"] = setting.Value
				case "vcs.modified":
					labels["vcs_modified"] = setting.Value
				}
			}
		}
		buildInfo.With(labels).Set(1)
	})
}

// ResetTopology clears the gauges for a topology once its supervisor is done.
func ResetTopology(topology string) {
	supervisedProcesses.DeleteLabelValues(label(topology))
	aliveProcesses.DeleteLabelValues(label(topology))
}

func label(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
