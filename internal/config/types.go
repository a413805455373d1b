package config

import (
	"fmt"
	"strings"
	"time"
)

// Topology kinds.
const (
	KindServer = "server"
	KindRanks  = "ranks"
)

// Runtime names understood by the launcher registry.
const (
	RuntimeProcess = "process"
	RuntimeDocker  = "docker"
)

// Supervisor defaults, matching the rtp-llm process manager.
const (
	DefaultShutdownTimeout = 50 * time.Second
	DefaultPollInterval    = time.Second
)

// Environment variables injected into expanded instances.
const (
	EnvFrontendServerID = "FRONTEND_SERVER_ID"
	EnvRank             = "RANK"
	EnvLocalRank        = "LOCAL_RANK"
	EnvWorldSize        = "WORLD_SIZE"
)

// Duration wraps time.Duration for YAML unmarshalling.
type Duration struct {
	time.Duration
	explicit bool
}

// UnmarshalText parses a textual duration, accepting empty strings.
func (d *Duration) UnmarshalText(text []byte) error {
	d.explicit = true
	if len(text) == 0 {
		d.Duration = 0
		return nil
	}
	dur, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	d.Duration = dur
	return nil
}

// MarshalText renders the duration using time.Duration formatting.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// IsSet reports whether the duration was explicitly provided or non-zero.
func (d Duration) IsSet() bool {
	return d.explicit || d.Duration != 0
}

// Topology mirrors the topology.yaml document.
type Topology struct {
	Version    string         `yaml:"version"`
	Name       string         `yaml:"name"`
	Workdir    string         `yaml:"workdir"`
	Supervisor SupervisorSpec `yaml:"supervisor"`
	Server     *ServerSpec    `yaml:"server"`
	Ranks      *RanksSpec     `yaml:"ranks"`
}

// SupervisorSpec tunes the shutdown protocol.
type SupervisorSpec struct {
	ShutdownTimeout Duration `yaml:"shutdownTimeout"`
	PollInterval    Duration `yaml:"pollInterval"`
}

// ServerSpec is a backend engine plus its frontend processes.
type ServerSpec struct {
	Backend   *ProcessSpec   `yaml:"backend"`
	Frontends []*ProcessSpec `yaml:"frontends"`
}

// RanksSpec is a set of symmetric rank processes, either stamped out from a
// template worldSize times or listed explicitly in members.
type RanksSpec struct {
	WorldSize int            `yaml:"worldSize"`
	Template  *ProcessSpec   `yaml:"template"`
	Members   []*ProcessSpec `yaml:"members"`
}

// ProcessSpec describes how to launch one process (or one replicated group).
type ProcessSpec struct {
	Name            string            `yaml:"name"`
	Runtime         string            `yaml:"runtime"`
	Image           string            `yaml:"image"`
	Command         []string          `yaml:"command"`
	Env             map[string]string `yaml:"env"`
	EnvFromFile     string            `yaml:"envFromFile"`
	Workdir         string            `yaml:"workdir"`
	Ports           []string          `yaml:"ports"`
	Replicas        int               `yaml:"replicas"`
	Resources       *Resources        `yaml:"resources"`
	ResolvedWorkdir string            `yaml:"-"`
}

// Resources captures container resource limits.
type Resources struct {
	CPU    string `yaml:"cpu"`
	Memory string `yaml:"memory"`
}

// Instance is one concrete process produced by expanding the topology.
type Instance struct {
	Name string
	Spec *ProcessSpec
	Env  map[string]string
}

// Kind reports which topology the document describes.
func (t *Topology) Kind() string {
	switch {
	case t.Server != nil:
		return KindServer
	case t.Ranks != nil:
		return KindRanks
	default:
		return ""
	}
}

// ApplyDefaults fills in supervisor timings, runtimes and replica counts.
func (t *Topology) ApplyDefaults() {
	if !t.Supervisor.ShutdownTimeout.IsSet() {
		t.Supervisor.ShutdownTimeout.Duration = DefaultShutdownTimeout
	}
	if !t.Supervisor.PollInterval.IsSet() {
		t.Supervisor.PollInterval.Duration = DefaultPollInterval
	}
	for _, p := range t.allSpecs() {
		if p.Runtime == "" {
			p.Runtime = RuntimeProcess
		}
		if p.Replicas == 0 {
			p.Replicas = 1
		}
	}
}

func (t *Topology) allSpecs() []*ProcessSpec {
	var out []*ProcessSpec
	if t.Server != nil {
		if t.Server.Backend != nil {
			out = append(out, t.Server.Backend)
		}
		for _, f := range t.Server.Frontends {
			if f != nil {
				out = append(out, f)
			}
		}
	}
	if t.Ranks != nil {
		if t.Ranks.Template != nil {
			out = append(out, t.Ranks.Template)
		}
		for _, m := range t.Ranks.Members {
			if m != nil {
				out = append(out, m)
			}
		}
	}
	return out
}

// ExpandServer returns the backend instance (nil when absent) followed by
// every frontend replica in declaration order.
func (t *Topology) ExpandServer() (*Instance, []Instance) {
	if t.Server == nil {
		return nil, nil
	}
	var backend *Instance
	if b := t.Server.Backend; b != nil {
		backend = &Instance{Name: nameOr(b.Name, "backend"), Spec: b, Env: cloneEnv(b.Env)}
	}

	var frontends []Instance
	serverID := 0
	for _, f := range t.Server.Frontends {
		if f == nil {
			continue
		}
		base := nameOr(f.Name, "frontend")
		replicas := max(f.Replicas, 1)
		for i := 0; i < replicas; i++ {
			name := base
			if replicas > 1 {
				name = fmt.Sprintf("%s-%d", base, i)
			}
			env := cloneEnv(f.Env)
			env[EnvFrontendServerID] = fmt.Sprint(serverID)
			serverID++
			frontends = append(frontends, Instance{Name: name, Spec: f, Env: env})
		}
	}
	return backend, frontends
}

// ExpandRanks returns one instance per rank with RANK, LOCAL_RANK and
// WORLD_SIZE injected.
func (t *Topology) ExpandRanks() []Instance {
	if t.Ranks == nil {
		return nil
	}
	var specs []*ProcessSpec
	var names []string
	if len(t.Ranks.Members) > 0 {
		for i, m := range t.Ranks.Members {
			if m == nil {
				continue
			}
			specs = append(specs, m)
			names = append(names, nameOr(m.Name, fmt.Sprintf("rank-%d", i)))
		}
	} else if t.Ranks.Template != nil {
		base := nameOr(t.Ranks.Template.Name, "rank")
		for i := 0; i < t.Ranks.WorldSize; i++ {
			specs = append(specs, t.Ranks.Template)
			names = append(names, fmt.Sprintf("%s-%d", base, i))
		}
	}

	world := fmt.Sprint(len(specs))
	out := make([]Instance, 0, len(specs))
	for i, spec := range specs {
		env := cloneEnv(spec.Env)
		env[EnvRank] = fmt.Sprint(i)
		env[EnvLocalRank] = fmt.Sprint(i)
		env[EnvWorldSize] = world
		out = append(out, Instance{Name: names[i], Spec: spec, Env: env})
	}
	return out
}

// Instances returns every expanded instance in registration order.
func (t *Topology) Instances() []Instance {
	switch t.Kind() {
	case KindServer:
		backend, frontends := t.ExpandServer()
		var out []Instance
		if backend != nil {
			out = append(out, *backend)
		}
		return append(out, frontends...)
	case KindRanks:
		return t.ExpandRanks()
	default:
		return nil
	}
}

func nameOr(name, fallback string) string {
	if n := strings.TrimSpace(name); n != "" {
		return n
	}
	return fallback
}

func cloneEnv(env map[string]string) map[string]string {
	out := make(map[string]string, len(env)+3)
	for k, v := range env {
		out[k] = v
	}
	return out
}

func fieldPath(parts ...string) string {
	return strings.Join(parts, ".")
}

func indexed(name string, i int) string {
	return fmt.Sprintf("%s[%d]", name, i)
}
