package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/docker/go-connections/nat"

	"github.com/jianglan89/rtp-llm/internal/resources"
)

// Validate checks the document after defaults were applied.
func (t *Topology) Validate() error {
	if t.Supervisor.ShutdownTimeout.Duration <= 0 {
		return errors.New("supervisor.shutdownTimeout: must be positive")
	}
	if t.Supervisor.PollInterval.Duration <= 0 {
		return errors.New("supervisor.pollInterval: must be positive")
	}

	switch {
	case t.Server != nil && t.Ranks != nil:
		return errors.New("server and ranks are mutually exclusive")
	case t.Server != nil:
		if err := t.validateServer(); err != nil {
			return err
		}
	case t.Ranks != nil:
		if err := t.validateRanks(); err != nil {
			return err
		}
	default:
		return errors.New("topology must define either server or ranks")
	}

	instances := t.Instances()
	if err := validateUniqueNames(instances); err != nil {
		return err
	}
	return validatePortCollisions(instances)
}

func (t *Topology) validateServer() error {
	if t.Server.Backend == nil {
		return errors.New("server.backend: required")
	}
	if err := validateProcess(t.Server.Backend, "server.backend", false); err != nil {
		return err
	}
	for i, f := range t.Server.Frontends {
		field := fieldPath("server", indexed("frontends", i))
		if f == nil {
			return fmt.Errorf("%s: must not be empty", field)
		}
		if err := validateProcess(f, field, true); err != nil {
			return err
		}
	}
	return nil
}

func (t *Topology) validateRanks() error {
	r := t.Ranks
	switch {
	case len(r.Members) > 0 && r.Template != nil:
		return errors.New("ranks: template and members are mutually exclusive")
	case len(r.Members) > 0:
		if r.WorldSize != 0 && r.WorldSize != len(r.Members) {
			return fmt.Errorf("ranks.worldSize: %d does not match %d members", r.WorldSize, len(r.Members))
		}
		for i, m := range r.Members {
			field := fieldPath("ranks", indexed("members", i))
			if m == nil {
				return fmt.Errorf("%s: must not be empty", field)
			}
			if err := validateProcess(m, field, false); err != nil {
				return err
			}
		}
	case r.Template != nil:
		if r.WorldSize < 1 {
			return errors.New("ranks.worldSize: must be at least 1")
		}
		if err := validateProcess(r.Template, "ranks.template", false); err != nil {
			return err
		}
	default:
		return errors.New("ranks: either template or members is required")
	}
	return nil
}

// validateProcess checks one process definition. Only frontends may be
// replicated; ranks are sized by worldSize.
func validateProcess(p *ProcessSpec, field string, replicable bool) error {
	switch p.Runtime {
	case RuntimeProcess:
		if len(p.Command) == 0 {
			return fmt.Errorf("%s: command is required for the process runtime", fieldPath(field, "command"))
		}
	case RuntimeDocker:
		if strings.TrimSpace(p.Image) == "" {
			return fmt.Errorf("%s: image is required for the docker runtime", fieldPath(field, "image"))
		}
	default:
		return fmt.Errorf("%s: unsupported runtime %q", fieldPath(field, "runtime"), p.Runtime)
	}
	if p.Replicas < 0 {
		return fmt.Errorf("%s: must not be negative", fieldPath(field, "replicas"))
	}
	if p.Replicas > 1 && !replicable {
		return fmt.Errorf("%s: only frontends can be replicated", fieldPath(field, "replicas"))
	}
	if len(p.Ports) > 0 && p.Runtime != RuntimeDocker {
		return fmt.Errorf("%s: only supported with the docker runtime", fieldPath(field, "ports"))
	}
	for i, spec := range p.Ports {
		if err := validatePort(spec); err != nil {
			return fmt.Errorf("%s: %w", fieldPath(field, indexed("ports", i)), err)
		}
	}
	if p.Resources != nil {
		if p.Runtime != RuntimeDocker {
			return fmt.Errorf("%s: only supported with the docker runtime", fieldPath(field, "resources"))
		}
		if _, err := resources.Parse(p.Resources.CPU, p.Resources.Memory); err != nil {
			return fmt.Errorf("%s: %w", fieldPath(field, "resources"), err)
		}
	}
	return nil
}

func validatePort(spec string) error {
	mappings, err := nat.ParsePortSpec(spec)
	if err != nil {
		return fmt.Errorf("invalid port mapping %q: %w", spec, err)
	}
	if len(mappings) == 0 {
		return fmt.Errorf("invalid port mapping %q: no port definitions found", spec)
	}
	for _, mapping := range mappings {
		hostPort := strings.TrimSpace(mapping.Binding.HostPort)
		if hostPort == "" {
			return fmt.Errorf("invalid port mapping %q: host port must be specified", spec)
		}
		start, end, err := nat.ParsePortRange(hostPort)
		if err != nil || start == 0 || end == 0 {
			return fmt.Errorf("invalid port mapping %q: host port must be in range 1-65535", spec)
		}
	}
	return nil
}

func validateUniqueNames(instances []Instance) error {
	seen := make(map[string]struct{}, len(instances))
	for _, inst := range instances {
		if _, dup := seen[inst.Name]; dup {
			return fmt.Errorf("process name %q is used more than once; set distinct names", inst.Name)
		}
		seen[inst.Name] = struct{}{}
	}
	return nil
}

type portClaim struct {
	hostIP string
	owner  string
}

// validatePortCollisions rejects host ports claimed by more than one
// instance. Replicated frontends with a fixed host port collide here.
func validatePortCollisions(instances []Instance) error {
	claimed := map[int][]portClaim{}
	for _, inst := range instances {
		for _, spec := range inst.Spec.Ports {
			mappings, err := nat.ParsePortSpec(spec)
			if err != nil {
				return fmt.Errorf("%s: invalid port mapping %q: %w", inst.Name, spec, err)
			}
			for _, mapping := range mappings {
				start, end, err := nat.ParsePortRange(mapping.Binding.HostPort)
				if err != nil {
					continue
				}
				hostIP := normalizeHostIP(mapping.Binding.HostIP)
				for port := int(start); port <= int(end); port++ {
					for _, claim := range claimed[port] {
						if claim.owner == inst.Name {
							continue
						}
						if claim.hostIP == hostIP || claim.hostIP == "0.0.0.0" || hostIP == "0.0.0.0" {
							names := []string{claim.owner, inst.Name}
							sort.Strings(names)
							return fmt.Errorf("host port %d on IP %q is claimed by %s", port, hostIP, strings.Join(names, ", "))
						}
					}
					claimed[port] = append(claimed[port], portClaim{hostIP: hostIP, owner: inst.Name})
				}
			}
		}
	}
	return nil
}

func normalizeHostIP(ip string) string {
	ip = strings.TrimSpace(ip)
	if ip == "" || ip == "0.0.0.0" {
		return "0.0.0.0"
	}
	return ip
}
