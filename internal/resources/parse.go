// Package resources converts textual CPU and memory quantities from a
// topology file into the units the container runtime expects.
package resources

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	units "github.com/docker/go-units"
)

// NanoCPUs is the number of nanocpu units in one core.
const NanoCPUs = 1_000_000_000

// Limits are resolved container limits. Zero fields mean unlimited.
type Limits struct {
	NanoCPUs int64
	Memory   int64
}

// Parse resolves both quantities, reporting the first invalid one.
func Parse(cpu, memory string) (Limits, error) {
	var limits Limits
	var err error
	if limits.NanoCPUs, err = ParseCPU(cpu); err != nil {
		return Limits{}, err
	}
	if limits.Memory, err = ParseMemory(memory); err != nil {
		return Limits{}, err
	}
	return limits, nil
}

// ParseCPU converts a core count ("2", "0.5") or a millicore quantity
// ("500m") into nanocpus.
func ParseCPU(value string) (int64, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return 0, nil
	}
	scale := 1.0
	if last := trimmed[len(trimmed)-1]; last == 'm' || last == 'M' {
		scale = 1.0 / 1000
		trimmed = strings.TrimSpace(trimmed[:len(trimmed)-1])
	}
	n, err := strconv.ParseFloat(trimmed, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid cpu quantity %q: %w", value, err)
	}
	cores := n * scale
	if cores <= 0 || math.IsNaN(cores) {
		return 0, fmt.Errorf("invalid cpu quantity %q: must be positive", value)
	}
	nano := math.Round(cores * NanoCPUs)
	if nano >= math.MaxInt64 {
		return 0, fmt.Errorf("invalid cpu quantity %q: exceeds supported range", value)
	}
	return max(int64(nano), 1), nil
}

// ParseMemory converts "512Mi", "16g" or "1GiB" style quantities into bytes.
func ParseMemory(value string) (int64, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return 0, nil
	}
	// go-units wants "Mi" spelled "MiB".
	if strings.HasSuffix(strings.ToLower(trimmed), "i") {
		trimmed += "B"
	}
	bytes, err := units.RAMInBytes(trimmed)
	if err != nil {
		return 0, fmt.Errorf("invalid memory quantity %q: %w", value, err)
	}
	if bytes <= 0 {
		return 0, fmt.Errorf("invalid memory quantity %q: must be positive", value)
	}
	return bytes, nil
}
