package config

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads a topology document from the provided path.
func Load(path string) (*Topology, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve topology path: %w", err)
	}

	f, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("open topology file: %w", err)
	}
	defer f.Close()

	decoder := yaml.NewDecoder(f)
	decoder.KnownFields(true)
	var doc Topology
	if err := decoder.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%s: decode: %w", absPath, err)
	}

	baseDir := filepath.Dir(absPath)
	doc.Workdir = resolveWorkdir(baseDir, os.ExpandEnv(doc.Workdir))

	for _, p := range doc.allSpecs() {
		if err := resolveProcess(p, doc.Workdir); err != nil {
			return nil, fmt.Errorf("%s: %w", absPath, err)
		}
	}

	doc.ApplyDefaults()
	if err := doc.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", absPath, err)
	}
	return &doc, nil
}

// resolveProcess expands environment references, merges envFromFile under
// the inline env and resolves the working directory against the topology's.
func resolveProcess(p *ProcessSpec, workdir string) error {
	p.ResolvedWorkdir = resolveWorkdir(workdir, os.ExpandEnv(p.Workdir))
	p.Image = os.ExpandEnv(p.Image)
	for i, arg := range p.Command {
		p.Command[i] = os.ExpandEnv(arg)
	}

	merged := map[string]string{}
	if p.EnvFromFile != "" {
		expanded := os.ExpandEnv(p.EnvFromFile)
		if !filepath.IsAbs(expanded) {
			expanded = filepath.Clean(filepath.Join(p.ResolvedWorkdir, expanded))
		}
		p.EnvFromFile = expanded
		fileEnv, err := loadEnvFile(expanded)
		if err != nil {
			return fmt.Errorf("%s envFromFile: %w", nameOr(p.Name, "process"), err)
		}
		for k, v := range fileEnv {
			merged[k] = v
		}
	}
	for k, v := range p.Env {
		merged[k] = os.ExpandEnv(v)
	}
	if len(merged) == 0 {
		p.Env = nil
	} else {
		p.Env = merged
	}
	return nil
}

func resolveWorkdir(base, workdir string) string {
	if workdir == "" {
		return base
	}
	if filepath.IsAbs(workdir) {
		return filepath.Clean(workdir)
	}
	return filepath.Clean(filepath.Join(base, workdir))
}

func loadEnvFile(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("load env file %q: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	values := make(map[string]string)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		key, value, ok, err := parseEnvLine(scanner.Text())
		if err != nil {
			return nil, fmt.Errorf("load env file %q: line %d: %w", path, lineNo, err)
		}
		if ok {
			values[key] = os.ExpandEnv(value)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("load env file %q: %w", path, err)
	}
	return values, nil
}

// parseEnvLine handles KEY=value, export KEY=value, quoted values and
// trailing comments. Blank and comment lines report ok=false.
func parseEnvLine(line string) (key, value string, ok bool, err error) {
	raw := strings.TrimSpace(line)
	if raw == "" || strings.HasPrefix(raw, "#") {
		return "", "", false, nil
	}
	raw = strings.TrimSpace(strings.TrimPrefix(raw, "export "))

	k, v, found := strings.Cut(raw, "=")
	key = strings.TrimSpace(k)
	if !found || key == "" {
		return "", "", false, fmt.Errorf("expected KEY=value")
	}
	value = strings.TrimSpace(v)

	switch {
	case strings.HasPrefix(value, `"`):
		unquoted, err := strconv.Unquote(value)
		if err != nil {
			return "", "", false, fmt.Errorf("parse quoted value for %s: %w", key, err)
		}
		value = unquoted
	case strings.HasPrefix(value, "'"):
		if len(value) < 2 || !strings.HasSuffix(value, "'") {
			return "", "", false, fmt.Errorf("unmatched quote for %s", key)
		}
		value = value[1 : len(value)-1]
	default:
		if before, _, cut := strings.Cut(value, "#"); cut {
			value = strings.TrimSpace(before)
		}
	}
	return key, value, true, nil
}
