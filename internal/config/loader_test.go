package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeTopology(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "topology.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write topology: %v", err)
	}
	return path
}

func TestLoadServerTopology(t *testing.T) {
	dir := t.TempDir()
	workdir := filepath.Join(dir, "run")
	if err := os.Mkdir(workdir, 0o755); err != nil {
		t.Fatalf("mkdir workdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(workdir, "model.env"), []byte("# model\nexport MODEL_TYPE=qwen\nCHECKPOINT_PATH=\"/models/${MODEL_NAME}\"\nTOKENIZER='/tok' \nTP_SIZE=2 # tensor parallel\n"), 0o644); err != nil {
		t.Fatalf("write env file: %v", err)
	}

	t.Setenv("MODEL_NAME", "qwen-7b")
	t.Setenv("RUN_DIR", "./run")
	t.Setenv("PY", "python3")

	path := writeTopology(t, dir, `version: "0.1"
name: qwen-serving
workdir: ${RUN_DIR}
supervisor:
  shutdownTimeout: 20s
server:
  backend:
    command: ["${PY}", "-m", "rtp_llm.start_backend_server"]
    envFromFile: model.env
    env:
      TP_SIZE: "1"
  frontends:
    - name: frontend
      replicas: 2
      command: ["${PY}", "-m", "rtp_llm.start_frontend_server"]
`)

	doc, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if got, want := doc.Workdir, workdir; got != want {
		t.Fatalf("unexpected workdir: got %q want %q", got, want)
	}
	if doc.Kind() != KindServer {
		t.Fatalf("unexpected kind %q", doc.Kind())
	}
	if got := doc.Supervisor.ShutdownTimeout.Duration; got != 20*time.Second {
		t.Fatalf("unexpected shutdown timeout %v", got)
	}
	if got := doc.Supervisor.PollInterval.Duration; got != DefaultPollInterval {
		t.Fatalf("poll interval default not applied: %v", got)
	}

	backend := doc.Server.Backend
	if backend.Runtime != RuntimeProcess {
		t.Fatalf("runtime default not applied: %q", backend.Runtime)
	}
	if backend.Command[0] != "python3" {
		t.Fatalf("command not expanded: %v", backend.Command)
	}
	if backend.ResolvedWorkdir != workdir {
		t.Fatalf("unexpected resolved workdir %q", backend.ResolvedWorkdir)
	}
	wantEnv := map[string]string{
		"MODEL_TYPE":      "qwen",
		"CHECKPOINT_PATH": "/models/qwen-7b",
		"TOKENIZER":       "/tok",
		"TP_SIZE":         "1",
	}
	for k, v := range wantEnv {
		if backend.Env[k] != v {
			t.Fatalf("env %s: got %q want %q (env=%v)", k, backend.Env[k], v, backend.Env)
		}
	}

	instances := doc.Instances()
	if len(instances) != 3 {
		t.Fatalf("expected 3 instances, got %d", len(instances))
	}
	if instances[0].Name != "backend" || instances[1].Name != "frontend-0" || instances[2].Name != "frontend-1" {
		t.Fatalf("unexpected instance order: %v, %v, %v", instances[0].Name, instances[1].Name, instances[2].Name)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeTopology(t, t.TempDir(), `server:
  backend:
    command: ["true"]
    restartPolicy: always
`)
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "restartPolicy") {
		t.Fatalf("expected unknown field error, got %v", err)
	}
}

func TestLoadMissingEnvFile(t *testing.T) {
	path := writeTopology(t, t.TempDir(), `server:
  backend:
    command: ["true"]
    envFromFile: missing.env
`)
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "envFromFile") {
		t.Fatalf("expected env file error, got %v", err)
	}
}

func TestParseEnvLine(t *testing.T) {
	cases := []struct {
		line      string
		key, want string
		ok        bool
		wantErr   bool
	}{
		{line: "", ok: false},
		{line: "# comment", ok: false},
		{line: "A=1", key: "A", want: "1", ok: true},
		{line: "export B = two ", key: "B", want: "two", ok: true},
		{line: `C="x # y"`, key: "C", want: "x # y", ok: true},
		{line: "D=v # trailing", key: "D", want: "v", ok: true},
		{line: "E='unterminated", wantErr: true},
		{line: "=value", wantErr: true},
		{line: "novalue", wantErr: true},
	}
	for _, tc := range cases {
		key, value, ok, err := parseEnvLine(tc.line)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("parseEnvLine(%q): expected error", tc.line)
			}
			continue
		}
		if err != nil {
			t.Fatalf("parseEnvLine(%q): %v", tc.line, err)
		}
		if ok != tc.ok || key != tc.key || value != tc.want {
			t.Fatalf("parseEnvLine(%q) = %q, %q, %v; want %q, %q, %v", tc.line, key, value, ok, tc.key, tc.want, tc.ok)
		}
	}
}
