//go:build !windows

package process

import (
	"context"
	"errors"
	"os/exec"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jianglan89/rtp-llm/internal/runtime"
)

func startShell(t *testing.T, name, script string) runtime.Handle {
	t.Helper()
	h, err := New().Start(context.Background(), runtime.StartSpec{
		Name:    name,
		Command: []string{"/bin/sh", "-c", script},
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = h.Kill()
		_ = h.Join()
	})
	return h
}

func TestStartRequiresCommand(t *testing.T) {
	_, err := New().Start(context.Background(), runtime.StartSpec{Name: "backend"})
	require.Error(t, err)
}

func TestTerminateStopsProcessGroup(t *testing.T) {
	h := startShell(t, "backend", "sleep 30 & sleep 30")
	require.True(t, h.Alive())
	require.Positive(t, h.Pid())

	pgid, err := syscall.Getpgid(h.Pid())
	require.NoError(t, err)
	assert.Equal(t, h.Pid(), pgid, "process should lead its own group")

	require.NoError(t, h.Terminate())
	require.Eventually(t, func() bool { return !h.Alive() }, 5*time.Second, 10*time.Millisecond)
	require.NoError(t, h.Join())

	require.Eventually(t, func() bool {
		return syscall.Kill(-pgid, syscall.Signal(0)) == syscall.ESRCH
	}, 2*time.Second, 10*time.Millisecond, "process group should be gone")
}

func TestKillEscalatesPastIgnoredTerm(t *testing.T) {
	h := startShell(t, "stubborn", "trap '' TERM; while :; do sleep 0.05; done")
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, h.Terminate())
	time.Sleep(200 * time.Millisecond)
	assert.True(t, h.Alive(), "process ignoring SIGTERM should survive terminate")

	require.NoError(t, h.Kill())
	require.Eventually(t, func() bool { return !h.Alive() }, 5*time.Second, 10*time.Millisecond)
	require.NoError(t, h.Join())
}

func groupGone(pgid int) func() bool {
	return func() bool {
		return errors.Is(syscall.Kill(-pgid, syscall.Signal(0)), syscall.ESRCH)
	}
}

func TestLeaderExitNotDelayedByChildrenHoldingOutput(t *testing.T) {
	h := startShell(t, "backend", "sleep 30 & exit 1")
	pgid := h.Pid()

	require.Eventually(t, func() bool { return !h.Alive() }, time.Second, 10*time.Millisecond,
		"leader exit must be visible while its child still holds stdout")
	assert.NoError(t, syscall.Kill(-pgid, syscall.Signal(0)), "child should outlive the leader until join")

	start := time.Now()
	require.NoError(t, h.Join())
	assert.Less(t, time.Since(start), waitDelay, "join should not wait out the pipe drain delay")
	require.Eventually(t, groupGone(pgid), 5*time.Second, 10*time.Millisecond, "join must clean up the process group")
	assert.Equal(t, 1, h.(*childHandle).ExitCode())
}

func TestTerminateAfterLeaderExitReachesChildren(t *testing.T) {
	h := startShell(t, "frontend", "sleep 30 & exit 0")
	pgid := h.Pid()
	require.Eventually(t, func() bool { return !h.Alive() }, time.Second, 10*time.Millisecond)

	require.NoError(t, h.Terminate())
	require.Eventually(t, groupGone(pgid), 5*time.Second, 10*time.Millisecond)
	require.NoError(t, h.Join())
}

func TestSignalsAfterExitAreNoops(t *testing.T) {
	h := startShell(t, "short", "exit 3")
	require.NoError(t, h.Join())
	assert.False(t, h.Alive())
	assert.NoError(t, h.Terminate())
	assert.NoError(t, h.Kill())
	assert.NoError(t, h.Join(), "join is repeatable")
	assert.Equal(t, 3, h.(*childHandle).ExitCode())
}

func TestStartAppliesEnvAndWorkdir(t *testing.T) {
	dir := t.TempDir()
	h, err := New().Start(context.Background(), runtime.StartSpec{
		Name:    "rank-1",
		Command: []string{"/bin/sh", "-c", `test "$RANK" = 1 && touch marker`},
		Env:     map[string]string{"RANK": "1"},
		Workdir: dir,
	})
	require.NoError(t, err)
	require.NoError(t, h.Join())
	assert.Equal(t, 0, h.(*childHandle).ExitCode())
	assert.FileExists(t, filepath.Join(dir, "marker"))
}

func TestAttachForeignProcess(t *testing.T) {
	cmd := exec.Command("sleep", "30")
	require.NoError(t, cmd.Start())
	waitErr := make(chan error, 1)
	go func() { waitErr <- cmd.Wait() }()

	h, err := Attach(cmd.Process.Pid)
	require.NoError(t, err)
	assert.Equal(t, cmd.Process.Pid, h.Pid())
	assert.True(t, h.Alive())

	require.NoError(t, h.Terminate())
	select {
	case <-waitErr:
	case <-time.After(5 * time.Second):
		t.Fatal("attached process did not exit after terminate")
	}
	require.NoError(t, h.Join())
	assert.NoError(t, h.Kill(), "kill after exit must be a no-op")
}

func TestAttachMissingProcess(t *testing.T) {
	_, err := Attach(0)
	require.ErrorIs(t, err, ErrProcessNotFound)
}
