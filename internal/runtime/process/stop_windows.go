//go:build windows

package process

import (
	"errors"
	"fmt"
	"os"
	"syscall"
)

func terminate(proc *os.Process, pid int, _ bool) error {
	if proc == nil {
		return nil
	}
	// Best effort: Windows has no SIGTERM for arbitrary console processes.
	_ = proc.Signal(os.Interrupt)
	return nil
}

func kill(proc *os.Process, pid int, _ bool) error {
	if proc == nil {
		return nil
	}
	if err := proc.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("kill process %d: %w", pid, err)
	}
	return nil
}

func probeAlive(int) bool {
	return false
}

// signalGroup is a no-op: processes are not started in their own group here.
func signalGroup(int, syscall.Signal) error {
	return nil
}
