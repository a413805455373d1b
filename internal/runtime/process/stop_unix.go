//go:build !windows

package process

import (
	"errors"
	"fmt"
	"os"
	"syscall"
)

func terminate(proc *os.Process, pid int, group bool) error {
	return signal(proc, pid, group, syscall.SIGTERM)
}

func kill(proc *os.Process, pid int, group bool) error {
	return signal(proc, pid, group, syscall.SIGKILL)
}

// signal delivers sig to the process group led by pid, or to the single
// process when group is false. A process that is already gone is not an error.
func signal(proc *os.Process, pid int, group bool, sig syscall.Signal) error {
	if pid <= 0 {
		return nil
	}
	if group {
		err := syscall.Kill(-pid, sig)
		if err == nil || errors.Is(err, syscall.ESRCH) {
			return nil
		}
		// Fall back to the leader alone if the group could not be signalled.
	}
	if proc == nil {
		err := syscall.Kill(pid, sig)
		if err != nil && !errors.Is(err, syscall.ESRCH) {
			return fmt.Errorf("signal pid %d: %w", pid, err)
		}
		return nil
	}
	if err := proc.Signal(sig); err != nil && !errors.Is(err, os.ErrProcessDone) && !errors.Is(err, syscall.ESRCH) {
		return fmt.Errorf("signal pid %d: %w", pid, err)
	}
	return nil
}

func probeAlive(pid int) bool {
	err := syscall.Kill(pid, syscall.Signal(0))
	return err == nil || errors.Is(err, syscall.EPERM)
}

// signalGroup signals the process group led by pid without touching pid
// itself, which may already have been reaped.
func signalGroup(pid int, sig syscall.Signal) error {
	if pid <= 0 {
		return nil
	}
	if err := syscall.Kill(-pid, sig); err != nil && !errors.Is(err, syscall.ESRCH) {
		return fmt.Errorf("signal process group %d: %w", pid, err)
	}
	return nil
}
