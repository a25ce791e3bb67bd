//go:build windows

package process

import (
	"errors"
	"os"
)

// KillPID terminates pid. A process that no longer exists counts as killed.
func KillPID(pid int) error {
	if pid <= 0 {
		return nil
	}
	p, err := os.FindProcess(pid)
	if err != nil {
		// OpenProcess fails for PIDs that are already gone.
		return nil
	}
	if err := p.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return &KillError{PID: pid, Err: err}
	}
	return nil
}

// killGroup has no process-group semantics on Windows.
func killGroup(pid int) error { return KillPID(pid) }

// Alive reports whether pid can be opened as a running process.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	_, err := os.FindProcess(pid)
	return err == nil
}

func exitStatusOf(ps *os.ProcessState) ExitStatus {
	if ps == nil {
		return ExitStatus{Code: -1}
	}
	return ExitStatus{Code: ps.ExitCode()}
}
