package process

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrSpawn matches every *SpawnError.
	ErrSpawn = errors.New("spawn failed")
	// ErrKill matches every *KillError.
	ErrKill = errors.New("kill failed")
	// ErrOutput matches every *OutputError.
	ErrOutput = errors.New("output capture failed")
)

// SpawnError reports that the executable could not be launched. It is not
// retryable: the path is missing, not executable, or a pipe could not be set up.
type SpawnError struct {
	Path string
	Args []string
	Err  error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("cannot spawn process from executable %q (args %q): %v",
		e.Path, strings.Join(e.Args, " "), e.Err)
}

func (e *SpawnError) Unwrap() []error { return []error{ErrSpawn, e.Err} }

// KillError reports a failed forced termination of a process that still exists.
type KillError struct {
	PID int
	Err error
}

func (e *KillError) Error() string {
	return fmt.Sprintf("cannot kill process %d: %v", e.PID, e.Err)
}

func (e *KillError) Unwrap() []error { return []error{ErrKill, e.Err} }

// OutputError reports a read failure on one of the child's pipes.
type OutputError struct {
	Path   string
	Stream Stream
	Err    error
}

func (e *OutputError) Error() string {
	return fmt.Sprintf("cannot read %s of process from executable %q: %v", e.Stream, e.Path, e.Err)
}

func (e *OutputError) Unwrap() []error { return []error{ErrOutput, e.Err} }
