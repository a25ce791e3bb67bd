package supervisor

import (
	"errors"
	"fmt"
)

var (
	// ErrPIDTimeout is wrapped by SpawnFailure when the owner goroutine did
	// not report a PID in time.
	ErrPIDTimeout = errors.New("timed out waiting for server PID")
	// ErrAlreadyRunning is returned by Run when another Run is active.
	ErrAlreadyRunning = errors.New("supervisor already running")
	// ErrNotRunning is returned by commands after Run has returned.
	ErrNotRunning = errors.New("supervisor not running")
)

// SpawnFailure ends Run: the server could not be launched. It is not
// retried automatically.
type SpawnFailure struct {
	Cycle uint64
	Err   error
}

func (e *SpawnFailure) Error() string {
	return fmt.Sprintf("supervision cycle %d: %v", e.Cycle, e.Err)
}

func (e *SpawnFailure) Unwrap() error { return e.Err }
