package supervisor

import (
	"fmt"
	"time"

	"github.com/jalho/rad/internal/health"
	"github.com/jalho/rad/internal/process"
)

// State is the supervision state of the current server instance.
type State int32

const (
	// Starting is entered on a confirmed spawn. Health checks are
	// suppressed until the grace period has elapsed.
	Starting State = iota
	// Healthy means the last post-grace probe succeeded.
	Healthy
	// Unhealthy means the last post-grace probe failed; a termination
	// request follows immediately.
	Unhealthy
	// Terminated means no instance is being supervised: it was killed or
	// exited on its own, or has not been spawned yet.
	Terminated
)

func (s State) String() string {
	switch s {
	case Starting:
		return "starting"
	case Healthy:
		return "healthy"
	case Unhealthy:
		return "unhealthy"
	case Terminated:
		return "terminated"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Live reports whether a PID accompanies the state.
func (s State) Live() bool { return s == Starting || s == Healthy || s == Unhealthy }

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Record is the single mutable view of the supervised instance. Only the
// Run goroutine writes it. PID is non-zero exactly when State.Live().
type Record struct {
	PID       int
	State     State
	Since     time.Time
	StartedAt time.Time
	Cycle     uint64
}

// Transition describes one state change.
type Transition struct {
	Cycle  uint64
	PID    int
	From   State
	To     State
	At     time.Time
	Reason string
}

// Status is an immutable snapshot of the supervisor, safe to share.
type Status struct {
	Server    string              `json:"server"`
	State     State               `json:"state"`
	PID       int                 `json:"pid,omitempty"`
	Since     time.Time           `json:"since"`
	StartedAt time.Time           `json:"started_at,omitzero"`
	Cycle     uint64              `json:"cycle"`
	Restarts  uint64              `json:"restarts"`
	Held      bool                `json:"held"`
	Running   bool                `json:"running"`
	LastCheck *health.Result      `json:"last_check,omitempty"`
	LastExit  *process.ExitStatus `json:"last_exit,omitempty"`
	LastError string              `json:"last_error,omitempty"`
}

// Uptime is the time since the current instance was spawned, or zero.
func (s Status) Uptime() time.Duration {
	if !s.State.Live() || s.StartedAt.IsZero() {
		return 0
	}
	return time.Since(s.StartedAt)
}
