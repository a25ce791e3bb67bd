package supervisor

import (
	"context"
	"errors"

	"github.com/jalho/rad/internal/locator"
	"github.com/jalho/rad/internal/process"
)

// Terminator issues a forced termination request for the supervised
// instance described by rec. It returns the PIDs that were signalled.
// It must not wait for the targets to exit.
type Terminator interface {
	Terminate(ctx context.Context, rec Record) ([]int, error)
}

// TerminatorFunc adapts a function to Terminator.
type TerminatorFunc func(ctx context.Context, rec Record) ([]int, error)

func (f TerminatorFunc) Terminate(ctx context.Context, rec Record) ([]int, error) {
	return f(ctx, rec)
}

// NameTerminator kills every process whose executable name is Name. When
// the lookup finds nothing or fails, the recorded PID is killed instead if
// that process is still alive.
type NameTerminator struct {
	Locator locator.Locator
	Name    string
	// Kill defaults to process.KillPID.
	Kill func(pid int) error
}

func (t NameTerminator) Terminate(ctx context.Context, rec Record) ([]int, error) {
	kill := t.Kill
	if kill == nil {
		kill = process.KillPID
	}
	killed, err := locator.KillByName(ctx, t.Locator, t.Name, kill)
	if len(killed) > 0 {
		return killed, err
	}
	if rec.PID > 0 && process.Alive(rec.PID) {
		if kerr := kill(rec.PID); kerr != nil {
			return nil, errors.Join(err, kerr)
		}
		return []int{rec.PID}, err
	}
	return nil, err
}

// PIDTerminator kills only the recorded PID.
type PIDTerminator struct{}

func (PIDTerminator) Terminate(_ context.Context, rec Record) ([]int, error) {
	if rec.PID <= 0 {
		return nil, nil
	}
	if err := process.KillPID(rec.PID); err != nil {
		return nil, err
	}
	return []int{rec.PID}, nil
}
