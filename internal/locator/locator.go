// Package locator finds running processes by executable name.
//
// A hung game server may no longer answer signals sent through the handle
// that spawned it, so forced termination looks the process up by name
// instead of trusting a stored PID. Two strategies exist: Native enumerates
// the process table through gopsutil, Pgrep shells out to pgrep(1).
package locator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
)

// Locator is a strategy that finds the PIDs of processes with a given
// executable name. It must be safe for concurrent use.
type Locator interface {
	// Find returns the PIDs of running processes named name. An empty
	// result with nil error means nothing is running under that name.
	Find(ctx context.Context, name string) ([]int, error)
	// Describe returns a human-readable description of the lookup method.
	Describe() string
}

// LookupError reports a failed lookup with the external command involved.
type LookupError struct {
	Tool string
	Args []string
	Err  error
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("process lookup via %s %s failed: %v", e.Tool, strings.Join(e.Args, " "), e.Err)
}

func (e *LookupError) Unwrap() error { return e.Err }

// New returns the locator for kind: "native", "pgrep" or "auto" (native,
// falling back to pgrep when enumeration fails).
func New(kind string) (Locator, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "native":
		return Native{}, nil
	case "pgrep":
		return Pgrep{}, nil
	case "", "auto":
		return Fallback{Primary: Native{}, Secondary: Pgrep{}}, nil
	default:
		return nil, fmt.Errorf("unknown locator kind %q, must be one of: native, pgrep, auto", kind)
	}
}

// Fallback consults Secondary only when Primary fails.
type Fallback struct {
	Primary   Locator
	Secondary Locator
}

func (f Fallback) Find(ctx context.Context, name string) ([]int, error) {
	pids, err := f.Primary.Find(ctx, name)
	if err == nil {
		return pids, nil
	}
	pids, err2 := f.Secondary.Find(ctx, name)
	if err2 != nil {
		return nil, errors.Join(err, err2)
	}
	return pids, nil
}

func (f Fallback) Describe() string {
	return f.Primary.Describe() + "|" + f.Secondary.Describe()
}

// KillByName forcibly terminates every process named name using kill and
// returns the PIDs it signalled. The calling process is never targeted.
// Finding nothing is not an error.
func KillByName(ctx context.Context, loc Locator, name string, kill func(pid int) error) ([]int, error) {
	pids, err := loc.Find(ctx, name)
	if err != nil {
		return nil, err
	}
	self := os.Getpid()
	var (
		killed []int
		errs   []error
	)
	for _, pid := range pids {
		if pid == self {
			continue
		}
		if err := kill(pid); err != nil {
			errs = append(errs, err)
			continue
		}
		killed = append(killed, pid)
	}
	return killed, errors.Join(errs...)
}

// matchesName compares a process name reported by the OS against the
// wanted executable name. Linux truncates comm to 15 bytes.
func matchesName(reported, want string) bool {
	if reported == want {
		return true
	}
	const commLen = 15
	return len(reported) == commLen && len(want) > commLen && strings.HasPrefix(want, reported)
}
