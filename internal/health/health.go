// Package health classifies a running game server as serving or not,
// independently of whether its OS process exists.
package health

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Result is the outcome of one probe.
type Result struct {
	Healthy   bool          `json:"healthy"`
	Reason    string        `json:"reason,omitempty"`
	CheckedAt time.Time     `json:"checked_at"`
	Latency   time.Duration `json:"latency"`
}

// Healthy returns a passing result stamped now.
func Healthy() Result { return Result{Healthy: true, CheckedAt: time.Now()} }

// Unhealthy returns a failing result stamped now.
func Unhealthy(reason string) Result {
	return Result{Healthy: false, Reason: reason, CheckedAt: time.Now()}
}

func (r Result) String() string {
	if r.Healthy {
		return "healthy"
	}
	return "unhealthy: " + r.Reason
}

// Checker probes the service once. Implementations never retry; the caller
// owns the cadence. Any failure to reach the service is Unhealthy.
type Checker interface {
	Check(ctx context.Context) Result
	Describe() string
}

// New builds a checker by kind: "tcp" probes addr, "command" runs command.
func New(kind, addr, command string, timeout time.Duration) (Checker, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", "tcp":
		if addr == "" {
			return nil, fmt.Errorf("tcp probe requires an address")
		}
		return &TCPProbe{Addr: addr, Timeout: timeout}, nil
	case "command":
		if strings.TrimSpace(command) == "" {
			return nil, fmt.Errorf("command probe requires a command")
		}
		return &CommandProbe{Command: command, Timeout: timeout}, nil
	default:
		return nil, fmt.Errorf("unknown probe kind %q, must be one of: tcp, command", kind)
	}
}
