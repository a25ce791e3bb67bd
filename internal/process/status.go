package process

import (
	"fmt"
	"time"
)

// Stream identifies the pipe a line was captured from.
type Stream int

const (
	Stdout Stream = iota
	Stderr
)

func (s Stream) String() string {
	switch s {
	case Stdout:
		return "stdout"
	case Stderr:
		return "stderr"
	default:
		return "unknown"
	}
}

// MarshalText encodes the stream by name in JSON payloads.
func (s Stream) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// OutputLine is one line of child output with its trailing newline removed.
type OutputLine struct {
	Origin     Stream    `json:"origin"`
	Text       string    `json:"text"`
	ObservedAt time.Time `json:"observed_at"`
}

// ExitStatus describes how the child terminated.
type ExitStatus struct {
	Code     int    `json:"code"`
	Signaled bool   `json:"signaled"`
	Signal   string `json:"signal,omitempty"`
}

// Success reports a clean zero exit.
func (s ExitStatus) Success() bool { return !s.Signaled && s.Code == 0 }

func (s ExitStatus) String() string {
	if s.Signaled {
		return "signal: " + s.Signal
	}
	return fmt.Sprintf("exit status %d", s.Code)
}
