package health

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// CommandProbe runs Command and treats exit status 0 as healthy. Useful
// when the service exposes a richer check script than bare connectivity.
type CommandProbe struct {
	Command string
	Timeout time.Duration
}

// buildShellAwareCommand avoids invoking a shell unless obvious shell
// metacharacters are present.
func buildShellAwareCommand(ctx context.Context, cmdStr string) *exec.Cmd {
	cmdStr = strings.TrimSpace(cmdStr)
	if strings.ContainsAny(cmdStr, "|&;<>*?`$\"'(){}[]~") {
		// #nosec G204
		return exec.CommandContext(ctx, "/bin/sh", "-c", cmdStr)
	}
	parts := strings.Fields(cmdStr)
	// #nosec G204
	return exec.CommandContext(ctx, parts[0], parts[1:]...)
}

func (p *CommandProbe) Check(ctx context.Context) Result {
	if strings.TrimSpace(p.Command) == "" {
		return Unhealthy("empty probe command")
	}
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	err := buildShellAwareCommand(cctx, p.Command).Run()
	latency := time.Since(start)
	var r Result
	switch {
	case err == nil:
		r = Healthy()
	case cctx.Err() != nil:
		r = Unhealthy(fmt.Sprintf("probe command timed out after %s", timeout))
	default:
		var ee *exec.ExitError
		if errors.As(err, &ee) {
			r = Unhealthy(fmt.Sprintf("probe command exited with status %d", ee.ExitCode()))
		} else {
			r = Unhealthy(err.Error())
		}
	}
	r.Latency = latency
	return r
}

func (p *CommandProbe) Describe() string { return "cmd:" + p.Command }
