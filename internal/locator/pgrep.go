package locator

import (
	"context"
	"errors"
	"os/exec"
	"sort"
	"strconv"
	"strings"
)

// Pgrep looks processes up with `pgrep -x NAME`.
type Pgrep struct {
	// Path overrides the pgrep binary; empty means look it up in PATH.
	Path string
}

func (p Pgrep) Find(ctx context.Context, name string) ([]int, error) {
	tool := p.Path
	if tool == "" {
		tool = "pgrep"
	}
	args := []string{"-x", name}
	// #nosec G204 -- name is the configured executable name, passed without a shell
	out, err := exec.CommandContext(ctx, tool, args...).Output()
	if err != nil {
		// Exit code 1 means no processes matched.
		var ee *exec.ExitError
		if errors.As(err, &ee) && ee.ExitCode() == 1 {
			return nil, nil
		}
		return nil, &LookupError{Tool: tool, Args: args, Err: err}
	}
	pids, err := parsePIDs(string(out))
	if err != nil {
		return nil, &LookupError{Tool: tool, Args: args, Err: err}
	}
	return pids, nil
}

func (Pgrep) Describe() string { return "pgrep" }

func parsePIDs(out string) ([]int, error) {
	var pids []int
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		pid, err := strconv.Atoi(line)
		if err != nil {
			return nil, err
		}
		pids = append(pids, pid)
	}
	sort.Ints(pids)
	return pids, nil
}
