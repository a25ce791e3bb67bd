package locator

import (
	"context"
	"fmt"
	"sort"
	"time"

	gopsproc "github.com/shirou/gopsutil/v4/process"
)

// Native enumerates the process table through gopsutil.
type Native struct{}

func (Native) Find(ctx context.Context, name string) ([]int, error) {
	procs, err := gopsproc.ProcessesWithContext(ctx)
	if err != nil {
		return nil, &LookupError{Tool: "gopsutil", Args: []string{"processes"}, Err: err}
	}
	var pids []int
	for _, p := range procs {
		n, err := p.NameWithContext(ctx)
		if err != nil {
			// the process exited while we were iterating
			continue
		}
		if matchesName(n, name) {
			pids = append(pids, int(p.Pid))
		}
	}
	sort.Ints(pids)
	return pids, nil
}

func (Native) Describe() string { return "native" }

// Age returns how long pid has been running.
func Age(ctx context.Context, pid int) (time.Duration, error) {
	if pid <= 0 {
		return 0, fmt.Errorf("invalid pid %d", pid)
	}
	p, err := gopsproc.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return 0, err
	}
	ms, err := p.CreateTimeWithContext(ctx)
	if err != nil {
		return 0, err
	}
	age := time.Since(time.UnixMilli(ms))
	if age < 0 {
		age = 0
	}
	return age, nil
}
