package process

import (
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// Spec describes the executable to launch.
// Env, when non-empty, replaces the inherited environment entirely; callers
// compose it with internal/env first.
type Spec struct {
	Name       string   `json:"name" mapstructure:"name"`
	Executable string   `json:"executable" mapstructure:"executable"`
	Args       []string `json:"args" mapstructure:"args"`
	WorkDir    string   `json:"work_dir" mapstructure:"work_dir"`
	Env        []string `json:"-" mapstructure:"-"`
	PIDFile    string   `json:"pid_file" mapstructure:"pid_file"`
}

// Validate reports the first problem that would make the spec unlaunchable.
func (s *Spec) Validate() error {
	if strings.TrimSpace(s.Executable) == "" {
		return errors.New("executable is required")
	}
	for i, kv := range s.Env {
		if !strings.Contains(kv, "=") {
			return fmt.Errorf("env[%d] %q is invalid, must be in KEY=VALUE format", i, kv)
		}
	}
	if strings.Contains(s.PIDFile, "..") {
		return fmt.Errorf("pid_file %q cannot contain '..' path traversal", s.PIDFile)
	}
	return nil
}

// BuildCommand constructs an *exec.Cmd for the spec without a shell.
// Arguments are passed verbatim, so values such as passwords never go
// through shell interpolation.
func (s *Spec) BuildCommand() *exec.Cmd {
	// #nosec G204 -- executable and args come from operator configuration
	cmd := exec.Command(s.Executable, s.Args...)
	if s.WorkDir != "" {
		cmd.Dir = s.WorkDir
	}
	if len(s.Env) > 0 {
		cmd.Env = append([]string(nil), s.Env...)
	}
	configureSysProcAttr(cmd)
	return cmd
}

// DisplayName returns Name, or the executable's base name when Name is unset.
func (s *Spec) DisplayName() string {
	if s.Name != "" {
		return s.Name
	}
	exe := s.Executable
	if i := strings.LastIndexAny(exe, `/\`); i >= 0 {
		exe = exe[i+1:]
	}
	return exe
}
