//go:build windows

package process

import (
	"os/exec"
	"testing"
)

// checkSysProcAttrs has nothing to verify on Windows.
func checkSysProcAttrs(t *testing.T, cmd *exec.Cmd) {
	t.Helper()
}
