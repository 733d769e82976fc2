//go:build !windows

package process

import (
	"os/exec"
	"syscall"
)

// groupAttrs places the child in its own process group so signals reach the
// java process and everything it spawns.
func groupAttrs(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}
