//go:build !windows

package main

import (
	"os/exec"
	"syscall"
)

// detachAttrs puts the child into its own session so it survives the
// terminal.
func detachAttrs(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}
