//go:build !windows

package process

import "syscall"

// killProcess sends a signal to a process; a negative pid targets the
// process group.
func killProcess(pid int, signal syscall.Signal) error {
	return syscall.Kill(pid, signal)
}

// processExists checks whether a process (or group, negative pid) exists.
func processExists(pid int) bool {
	return syscall.Kill(pid, 0) == nil
}
