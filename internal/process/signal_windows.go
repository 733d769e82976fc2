//go:build windows

package process

import (
	"syscall"

	"golang.org/x/sys/windows"
)

// killProcess terminates a Windows process by PID. Group semantics do not
// exist here; a negative pid targets the process itself.
func killProcess(pid int, signal syscall.Signal) error {
	if pid < 0 {
		pid = -pid
	}
	if pid == 0 {
		return nil
	}
	if signal == 0 {
		return checkProcessExists(pid)
	}

	h, err := windows.OpenProcess(windows.PROCESS_TERMINATE, false, uint32(pid))
	if err != nil {
		// Process already gone; treat as terminated.
		return nil
	}
	defer func() { _ = windows.CloseHandle(h) }()
	return windows.TerminateProcess(h, 1)
}

// checkProcessExists is the kill(pid, 0) equivalent.
func checkProcessExists(pid int) error {
	h, err := windows.OpenProcess(windows.PROCESS_QUERY_LIMITED_INFORMATION, false, uint32(pid))
	if err != nil {
		return err
	}
	return windows.CloseHandle(h)
}

// processExists reports whether a process with this pid is alive.
func processExists(pid int) bool {
	if pid < 0 {
		pid = -pid
	}
	return checkProcessExists(pid) == nil
}
