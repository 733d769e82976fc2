package main

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

// daemonize re-executes the current binary detached from the terminal. The
// child runs without --daemonize, so it proceeds straight into serve; the
// parent writes the PID file and exits.
func daemonize(pidFile, logFile string) error {
	if os.Getppid() == 1 {
		return nil // already detached
	}

	executable, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve executable: %w", err)
	}

	// #nosec 204
	cmd := exec.Command(executable, stripDaemonFlags(os.Args[1:])...)
	detachAttrs(cmd)
	cmd.Stdin = nil
	if err := redirectOutput(cmd, logFile); err != nil {
		return err
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}
	if pidFile != "" {
		if err := writePidFile(pidFile, cmd.Process.Pid); err != nil {
			return fmt.Errorf("write pid file: %w", err)
		}
	}

	fmt.Printf("Started daemon with PID %d\n", cmd.Process.Pid)
	os.Exit(0)
	return nil
}

// redirectOutput sends the child's stdout and stderr to logFile. Without one
// the child inherits nothing and its output is lost.
func redirectOutput(cmd *exec.Cmd, logFile string) error {
	if logFile == "" {
		return nil
	}
	// #nosec 304
	out, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	cmd.Stdout = out
	cmd.Stderr = out
	return nil
}

// stripDaemonFlags removes the daemonization flags from the re-exec arg list.
// Both "--flag value" and "--flag=value" spellings are handled.
func stripDaemonFlags(args []string) []string {
	out := make([]string, 0, len(args))
	skip := false
	for _, arg := range args {
		switch {
		case skip:
			skip = false
		case arg == "--daemonize":
		case arg == "--pidfile" || arg == "--logfile":
			skip = true
		case strings.HasPrefix(arg, "--daemonize=") ||
			strings.HasPrefix(arg, "--pidfile=") ||
			strings.HasPrefix(arg, "--logfile="):
		default:
			out = append(out, arg)
		}
	}
	return out
}

func writePidFile(pidFile string, pid int) error {
	// #nosec 306
	return os.WriteFile(pidFile, []byte(strconv.Itoa(pid)), 0o644)
}

func removePidFile(pidFile string) error {
	if pidFile == "" {
		return nil
	}
	return os.Remove(pidFile)
}
