package supervisor

import (
	"errors"
	"fmt"
	"time"
)

// ErrConnectionTimeout marks a shutdown forced by the watchdog because no
// connection evidence appeared within ConnectionTimeout. Match with
// errors.Is; the concrete error carried is a *TimeoutError.
var ErrConnectionTimeout = errors.New("connection evidence timeout")

// LaunchError wraps a failure to spawn the server process.
type LaunchError struct {
	Path string
	Err  error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("launching %s: %v", e.Path, e.Err)
}

func (e *LaunchError) Unwrap() error { return e.Err }

// TimeoutError reports a deadline expiry. Stage is "startup" when the server
// never became ready within StartupTimeout, "connection" when the watchdog
// enforced ConnectionTimeout.
type TimeoutError struct {
	Stage string
	Limit time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s deadline of %s exceeded", e.Stage, e.Limit)
}

func (e *TimeoutError) Is(target error) bool {
	return target == ErrConnectionTimeout && e.Stage == "connection"
}

// ReadinessError reports that the server exited or misbehaved before
// becoming ready. Output carries the tail of the captured child output.
type ReadinessError struct {
	Stage  string
	Output string
	Err    error
}

func (e *ReadinessError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("server not ready (stage %s): %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("server not ready (stage %s)", e.Stage)
}

func (e *ReadinessError) Unwrap() error { return e.Err }

// ShutdownError reports a problem during the shutdown protocol. It is logged
// and never propagated as a failure.
type ShutdownError struct {
	Phase string
	Err   error
}

func (e *ShutdownError) Error() string {
	return fmt.Sprintf("shutdown phase %s: %v", e.Phase, e.Err)
}

func (e *ShutdownError) Unwrap() error { return e.Err }

// IsConnectionTimeout reports whether err stems from the watchdog-enforced
// connection deadline.
func IsConnectionTimeout(err error) bool {
	return errors.Is(err, ErrConnectionTimeout)
}
