package supervisor

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/loykin/servisr/internal/metrics"
)

// HealthStatus is the result of probing the running server.
type HealthStatus struct {
	Healthy      bool           `json:"healthy"`
	Connected    bool           `json:"connected"`
	LastCheck    time.Time      `json:"last_check"`
	Error        string         `json:"error,omitempty"`
	ResponseTime time.Duration  `json:"response_time,omitempty"`
	Details      map[string]any `json:"details,omitempty"`
}

// HealthCheck probes the server's dashboard endpoint. Results are cached for
// the configured interval; force bypasses the cache. A healthy answer with
// fresh connection evidence also upgrades the supervisor's connected flag,
// which never goes back down for the same process instance.
func (s *Supervisor) HealthCheck(ctx context.Context, force bool) HealthStatus {
	s.mu.Lock()
	if !force && s.lastHealthSet && time.Since(s.lastHealth.LastCheck) < s.cfg.HealthCheckInterval {
		cached := s.lastHealth
		s.mu.Unlock()
		return cached
	}
	client := s.client
	checker := s.checker
	state := s.state
	connected := s.connected
	s.mu.Unlock()

	hs := HealthStatus{LastCheck: time.Now(), Connected: connected}
	if client == nil || state == StateIdle || state == StateStopped {
		hs.Error = "server not running"
		return s.storeHealth(hs, "unhealthy")
	}

	probeCtx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	defer cancel()
	began := time.Now()
	dash, raw, err := client.Dashboard(probeCtx)
	hs.ResponseTime = time.Since(began)

	// A parse failure with a body still proves the server answers; only a
	// transport-level failure is unhealthy.
	if err != nil && raw == nil {
		var nerr net.Error
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			hs.Error = "timeout"
		case errors.As(err, &nerr) && nerr.Timeout():
			hs.Error = "timeout"
		default:
			hs.Error = err.Error()
		}
		return s.storeHealth(hs, "unhealthy")
	}

	hs.Healthy = true
	if dash != nil {
		details := make(map[string]any)
		if v := dash.SoftwareVersion(); v != "" {
			details["software_version"] = v
		}
		if dt := dash.DetectorType(); dt != "" {
			details["detector_type"] = dt
		}
		if dash.Measurement != nil && dash.Measurement.Status != "" {
			details["measurement_status"] = string(dash.Measurement.Status)
			details["recording"] = dash.Recording()
		}
		if len(details) > 0 {
			hs.Details = details
		}
	}

	if !hs.Connected && checker != nil {
		if ev := checker.ResolveEvidence(probeCtx); ev.Positive {
			hs.Connected = true
			s.mu.Lock()
			s.connected = true
			s.mu.Unlock()
			metrics.IncEvidenceCheck(s.cfg.Name, ev.Method, "confirmed")
		}
	}
	return s.storeHealth(hs, "healthy")
}

func (s *Supervisor) storeHealth(hs HealthStatus, result string) HealthStatus {
	s.mu.Lock()
	s.lastHealth = hs
	s.lastHealthSet = true
	s.mu.Unlock()
	metrics.IncHealthCheck(s.cfg.Name, result)
	return hs
}
