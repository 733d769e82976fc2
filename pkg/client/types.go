package client

import (
	"time"
)

// Status mirrors the supervisor snapshot returned by GET /status.
type Status struct {
	Name      string    `json:"name"`
	State     string    `json:"state"`
	Reason    string    `json:"reason,omitempty"`
	Connected bool      `json:"connected"`
	Process   Process   `json:"process"`
	Artifact  *Artifact `json:"artifact,omitempty"`
	Evidence  Evidence  `json:"evidence"`
}

// Process describes the supervised java child.
type Process struct {
	Name      string    `json:"name"`
	Running   bool      `json:"running"`
	PID       int       `json:"pid"`
	StartedAt time.Time `json:"started_at"`
	StoppedAt time.Time `json:"stopped_at"`
	Restarts  int       `json:"restarts"`
}

// Artifact identifies the located server JAR.
type Artifact struct {
	Path    string `json:"path"`
	Version string `json:"version"`
	Valid   bool   `json:"valid"`
}

// Evidence reports how (and whether) a detector connection was confirmed.
type Evidence struct {
	Positive bool      `json:"positive"`
	Method   string    `json:"method,omitempty"`
	Detail   string    `json:"detail,omitempty"`
	At       time.Time `json:"at"`
}

// Health mirrors GET /health.
type Health struct {
	Healthy      bool           `json:"healthy"`
	Connected    bool           `json:"connected"`
	LastCheck    time.Time      `json:"last_check"`
	Error        string         `json:"error,omitempty"`
	ResponseTime time.Duration  `json:"response_time,omitempty"`
	Details      map[string]any `json:"details,omitempty"`
}

// DiscoveryReport mirrors POST /discover.
type DiscoveryReport struct {
	JarFound      bool       `json:"jar_found"`
	JarPath       string     `json:"jar_path,omitempty"`
	Version       string     `json:"version,omitempty"`
	Installations []Artifact `json:"installations,omitempty"`
	JavaAvailable bool       `json:"java_available"`
	JavaPath      string     `json:"java_path,omitempty"`
	Errors        []string   `json:"errors,omitempty"`
}

// StartResult is the response of POST /start?validate=1.
type StartResult struct {
	OK     bool             `json:"ok"`
	Report *DiscoveryReport `json:"report,omitempty"`
	Error  string           `json:"error,omitempty"`
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string `json:"error"`
}
