package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "servisr"

func counter(subsystem, name, help string, labels ...string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	}, labels)
}

func gauge(subsystem, name, help string, labels ...string) *prometheus.GaugeVec {
	return prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	}, labels)
}

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	serverStarts   = counter("supervisor", "starts_total", "Number of successful server starts.", "name")
	serverRestarts = counter("supervisor", "restarts_total", "Number of automatic restarts after unexpected exits.", "name")
	serverStops    = counter("supervisor", "stops_total", "Number of stops (graceful or forced).", "name")
	startDuration  = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "supervisor",
		Name:      "start_duration_seconds",
		Help:      "Time from launch until readiness was confirmed.",
		Buckets:   []float64{1, 2.5, 5, 10, 20, 30, 60, 120},
	}, []string{"name"})
	stateTransitions   = counter("supervisor", "state_transitions_total", "Number of supervisor state transitions.", "name", "from", "to")
	currentStates      = gauge("supervisor", "current_state", "Current supervisor state (1 = active state, 0 = inactive).", "name", "state")
	readinessFailures  = counter("readiness", "stage_failures_total", "Readiness probes that failed, by stage (port, api, connection).", "name", "stage")
	evidenceChecks     = counter("evidence", "checks_total", "Connection evidence resolutions by method and outcome.", "name", "method", "outcome")
	healthChecks       = counter("health", "checks_total", "Health probes by result (healthy, unhealthy).", "name", "result")
	connectionTimeouts = counter("supervisor", "connection_timeouts_total", "Watchdog shutdowns because connection evidence never appeared.", "name")
	shutdownPhases     = counter("supervisor", "shutdown_phases_total", "Shutdown protocol phases executed (graceful, sigterm, sigkill).", "name", "phase")
)

func collectors() []prometheus.Collector {
	return []prometheus.Collector{
		serverStarts, serverRestarts, serverStops, startDuration,
		stateTransitions, currentStates, readinessFailures,
		evidenceChecks, healthChecks, connectionTimeouts, shutdownPhases,
	}
}

// Register installs the collectors on r. Calling it again after a successful
// registration is a no-op, and collectors already present in r are skipped.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	for _, c := range collectors() {
		err := r.Register(c)
		if err == nil {
			continue
		}
		var already prometheus.AlreadyRegisteredError
		if !errors.As(err, &already) {
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler serves the default gatherer. Route wiring is up to the caller.
func Handler() http.Handler { return promhttp.Handler() }

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func IncStart(name string) {
	if regOK.Load() {
		serverStarts.WithLabelValues(name).Inc()
	}
}

func IncRestart(name string) {
	if regOK.Load() {
		serverRestarts.WithLabelValues(name).Inc()
	}
}

func IncStop(name string) {
	if regOK.Load() {
		serverStops.WithLabelValues(name).Inc()
	}
}

func ObserveStartDuration(name string, seconds float64) {
	if regOK.Load() {
		startDuration.WithLabelValues(name).Observe(seconds)
	}
}

func RecordStateTransition(name, from, to string) {
	if regOK.Load() {
		stateTransitions.WithLabelValues(name, from, to).Inc()
	}
}

func SetCurrentState(name, state string, active bool) {
	if regOK.Load() {
		var value float64
		if active {
			value = 1
		}
		currentStates.WithLabelValues(name, state).Set(value)
	}
}

func IncReadinessFailure(name, stage string) {
	if regOK.Load() {
		readinessFailures.WithLabelValues(name, stage).Inc()
	}
}

func IncEvidenceCheck(name, method, outcome string) {
	if regOK.Load() {
		evidenceChecks.WithLabelValues(name, method, outcome).Inc()
	}
}

func IncHealthCheck(name, result string) {
	if regOK.Load() {
		healthChecks.WithLabelValues(name, result).Inc()
	}
}

func IncConnectionTimeout(name string) {
	if regOK.Load() {
		connectionTimeouts.WithLabelValues(name).Inc()
	}
}

func IncShutdownPhase(name, phase string) {
	if regOK.Load() {
		shutdownPhases.WithLabelValues(name, phase).Inc()
	}
}
