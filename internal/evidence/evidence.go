// Package evidence decides whether the detector hardware behind SERVAL is
// actually connected. Individual sources inspect process output or the HTTP
// API and return a tri-state verdict; the resolver applies them in priority
// order and accepts the first confirmation.
package evidence

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/loykin/servisr/internal/serval"
)

// Verdict is one source's judgement about the hardware connection.
type Verdict int

const (
	// Inconclusive means the source saw nothing either way.
	Inconclusive Verdict = iota
	// Confirmed means the source found a positive connection signal.
	Confirmed
	// Refuted means the source found an explicit connection failure.
	Refuted
)

func (v Verdict) String() string {
	switch v {
	case Confirmed:
		return "confirmed"
	case Refuted:
		return "refuted"
	default:
		return "inconclusive"
	}
}

// Source is a strategy that looks for hardware-connection evidence.
// Implementations must be safe for concurrent use.
type Source interface {
	// Check returns the verdict with a short detail line for diagnostics.
	Check(ctx context.Context) (Verdict, string, error)
	// Describe identifies the detection method in logs and status output.
	Describe() string
}

// Evidence is the resolver outcome kept for diagnostics. Method names the
// source that produced the outcome; for a negative outcome it names the
// first source that refuted, if any.
type Evidence struct {
	Positive bool      `json:"positive"`
	Method   string    `json:"method,omitempty"`
	Detail   string    `json:"detail,omitempty"`
	At       time.Time `json:"at"`
}

// Resolver evaluates sources in priority order. The first Confirmed verdict
// wins; Refuted and Inconclusive verdicts fall through to the next source so
// a stale failure line in old output cannot mask a live dashboard signal.
type Resolver struct {
	sources []Source
	logger  *slog.Logger
}

func NewResolver(logger *slog.Logger, sources ...Source) *Resolver {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Resolver{sources: sources, logger: logger}
}

// DefaultSources assembles the standard strategy order: output scan first
// (cheapest), then the two API probes, then the absence heuristic as a
// last-resort failure detector.
func DefaultSources(output func() string, client *serval.Client) []Source {
	return []Source{
		OutputScanSource{Output: output},
		DashboardSource{Client: client},
		DetectorInfoSource{Client: client},
		AbsenceOfFailureSource{Output: output},
	}
}

// Sources returns the configured strategies in evaluation order.
func (r *Resolver) Sources() []Source {
	out := make([]Source, len(r.sources))
	copy(out, r.sources)
	return out
}

// Resolve runs the strategies until one confirms. A source that errors or
// panics is logged and skipped; it never aborts the remaining sources.
func (r *Resolver) Resolve(ctx context.Context) Evidence {
	var refuted *Evidence
	for _, s := range r.sources {
		v, detail, err := r.safeCheck(ctx, s)
		if err != nil {
			r.logger.Debug("evidence source unavailable", "source", s.Describe(), "error", err)
			continue
		}
		switch v {
		case Confirmed:
			r.logger.Info("connection evidence confirmed", "source", s.Describe(), "detail", detail)
			return Evidence{Positive: true, Method: s.Describe(), Detail: detail, At: time.Now()}
		case Refuted:
			r.logger.Warn("connection failure reported", "source", s.Describe(), "detail", detail)
			if refuted == nil {
				refuted = &Evidence{Method: s.Describe(), Detail: detail}
			}
		default:
			r.logger.Debug("no connection evidence", "source", s.Describe(), "detail", detail)
		}
	}
	out := Evidence{At: time.Now()}
	if refuted != nil {
		out.Method = refuted.Method
		out.Detail = refuted.Detail
	}
	return out
}

func (r *Resolver) safeCheck(ctx context.Context, s Source) (v Verdict, detail string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("evidence source panicked", "source", s.Describe(), "panic", rec)
			v, detail, err = Inconclusive, "", fmt.Errorf("source panicked: %v", rec)
		}
	}()
	return s.Check(ctx)
}
