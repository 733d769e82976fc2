package evidence

import (
	"context"
	"fmt"
	"strings"
)

const (
	// absenceSampleBytes is how much recent output the heuristic inspects.
	absenceSampleBytes = 1000
	// absenceMinSample is the minimum sample size for the heuristic to say
	// anything at all; a near-empty tail proves nothing.
	absenceMinSample = 100
)

// reconnectFailurePhrases are the lines SERVAL keeps printing while it cannot
// reach the detector. The absence heuristic only looks for these.
var reconnectFailurePhrases = []string{
	"failed to reconnect to detector",
	"connect timed out",
	"connection failed",
	"timeout connecting",
}

// AbsenceOfFailureSource checks that recent output carries no connection
// failure lines. Silence is ambiguous, so a clean sample is reported as
// Inconclusive, never Confirmed; only an explicit failure line produces a
// definite verdict.
type AbsenceOfFailureSource struct {
	Output func() string
}

func (s AbsenceOfFailureSource) Check(_ context.Context) (Verdict, string, error) {
	if s.Output == nil {
		return Inconclusive, "no output capture", nil
	}
	out := s.Output()
	if len(out) > absenceSampleBytes {
		out = out[len(out)-absenceSampleBytes:]
	}
	if len(out) <= absenceMinSample {
		return Inconclusive, fmt.Sprintf("output sample too small (%d bytes)", len(out)), nil
	}
	lower := strings.ToLower(out)
	for _, p := range reconnectFailurePhrases {
		if strings.Contains(lower, p) {
			return Refuted, "recent output contains " + quoted(p), nil
		}
	}
	return Inconclusive, "no failure phrases in recent output (weak signal, not confirmatory)", nil
}

func (s AbsenceOfFailureSource) Describe() string { return "absence-of-failure-heuristic" }
