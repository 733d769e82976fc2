package evidence

import (
	"context"
	"strings"
)

// Phrases SERVAL prints when the detector link comes up or fails. Matching is
// case-insensitive on the captured output.
var (
	connectedPhrases = []string{
		"camera connected",
		"timepix3 connected",
		"detector connected",
		"tpx3 initialization successful",
		"camera ready",
		"detector ready",
	}
	failurePhrases = []string{
		"no camera found",
		"camera not found",
		"no detector",
		"connection failed",
		"timeout connecting",
		"camera initialization failed",
	}
)

// OutputScanSource scans recent process output for connection phrases.
// The output func is called on every check so the scan always sees the
// latest captured text.
type OutputScanSource struct {
	Output func() string
}

func (s OutputScanSource) Check(_ context.Context) (Verdict, string, error) {
	if s.Output == nil {
		return Inconclusive, "no output capture", nil
	}
	lower := strings.ToLower(s.Output())
	if lower == "" {
		return Inconclusive, "no output captured yet", nil
	}
	for _, p := range connectedPhrases {
		if strings.Contains(lower, p) {
			return Confirmed, "output contains " + quoted(p), nil
		}
	}
	for _, p := range failurePhrases {
		if strings.Contains(lower, p) {
			return Refuted, "output contains " + quoted(p), nil
		}
	}
	return Inconclusive, "no connection phrases in output", nil
}

func (s OutputScanSource) Describe() string { return "output-scan" }

func quoted(p string) string { return `"` + p + `"` }
