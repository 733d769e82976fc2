package evidence

import (
	"context"
	"fmt"

	"github.com/loykin/servisr/internal/serval"
)

// DetectorInfoSource probes the dedicated detector-info endpoint. The
// endpoint only answers once SERVAL has a detector attached, so any
// well-formed response counts as confirmation.
type DetectorInfoSource struct {
	Client *serval.Client
}

func (s DetectorInfoSource) Check(ctx context.Context) (Verdict, string, error) {
	if s.Client == nil {
		return Inconclusive, "no API client", nil
	}
	info, err := s.Client.DetectorInfo(ctx)
	if err != nil {
		return Inconclusive, "", err
	}
	return Confirmed, fmt.Sprintf("detector info endpoint responded (%d fields)", len(info)), nil
}

func (s DetectorInfoSource) Describe() string { return "detector-endpoint" }
