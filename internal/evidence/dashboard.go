package evidence

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/loykin/servisr/internal/serval"
)

// DashboardSource inspects the SERVAL dashboard for detector evidence: a
// reported detector type, a loose "connected" flag anywhere in the document,
// or a Timepix marker in the raw body.
type DashboardSource struct {
	Client *serval.Client
}

func (s DashboardSource) Check(ctx context.Context) (Verdict, string, error) {
	if s.Client == nil {
		return Inconclusive, "no API client", nil
	}
	d, raw, err := s.Client.Dashboard(ctx)
	if err != nil && raw == nil {
		return Inconclusive, "", err
	}
	// A decode error with a body still in hand falls through to the raw
	// scans; firmware variants ship loosely-shaped dashboards.
	if dt := d.DetectorType(); dt != "" {
		return Confirmed, "dashboard reports detector type " + quoted(dt), nil
	}
	if sectionConnected(raw) {
		return Confirmed, "dashboard section reports connected", nil
	}
	if strings.Contains(strings.ToLower(string(raw)), "timepix3") {
		return Confirmed, "timepix3 marker in dashboard body", nil
	}
	return Inconclusive, "dashboard has no connection markers", nil
}

func (s DashboardSource) Describe() string { return "status-endpoint" }

// sectionConnected reports whether any top-level dashboard section (Detector,
// Camera, whatever the firmware calls it) carries a true "connected" field.
func sectionConnected(raw []byte) bool {
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return false
	}
	for _, v := range doc {
		section, ok := v.(map[string]any)
		if !ok {
			continue
		}
		for k, fv := range section {
			if !strings.EqualFold(k, "connected") {
				continue
			}
			if b, ok := fv.(bool); ok && b {
				return true
			}
		}
	}
	return false
}
