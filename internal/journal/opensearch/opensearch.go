// Package opensearch ships supervisor events to an OpenSearch or
// Elasticsearch index so a facility can search its detector history.
package opensearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/loykin/servisr/internal/journal"
)

// Sink indexes events as documents under <baseURL>/<index>/_doc.
type Sink struct {
	client *http.Client
	docURL string
}

// New builds a sink for the given server and index. Nothing is contacted
// until the first Send.
func New(baseURL, index string) *Sink {
	return &Sink{
		client: &http.Client{Timeout: 5 * time.Second},
		docURL: strings.TrimRight(baseURL, "/") + "/" + index + "/_doc",
	}
}

// Send indexes one event. Any 2xx answer counts as accepted.
func (s *Sink) Send(ctx context.Context, e journal.Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.docURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("opensearch sink status %d", resp.StatusCode)
	}
	return nil
}
