package opensearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/loykin/hylord/internal/history"
)

// Sink indexes events into OpenSearch over its REST API. Each event is
// written to {baseURL}/{index}/_doc/{event id}, so a resend replaces the
// document instead of duplicating it.
type Sink struct {
	client  *http.Client
	baseURL string
	index   string
}

func New(baseURL, index string) *Sink {
	c := &http.Client{Timeout: 5 * time.Second}
	return &Sink{client: c, baseURL: strings.TrimRight(baseURL, "/"), index: index}
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	if e.ID == "" {
		return fmt.Errorf("opensearch sink: event %s has no id", e.Type)
	}
	b, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("opensearch sink: encode event: %w", err)
	}
	u := fmt.Sprintf("%s/%s/_doc/%s", s.baseURL, url.PathEscape(s.index), url.PathEscape(e.ID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, u, bytes.NewReader(b))
	if err != nil {
		return fmt.Errorf("opensearch sink: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		if len(bytes.TrimSpace(msg)) == 0 {
			return fmt.Errorf("opensearch sink status %d", resp.StatusCode)
		}
		return fmt.Errorf("opensearch sink status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}
	return nil
}

func (s *Sink) BaseURL() string { return s.baseURL }
func (s *Sink) Index() string   { return s.index }
