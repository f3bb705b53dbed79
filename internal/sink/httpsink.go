package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shortontech/crawlwatch/internal/event"
)

// HTTPSink POSTs each event as JSON to an external tracking endpoint.
type HTTPSink struct {
	endpoint string
	token    string
	timeout  time.Duration
	client   *http.Client
	ctx      context.Context
}

// NewHTTPSinkFromEnv reads TRACKING_ENDPOINT, TRACKING_TOKEN and TRACKING_TIMEOUT_MS
func NewHTTPSinkFromEnv() *HTTPSink {
	s := NewHTTPSink(getEnvOr("TRACKING_ENDPOINT", ""))
	s.token = getEnvOr("TRACKING_TOKEN", "")
	s.timeout = time.Duration(getIntEnv("TRACKING_TIMEOUT_MS", 5000)) * time.Millisecond
	return s
}

func NewHTTPSink(endpoint string) *HTTPSink {
	return &HTTPSink{endpoint: endpoint, timeout: 5 * time.Second}
}

func (s *HTTPSink) Name() string { return "http" }

func (s *HTTPSink) Start(ctx context.Context) error {
	if s.endpoint == "" {
		return fmt.Errorf("http sink requires TRACKING_ENDPOINT")
	}
	if s.timeout <= 0 {
		s.timeout = 5 * time.Second
	}
	s.client = &http.Client{Timeout: s.timeout}
	s.ctx = ctx
	return nil
}

func (s *HTTPSink) Enqueue(e event.Event) error {
	if s.client == nil {
		return fmt.Errorf("http sink not started")
	}
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to serialize event: %w", err)
	}

	ctx := s.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Event-ID", e.EventID)
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to post event: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("tracking endpoint returned %s", resp.Status)
	}
	return nil
}

func (s *HTTPSink) Close() error {
	if s.client != nil {
		s.client.CloseIdleConnections()
	}
	return nil
}
