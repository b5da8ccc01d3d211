package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/andresmarpz/sandcastle-sub001/internal/event"
)

const (
	defaultHTTPTimeout = 10 * time.Second
	maxErrorBodyBytes  = 1 << 20
)

type WebhookOption func(*WebhookSink)

// WebhookSink POSTs each envelope event as JSON to a configured URL.
type WebhookSink struct {
	name       string
	URL        string
	httpClient *http.Client
	logger     *log.Logger
	filter     func(event.Type) bool
}

func NewWebhookSink(name string, url string, logger *log.Logger, opts ...WebhookOption) *WebhookSink {
	sink := &WebhookSink{
		name:       strings.TrimSpace(name),
		URL:        strings.TrimSpace(url),
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
		logger:     logger,
	}
	if sink.name == "" {
		sink.name = "webhook"
	}
	for _, opt := range opts {
		if opt != nil {
			opt(sink)
		}
	}
	return sink
}

func WithHTTPClient(client *http.Client) WebhookOption {
	return func(s *WebhookSink) {
		if client != nil {
			s.httpClient = client
		}
	}
}

func WithEventFilter(filter func(event.Type) bool) WebhookOption {
	return func(s *WebhookSink) {
		s.filter = filter
	}
}

func (s *WebhookSink) Name() string {
	return s.name
}

func (s *WebhookSink) Handle(ctx context.Context, evt event.Event) error {
	if s.filter != nil && !s.filter(evt.Type) {
		return nil
	}

	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
		return nil
	}

	limited := io.LimitReader(resp.Body, maxErrorBodyBytes+1)
	errorBody, err := io.ReadAll(limited)
	if err != nil {
		return fmt.Errorf("webhook status=%d read body: %w", resp.StatusCode, err)
	}
	truncated := ""
	if len(errorBody) > maxErrorBodyBytes {
		errorBody = errorBody[:maxErrorBodyBytes]
		truncated = " (truncated)"
	}
	return fmt.Errorf("webhook status=%d body=%q%s", resp.StatusCode, string(errorBody), truncated)
}
