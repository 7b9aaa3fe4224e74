package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/opencode-ai/agentd/internal/logging"
)

// LogSink writes records to the structured log.
type LogSink struct{}

func (LogSink) Name() string { return "log" }

func (LogSink) Handle(_ context.Context, topic string, payload []byte) error {
	logging.Info().Str("topic", topic).RawJSON("record", payload).Msg("telemetry")
	return nil
}

// HTTPSink posts each record once to an HTTP endpoint. Failed posts are not
// retried.
type HTTPSink struct {
	Endpoint string
	Client   *http.Client
}

// NewHTTPSink creates a sink with a 10s request timeout.
func NewHTTPSink(endpoint string) *HTTPSink {
	return &HTTPSink{Endpoint: endpoint, Client: &http.Client{Timeout: 10 * time.Second}}
}

func (s *HTTPSink) Name() string { return "http" }

func (s *HTTPSink) Handle(ctx context.Context, topic string, payload []byte) error {
	body, err := json.Marshal(struct {
		Topic  string          `json:"topic"`
		Record json.RawMessage `json:"record"`
	}{topic, payload})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.Endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("telemetry endpoint returned %s", resp.Status)
	}
	return nil
}
