package reasoning

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPSink is a ModelSink that POSTs a Request to a JSON HTTP endpoint
// and decodes the response body straight into the result map the
// orchestrator hands back to its caller. It exists because the
// teacher's own model client talks over a generated gRPC stub (the
// teacher's pkg/llm, not part of this repository) that this module cannot regenerate without protoc; a plain
// HTTP/JSON sink is the closest equivalent a caller can point at any
// real model provider's REST endpoint without code generation.
type HTTPSink struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

// NewHTTPSink builds a sink that calls endpoint directly; apiKey, if
// non-empty, is sent as a bearer token.
func NewHTTPSink(endpoint, apiKey string) *HTTPSink {
	return &HTTPSink{
		endpoint: endpoint,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: 180 * time.Second},
	}
}

type httpSinkPayload struct {
	RequestID string         `json:"request_id"`
	TaskType  TaskType       `json:"task_type"`
	Input     map[string]any `json:"input"`
	Context   map[string]any `json:"context"`
	OrgID     string         `json:"org_id"`
}

// Call implements ModelSink.
func (s *HTTPSink) Call(ctx context.Context, req Request) (map[string]any, error) {
	body, err := json.Marshal(httpSinkPayload{
		RequestID: req.ID,
		TaskType:  req.TaskType,
		Input:     req.Input,
		Context:   req.Context,
		OrgID:     req.OrgID,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding reasoning request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building reasoning request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("calling model endpoint: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading model response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("model endpoint returned %s: %s", resp.Status, raw)
	}

	var result map[string]any
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decoding model response: %w", err)
	}
	return result, nil
}
