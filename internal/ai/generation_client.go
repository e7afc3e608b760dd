package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrGeneration wraps every failure of a generation call.
var ErrGeneration = errors.New("generation failed")

const maxErrorBody = 512

type GenerationConfig struct {
	Endpoint string
	APIKey   string
	Timeout  time.Duration
}

// GenerateRequest mirrors the endpoint's request body.
type GenerateRequest struct {
	Model        string  `json:"model"`
	System       string  `json:"system"`
	Query        string  `json:"query"`
	Temperature  float64 `json:"temperature"`
	LastK        int     `json:"lastk"`
	SessionID    string  `json:"session_id"`
	RAGThreshold float64 `json:"rag_threshold"`
	RAGUsage     bool    `json:"rag_usage"`
	RAGK         int     `json:"rag_k"`
}

type GenerateResult struct {
	Response   string          `json:"response"`
	RAGContext json.RawMessage `json:"rag_context,omitempty"`
}

type GenerationClient struct {
	httpClient *http.Client
	endpoint   string
	apiKey     string
}

func NewGenerationClient(cfg GenerationConfig) *GenerationClient {
	return &GenerationClient{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		endpoint:   strings.TrimSpace(cfg.Endpoint),
		apiKey:     cfg.APIKey,
	}
}

// Generate performs exactly one POST to the configured endpoint.
func (c *GenerationClient) Generate(ctx context.Context, in GenerateRequest) (*GenerateResult, error) {
	if c.endpoint == "" {
		return nil, fmt.Errorf("%w: endpoint is not configured", ErrGeneration)
	}

	bodyBytes, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal request failed: %v", ErrGeneration, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: build request failed: %v", ErrGeneration, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("request_type", "call")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: request failed: %v", ErrGeneration, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response failed: %v", ErrGeneration, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: received response code %d: %s", ErrGeneration, resp.StatusCode, truncate(raw, maxErrorBody))
	}

	var parsed struct {
		Result     string          `json:"result"`
		RAGContext json.RawMessage `json:"rag_context"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("%w: parse response json failed: %v", ErrGeneration, err)
	}

	out := &GenerateResult{Response: parsed.Result}
	if len(parsed.RAGContext) > 0 && string(parsed.RAGContext) != "null" {
		out.RAGContext = parsed.RAGContext
	}
	return out, nil
}

func truncate(raw []byte, n int) string {
	s := strings.TrimSpace(string(raw))
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
