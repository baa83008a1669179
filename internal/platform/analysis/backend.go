// Package analysis converts free-text symptom narratives into structured
// clinical signals. A generative backend is used when one is reachable;
// every operation carries a deterministic rule-based fallback so intake
// keeps working when no model is available or the model misbehaves.
package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Backend produces free-text completions from prompts. Implementations are
// treated as unreliable: they may be absent, time out, or return garbage,
// and callers must degrade gracefully.
type Backend interface {
	Complete(ctx context.Context, prompt string, maxTokens int) (string, error)
}

// HTTPBackendConfig configures a client for a locally hosted completion
// server exposing an OpenAI-compatible /v1/completions endpoint
// (llama.cpp, vLLM, LocalAI and similar all speak this shape).
type HTTPBackendConfig struct {
	BaseURL   string
	Model     string
	Timeout   time.Duration
	MaxTokens int
}

// HTTPBackend is a Backend over a local completion server.
type HTTPBackend struct {
	baseURL   string
	model     string
	maxTokens int
	client    *http.Client
}

// NewHTTPBackend creates a backend client. BaseURL must not be empty.
func NewHTTPBackend(cfg HTTPBackendConfig) (*HTTPBackend, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("analysis backend: base URL is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 256
	}
	return &HTTPBackend{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		model:     cfg.Model,
		maxTokens: maxTokens,
		client:    &http.Client{Timeout: timeout},
	}, nil
}

type completionRequest struct {
	Model       string  `json:"model,omitempty"`
	Prompt      string  `json:"prompt"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature"`
}

type completionResponse struct {
	Choices []struct {
		Text string `json:"text"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Complete sends a single completion round trip. Context deadlines apply on
// top of the client timeout.
func (b *HTTPBackend) Complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	if maxTokens <= 0 {
		maxTokens = b.maxTokens
	}
	body, err := json.Marshal(completionRequest{
		Model:       b.model,
		Prompt:      prompt,
		MaxTokens:   maxTokens,
		Temperature: 0.2,
	})
	if err != nil {
		return "", fmt.Errorf("analysis backend: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/v1/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("analysis backend: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("analysis backend: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("analysis backend: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("analysis backend: status %d: %s", resp.StatusCode, truncateForError(raw))
	}

	var parsed completionResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("analysis backend: decode response: %w", err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("analysis backend: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("analysis backend: empty completion")
	}
	return parsed.Choices[0].Text, nil
}

// Ping checks that the completion server is reachable. Used once at startup
// to pick the engine mode; the mode never changes afterwards.
func (b *HTTPBackend) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+"/v1/models", nil)
	if err != nil {
		return fmt.Errorf("analysis backend: build ping: %w", err)
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("analysis backend: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))
	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("analysis backend: status %d", resp.StatusCode)
	}
	return nil
}

func truncateForError(raw []byte) string {
	s := string(raw)
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return strings.TrimSpace(s)
}
