// Package llm holds the thin HTTP clients for the local Ollama instance
// used by the extractor (text generation) and embedding (vectorization)
// stages.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Config defines Ollama connection settings shared by both clients.
type Config struct {
	Endpoint       string  `yaml:"endpoint"`
	Model          string  `yaml:"model"`
	EmbeddingModel string  `yaml:"embeddingModel"`
	MaxTokens      int     `yaml:"maxTokens"`
	Temperature    float64 `yaml:"temperature"`
}

// generateResponse mirrors the /api/generate reply shape.
type generateResponse struct {
	Response        string `json:"response"`
	Model           string `json:"model"`
	Done            bool   `json:"done"`
	TotalDuration   int64  `json:"total_duration,omitempty"`
	PromptEvalCount int    `json:"prompt_eval_count,omitempty"`
	EvalCount       int    `json:"eval_count,omitempty"`
	Error           string `json:"error,omitempty"`
}

// embedResponse mirrors the /api/embed reply shape.
type embedResponse struct {
	Model      string      `json:"model"`
	Embeddings [][]float64 `json:"embeddings"`
	Error      string      `json:"error,omitempty"`
}

type Client struct {
	endpoint    string
	model       string
	embedModel  string
	maxTokens   int
	temperature float64
	httpClient  *http.Client
}

func NewClient(cfg Config) *Client {
	return &Client{
		endpoint:    cfg.Endpoint,
		model:       cfg.Model,
		embedModel:  cfg.EmbeddingModel,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
}

// Generate sends a single non-streaming completion request and returns the
// model output verbatim.
func (c *Client) Generate(ctx context.Context, system, prompt string) (string, error) {
	reqBody := map[string]interface{}{
		"model":       c.model,
		"system":      system,
		"prompt":      prompt,
		"stream":      false,
		"max_tokens":  c.maxTokens,
		"temperature": c.temperature,
	}

	var result generateResponse
	if err := c.post(ctx, "/api/generate", reqBody, &result); err != nil {
		return "", err
	}
	if result.Error != "" {
		return "", fmt.Errorf("ollama error: %s", result.Error)
	}
	return result.Response, nil
}

// Embed vectorizes a batch of texts in one request. The returned slice is
// index-aligned with the input.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	reqBody := map[string]interface{}{
		"model": c.embedModel,
		"input": texts,
	}

	var result embedResponse
	if err := c.post(ctx, "/api/embed", reqBody, &result); err != nil {
		return nil, err
	}
	if result.Error != "" {
		return nil, fmt.Errorf("ollama error: %s", result.Error)
	}
	if len(result.Embeddings) != len(texts) {
		return nil, fmt.Errorf("embedding count mismatch: got %d for %d inputs", len(result.Embeddings), len(texts))
	}
	return result.Embeddings, nil
}

func (c *Client) post(ctx context.Context, path string, reqBody map[string]interface{}, out interface{}) error {
	reqData, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.endpoint+path, bytes.NewReader(reqData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}
