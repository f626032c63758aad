// Package llamacpp segments images with a vision model behind an
// OpenAI-compatible chat endpoint, as served by llama.cpp's llama-server.
package llamacpp

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

	"github.com/menta2k/geomask/internal/metrics"
	"github.com/menta2k/geomask/pkg/ollama"
	"github.com/menta2k/geomask/pkg/processing"
	"github.com/menta2k/geomask/pkg/types"
)

const chatPath = "/v1/chat/completions"

// Config holds configuration for the llama.cpp segmenter
type Config struct {
	URL     string
	Model   string
	Prompt  string
	Timeout time.Duration
}

type Client struct {
	baseURL    string
	config     Config
	httpClient *http.Client
}

// OpenAI-compatible message format
type Message struct {
	Role    string      `json:"role"`
	Content interface{} `json:"content"` // string or []ContentPart
}

type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

type ImageURL struct {
	URL string `json:"url"`
}

// OpenAI-compatible chat completion request
type ChatCompletionRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Stream      bool      `json:"stream"`
}

// OpenAI-compatible chat completion response
type ChatCompletionResponse struct {
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
}

type Choice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason,omitempty"`
}

// NewClient creates a client. An empty URL targets a local llama-server.
func NewClient(config Config) (*Client, error) {
	if config.URL == "" {
		config.URL = "http://localhost:8080"
	}
	u, err := url.Parse(config.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid URL %q: scheme and host are required", config.URL)
	}
	if config.Prompt == "" {
		config.Prompt = ollama.DefaultPrompt
	}
	if config.Timeout <= 0 {
		config.Timeout = 5 * time.Minute
	}

	return &Client{
		baseURL:    u.Scheme + "://" + u.Host,
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
	}, nil
}

// Segment asks the model for polygon outlines of image
func (c *Client) Segment(ctx context.Context, image []byte, filename string) (*types.SegmentationResult, error) {
	req := ChatCompletionRequest{
		Model: c.config.Model,
		Messages: []Message{
			{
				Role: "user",
				Content: []ContentPart{
					{Type: "text", Text: c.config.Prompt},
					{Type: "image_url", ImageURL: &ImageURL{URL: processing.DataURL(processing.SniffMIME(image), image)}},
				},
			},
		},
		Temperature: 0.1,
		MaxTokens:   4096,
		Stream:      false,
	}

	respBody, err := c.sendRequest(ctx, chatPath, req)
	if err != nil {
		metrics.CollaboratorRequests.WithLabelValues("llamacpp", "error").Inc()
		return nil, fmt.Errorf("request failed: %w", err)
	}
	metrics.CollaboratorRequests.WithLabelValues("llamacpp", "ok").Inc()

	var resp ChatCompletionResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no choices in response")
	}

	text := messageText(resp.Choices[0].Message)
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("empty response from llama.cpp server for %s", filename)
	}
	return ollama.ParseSegmentation(text)
}

// messageText extracts text content; servers answer with either a string
// or a list of content parts
func messageText(m Message) string {
	switch content := m.Content.(type) {
	case string:
		return content
	case []interface{}:
		for _, item := range content {
			if part, ok := item.(map[string]interface{}); ok {
				if text, ok := part["text"].(string); ok && text != "" {
					return text
				}
			}
		}
	}
	return ""
}

func (c *Client) sendRequest(ctx context.Context, endpoint string, payload interface{}) ([]byte, error) {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("server returned status %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}
