// Package ollama segments images with a local vision model served by Ollama.
package ollama

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/ollama/ollama/api"

	"github.com/menta2k/geomask/internal/metrics"
	"github.com/menta2k/geomask/pkg/types"
)

// DefaultPrompt asks for polygon outlines in pixel coordinates
const DefaultPrompt = `You are a parking lot segmentation tool.

Return JSON only:
{
  "polygons": [
    {"points": [[x, y], [x, y], [x, y]]}
  ]
}

HARD RULES
- One polygon per parking area, road surface or marked parking space.
- Points are pixel coordinates of the image you were given, origin at the top-left corner.
- Every polygon has at least 3 points, listed in drawing order.
- If nothing is found, return {"polygons": []}.
- JSON only. No markdown, no code fences, no comments, no trailing commas.`

// Config holds configuration for the Ollama segmenter
type Config struct {
	URL     string
	Model   string
	Prompt  string
	Timeout time.Duration
}

// Client wraps the Ollama API client
type Client struct {
	client *api.Client
	config Config
}

// NewClient creates a new Ollama client
func NewClient(config Config) (*Client, error) {
	parsedURL, err := url.Parse(config.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if config.Model == "" {
		return nil, fmt.Errorf("a vision model name is required")
	}
	if config.Prompt == "" {
		config.Prompt = DefaultPrompt
	}
	if config.Timeout <= 0 {
		config.Timeout = 5 * time.Minute
	}

	// Drop any path such as /api/chat; the SDK adds its own.
	baseURL := &url.URL{
		Scheme: parsedURL.Scheme,
		Host:   parsedURL.Host,
	}

	return &Client{client: api.NewClient(baseURL, http.DefaultClient), config: config}, nil
}

// Segment asks the model for polygon outlines of image
func (c *Client) Segment(ctx context.Context, image []byte, filename string) (*types.SegmentationResult, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.Timeout)
		defer cancel()
	}

	streamFalse := false
	req := &api.ChatRequest{
		Model: c.config.Model,
		Messages: []api.Message{
			{
				Role:    "user",
				Content: c.config.Prompt,
				Images:  []api.ImageData{api.ImageData(image)},
			},
		},
		Stream:  &streamFalse,
		Options: map[string]any{"temperature": 0.1},
	}

	var responseContent string
	err := c.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		responseContent += resp.Message.Content
		return nil
	})
	if err != nil {
		metrics.CollaboratorRequests.WithLabelValues("ollama", "error").Inc()
		return nil, fmt.Errorf("ollama chat error: %w", err)
	}
	metrics.CollaboratorRequests.WithLabelValues("ollama", "ok").Inc()

	if strings.TrimSpace(responseContent) == "" {
		return nil, fmt.Errorf("empty response from ollama for %s", filename)
	}

	return ParseSegmentation(responseContent)
}

// ParseSegmentation decodes a vision model's JSON answer. Code fences,
// comments and trailing commas are tolerated.
func ParseSegmentation(raw string) (*types.SegmentationResult, error) {
	raw = sanitizeModelJSON(raw)
	if !strings.HasPrefix(raw, "{") {
		return nil, fmt.Errorf("model returned non-JSON response")
	}

	var out struct {
		Polygons []types.Polygon `json:"polygons"`
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("failed to parse model response: %w", err)
	}

	return &types.SegmentationResult{Success: true, Polygons: out.Polygons}, nil
}

var (
	reBlock    = regexp.MustCompile(`(?s)/\*.*?\*/`)
	reLine     = regexp.MustCompile(`(?m)^\s*//.*$`)
	reTrailing = regexp.MustCompile(`,(\s*[}\]])`)
)

// sanitizeModelJSON removes code fences, comments, and trailing commas from JSON response
func sanitizeModelJSON(raw string) string {
	raw = strings.TrimSpace(raw)

	// Strip triple-backtick fences if present
	if strings.HasPrefix(raw, "```") {
		if i := strings.Index(raw, "\n"); i >= 0 {
			raw = raw[i+1:]
		}
		if j := strings.LastIndex(raw, "```"); j >= 0 {
			raw = raw[:j]
		}
	}
	raw = strings.TrimSpace(raw)
	raw = strings.Trim(raw, "`")

	raw = reBlock.ReplaceAllString(raw, "")
	raw = reLine.ReplaceAllString(raw, "")
	raw = reTrailing.ReplaceAllString(raw, "$1")

	// Keep only the outermost {...}
	if start := strings.Index(raw, "{"); start >= 0 {
		if end := strings.LastIndex(raw, "}"); end > start {
			raw = raw[start : end+1]
		}
	}
	return strings.TrimSpace(raw)
}
