// Package inference is an HTTP client for the segmentation service.
package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/menta2k/geomask/internal/metrics"
	"github.com/menta2k/geomask/pkg/types"
)

// Config holds configuration for the segmentation client
type Config struct {
	URL     string
	Path    string
	Model   string
	Type    string
	Timeout time.Duration
}

// DefaultConfig targets the parking segmentation endpoint of a local service.
// Segmentation models can take minutes on CPU, hence the long timeout.
func DefaultConfig() Config {
	return Config{
		URL:     "http://localhost:8000",
		Path:    "/parking/segment",
		Timeout: 5 * time.Minute,
	}
}

// Client posts images to the segmentation service
type Client struct {
	url    *url.URL
	config Config
	client *http.Client
}

// NewClient creates a client. A nil httpClient gets one with config.Timeout.
func NewClient(config Config, httpClient *http.Client) (*Client, error) {
	u, err := url.Parse(config.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid url %q: scheme and host are required", config.URL)
	}
	if config.Path == "" {
		config.Path = DefaultConfig().Path
	}

	if httpClient == nil {
		httpClient = &http.Client{Timeout: config.Timeout}
	}

	return &Client{url: u, config: config, client: httpClient}, nil
}

// errorBody is the failure shape returned by the service
type errorBody struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Detail  string `json:"detail"`
}

// Segment uploads image as the "file" form field and decodes the polygons
func (c *Client) Segment(ctx context.Context, image []byte, filename string) (*types.SegmentationResult, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("create form: %w", err)
	}
	if _, err = part.Write(image); err != nil {
		return nil, fmt.Errorf("write form file: %w", err)
	}
	if err = writer.Close(); err != nil {
		return nil, fmt.Errorf("close multipart writer: %w", err)
	}

	endpoint := c.url.JoinPath(c.config.Path)
	if c.config.Model != "" {
		q := endpoint.Query()
		q.Set("model", c.config.Model)
		if c.config.Type != "" {
			q.Set("type", c.config.Type)
		}
		endpoint.RawQuery = q.Encode()
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	request.Header.Set("Content-Type", writer.FormDataContentType())

	response, err := c.client.Do(request)
	if err != nil {
		metrics.CollaboratorRequests.WithLabelValues("inference", "error").Inc()
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer response.Body.Close()
	metrics.CollaboratorRequests.WithLabelValues("inference", strconv.Itoa(response.StatusCode)).Inc()

	raw, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	if response.StatusCode < 200 || response.StatusCode > 299 {
		var eb errorBody
		if json.Unmarshal(raw, &eb) == nil {
			if msg := firstNonEmpty(eb.Error, eb.Detail); msg != "" {
				return nil, fmt.Errorf("segmentation failed (%d): %s", response.StatusCode, msg)
			}
		}
		return nil, fmt.Errorf("server response status code: %d, body: %s", response.StatusCode, truncate(raw, 256))
	}

	var result types.SegmentationResult
	if err = json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decode response body: %w", err)
	}
	if !result.Success {
		return nil, fmt.Errorf("segmentation failed: %s", firstNonEmpty(result.Error, "service reported failure"))
	}

	return &result, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
