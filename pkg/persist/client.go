// Package persist uploads finished masks to the training data service.
package persist

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

	"github.com/menta2k/geomask/internal/metrics"
	"github.com/menta2k/geomask/pkg/processing"
	"github.com/menta2k/geomask/pkg/types"
)

// Client posts mask/original pairs to <base>/save_mask
type Client struct {
	url    *url.URL
	client *http.Client
}

// NewClient creates a persistence client. A nil httpClient uses http.DefaultClient.
func NewClient(baseURL string, httpClient *http.Client) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid url %q: scheme and host are required", baseURL)
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &Client{url: u, client: httpClient}, nil
}

// SaveMask uploads mask and, when present, the original image it was drawn on
func (c *Client) SaveMask(ctx context.Context, mask, original []byte, opts types.SaveOptions) (*types.SaveResult, error) {
	if len(mask) == 0 {
		return nil, fmt.Errorf("mask is empty")
	}

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	if err := addFile(writer, "mask", "mask"+extFor(mask), mask); err != nil {
		return nil, err
	}
	if len(original) > 0 {
		if err := addFile(writer, "original", "original"+extFor(original), original); err != nil {
			return nil, err
		}
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close multipart writer: %w", err)
	}

	endpoint := c.url.JoinPath("/save_mask")
	q := endpoint.Query()
	if opts.Model != "" {
		q.Set("model", opts.Model)
	}
	if opts.Type != "" {
		q.Set("type", opts.Type)
	}
	endpoint.RawQuery = q.Encode()

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	request.Header.Set("Content-Type", writer.FormDataContentType())

	response, err := c.client.Do(request)
	if err != nil {
		metrics.CollaboratorRequests.WithLabelValues("persist", "error").Inc()
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer response.Body.Close()
	metrics.CollaboratorRequests.WithLabelValues("persist", strconv.Itoa(response.StatusCode)).Inc()

	if response.StatusCode != http.StatusOK {
		resp, _ := io.ReadAll(io.LimitReader(response.Body, 512))
		return nil, fmt.Errorf("server response status code: %d, body: %s", response.StatusCode, resp)
	}

	var result types.SaveResult
	if err = json.NewDecoder(response.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response body: %w", err)
	}
	return &result, nil
}

func addFile(w *multipart.Writer, field, filename string, data []byte) error {
	part, err := w.CreateFormFile(field, filename)
	if err != nil {
		return fmt.Errorf("create form: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return fmt.Errorf("write %s: %w", field, err)
	}
	return nil
}

func extFor(data []byte) string {
	switch processing.SniffMIME(data) {
	case processing.MIMEJPEG:
		return ".jpg"
	case processing.MIMEWebP:
		return ".webp"
	default:
		return ".png"
	}
}
