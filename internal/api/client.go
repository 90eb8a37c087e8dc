package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/banshee-data/trace.report/internal/db"
	"github.com/banshee-data/trace.report/internal/httputil"
)

// Client submits recordings to a running report server.
type Client struct {
	baseURL string
	http    httputil.HTTPClient
}

// NewClient creates a Client for the server at baseURL, e.g.
// "http://localhost:8080".
func NewClient(baseURL string, c httputil.HTTPClient) *Client {
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: c}
}

// Validate uploads a recording and returns the server's report.
func (c *Client) Validate(ctx context.Context, source string, data []byte) (*db.Report, error) {
	u := c.baseURL + "/api/validate?" + url.Values{"source": {source}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upload %s: %w", source, err)
	}
	defer resp.Body.Close()
	if err := httputil.CheckResponse(resp); err != nil {
		return nil, fmt.Errorf("upload %s: %w", source, err)
	}

	var report db.Report
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		return nil, fmt.Errorf("decode report for %s: %w", source, err)
	}
	return &report, nil
}
