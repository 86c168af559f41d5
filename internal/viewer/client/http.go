package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/glyphcast/glyphcast/internal/history"
	"github.com/glyphcast/glyphcast/internal/procstats"
	"github.com/glyphcast/glyphcast/internal/ws"
)

// HTTPClient makes REST calls to the server's /api endpoints.
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

// NewHTTPClient creates a client targeting the given base URL (e.g. "http://127.0.0.1:8765").
func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// GetStatus fetches /api/status.
func (c *HTTPClient) GetStatus(ctx context.Context) (*ws.StatusPayload, error) {
	var s ws.StatusPayload
	if err := c.get(ctx, "/api/status", &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// GetStats fetches /api/stats.
func (c *HTTPClient) GetStats(ctx context.Context) (*procstats.Stats, error) {
	var s procstats.Stats
	if err := c.get(ctx, "/api/stats", &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// GetHistory fetches up to limit entries from /api/history.
func (c *HTTPClient) GetHistory(ctx context.Context, limit int) ([]history.Entry, error) {
	var out []history.Entry
	path := "/api/history"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	if err := c.get(ctx, path, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *HTTPClient) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("GET %s: %d %s", path, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// HTTPBase converts ws://host:port/ws to http://host:port.
func HTTPBase(wsURL string) string {
	u, err := url.Parse(wsURL)
	if err != nil || u.Host == "" {
		return "http://127.0.0.1:8765"
	}
	scheme := "http"
	if u.Scheme == "wss" || u.Scheme == "https" {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s", scheme, u.Host)
}
