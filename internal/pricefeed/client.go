// Package pricefeed fetches model prices from a LiteLLM-format price list
// and keeps a copy on disk.
package pricefeed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	requestTimeout = 20 * time.Second
	maxBodySize    = 16 << 20 // 16 MB
)

var (
	// ErrNotModified indicates the server copy matches the cached ETag.
	ErrNotModified = errors.New("pricefeed: not modified")
	// ErrRateLimited indicates the feed host is throttling us.
	ErrRateLimited = errors.New("pricefeed: rate limited")
	// ErrTooLarge indicates the document exceeded the size limit.
	ErrTooLarge = errors.New("pricefeed: document too large")
)

// Client fetches the raw price document.
type Client struct {
	url  string
	http *http.Client
}

// NewClient creates a client for the given feed URL. A nil httpClient
// uses http.DefaultClient.
func NewClient(url string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{url: url, http: httpClient}
}

// URL returns the feed location.
func (c *Client) URL() string { return c.url }

// Fetch downloads the document. When etag is non-empty it is sent as
// If-None-Match, and ErrNotModified is returned if the server agrees.
func (c *Client) Fetch(ctx context.Context, etag string) (body []byte, newETag string, err error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("pricefeed: creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "ccmeter/1.0")
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("pricefeed: request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusNotModified:
		return nil, etag, ErrNotModified
	case http.StatusTooManyRequests:
		return nil, "", ErrRateLimited
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, "", fmt.Errorf("pricefeed: unexpected status %d", resp.StatusCode)
	}

	body, err = io.ReadAll(io.LimitReader(resp.Body, maxBodySize+1))
	if err != nil {
		return nil, "", fmt.Errorf("pricefeed: reading response: %w", err)
	}
	if len(body) > maxBodySize {
		return nil, "", ErrTooLarge
	}
	return body, resp.Header.Get("ETag"), nil
}
