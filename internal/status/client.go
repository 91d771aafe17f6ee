package status

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/theirongolddev/ccmeter/internal/model"
)

const maxBodySize = 4 << 20

// ErrUnavailable indicates no status service answered at the address.
var ErrUnavailable = errors.New("status: service unavailable")

// Client reads a running status service.
type Client struct {
	base string
	http *http.Client
}

// NewClient returns a client for the service at addr (host:port or URL).
func NewClient(addr string) *Client {
	base := strings.TrimRight(addr, "/")
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	return &Client{base: base, http: &http.Client{Timeout: 2 * time.Second}}
}

// Status fetches /v1/status.
func (c *Client) Status(ctx context.Context) (Status, error) {
	var st Status
	err := c.get(ctx, "/v1/status", &st)
	return st, err
}

// Calls fetches the recent finalized calls, oldest first.
func (c *Client) Calls(ctx context.Context) ([]model.APICall, error) {
	var calls []model.APICall
	err := c.get(ctx, "/v1/calls", &calls)
	return calls, err
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return fmt.Errorf("status: creating request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status: %s returned HTTP %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodySize)).Decode(out); err != nil {
		return fmt.Errorf("status: decoding %s: %w", path, err)
	}
	return nil
}
