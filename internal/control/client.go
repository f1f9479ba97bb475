package control

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/turtacn/cathedral-bridge/pkg/errors"
)

// Client calls a running daemon's control API.
type Client struct {
	http *http.Client
}

// NewClient returns a Client for the daemon listening on socketPath.
func NewClient(socketPath string) *Client {
	dialer := &net.Dialer{Timeout: 2 * time.Second}
	return &Client{
		http: &http.Client{
			Timeout: 15 * time.Second,
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
					return dialer.DialContext(ctx, "unix", socketPath)
				},
			},
		},
	}
}

func (c *Client) Status(ctx context.Context) (string, error) {
	return c.do(ctx, http.MethodGet, "/status", nil)
}

func (c *Client) Restart(ctx context.Context, p Params) (string, error) {
	return c.do(ctx, http.MethodPost, "/restart", &p)
}

func (c *Client) Connect(ctx context.Context, p Params) (string, error) {
	return c.do(ctx, http.MethodPost, "/connect", &p)
}

func (c *Client) Configure(ctx context.Context, p Params) (string, error) {
	return c.do(ctx, http.MethodPost, "/configure", &p)
}

func (c *Client) do(ctx context.Context, method, path string, p *Params) (string, error) {
	var body io.Reader
	if p != nil {
		data, err := json.Marshal(p)
		if err != nil {
			return "", err
		}
		body = bytes.NewReader(data)
	}

	// The host part is ignored by the unix dialer.
	req, err := http.NewRequestWithContext(ctx, method, "http://cathedral-bridge"+path, body)
	if err != nil {
		return "", err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", errors.New(errors.ErrCodeNotConnected, "control", "daemon not reachable", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return "", err
	}
	msg := strings.TrimSpace(string(data))
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("control %s: %s: %s", path, resp.Status, msg)
	}
	return msg, nil
}

// Personal.AI order the ending
