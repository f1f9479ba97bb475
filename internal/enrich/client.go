package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/turtacn/cathedral-bridge/pkg/consts"
	"github.com/turtacn/cathedral-bridge/pkg/errors"
	"github.com/turtacn/cathedral-bridge/pkg/logger"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// maxBody bounds how much of the enrichment response is read.
const maxBody = 1 << 20

// Client fetches an optional JSON document that is attached to config
// snapshots. It never fails a snapshot: every problem degrades to "no data".
type Client struct {
	url     string
	timeout time.Duration
	http    *http.Client
	log     logger.Logger
}

// New returns a Client for url. An empty url disables enrichment.
func New(url string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = consts.DefaultEnrichTimeout
	}
	return &Client{
		url:     url,
		timeout: timeout,
		http: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		log: logger.Log.With("component", "enrich"),
	}
}

// Enabled reports whether a URL is configured.
func (c *Client) Enabled() bool {
	return c != nil && c.url != ""
}

// Fetch returns the enrichment document, or false when disabled, failed or
// timed out.
func (c *Client) Fetch(ctx context.Context) (json.RawMessage, bool) {
	if !c.Enabled() {
		return nil, false
	}
	data, err := c.fetch(ctx)
	if err != nil {
		c.log.Debug("Enrichment skipped", "url", c.url, "err", err)
		return nil, false
	}
	return data, true
}

func (c *Client) fetch(ctx context.Context) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, errors.New(errors.ErrCodeEnrichmentFailed, "Fetch", "build request", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.New(errors.ErrCodeEnrichmentFailed, "Fetch", "request", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxBody))
		return nil, errors.New(errors.ErrCodeEnrichmentFailed, "Fetch", fmt.Sprintf("status %d", resp.StatusCode), nil)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, errors.New(errors.ErrCodeEnrichmentFailed, "Fetch", "read body", err)
	}
	if !json.Valid(body) {
		return nil, errors.New(errors.ErrCodeEnrichmentFailed, "Fetch", "response is not JSON", nil)
	}
	return json.RawMessage(body), nil
}

// Personal.AI order the ending
