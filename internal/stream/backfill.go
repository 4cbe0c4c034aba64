package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// DefaultBackfillTimeout is the client-side budget for the one-shot history
// fetch. On timeout the engine starts with an empty view instead of failing.
const DefaultBackfillTimeout = 5 * time.Second

// BackfillClient fetches the one-shot event history page
// (GET /v1/events?limit=N) used to seed the view before live streaming.
type BackfillClient struct {
	baseURL string
	client  *http.Client
	timeout time.Duration
}

// NewBackfillClient creates a backfill client. timeout of 0 selects the
// 5-second default.
func NewBackfillClient(baseURL string, client *http.Client, timeout time.Duration) *BackfillClient {
	if client == nil {
		client = http.DefaultClient
	}
	if timeout <= 0 {
		timeout = DefaultBackfillTimeout
	}
	return &BackfillClient{baseURL: strings.TrimRight(baseURL, "/"), client: client, timeout: timeout}
}

type backfillResponse struct {
	Events []json.RawMessage `json:"events"`
}

// Fetch returns the raw backfill items in page order. Any failure —
// timeout, connection refused, non-2xx, undecodable body — returns an error
// alongside a nil slice; the caller logs it and proceeds with an empty view.
func (c *BackfillClient) Fetch(ctx context.Context, limit int) ([]json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	url := c.baseURL + "/v1/events?limit=" + strconv.Itoa(limit)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("stream: create backfill request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("stream: backfill fetch: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("stream: backfill fetch: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("stream: read backfill body: %w", err)
	}

	var page backfillResponse
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, fmt.Errorf("stream: decode backfill page: %w", err)
	}
	return page.Events, nil
}
