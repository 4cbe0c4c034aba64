package stream

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// SSETransport consumes the producer's Server-Sent Events feed
// (GET /v1/stream/events, text/event-stream). Each "message" event carries
// one JSON object with the same shape as a backfill item.
type SSETransport struct {
	baseURL string
	client  *http.Client
}

// NewSSETransport creates the default live transport. client must have no
// overall timeout set — the stream is long-lived.
func NewSSETransport(baseURL string, client *http.Client) *SSETransport {
	if client == nil {
		client = http.DefaultClient
	}
	return &SSETransport{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

// Name implements Transport.
func (t *SSETransport) Name() string { return "sse" }

// Open implements Transport. The returned Conn yields one raw JSON payload
// per SSE message event.
func (t *SSETransport) Open(ctx context.Context) (Conn, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.baseURL+"/v1/stream/events", nil)
	if err != nil {
		return nil, fmt.Errorf("stream: create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("stream: connect: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("stream: connect: unexpected status %d", resp.StatusCode)
	}

	scanner := bufio.NewScanner(resp.Body)
	// Tool outputs can exceed bufio's 64KiB default token limit; a line that
	// long would otherwise kill the connection with ErrTooLong.
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	return &sseConn{body: resp.Body, scanner: scanner}, nil
}

// sseConn parses the text/event-stream framing: "data:" lines accumulate
// until a blank line terminates the event. Event names other than "message"
// (and comments) are skipped.
type sseConn struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
}

func (c *sseConn) Recv() ([]byte, error) {
	var data []string
	event := "message"
	for c.scanner.Scan() {
		line := c.scanner.Text()
		switch {
		case line == "":
			if len(data) > 0 && event == "message" {
				return []byte(strings.Join(data, "\n")), nil
			}
			data = data[:0]
			event = "message"
		case strings.HasPrefix(line, ":"):
			// Comment / keep-alive.
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	if err := c.scanner.Err(); err != nil {
		return nil, fmt.Errorf("stream: read: %w", err)
	}
	return nil, io.EOF
}

func (c *sseConn) Close() error {
	return c.body.Close()
}
