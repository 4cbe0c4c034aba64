package stream

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"
)

// WSTransport consumes the same envelope JSON over a WebSocket feed
// (GET /v1/stream/ws). Producers behind proxies that buffer SSE responses
// expose this as an alternative; the supervisor treats both identically.
type WSTransport struct {
	baseURL string
	dialer  *websocket.Dialer
}

// NewWSTransport creates a WebSocket live transport.
func NewWSTransport(baseURL string, dialer *websocket.Dialer) *WSTransport {
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	return &WSTransport{baseURL: strings.TrimRight(baseURL, "/"), dialer: dialer}
}

// Name implements Transport.
func (t *WSTransport) Name() string { return "websocket" }

// Open implements Transport.
func (t *WSTransport) Open(ctx context.Context) (Conn, error) {
	u, err := url.Parse(t.baseURL + "/v1/stream/ws")
	if err != nil {
		return nil, fmt.Errorf("stream: parse url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}

	conn, resp, err := t.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("stream: dial: %w", err)
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return &wsConn{conn: conn}, nil
}

type wsConn struct {
	conn *websocket.Conn
}

// Recv returns the next text or binary message. Control frames are handled
// by gorilla internally.
func (c *wsConn) Recv() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("stream: read: %w", err)
	}
	return data, nil
}

func (c *wsConn) Close() error {
	return c.conn.Close()
}
