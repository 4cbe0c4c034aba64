// Package stream owns the live transport: connecting, receiving raw event
// payloads, reconnecting with backoff, and the outbound command channel.
package stream

import (
	"context"
	"time"
)

// Transport opens live connections to the event producer. Implementations:
// SSE (the default) and WebSocket.
type Transport interface {
	// Name identifies the transport in logs ("sse", "websocket").
	Name() string

	// Open establishes one connection. It returns once the connection is
	// usable; the supervisor treats a successful Open as CONNECTED.
	Open(ctx context.Context) (Conn, error)
}

// Conn is one live connection. Recv blocks until the next raw event payload
// arrives or the connection dies.
type Conn interface {
	Recv() ([]byte, error)
	Close() error
}

// ReconnectPolicy decides how long to wait before reconnect attempt n
// (1-based). Reset is called after every successful connect.
type ReconnectPolicy interface {
	NextDelay(attempt int) time.Duration
	Reset()
}
