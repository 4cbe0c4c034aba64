package nagare

import (
	"context"
	"time"
)

// Transport opens live connections to the event producer. When provided via
// WithTransport it replaces the built-in SSE/WebSocket transports — useful
// for tests and for embedding the engine against a non-HTTP feed. The
// engine wraps it in an adapter for internal use.
type Transport interface {
	// Name identifies the transport in logs.
	Name() string

	// Open establishes one connection. A successful return means CONNECTED;
	// the engine calls it again after each disconnect, per the reconnect
	// policy.
	Open(ctx context.Context) (Conn, error)
}

// Conn is one live connection. Recv blocks until the next raw event payload
// (one JSON object, backfill item shape) arrives or the connection dies.
// Close must be safe to call concurrently with a blocked Recv.
type Conn interface {
	Recv() ([]byte, error)
	Close() error
}

// ReconnectPolicy decides how long to wait before reconnect attempt n
// (1-based). Reset is called after every successful connect. When provided
// via WithReconnectPolicy it replaces the default jittered exponential
// backoff.
type ReconnectPolicy interface {
	NextDelay(attempt int) time.Duration
	Reset()
}
