package nagare

import (
	"log/slog"
	"net/http"
)

// Option configures an Engine.
type Option func(*resolvedOptions)

// resolvedOptions holds all extension points after applying defaults.
// Unexported — callers use the With* functions.
type resolvedOptions struct {
	baseURL         string
	configFile      string
	logger          *slog.Logger
	httpClient      *http.Client
	transport       Transport
	reconnectPolicy ReconnectPolicy
	backfillLimit   int
	dedupCapacity   int
	eventLogCap     int
	runCap          int
	runCapSet       bool
	version         string
}

// WithBaseURL overrides the producer endpoint from config (NAGARE_BASE_URL
// env var).
func WithBaseURL(url string) Option {
	return func(o *resolvedOptions) { o.baseURL = url }
}

// WithConfigFile overlays a TOML config file on top of environment
// configuration, as if NAGARE_CONFIG were set.
func WithConfigFile(path string) Option {
	return func(o *resolvedOptions) { o.configFile = path }
}

// WithLogger sets the structured logger for the Engine.
// If not set, the default slog logger is used.
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithHTTPClient sets the HTTP client used for backfill, commands, and
// read-model polls. The live SSE stream uses a derived client with no
// overall timeout.
func WithHTTPClient(client *http.Client) Option {
	return func(o *resolvedOptions) { o.httpClient = client }
}

// WithTransport replaces the built-in live transport (SSE or WebSocket per
// config) with a custom implementation.
func WithTransport(t Transport) Option {
	return func(o *resolvedOptions) { o.transport = t }
}

// WithReconnectPolicy replaces the default jittered exponential backoff.
// Use FixedReconnectDelay for the original dashboard's constant 5s timer.
func WithReconnectPolicy(p ReconnectPolicy) Option {
	return func(o *resolvedOptions) { o.reconnectPolicy = p }
}

// WithBackfillLimit overrides the backfill page size (NAGARE_BACKFILL_LIMIT
// env var).
func WithBackfillLimit(n int) Option {
	return func(o *resolvedOptions) { o.backfillLimit = n }
}

// WithDedupCapacity overrides the dedup recency set size
// (NAGARE_DEDUP_CAPACITY env var).
func WithDedupCapacity(n int) Option {
	return func(o *resolvedOptions) { o.dedupCapacity = n }
}

// WithEventLogCap overrides the per-run raw event log cap
// (NAGARE_EVENT_LOG_CAP env var).
func WithEventLogCap(n int) Option {
	return func(o *resolvedOptions) { o.eventLogCap = n }
}

// WithRunCap bounds the number of retained runs; oldest terminal runs are
// evicted first. 0 means unbounded (the default).
func WithRunCap(n int) Option {
	return func(o *resolvedOptions) {
		o.runCap = n
		o.runCapSet = true
	}
}

// WithVersion sets the version string reported in logs.
func WithVersion(version string) Option {
	return func(o *resolvedOptions) { o.version = version }
}
