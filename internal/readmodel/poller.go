// Package readmodel maintains the independent read models consumed next to
// the event-reconciliation core: provider health and call history. These are
// bounded caches refreshed on a fixed interval; stale data is acceptable and
// a failed poll keeps the previous snapshot.
package readmodel

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// DefaultPollInterval matches the dashboard's 10-second refresh.
const DefaultPollInterval = 10 * time.Second

// ProviderStatus is one provider's health entry.
type ProviderStatus struct {
	Name      string  `json:"name"`
	Healthy   bool    `json:"healthy"`
	LatencyMs float64 `json:"latency_ms,omitempty"`
	Detail    string  `json:"detail,omitempty"`
}

// CallRecord is one provider call history entry.
type CallRecord struct {
	Provider   string    `json:"provider"`
	Model      string    `json:"model,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	DurationMs int64     `json:"duration_ms,omitempty"`
	Status     string    `json:"status,omitempty"`
}

// HealthSnapshot is the cached provider health read model.
type HealthSnapshot struct {
	Providers []ProviderStatus `json:"providers"`
	FetchedAt time.Time        `json:"fetched_at"`
}

// HistorySnapshot is the cached call history read model.
type HistorySnapshot struct {
	Calls     []CallRecord `json:"calls"`
	FetchedAt time.Time    `json:"fetched_at"`
}

// Poller refreshes both read models on a shared ticker.
type Poller struct {
	baseURL      string
	client       *http.Client
	logger       *slog.Logger
	interval     time.Duration
	historyLimit int

	mu      sync.RWMutex
	health  HealthSnapshot
	history HistorySnapshot
}

// NewPoller creates a poller. interval of 0 selects the 10-second default;
// historyLimit of 0 selects 50.
func NewPoller(baseURL string, client *http.Client, logger *slog.Logger, interval time.Duration, historyLimit int) *Poller {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if historyLimit <= 0 {
		historyLimit = 50
	}
	return &Poller{
		baseURL:      strings.TrimRight(baseURL, "/"),
		client:       client,
		logger:       logger,
		interval:     interval,
		historyLimit: historyLimit,
	}
}

// Run polls until ctx is cancelled. One refresh happens immediately so
// consumers are not blind for a full interval after startup. Always returns
// nil so it slots into an errgroup.
func (p *Poller) Run(ctx context.Context) error {
	p.refresh(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.refresh(ctx)
		}
	}
}

// Health returns the cached provider health snapshot.
func (p *Poller) Health() HealthSnapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := p.health
	out.Providers = append([]ProviderStatus(nil), p.health.Providers...)
	return out
}

// History returns the cached call history snapshot.
func (p *Poller) History() HistorySnapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := p.history
	out.Calls = append([]CallRecord(nil), p.history.Calls...)
	return out
}

func (p *Poller) refresh(ctx context.Context) {
	now := time.Now()

	var health struct {
		Providers []ProviderStatus `json:"providers"`
	}
	if err := p.getJSON(ctx, "/v1/providers/health", &health); err != nil {
		p.logger.Debug("readmodel: health poll failed, keeping stale snapshot", "error", err)
	} else {
		p.mu.Lock()
		p.health = HealthSnapshot{Providers: health.Providers, FetchedAt: now}
		p.mu.Unlock()
	}

	var history struct {
		Calls []CallRecord `json:"calls"`
	}
	path := "/v1/providers/history?limit=" + strconv.Itoa(p.historyLimit)
	if err := p.getJSON(ctx, path, &history); err != nil {
		p.logger.Debug("readmodel: history poll failed, keeping stale snapshot", "error", err)
	} else {
		p.mu.Lock()
		p.history = HistorySnapshot{Calls: history.Calls, FetchedAt: now}
		p.mu.Unlock()
	}
}

func (p *Poller) getJSON(ctx context.Context, path string, dest any) error {
	ctx, cancel := context.WithTimeout(ctx, p.interval)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("readmodel: create request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("readmodel: %s: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("readmodel: %s: unexpected status %d", path, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("readmodel: read body: %w", err)
	}
	if err := json.Unmarshal(body, dest); err != nil {
		return fmt.Errorf("readmodel: decode %s: %w", path, err)
	}
	return nil
}
