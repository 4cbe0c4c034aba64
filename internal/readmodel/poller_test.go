package readmodel

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPollerRefreshesBothModels(t *testing.T) {
	var healthy atomic.Bool
	healthy.Store(true)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/providers/health":
			if !healthy.Load() {
				http.Error(w, "down", http.StatusBadGateway)
				return
			}
			_, _ = w.Write([]byte(`{"providers": [{"name": "openai", "healthy": true, "latency_ms": 120.5}]}`))
		case "/v1/providers/history":
			assert.Equal(t, "5", r.URL.Query().Get("limit"))
			_, _ = w.Write([]byte(`{"calls": [{"provider": "openai", "model": "gpt-x", "status": "ok"}]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	p := NewPoller(srv.URL, srv.Client(), slog.Default(), time.Hour, 5)
	p.refresh(context.Background())

	health := p.Health()
	require.Len(t, health.Providers, 1)
	assert.Equal(t, "openai", health.Providers[0].Name)
	assert.True(t, health.Providers[0].Healthy)
	assert.False(t, health.FetchedAt.IsZero())

	history := p.History()
	require.Len(t, history.Calls, 1)
	assert.Equal(t, "gpt-x", history.Calls[0].Model)

	// The backend degrades: the stale health snapshot survives while the
	// still-working history endpoint keeps updating.
	healthy.Store(false)
	p.refresh(context.Background())

	assert.Len(t, p.Health().Providers, 1, "failed poll keeps the previous snapshot")
	assert.Len(t, p.History().Calls, 1)
}

func TestPollerRunStopsOnCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	p := NewPoller(srv.URL, srv.Client(), slog.Default(), 10*time.Millisecond, 0)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("poller did not stop on cancel")
	}
}

func TestPollerSnapshotsAreCopies(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/providers/health" {
			_, _ = w.Write([]byte(`{"providers": [{"name": "a", "healthy": true}]}`))
			return
		}
		_, _ = w.Write([]byte(`{"calls": []}`))
	}))
	defer srv.Close()

	p := NewPoller(srv.URL, srv.Client(), slog.Default(), time.Hour, 0)
	p.refresh(context.Background())

	snap := p.Health()
	snap.Providers[0].Name = "mutated"
	assert.Equal(t, "a", p.Health().Providers[0].Name)
}
