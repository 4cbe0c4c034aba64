package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

// backfillCap bounds the in-memory history ring served by /v1/events.
const backfillCap = 500

// producer generates a synthetic run/step event stream and fans it out to
// SSE and WebSocket subscribers, keeping a bounded history for backfill.
// The fan-out mirrors a broker: buffered subscriber channels, drop-on-full
// so one slow client never blocks the rest.
type producer struct {
	logger *slog.Logger

	mu          sync.RWMutex
	history     []json.RawMessage
	subscribers map[chan []byte]struct{}

	upgrader websocket.Upgrader
}

func newProducer(logger *slog.Logger) *producer {
	return &producer{
		logger:      logger,
		subscribers: make(map[chan []byte]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// emit records one event in history and broadcasts it live.
func (p *producer) emit(event map[string]any) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	p.mu.Lock()
	p.history = append(p.history, data)
	if over := len(p.history) - backfillCap; over > 0 {
		p.history = append(p.history[:0:0], p.history[over:]...)
	}
	for ch := range p.subscribers {
		select {
		case ch <- data:
		default:
			// Subscriber buffer full — drop this event for them.
		}
	}
	p.mu.Unlock()
}

func (p *producer) subscribe() chan []byte {
	ch := make(chan []byte, 64)
	p.mu.Lock()
	p.subscribers[ch] = struct{}{}
	p.mu.Unlock()
	return ch
}

func (p *producer) unsubscribe(ch chan []byte) {
	p.mu.Lock()
	delete(p.subscribers, ch)
	p.mu.Unlock()
	close(ch)
}

// generate runs the synthetic workload until ctx is cancelled: it starts a
// run, walks a few steps through the status lifecycle, and occasionally
// fails one.
func (p *producer) generate(ctx context.Context, interval time.Duration) {
	runTypes := []string{"review", "resolve", "build", "rag_ingest", "rag_eval"}
	tools := []string{"grep", "linter", "retriever", "compiler", "reporter"}
	models := []string{"sonnet", "haiku"}

	for i := 0; ; i++ {
		runID := "run-" + uuid.NewString()[:8]
		runType := runTypes[i%len(runTypes)]

		p.emit(statusEvent(runID, "", "queued", runType, "run accepted"))
		if !sleep(ctx, interval) {
			return
		}
		p.emit(statusEvent(runID, "", "running", runType, "run started"))

		failed := false
		steps := 2 + rand.Intn(3)
		for s := 1; s <= steps && !failed; s++ {
			stepID := "step-" + strconv.Itoa(s)
			p.emit(statusEvent(runID, stepID, "running", runType, ""))
			if !sleep(ctx, interval) {
				return
			}

			p.emit(event(runID, "tool_call", map[string]any{
				"step":  stepID,
				"tool":  tools[rand.Intn(len(tools))],
				"model": models[rand.Intn(len(models))],
				"input": map[string]any{"attempt": s},
			}, "invoking tool"))
			if !sleep(ctx, interval) {
				return
			}

			if rand.Intn(12) == 0 {
				p.emit(event(runID, "error", map[string]any{
					"step":  stepID,
					"error": "synthetic failure",
				}, "tool call failed"))
				failed = true
				break
			}
			p.emit(statusEvent(runID, stepID, "completed", runType, ""))
		}

		if !failed {
			p.emit(statusEvent(runID, "", "completed", runType, "run finished"))
		}
		if !sleep(ctx, interval) {
			return
		}
	}
}

func statusEvent(runID, stepID, status, runType, message string) map[string]any {
	data := map[string]any{"status": status, "run_type": runType}
	if stepID != "" {
		data["step"] = stepID
	}
	return event(runID, "status", data, message)
}

func event(runID, eventType string, data map[string]any, message string) map[string]any {
	return map[string]any{
		"version":    1,
		"timestamp":  float64(time.Now().UnixNano()) / float64(time.Second),
		"run_id":     runID,
		"event_type": eventType,
		"data":       data,
		"message":    message,
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

// handleBackfill serves GET /v1/events?limit=N.
func (p *producer) handleBackfill(c echo.Context) error {
	limit := 100
	if v := c.QueryParam("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	p.mu.RLock()
	events := p.history
	if len(events) > limit {
		events = events[len(events)-limit:]
	}
	out := make([]json.RawMessage, len(events))
	copy(out, events)
	p.mu.RUnlock()

	return c.JSON(http.StatusOK, map[string]any{"events": out})
}

// handleSSE serves GET /v1/stream/events as text/event-stream.
func (p *producer) handleSSE(c echo.Context) error {
	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set("Cache-Control", "no-cache")
	resp.Header().Set("Connection", "keep-alive")
	resp.WriteHeader(http.StatusOK)
	resp.Flush()

	ch := p.subscribe()
	defer p.unsubscribe(ch)

	for {
		select {
		case <-c.Request().Context().Done():
			return nil
		case data := <-ch:
			if _, err := fmt.Fprintf(resp, "event: message\ndata: %s\n\n", data); err != nil {
				return nil
			}
			resp.Flush()
		}
	}
}

// handleWS serves GET /v1/stream/ws with the same payloads as the SSE feed.
func (p *producer) handleWS(c echo.Context) error {
	ws, err := p.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = ws.Close() }()

	ch := p.subscribe()
	defer p.unsubscribe(ch)

	for {
		select {
		case <-c.Request().Context().Done():
			return nil
		case data := <-ch:
			if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return nil
			}
		}
	}
}

func (p *producer) handleProviderHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"providers": []map[string]any{
			{"name": "anthropic", "healthy": true, "latency_ms": 120.5},
			{"name": "openai", "healthy": rand.Intn(10) > 0, "latency_ms": 98.2},
		},
	})
}

func (p *producer) handleProviderHistory(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"calls": []map[string]any{
			{"provider": "anthropic", "model": "sonnet", "timestamp": time.Now().Add(-time.Minute).Format(time.RFC3339), "duration_ms": 840, "status": "ok"},
			{"provider": "openai", "model": "gpt", "timestamp": time.Now().Add(-2 * time.Minute).Format(time.RFC3339), "duration_ms": 1210, "status": "ok"},
		},
	})
}

func (p *producer) handleCommand(c echo.Context) error {
	verb := c.Param("verb")
	var body map[string]any
	_ = c.Bind(&body)
	p.logger.Info("nagared: command received", "verb", verb, "body", body)
	return c.JSON(http.StatusAccepted, map[string]any{"accepted": true})
}
