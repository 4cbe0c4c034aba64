// Package main implements nagared, a demo event producer for local
// development against the nagare engine. It serves the backfill, SSE,
// WebSocket, provider, and command endpoints the engine consumes, fed by a
// synthetic run generator.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

func main() {
	var (
		port     = flag.Int("port", 8080, "listen port")
		interval = flag.Duration("interval", 750*time.Millisecond, "delay between synthetic events")
	)
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	producer := newProducer(logger)
	go producer.generate(ctx, *interval)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	e.GET("/v1/events", producer.handleBackfill)
	e.GET("/v1/stream/events", producer.handleSSE)
	e.GET("/v1/stream/ws", producer.handleWS)
	e.GET("/v1/providers/health", producer.handleProviderHealth)
	e.GET("/v1/providers/history", producer.handleProviderHistory)
	e.POST("/v1/commands/:verb", producer.handleCommand)

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer shutdownCancel()
		_ = e.Shutdown(shutdownCtx)
	}()

	addr := fmt.Sprintf(":%d", *port)
	logger.Info("nagared listening", "addr", addr)
	if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
		logger.Error("nagared: server failed", "error", err)
		os.Exit(1)
	}
}
