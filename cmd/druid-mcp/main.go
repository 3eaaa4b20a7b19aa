// Command druid-mcp serves an Apache Druid cluster over the Model Context
// Protocol, on stdio for a single client or over HTTP with server-sent
// events for many.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/druidops/druid-mcp-go/druid"
	"github.com/druidops/druid-mcp-go/internal/config"
	"github.com/druidops/druid-mcp-go/internal/logctx"
	"github.com/druidops/druid-mcp-go/server"
	"github.com/druidops/druid-mcp-go/stdio"
	"github.com/druidops/druid-mcp-go/streaminghttp"
)

const shutdownGrace = 10 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "druid-mcp: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	// stdout carries the protocol in stdio mode, so logs always go to stderr.
	log := slog.New(logctx.Handler{Handler: slog.NewJSONHandler(os.Stderr, nil)})

	opts := []druid.Option{
		druid.WithTimeout(cfg.RequestTimeout()),
		druid.WithLogger(log),
	}
	if cfg.DruidUsername != "" {
		opts = append(opts, druid.WithBasicAuth(cfg.DruidUsername, cfg.DruidPassword))
	}
	client, err := druid.New(cfg.DruidURL, opts...)
	if err != nil {
		return fmt.Errorf("build druid client: %w", err)
	}

	dispatch := server.New(client, server.WithLogger(log))

	switch cfg.TransportKind {
	case config.TransportSSE:
		return serveSSE(ctx, log, dispatch, cfg.Port)
	default:
		return serveStdio(ctx, log, dispatch)
	}
}

func serveStdio(ctx context.Context, log *slog.Logger, dispatch *server.Handler) error {
	log.InfoContext(ctx, "transport.start", slog.String("transport", "stdio"))
	h := stdio.NewHandler(dispatch, stdio.WithLogger(log))
	return h.Serve(ctx)
}

func serveSSE(ctx context.Context, log *slog.Logger, dispatch *server.Handler, port int) error {
	h := streaminghttp.NewHandler(dispatch, streaminghttp.WithLogger(log))
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: h,
	}

	errc := make(chan error, 1)
	go func() {
		log.InfoContext(ctx, "transport.start",
			slog.String("transport", "sse"),
			slog.String("addr", srv.Addr),
		)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	// Close live sessions first so their stream handlers unwind, then let the
	// listener drain within the grace period.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	_ = h.Shutdown(shutdownCtx)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	log.InfoContext(ctx, "transport.stop", slog.String("transport", "sse"))
	return nil
}
