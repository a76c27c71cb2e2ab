// Package httpapi exposes ingestion, completion and call status over HTTP,
// and streams lifecycle events over WebSocket and Server-Sent Events.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/switchyard/internal/events"
	"github.com/zulandar/switchyard/internal/logging"
	"github.com/zulandar/switchyard/internal/sequencer"
	"gorm.io/gorm"
)

// ServiceName is reported by the health endpoint.
const ServiceName = "Switchyard Call Ingestion Service"

// Ingester stores packets.
type Ingester interface {
	Ingest(ctx context.Context, in sequencer.PacketInput) (*sequencer.Result, error)
}

// Completer accepts completion signals.
type Completer interface {
	Complete(ctx context.Context, callID string, totalPackets int) error
}

// RouterOpts holds the collaborators the handlers need.
type RouterOpts struct {
	DB          *gorm.DB
	Ingester    Ingester
	Completer   Completer
	Hub         *events.Hub
	Version     string
	EventBuffer int
	Heartbeat   time.Duration // SSE and WebSocket keepalive interval
	Logger      *slog.Logger
}

// StartOpts holds configuration for the HTTP server.
type StartOpts struct {
	RouterOpts
	Port int
	Out  io.Writer
	// ShutdownTimeout bounds graceful shutdown. Defaults to 10s.
	ShutdownTimeout time.Duration
}

// NewRouter builds the gin engine with every route registered.
func NewRouter(opts RouterOpts) (*gin.Engine, error) {
	router, _, err := newRouter(opts)
	return router, err
}

func newRouter(opts RouterOpts) (*gin.Engine, *handlers, error) {
	if opts.DB == nil {
		return nil, nil, fmt.Errorf("httpapi: db is required")
	}
	if opts.Ingester == nil {
		return nil, nil, fmt.Errorf("httpapi: ingester is required")
	}
	if opts.Completer == nil {
		return nil, nil, fmt.Errorf("httpapi: completer is required")
	}
	if opts.Hub == nil {
		return nil, nil, fmt.Errorf("httpapi: hub is required")
	}
	if opts.Version == "" {
		opts.Version = "dev"
	}
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = 15 * time.Second
	}

	h := &handlers{
		db:        opts.DB,
		ingester:  opts.Ingester,
		completer: opts.Completer,
		hub:       opts.Hub,
		version:   opts.Version,
		buffer:    opts.EventBuffer,
		heartbeat: opts.Heartbeat,
		log:       logging.OrDefault(opts.Logger),
		closing:   make(chan struct{}),
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestID(), accessLog(h.log))
	registerRoutes(router, h)
	return router, h, nil
}

// Start launches the HTTP server. It blocks until ctx is cancelled, then
// shuts down gracefully.
func Start(ctx context.Context, opts StartOpts) error {
	if opts.Port <= 0 {
		opts.Port = 8000
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 10 * time.Second
	}

	router, h, err := newRouter(opts.RouterOpts)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", opts.Port),
		Handler: router,
	}
	// Shutdown does not wait for hijacked WebSocket connections or
	// long-lived SSE streams; tell them to stop.
	srv.RegisterOnShutdown(h.close)

	shutdownErr := make(chan error, 1)
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), opts.ShutdownTimeout)
		defer cancel()
		shutdownErr <- srv.Shutdown(sctx)
	}()

	if opts.Out != nil {
		fmt.Fprintf(opts.Out, "Switchyard listening on http://localhost:%d\n", opts.Port)
	}

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("httpapi: %w", err)
	}
	if err := <-shutdownErr; err != nil {
		return fmt.Errorf("httpapi: shutdown: %w", err)
	}
	return nil
}
