// Package server exposes the watcher over HTTP: one-shot query routes and a
// WebSocket endpoint that streams status events.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/1ureka/mcwatch/internal/a2s"
	"github.com/1ureka/mcwatch/internal/status"
	"github.com/1ureka/mcwatch/internal/util"
)

// Hub is the subscription registry the WebSocket endpoint talks to.
// *hub.Hub satisfies it.
type Hub interface {
	Register(ctx context.Context, q *status.Queue) (status.SubscriberID, error)
	Unregister(ctx context.Context, id status.SubscriberID) error
	Subscribe(ctx context.Context, id status.SubscriberID, topic string) error
	Unsubscribe(ctx context.Context, id status.SubscriberID, topic string) error
}

// InfoSource answers A2S_INFO queries. *a2s.Client satisfies it.
type InfoSource interface {
	Info() (*a2s.Info, error)
}

// Config tunes per-connection behaviour of the WebSocket endpoint.
type Config struct {
	QueueSize    int
	WriteTimeout time.Duration
}

// Server routes HTTP requests. SpaceEngineers may be nil, in which case
// its route answers 404.
type Server struct {
	cfg            Config
	hub            Hub
	minecraft      status.Prober
	spaceEngineers InfoSource
	log            util.Logger
}

// New returns a Server; zero Config fields get defaults.
func New(cfg Config, hub Hub, minecraft status.Prober, spaceEngineers InfoSource) *Server {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 32
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	return &Server{
		cfg:            cfg,
		hub:            hub,
		minecraft:      minecraft,
		spaceEngineers: spaceEngineers,
		log:            util.NewLogger("server"),
	}
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("GET /minecraft/status", s.handleMinecraftStatus)
	mux.HandleFunc("GET /minecraft/ping/{payload}", s.handleMinecraftPing)
	mux.HandleFunc("GET /space-engineers/info", s.handleSpaceEngineersInfo)
	return mux
}

// ListenAndServe listens on addr and serves until ctx is cancelled.
// Open WebSocket connections are closed when ctx ends.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	return s.Serve(ctx, listener)
}

// Serve is ListenAndServe on an existing listener.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.log.Info("listening on %s", listener.Addr())
	if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
