// Package server exposes the orchestrator over HTTP: session creation, chat
// turns, streamed chat turns (server-sent events) and a health probe.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/hupe1980/travelmesh/core"
	"github.com/hupe1980/travelmesh/logging"
	"github.com/hupe1980/travelmesh/orchestrator"
)

// Chat is the conversational backend served over HTTP. orchestrator.Router
// implements it.
type Chat interface {
	Handle(ctx context.Context, userID, text string) (orchestrator.OutgoingMessage, error)
	HandleStream(ctx context.Context, userID, text string) *orchestrator.Stream
	CreateSession(ctx context.Context, userID string) (*core.Session, error)
}

var _ Chat = (*orchestrator.Router)(nil)

// Options configure a Server.
type Options struct {
	Addr            string
	ShutdownTimeout time.Duration
	Logger          logging.Logger
}

// Server is the HTTP chat endpoint.
type Server struct {
	chat   Chat
	opts   Options
	logger logging.Logger
	router *gin.Engine
}

// New creates a Server with routes registered.
func New(chat Chat, optFns ...func(o *Options)) *Server {
	opts := Options{Addr: ":8080", ShutdownTimeout: 10 * time.Second}
	for _, fn := range optFns {
		fn(&opts)
	}

	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		chat:   chat,
		opts:   opts,
		logger: logging.OrNoOp(opts.Logger),
		router: gin.New(),
	}
	s.router.Use(gin.Recovery(), s.logRequests())
	s.registerRoutes()
	return s
}

// Handler returns the HTTP handler, e.g. for httptest.
func (s *Server) Handler() http.Handler { return s.router }

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", s.opts.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("server.shutdown.failed", "error", err.Error())
		}
	}()

	s.logger.Info("server.start", "addr", ln.Addr().String())
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: %w", err)
	}
	<-done
	s.logger.Info("server.stop")
	return nil
}

func (s *Server) logRequests() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("http.request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}
