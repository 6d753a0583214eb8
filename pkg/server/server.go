// Package server exposes the detector over HTTP for collaborators that
// prefer a long-lived process to CLI invocations. The engine itself is
// batch-oriented and single-threaded, so requests are serialized through one
// mutex; the facade adds no concurrency semantics of its own.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	root "github.com/soundprediction/go-behaviorgraph"
	"github.com/soundprediction/go-behaviorgraph/pkg/config"
)

// Server wraps a Detector behind a gin router.
type Server struct {
	cfg      *config.Config
	detector *root.Detector
	engine   *gin.Engine
	httpSrv  *http.Server

	// mu serializes model calls; see the package comment.
	mu sync.Mutex
}

// New creates a server for the given configuration and detector.
func New(cfg *config.Config, detector *root.Detector) *Server {
	if cfg.Server.Mode != "" {
		gin.SetMode(cfg.Server.Mode)
	}
	return &Server{
		cfg:      cfg,
		detector: detector,
		engine:   gin.New(),
	}
}

// Setup registers middleware and routes.
func (s *Server) Setup() {
	s.engine.Use(gin.Recovery())

	s.engine.GET("/health", s.handleHealth)
	s.engine.GET("/ready", s.handleReady)

	api := s.engine.Group("/api/v1")
	api.POST("/train", s.handleTrain)
	api.POST("/infer", s.handleInfer)
	api.POST("/embed", s.handleEmbed)
}

// Start blocks serving HTTP until Stop is called or the listener fails.
func (s *Server) Start() error {
	s.httpSrv = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port),
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// Handler exposes the router, used by tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}
