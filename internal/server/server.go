// Package server exposes the extraction pipeline over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"wasmkey/internal/extract"
	"wasmkey/internal/history"
	"wasmkey/internal/monitoring"
)

// Extractor is the part of *extract.Extractor the server needs.
type Extractor interface {
	Extract(ctx context.Context, input string) (*extract.Result, error)
	Token(ctx context.Context, input string) (*extract.Result, []byte, error)
}

// Options configures a Server.
type Options struct {
	Extractor Extractor
	Logger    *zap.Logger
	Metrics   *monitoring.Metrics // nil disables /metrics
	History   *history.Store      // nil disables recording

	BaseURL         string
	AllowedPrefixes []string // empty allows any URL
	CORSOrigins     []string
	RateLimit       RateLimitConfig
	Version         string
	Debug           bool
}

// Server wraps the router and its dependencies.
type Server struct {
	opts   Options
	log    *zap.Logger
	router *gin.Engine
}

// New builds the router.
func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if !opts.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{opts: opts, log: opts.Logger}
	router := gin.New()
	router.HandleMethodNotAllowed = true
	router.NoRoute(func(c *gin.Context) {
		abortError(c, http.StatusNotFound, "not found", "No route for "+c.Request.Method+" "+c.Request.URL.Path)
	})
	router.NoMethod(func(c *gin.Context) {
		abortError(c, http.StatusMethodNotAllowed, "method not allowed", c.Request.Method+" is not supported on "+c.Request.URL.Path)
	})

	router.Use(gin.Recovery())
	router.Use(RequestID())
	router.Use(Logger(s.log))
	if opts.Metrics != nil {
		router.Use(monitoring.Middleware(opts.Metrics))
	}
	router.Use(CORS(opts.CORSOrigins))

	router.GET("/", s.index)
	router.GET("/health", s.health)
	if opts.Metrics != nil {
		router.GET("/metrics", monitoring.Handler(opts.Metrics))
	}

	// Extraction routes are the only ones rate limited.
	limited := router.Group("/")
	if opts.RateLimit.Enabled {
		limited.Use(RateLimit(opts.RateLimit, opts.Metrics))
	}
	limited.GET("/extractor", s.extractor)
	limited.POST("/extract", s.extractPost)
	limited.GET("/extract", s.extractNotAllowed)
	limited.GET("/api/extract", s.extractGet)
	limited.POST("/api/extract", s.extractPost)
	limited.GET("/api/token", s.token)

	s.router = router
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.log.Info("Starting HTTP server", zap.String("addr", addr))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.log.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	<-errc
	return nil
}
