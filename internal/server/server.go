// Package server exposes the capture engine over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/cboone/termsnap/internal/capture"
	"github.com/cboone/termsnap/internal/metrics"
	"github.com/cboone/termsnap/internal/render"
	"github.com/cboone/termsnap/internal/session"
)

// maxRecords bounds the finished runs kept for lookup. The oldest is
// evicted first.
const maxRecords = 256

// Config contains server configuration.
type Config struct {
	// AllowedBinaries restricts which programs may be run. Empty allows
	// any.
	AllowedBinaries []string
	MaxConcurrent   int
	RateLimit       RateLimitConfig
	CORS            CORSConfig
	// SessionBase is where run directories are created.
	SessionBase string
	Capture     capture.Config
	Scale       int
	// MaxDelay caps the per-input delay a request may ask for. Zero means
	// DefaultMaxDelay.
	MaxDelay time.Duration
}

// DefaultMaxDelay is the largest per-input delay accepted by default.
const DefaultMaxDelay = 10 * time.Second

// DefaultConfig returns a server configuration for local use.
func DefaultConfig() Config {
	return Config{
		MaxConcurrent: 4,
		RateLimit:     DefaultRateLimitConfig(),
		CORS:          DefaultCORSConfig(),
		SessionBase:   session.DefaultBase,
		Capture:       capture.DefaultConfig(),
		Scale:         render.DefaultScale,
		MaxDelay:      DefaultMaxDelay,
	}
}

type record struct {
	result  *capture.Result
	session *session.Session
}

// Server wraps the router and the runs it has served.
type Server struct {
	cfg     Config
	router  *gin.Engine
	logger  *zap.Logger
	metrics *metrics.Metrics
	slots   chan struct{}
	allowed map[string]bool

	mu      sync.RWMutex
	records map[string]*record
	order   []string
}

// New creates a server. A nil metrics collects into a private registry.
func New(cfg Config, logger *zap.Logger, m *metrics.Metrics) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = metrics.New(nil)
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	if cfg.Scale <= 0 {
		cfg.Scale = render.DefaultScale
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = DefaultMaxDelay
	}

	s := &Server{
		cfg:     cfg,
		logger:  logger,
		metrics: m,
		slots:   make(chan struct{}, cfg.MaxConcurrent),
		records: make(map[string]*record),
	}
	if len(cfg.AllowedBinaries) > 0 {
		s.allowed = make(map[string]bool, len(cfg.AllowedBinaries))
		for _, b := range cfg.AllowedBinaries {
			s.allowed[b] = true
		}
	}

	router := gin.New()
	router.Use(Recovery(logger))
	router.Use(RequestLogger(logger))
	router.Use(m.Middleware())
	router.Use(CORS(cfg.CORS))

	router.GET("/healthz", s.health)
	router.GET("/metrics", gin.WrapH(m.Handler()))

	v1 := router.Group("/v1")
	v1.GET("/sizes", s.sizes)
	v1.POST("/runs", RateLimit(cfg.RateLimit), s.createRun)
	v1.GET("/runs/:id", s.getRun)
	v1.GET("/runs/:id/steps/:step/image", s.stepImage)

	s.router = router
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on addr until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}

// Close removes the directories of runs that were not kept.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	for _, rec := range s.records {
		if err := rec.session.Cleanup(); err != nil {
			errs = append(errs, err)
		}
	}
	s.records = make(map[string]*record)
	s.order = nil
	return errors.Join(errs...)
}

func (s *Server) store(rec *record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.result.RunID] = rec
	s.order = append(s.order, rec.result.RunID)
	for len(s.order) > maxRecords {
		oldest := s.order[0]
		s.order = s.order[1:]
		if old, ok := s.records[oldest]; ok {
			if err := old.session.Cleanup(); err != nil {
				s.logger.Warn("failed to remove evicted run", zap.String("run_id", oldest), zap.Error(err))
			}
			delete(s.records, oldest)
		}
	}
}

func (s *Server) lookup(id string) (*record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	return rec, ok
}
