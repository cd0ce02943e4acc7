// Package mockapi serves a synthetic loan application source for local runs
// and integration tests of the pipeline.
package mockapi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/ethpandaops/loanpulse/pkg/config"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

// Server is the mock source HTTP server.
type Server interface {
	// Run serves until ctx is cancelled, then shuts down gracefully.
	Run(ctx context.Context) error

	// Handler returns the routed handler without listening.
	Handler() http.Handler
}

// Compile-time interface check.
var _ Server = (*server)(nil)

type server struct {
	log     logrus.FieldLogger
	cfg     *config.MockAPIConfig
	now     func() time.Time
	newID   func() string
	limiter *rateLimiterMap
}

// Option configures a Server.
type Option func(*server)

// WithClock overrides the server's current time.
func WithClock(now func() time.Time) Option {
	return func(s *server) { s.now = now }
}

// WithIDGenerator overrides how application and applicant ids are minted.
func WithIDGenerator(newID func() string) Option {
	return func(s *server) { s.newID = newID }
}

// NewServer creates a mock source server.
func NewServer(log logrus.FieldLogger, cfg *config.MockAPIConfig, opts ...Option) Server {
	s := &server{
		log:   log.WithField("component", "mock-api"),
		cfg:   cfg,
		now:   time.Now,
		newID: newUUID,
	}

	for _, opt := range opts {
		opt(s)
	}

	if cfg.RateLimit.Enabled {
		s.limiter = newRateLimiterMap(cfg.RateLimit.RequestsPerMinute)
	}

	return s
}

func (s *server) Handler() http.Handler {
	return s.buildRouter()
}

func (s *server) Run(ctx context.Context) error {
	// Bind synchronously so port conflicts fail fast.
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.Listen, err)
	}

	httpServer := &http.Server{
		Handler:           s.buildRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.log.WithField("listen", ln.Addr().String()).Info("Mock API server starting")

		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serving: %w", err)
		}

		return nil
	})

	g.Go(func() error {
		<-gctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down: %w", err)
		}

		s.log.Info("Mock API server stopped")

		return nil
	})

	if s.limiter != nil {
		g.Go(func() error {
			s.limiter.cleanup(gctx)

			return nil
		})
	}

	return g.Wait()
}
