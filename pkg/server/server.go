// Package server exposes the gateway over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/Sternrassler/learnforge/pkg/gateway"
	"github.com/Sternrassler/learnforge/pkg/metrics"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// Options configures a Server.
type Options struct {
	// Listen is the TCP address to serve on (e.g., ":8080")
	Listen string

	// AdminToken guards the invalidation endpoint; empty disables it
	AdminToken string

	// ShutdownTimeout bounds graceful shutdown
	ShutdownTimeout time.Duration

	// TrustedProxies lists the IPs or CIDRs whose X-Forwarded-For and
	// X-Real-IP headers are believed. Empty trusts no proxy, so anonymous
	// callers are identified by the connection's remote address.
	TrustedProxies []string
}

// ValidateTrustedProxies reports the first entry that is neither an IP nor
// a CIDR.
func ValidateTrustedProxies(proxies []string) error {
	for _, p := range proxies {
		if strings.Contains(p, "/") {
			if _, _, err := net.ParseCIDR(p); err != nil {
				return fmt.Errorf("trusted proxy %q: %w", p, err)
			}
			continue
		}
		if net.ParseIP(p) == nil {
			return fmt.Errorf("trusted proxy %q is not an IP or CIDR", p)
		}
	}
	return nil
}

// Server is the HTTP surface of a gateway.Service.
type Server struct {
	opts   Options
	svc    *gateway.Service
	engine *gin.Engine
	logger zerolog.Logger
}

// New creates a server and registers its routes.
func New(opts Options, svc *gateway.Service, logger zerolog.Logger) *Server {
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 15 * time.Second
	}

	s := &Server{
		opts:   opts,
		svc:    svc,
		engine: gin.New(),
		logger: logger,
	}

	// gin trusts every peer by default, which would let anonymous callers
	// pick their own identity through X-Forwarded-For.
	if err := s.engine.SetTrustedProxies(opts.TrustedProxies); err != nil {
		logger.Error().Err(err).Strs("trusted_proxies", opts.TrustedProxies).
			Msg("Invalid trusted proxies, trusting none")
		_ = s.engine.SetTrustedProxies(nil)
	}

	s.engine.Use(gin.Recovery(), RequestLogger(logger))

	s.engine.GET("/health", s.health)
	s.engine.GET("/metrics", gin.WrapH(metrics.Handler()))

	v1 := s.engine.Group("/v1")
	{
		v1.POST("/generate", s.generate)
		v1.GET("/telemetry", s.telemetrySnapshot)

		admin := v1.Group("/cache")
		admin.Use(AdminAuth(opts.AdminToken))
		admin.POST("/invalidate", s.invalidate)
	}

	return s
}

// Handler returns the HTTP handler serving all routes.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.opts.Listen)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.opts.Listen, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	s.logger.Info().Str("addr", ln.Addr().String()).Msg("Server listening")

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info().Msg("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
