package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"

	"github.com/miniblog/gateway/internal/config"
	"github.com/miniblog/gateway/internal/observability"
)

// Server runs the gateway's HTTP listeners: the main API listener and a
// separate metrics listener.
type Server struct {
	gateway *Gateway
	logger  observability.Logger
	metrics *observability.Metrics

	api        *http.Server
	metricsSrv *http.Server
}

// NewServer creates the listeners from server configuration.
func NewServer(cfg *config.ServerConfig, g *Gateway, metrics *observability.Metrics, logger observability.Logger) *Server {
	s := &Server{
		gateway: g,
		logger:  logger,
		metrics: metrics,
		api: &http.Server{
			Addr:         net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
			Handler:      g.Handler(),
			ReadTimeout:  cfg.ReadTimeout.Duration(),
			WriteTimeout: cfg.WriteTimeout.Duration(),
			IdleTimeout:  cfg.IdleTimeout.Duration(),
		},
	}

	if metrics != nil && cfg.MetricsPort > 0 {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		s.metricsSrv = &http.Server{
			Addr:    net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.MetricsPort)),
			Handler: mux,
		}
	}

	return s
}

// Start runs both listeners and blocks until the context is canceled or a
// listener fails.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 2)

	go func() {
		s.logger.Info("gateway listening", observability.String("addr", s.api.Addr))
		if err := s.api.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("api listener: %w", err)
		}
	}()

	if s.metricsSrv != nil {
		go func() {
			s.logger.Info("metrics listening", observability.String("addr", s.metricsSrv.Addr))
			if err := s.metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("metrics listener: %w", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// Shutdown drains in-flight requests within the given context's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	var firstErr error
	if err := s.api.Shutdown(ctx); err != nil {
		firstErr = fmt.Errorf("api shutdown: %w", err)
	}
	if s.metricsSrv != nil {
		if err := s.metricsSrv.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("metrics shutdown: %w", err)
		}
	}
	return firstErr
}
