package transport

import (
	"context"
	"errors"
	"net/http"

	"moldscope/internal/config"
	"moldscope/internal/logger"
)

// Server runs the HTTP API and satisfies shutdown.Component
type Server struct {
	srv    *http.Server
	logger logger.Logger
}

func NewServer(cfg *config.Config, handler http.Handler, log logger.Logger) *Server {
	return &Server{
		srv: &http.Server{
			Addr:         cfg.ServerAddress(),
			Handler:      handler,
			ReadTimeout:  cfg.Server.RequestTimeout,
			WriteTimeout: cfg.Server.RequestTimeout,
		},
		logger: log,
	}
}

func (s *Server) Name() string {
	return "http_server"
}

func (s *Server) Addr() string {
	return s.srv.Addr
}

// ListenAndServe blocks until the server stops. A graceful Shutdown is not
// reported as an error.
func (s *Server) ListenAndServe() error {
	s.logger.Info("HTTP", "starting server", map[string]interface{}{
		"address": s.srv.Addr,
		"timeout": s.srv.ReadTimeout.String(),
	})

	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
