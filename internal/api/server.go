// Package api serves the read model over HTTP: workflow sessions, the trade
// ledger, and the post-trade day report. It is a thin view over the files
// the workflows persist; the API never drives the trading system.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"intradesk/internal/ledger"
	"intradesk/internal/workflow"
)

// Server runs the read-model HTTP API.
type Server struct {
	server *http.Server
	logger *slog.Logger
}

// NewServer creates the API server on the given port.
func NewServer(port int, sessions *workflow.Store, l *ledger.Ledger, logger *slog.Logger) *Server {
	mux := newMux(NewHandlers(sessions, l, logger))

	return &Server{
		server: &http.Server{
			Addr:         fmt.Sprintf(":%d", port),
			Handler:      mux,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger.With("component", "api-server"),
	}
}

func newMux(handlers *Handlers) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", handlers.HandleHealth)
	mux.HandleFunc("GET /sessions/{workflow}/{date}", handlers.HandleSession)
	mux.HandleFunc("GET /trades", handlers.HandleTrades)
	mux.HandleFunc("GET /day-report", handlers.HandleDayReport)
	return mux
}

// Start blocks serving requests until Stop is called.
func (s *Server) Start() error {
	s.logger.Info("read-model server starting", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Stop gracefully stops the server.
func (s *Server) Stop() error {
	s.logger.Info("stopping read-model server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}
