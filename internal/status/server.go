// Package status implements the optional operator-facing status server
// (spec expansion, not part of spec.md's core ten components): a
// read-only HTTP+WebSocket view of the reconciliation engine's
// correspondence-map state, plus an optional webhook notifier fired on
// donor disconnect. Grounded on the teacher's internal/api package,
// stripped of anything dashboard/market-specific.
package status

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Server runs the status HTTP/WebSocket endpoints.
type Server struct {
	hub      *Hub
	handlers *handlers
	server   *http.Server
	logger   *slog.Logger
}

// NewServer wires a Provider into a status HTTP server listening on port.
func NewServer(port int, allowedOrigins []string, provider Provider, logger *slog.Logger) *Server {
	hub := newHub(logger)
	h := newHandlers(provider, allowedOrigins, hub, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", h.handleHealth)
	mux.HandleFunc("/api/snapshot", h.handleSnapshot)
	mux.HandleFunc("/ws", h.handleWebSocket)

	return &Server{
		hub:      hub,
		handlers: h,
		server: &http.Server{
			Addr:         fmt.Sprintf(":%d", port),
			Handler:      mux,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger.With("component", "status-server"),
	}
}

// Start runs the hub and blocks serving HTTP until Stop is called.
func (s *Server) Start() error {
	go s.hub.run()
	s.logger.Info("status server starting", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("status server: %w", err)
	}
	return nil
}

// Stop gracefully shuts the HTTP server down.
func (s *Server) Stop() error {
	s.logger.Info("stopping status server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// Broadcast pushes a fresh snapshot to every connected /ws client. The
// engine calls this once per reconciliation cycle when the status server
// is enabled.
func (s *Server) Broadcast(snap Snapshot) {
	s.hub.BroadcastSnapshot(snap)
}
