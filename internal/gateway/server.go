// Package gateway exposes the daemon's HTTP surface: a single /health
// endpoint reporting the outcome of the last sync cycle.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/stacksync/stacksync/internal/logging"
	"github.com/stacksync/stacksync/internal/syncer"
)

// HealthSource provides the current health snapshot.
type HealthSource interface {
	Snapshot() syncer.Snapshot
}

// Config holds the gateway server configuration.
type Config struct {
	Host string
	Port int
}

// Server is the health HTTP server.
type Server struct {
	config  *Config
	source  HealthSource
	server  *http.Server
	mu      sync.Mutex
	running bool
}

// NewServer creates a gateway server over the given health source.
func NewServer(config *Config, source HealthSource) *Server {
	return &Server{
		config: config,
		source: source,
	}
}

// Start starts the server and blocks until the context is cancelled or the
// listener fails.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server already running")
	}
	s.running = true
	s.mu.Unlock()

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)

	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.server = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	logging.WithComponent("gateway").Info("health server starting", slog.String("addr", addr))

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return s.Shutdown()
	}
}

// Shutdown gracefully shuts down the server, waiting for active
// connections up to a 30-second timeout.
func (s *Server) Shutdown() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	s.running = false
	return s.server.Shutdown(ctx)
}

// handleHealth reports the daemon's health and last cycle summary. The
// HTTP code mirrors the status so load balancers need not parse the body.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	snap := s.source.Snapshot()
	code := http.StatusOK
	if snap.Status == syncer.StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(snap); err != nil {
		logging.WithComponent("gateway").Warn("failed to write health response", "error", err)
	}
}
