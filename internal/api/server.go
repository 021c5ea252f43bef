// Package api provides the HTTP control surface every worker/manager process
// exposes: status, start/stop and health endpoints.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/wbfleet/ingestor/internal/api/middleware"
)

// Controller is the control loop a Server starts and stops. Worker.Run and
// manager.Manager.Run both satisfy this by being wrapped in a small adapter
// in cmd/*/main.go.
type Controller interface {
	// Start launches the control loop in the background and returns
	// immediately. Calling Start while already running is a no-op.
	Start()

	// Stop requests the control loop to exit and returns immediately; it
	// does not wait for the loop to actually finish its current tick.
	Stop()
}

// Server represents the HTTP control API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	config     *ServerConfig
	state      *ServiceState
	controller Controller
}

// NewServer creates a new HTTP control server wired to state (read by
// /status and /health) and controller (driven by /start and /stop).
func NewServer(cfg *ServerConfig, state *ServiceState, controller Controller) *Server {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))

	server := &Server{
		logger:     logger,
		config:     cfg,
		state:      state,
		controller: controller,
	}

	mux := http.NewServeMux()
	server.setupRoutes(mux)

	if cfg.SharedSecret != "" {
		logger.Info("shared-secret authentication enabled")
	} else {
		logger.Warn("MICROSERVICE_SECRET_KEY not configured - control API is unauthenticated")
	}

	handler := middleware.Apply(mux,
		middleware.WithCorrelationID(),
		middleware.WithRecovery(logger),
		middleware.WithAuth(cfg.SharedSecret, logger),
		middleware.WithRateLimit(cfg.RateLimiter, logger),
		middleware.WithRequestLogger(logger),
		middleware.WithCORS(cfg.ToCORSConfig()),
	)

	server.httpServer = &http.Server{
		Addr:         cfg.Address(),
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return server
}

// setupRoutes registers the control routes.
func (s *Server) setupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("POST /stop", s.handleStop)
	mux.HandleFunc("POST /start", s.handleStart)
	mux.HandleFunc("GET /health", s.handleHealth)
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.state.Snapshot())
}

func (s *Server) handleStop(w http.ResponseWriter, _ *http.Request) {
	s.controller.Stop()
	s.state.SetRunning(false)
	writeJSON(w, http.StatusOK, map[string]string{"message": "stopping"})
}

func (s *Server) handleStart(w http.ResponseWriter, _ *http.Request) {
	snapshot := s.state.Snapshot()
	if snapshot.Running {
		writeJSON(w, http.StatusOK, map[string]string{"message": "already running"})

		return
	}

	s.controller.Start()
	s.state.SetRunning(true)
	writeJSON(w, http.StatusOK, map[string]string{"message": "started"})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	snapshot := s.state.Snapshot()
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": snapshot.Version,
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// Start starts the HTTP server and blocks until shutdown.
// It handles graceful shutdown on SIGINT and SIGTERM signals.
func (s *Server) Start() error {
	if err := s.config.Validate(); err != nil {
		return fmt.Errorf("invalid server configuration: %w", err)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("starting control API server",
			slog.String("address", s.config.Address()),
			slog.Duration("read_timeout", s.config.ReadTimeout),
			slog.Duration("write_timeout", s.config.WriteTimeout),
			slog.Duration("shutdown_timeout", s.config.ShutdownTimeout),
		)

		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("server failed to start",
				slog.String("address", s.config.Address()),
				slog.String("error", err.Error()),
			)

			serverErrors <- fmt.Errorf("server failed to start: %w", err)
		}
	}()

	select {
	case err := <-serverErrors:
		return err
	case sig := <-stop:
		s.logger.Info("received shutdown signal", slog.String("signal", sig.String()))

		return s.shutdown()
	}
}

// shutdown gracefully shuts down the server.
func (s *Server) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	s.logger.Info("initiating server shutdown", slog.Duration("shutdown_timeout", s.config.ShutdownTimeout))

	s.controller.Stop()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("server shutdown failed",
			slog.String("error", err.Error()),
			slog.Duration("shutdown_timeout", s.config.ShutdownTimeout),
		)

		return fmt.Errorf("server shutdown failed: %w", err)
	}

	s.logger.Info("server shutdown completed successfully")

	return nil
}
