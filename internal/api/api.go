package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/mxschmitt/pg-datasource/internal/config"
	"github.com/mxschmitt/pg-datasource/internal/service"
	"go.uber.org/zap"
)

type Server struct {
	config     *config.Config
	service    *service.Service
	logger     *zap.Logger
	httpServer *http.Server
}

func New(cfg *config.Config, svc *service.Service, logger *zap.Logger) *Server {
	s := &Server{
		config:  cfg,
		service: svc,
		logger:  logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/readyz", s.handleReady)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/probe", s.handleProbe)
	mux.HandleFunc("/", s.handleRoot)

	s.httpServer = &http.Server{
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	return s
}

func (s *Server) Start() error {
	addr := fmt.Sprintf("0.0.0.0:%d", s.config.ServicePort)
	s.httpServer.Addr = addr
	s.logger.Info("API server listening", zap.String("address", addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("HTTP server failed: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}
	return nil
}

// Handler returns the HTTP handler for testing purposes
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// handleReady reports ready only when the database answers.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := s.service.Ping(r.Context()); err != nil {
		s.logger.Warn("Readiness check failed", zap.Error(err))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		s.encode(w, map[string]interface{}{
			"status":    "unavailable",
			"error":     err.Error(),
			"timestamp": time.Now().Format(time.RFC3339),
		})
		return
	}

	s.jsonResponse(w, map[string]interface{}{
		"status":    "ready",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	running, err := s.service.GetRunning()
	if err != nil {
		s.errorResponse(w, "Failed to get running status", http.StatusInternalServerError)
		return
	}

	lastProbe, err := s.service.GetLastProbe()
	if err != nil {
		s.logger.Warn("Failed to get last probe", zap.Error(err))
	}

	ds := s.service.DataSource()
	db := s.service.Database()

	statusData := map[string]interface{}{
		"data_source": map[string]interface{}{
			"url":          ds.MaskedURL(),
			"username":     ds.Username,
			"password_set": ds.Password != "",
			"converted":    ds.Converted,
		},
		"database": map[string]interface{}{
			"host":               db.Host,
			"port":               db.Port,
			"name":               db.Name,
			"connect_timeout_ms": db.ConnectTimeout.Milliseconds(),
			"socket_timeout_ms":  db.SocketTimeout.Milliseconds(),
		},
		"currently_running": running,
		"probe_cron":        s.config.ProbeCron,
		"timezone":          s.config.TZ,
	}

	if lastProbe == nil {
		statusData["status"] = "no_probes_yet"
		statusData["message"] = "No connectivity probe has been executed yet"
		statusData["last_probe"] = nil
	} else {
		statusData["last_probe"] = lastProbe
	}

	s.jsonResponse(w, statusData)
}

func (s *Server) handleProbe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.errorResponse(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	running, err := s.service.GetRunning()
	if err != nil {
		s.errorResponse(w, "Failed to get running status", http.StatusInternalServerError)
		return
	}

	if running {
		s.errorResponse(w, "Probe is already running", http.StatusConflict)
		return
	}

	// Run probe in background
	go func() {
		ctx := context.Background()
		if _, err := s.service.RunProbe(ctx); err != nil {
			if errors.Is(err, service.ErrProbeRunning) {
				s.logger.Info("Probe already in progress")
				return
			}
			s.logger.Error("Background probe failed", zap.Error(err))
		}
	}()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	s.encode(w, map[string]interface{}{
		"status":    "accepted",
		"message":   "Probe started in background",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		s.errorResponse(w, "Not found", http.StatusNotFound)
		return
	}
	s.jsonResponse(w, map[string]interface{}{
		"service": "PostgreSQL Data Source Service",
		"version": "1.0.0",
		"endpoints": map[string]string{
			"health":    "/healthz",
			"readiness": "/readyz",
			"status":    "/status",
			"probe":     "/probe (POST)",
		},
	})
}

func (s *Server) jsonResponse(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	s.encode(w, data)
}

func (s *Server) encode(w http.ResponseWriter, data interface{}) {
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("Failed to encode JSON response", zap.Error(err))
	}
}

func (s *Server) errorResponse(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	s.encode(w, map[string]interface{}{
		"error": message,
	})
}
