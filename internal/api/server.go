package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"orefalert/internal/alerts"
	"orefalert/internal/geoloc"
	"orefalert/internal/oref"
)

// AlertSource provides the latest alert snapshot and poll readiness
type AlertSource interface {
	Snapshot() alerts.Snapshot
	Ready() bool
}

// EntitySource lists the tracked location events
type EntitySource interface {
	Tracked() []geoloc.LocationEvent
}

// Pinger reports whether Home Assistant is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server provides the operational HTTP endpoints for the bridge
type Server struct {
	alerts   AlertSource
	entities EntitySource
	pinger   Pinger
	logger   *zap.Logger
	server   *http.Server
}

// NewServer creates a new API server
func NewServer(alertSource AlertSource, entitySource EntitySource, pinger Pinger, gatherer prometheus.Gatherer, logger *zap.Logger, addr string) *Server {
	s := &Server{
		alerts:   alertSource,
		entities: entitySource,
		pinger:   pinger,
		logger:   logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleSitemap)
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/readyz", s.handleReadyz)
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/api/alerts", s.handleAlerts)
	mux.HandleFunc("/api/entities", s.handleEntities)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// AlertsResponse is the JSON shape of the /api/alerts endpoint
type AlertsResponse struct {
	UpdatedAt time.Time    `json:"updated_at"`
	Count     int          `json:"count"`
	Alerts    []oref.Alert `json:"alerts"`
}

// EntitiesResponse is the JSON shape of the /api/entities endpoint
type EntitiesResponse struct {
	Count    int                    `json:"count"`
	Entities []geoloc.LocationEvent `json:"entities"`
}

// handleAlerts returns the active alert snapshot as JSON
func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	snapshot := s.alerts.Snapshot()
	response := AlertsResponse{
		UpdatedAt: snapshot.UpdatedAt,
		Count:     len(snapshot.Alerts),
		Alerts:    snapshot.Alerts,
	}
	if response.Alerts == nil {
		response.Alerts = []oref.Alert{}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	s.logger.Debug("Alerts request served",
		zap.String("remote_addr", r.RemoteAddr),
		zap.Int("count", response.Count))
}

// handleEntities returns the tracked location events as JSON
func (s *Server) handleEntities(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	events := s.entities.Tracked()
	if events == nil {
		events = []geoloc.LocationEvent{}
	}
	response := EntitiesResponse{
		Count:    len(events),
		Entities: events,
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
}

// handleHealthz returns a simple liveness response
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"status": "ok",
	})
}

// handleReadyz reports whether the bridge can do useful work: Home
// Assistant must answer and the feed must have been polled successfully
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := http.StatusOK
	response := map[string]string{"status": "ok"}

	if err := s.pinger.Ping(ctx); err != nil {
		status = http.StatusServiceUnavailable
		response["status"] = "unavailable"
		response["reason"] = "home assistant unreachable"
	} else if !s.alerts.Ready() {
		status = http.StatusServiceUnavailable
		response["status"] = "unavailable"
		response["reason"] = "no successful poll yet"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(response)
}

// Endpoint represents an API endpoint with its documentation
type Endpoint struct {
	Path        string `json:"path"`
	Method      string `json:"method"`
	Description string `json:"description"`
}

// handleSitemap returns a list of all available API endpoints
func (s *Server) handleSitemap(w http.ResponseWriter, r *http.Request) {
	// Only handle requests to the root path
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	endpoints := []Endpoint{
		{
			Path:        "/",
			Method:      "GET",
			Description: "This sitemap - lists all available API endpoints",
		},
		{
			Path:        "/api/alerts",
			Method:      "GET",
			Description: "Current active alert snapshot",
		},
		{
			Path:        "/api/entities",
			Method:      "GET",
			Description: "Tracked geo_location entities",
		},
		{
			Path:        "/healthz",
			Method:      "GET",
			Description: "Liveness check - returns {\"status\": \"ok\"}",
		},
		{
			Path:        "/readyz",
			Method:      "GET",
			Description: "Readiness check - Home Assistant reachable and feed polled",
		},
		{
			Path:        "/metrics",
			Method:      "GET",
			Description: "Prometheus metrics",
		},
	}

	// Return 404 status code (for automation compatibility) but with helpful body
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusNotFound)

	fmt.Fprintf(w, "Oref Alert Bridge API\n")
	fmt.Fprintf(w, "=====================\n\n")
	fmt.Fprintf(w, "Available endpoints:\n\n")
	for _, ep := range endpoints {
		fmt.Fprintf(w, "  %-10s %-20s %s\n", ep.Method, ep.Path, ep.Description)
	}
	fmt.Fprintf(w, "\nExamples:\n\n")
	fmt.Fprintf(w, "  Current alerts:\n")
	fmt.Fprintf(w, "    curl http://localhost:8124/api/alerts | jq\n\n")
	fmt.Fprintf(w, "  Tracked entities:\n")
	fmt.Fprintf(w, "    curl http://localhost:8124/api/entities | jq\n\n")

	s.logger.Debug("Sitemap request served",
		zap.String("remote_addr", r.RemoteAddr))
}

// Start begins serving HTTP requests
func (s *Server) Start() error {
	s.logger.Info("Starting HTTP API server", zap.String("addr", s.server.Addr))

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server
func (s *Server) Stop() error {
	s.logger.Info("Stopping HTTP API server")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}

	return nil
}
