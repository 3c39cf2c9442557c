package core

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/e7canasta/orion-keypad/modules/matrixkeypad"
)

// HealthStatus represents the health state of the keypad service
type HealthStatus struct {
	Status        string `json:"status"` // "healthy", "degraded", "unhealthy"
	UptimeSeconds int64  `json:"uptime_seconds"`
	KeypadState   string `json:"keypad_state"`
	Suspended     bool   `json:"suspended"`
	MQTTEnabled   bool   `json:"mqtt_enabled"`
	MQTTConnected bool   `json:"mqtt_connected"`
	ScansAborted  uint64 `json:"scans_aborted"`
}

// HealthCheck returns the current health status of the service
func (s *Service) HealthCheck() HealthStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status := HealthStatus{
		Status:      "healthy",
		Suspended:   s.suspended,
		MQTTEnabled: s.emitter != nil,
	}
	if s.isRunning {
		status.UptimeSeconds = int64(time.Since(s.started).Seconds())
	}

	if s.emitter != nil && s.emitter.Client != nil && s.emitter.Client.IsConnected() {
		status.MQTTConnected = true
	}

	state := matrixkeypad.StateStopped
	if s.keypad != nil {
		st := s.keypad.Stats()
		state = st.State
		status.ScansAborted = st.ScansAborted
	}
	status.KeypadState = state.String()

	switch {
	case !s.isRunning || s.keypad == nil:
		status.Status = "unhealthy"
	case state == matrixkeypad.StateStopped && !s.suspended:
		status.Status = "degraded"
	case status.MQTTEnabled && !status.MQTTConnected:
		status.Status = "degraded"
	}

	return status
}

// uptime returns the time since Run started, 0 when not running
func (s *Service) uptime() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.isRunning {
		return 0
	}
	return time.Since(s.started)
}

// LivenessHandler handles /health endpoint (simple liveness check)
func (s *Service) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	response := map[string]any{
		"status": "alive",
		"uptime": int64(s.uptime().Seconds()),
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(response)
}

// ReadinessHandler handles /readiness endpoint (detailed readiness check)
func (s *Service) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	health := s.HealthCheck()

	statusCode := http.StatusOK
	if health.Status == "unhealthy" {
		statusCode = http.StatusServiceUnavailable
	}

	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(health)
}

// StatsHandler handles /stats endpoint (full status document)
func (s *Service) StatsHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(s.getStatus())
}

// Handler returns the health mux
func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.LivenessHandler)
	mux.HandleFunc("/readiness", s.ReadinessHandler)
	mux.HandleFunc("/stats", s.StatsHandler)
	return mux
}

// StartHealthServer starts the HTTP health check server on the given port.
// It does not block; Shutdown stops it.
func (s *Service) StartHealthServer(port string) error {
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      s.Handler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.mu.Lock()
	s.healthServer = server
	s.mu.Unlock()

	slog.Info("starting health check server",
		"port", port,
		"endpoints", []string{"/health", "/readiness", "/stats"},
	)

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("health check server failed", "error", err)
		}
	}()

	return nil
}
