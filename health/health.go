// Package health serves the scheduler state over HTTP.
package health

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/CillianDeasy/esb-smart-meter-reading-automation/pipeline"
)

// StatusSource reports the scheduler state
type StatusSource interface {
	Status() pipeline.Status
}

// HealthStatus represents the health status of the service
type HealthStatus struct {
	Status        string    `json:"status"`
	LastRun       time.Time `json:"lastRun"`
	LastSuccess   time.Time `json:"lastSuccess"`
	LastError     string    `json:"lastError,omitempty"`
	LastPoints    int       `json:"lastPoints"`
	PendingPoints int       `json:"pendingPoints"`
	DroppedPoints int       `json:"droppedPoints"`
}

// HealthChecker provides health check functionality
type HealthChecker struct {
	source            StatusSource
	staleAfter        time.Duration
	healthCheckServer *http.Server
	logger            *zap.Logger
}

// NewHealthChecker creates a HealthChecker. The service reports unhealthy once
// the last successful run is older than staleAfter, or when the latest run failed.
func NewHealthChecker(source StatusSource, staleAfter time.Duration, port int, logger *zap.Logger) *HealthChecker {
	hc := &HealthChecker{
		source:     source,
		staleAfter: staleAfter,
		logger:     logger,
	}

	hc.healthCheckServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      hc.Handler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	return hc
}

// Handler returns the mux serving /health
func (hc *HealthChecker) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", hc.handleHealth)
	return mux
}

// Start begins serving the health check endpoint
func (hc *HealthChecker) Start() error {
	hc.logger.Info("Starting health check server", zap.String("addr", hc.healthCheckServer.Addr))
	if err := hc.healthCheckServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("health check server error: %w", err)
	}
	return nil
}

// Stop shuts down the health check server
func (hc *HealthChecker) Stop() error {
	return hc.healthCheckServer.Close()
}

func (hc *HealthChecker) handleHealth(w http.ResponseWriter, r *http.Request) {
	s := hc.source.Status()

	status := HealthStatus{
		Status:        "healthy",
		LastRun:       s.LastRun,
		LastSuccess:   s.LastSuccess,
		LastError:     s.LastError,
		LastPoints:    s.LastPoints,
		PendingPoints: s.PendingPoints,
		DroppedPoints: s.DroppedPoints,
	}

	switch {
	case s.LastRun.IsZero():
		status.Status = "starting"
	case s.LastError != "":
		status.Status = "unhealthy"
	case hc.staleAfter > 0 && time.Since(s.LastSuccess) > hc.staleAfter:
		status.Status = "unhealthy"
	}

	w.Header().Set("Content-Type", "application/json")
	if status.Status == "unhealthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}

	if err := json.NewEncoder(w).Encode(status); err != nil {
		hc.logger.Debug("failed to encode health status", zap.Error(err))
	}
}
