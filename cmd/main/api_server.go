package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime"
	"time"

	"github.com/go-chi/chi/v5"
)

const (
	actionShutdown = "shutdown"
	actionRestart  = "restart"
)

// ServerAPI holds the dependencies for the main application API handlers.
type ServerAPI struct {
	cm         *ConfigManager
	running    Config
	actionChan chan string
	clients    func() int
	started    time.Time
	logger     *slog.Logger
}

// VersionInfo defines the structure for build/version information.
type VersionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
}

// HealthInfo is returned by the health check.
type HealthInfo struct {
	Status        string `json:"status"`
	SiteID        string `json:"site_id"`
	ContentRoot   string `json:"content_root"`
	UptimeSec     int64  `json:"uptime_sec"`
	ReloadClients int    `json:"reload_clients"`
}

// NewServerAPI creates a new instance of the ServerAPI. running is the
// configuration the current server cycle was started with; clients may be
// nil when live reload is off.
func NewServerAPI(cm *ConfigManager, running Config, actionChan chan string, clients func() int, logger *slog.Logger) *ServerAPI {
	return &ServerAPI{
		cm:         cm,
		running:    running,
		actionChan: actionChan,
		clients:    clients,
		started:    time.Now(),
		logger:     logger,
	}
}

// RegisterRoutes sets up the routing for all /api/server endpoints.
func (a *ServerAPI) RegisterRoutes(r chi.Router) {
	r.Get("/api/health", a.handleHealthCheck)
	r.Get("/api/server/version", a.handleVersion)
	r.Get("/api/server/config", a.handleGetConfig)
	r.Put("/api/server/config", a.handlePutConfig)
	r.Post("/api/server/shutdown", a.handleShutdown)
	r.Post("/api/server/restart", a.handleRestart)
}

// handleHealthCheck is left cheap so supervisors can poll it.
func (a *ServerAPI) handleHealthCheck(w http.ResponseWriter, _ *http.Request) {
	info := HealthInfo{
		Status:      "ok",
		SiteID:      a.running.Site.SiteID,
		ContentRoot: a.running.Server.ContentRoot,
		UptimeSec:   int64(time.Since(a.started).Seconds()),
	}
	if a.clients != nil {
		info.ReloadClients = a.clients()
	}
	respondWithJSON(w, http.StatusOK, info)
}

// handleVersion returns the application's build information.
func (a *ServerAPI) handleVersion(w http.ResponseWriter, _ *http.Request) {
	respondWithJSON(w, http.StatusOK, VersionInfo{
		Version:   Version,
		Commit:    Commit,
		BuildDate: BuildDate,
		GoVersion: runtime.Version(),
	})
}

// handleGetConfig returns the configuration as stored on disk. Command
// line overrides are not included.
func (a *ServerAPI) handleGetConfig(w http.ResponseWriter, _ *http.Request) {
	respondWithJSON(w, http.StatusOK, a.cm.Get())
}

// handlePutConfig replaces and persists the configuration. Fields left out
// of the body take their default values.
func (a *ServerAPI) handlePutConfig(w http.ResponseWriter, r *http.Request) {
	newConfig := DefaultConfig()
	if err := json.NewDecoder(r.Body).Decode(newConfig); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid JSON request body")
		return
	}

	if err := a.cm.Update(*newConfig); err != nil {
		a.logger.Error("Failed to update configuration", "error", err)
		status := http.StatusInternalServerError
		if errors.Is(err, ErrInvalidConfig) {
			status = http.StatusBadRequest
		}
		respondWithError(w, status, fmt.Sprintf("Failed to update configuration: %v", err))
		return
	}

	a.logger.Info("Application configuration updated and saved via API. Changes apply after a restart.")
	respondWithJSON(w, http.StatusOK, a.cm.Get())
}

// handleShutdown initiates a graceful shutdown of the server.
func (a *ServerAPI) handleShutdown(w http.ResponseWriter, _ *http.Request) {
	a.logger.Warn("Shutdown initiated via API")
	respondWithJSON(w, http.StatusAccepted, map[string]string{"message": "Server is shutting down..."})

	go func() {
		a.actionChan <- actionShutdown
	}()
}

// handleRestart initiates a graceful restart, which also reloads the
// configuration file.
func (a *ServerAPI) handleRestart(w http.ResponseWriter, _ *http.Request) {
	a.logger.Warn("Restart initiated via API")
	respondWithJSON(w, http.StatusAccepted, map[string]string{"message": "Server is restarting..."})

	go func() {
		a.actionChan <- actionRestart
	}()
}
