package handlers

import (
	"context"
	"net/http"
	"os"
	"runtime"
	"time"

	"go.uber.org/zap"

	"github.com/stingnet/sting-engine/pkg/config"
	"github.com/stingnet/sting-engine/pkg/logging"
)

// pingTimeout bounds the storage check of /health.
const pingTimeout = 2 * time.Second

// Pinger reports whether the storage engine is reachable. *database.DB implements it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthResponse is the body of /health.
type HealthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
}

// PingResponse contains service status and version information.
type PingResponse struct {
	Status      string `json:"status"`
	Version     string `json:"version"`
	Service     string `json:"service"`
	GoVersion   string `json:"go_version"`
	Hostname    string `json:"hostname"`
	Environment string `json:"environment"`
}

// HealthHandler handles health check and ping endpoints.
type HealthHandler struct {
	cfg    *config.Config
	db     Pinger
	logger *zap.Logger
}

// NewHealthHandler creates a new HealthHandler. db may be nil, in which case
// /health reports the database as unchecked.
func NewHealthHandler(cfg *config.Config, db Pinger, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{cfg: cfg, db: db, logger: logger}
}

// RegisterRoutes registers the health handler's routes on the given mux.
func (h *HealthHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /ping", h.Ping)
}

// Health handles GET /health requests.
// Returns 503 when the database does not answer a ping.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	if h.db == nil {
		if err := WriteJSON(w, http.StatusOK, HealthResponse{Status: "ok", Database: "unchecked"}); err != nil {
			h.logger.Error("Failed to encode health response", zap.Error(err))
		}
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), pingTimeout)
	defer cancel()

	if err := h.db.Ping(ctx); err != nil {
		h.logger.Warn("Health check failed", zap.String("error", logging.SanitizeError(err)))
		if err := WriteJSON(w, http.StatusServiceUnavailable, HealthResponse{Status: "unavailable", Database: "unreachable"}); err != nil {
			h.logger.Error("Failed to encode health response", zap.Error(err))
		}
		return
	}

	if err := WriteJSON(w, http.StatusOK, HealthResponse{Status: "ok", Database: "ok"}); err != nil {
		h.logger.Error("Failed to encode health response", zap.Error(err))
	}
}

// Ping handles GET /ping requests.
// Returns detailed service information including version and environment.
func (h *HealthHandler) Ping(w http.ResponseWriter, r *http.Request) {
	hostname, err := os.Hostname()
	if err != nil {
		if err := ErrorResponse(w, http.StatusInternalServerError, "hostname_unavailable", "failed to get hostname"); err != nil {
			h.logger.Error("Failed to encode error response", zap.Error(err))
		}
		return
	}

	response := PingResponse{
		Status:      "ok",
		Version:     h.cfg.Version,
		Service:     "sting-engine",
		GoVersion:   runtime.Version(),
		Hostname:    hostname,
		Environment: h.cfg.Env,
	}

	if err := WriteJSON(w, http.StatusOK, response); err != nil {
		h.logger.Error("Failed to encode ping response", zap.Error(err))
	}
}
