package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/sightama/canifuckingdownwindtoday/internal/lifecycle"
	"github.com/sightama/canifuckingdownwindtoday/internal/models"
	"github.com/sightama/canifuckingdownwindtoday/internal/service"
	"github.com/sightama/canifuckingdownwindtoday/internal/traffic"
)

// HealthConfig holds thresholds for the health handler.
type HealthConfig struct {
	DegradedWindow   time.Duration
	DegradedErrorPct int
	StartTime        time.Time
	// PoolPing, when set, is called to check offline-pool backend reachability.
	// Used when the backend is memcached.
	PoolPing func() error
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	orchestrator *service.Orchestrator
	personas     []string
	healthConfig *HealthConfig
	logger       *zap.Logger

	healthStatusMu   sync.Mutex
	healthStatusPrev string
}

// NewHandler returns a new Handler.
func NewHandler(orchestrator *service.Orchestrator, personas []string, healthConfig *HealthConfig, logger *zap.Logger) *Handler {
	return &Handler{
		orchestrator: orchestrator,
		personas:     append([]string(nil), personas...),
		healthConfig: healthConfig,
		logger:       logger,
	}
}

// GetConditions handles GET /conditions. Full payload for every persona.
func (h *Handler) GetConditions(w http.ResponseWriter, r *http.Request) {
	data := h.orchestrator.GetData(r.Context())
	writeJSON(w, http.StatusOK, data)
}

// GetInitialConditions handles GET /conditions/initial/{persona}. Returns a
// payload covering just that persona as fast as possible and fills the rest
// in the background.
func (h *Handler) GetInitialConditions(w http.ResponseWriter, r *http.Request) {
	persona := strings.TrimSpace(mux.Vars(r)["persona"])
	if !h.validPersona(persona) {
		writeError(w, r, http.StatusBadRequest, "INVALID_PERSONA", "unknown persona: "+persona)
		return
	}

	data := h.orchestrator.GetInitialData(r.Context(), persona)

	// Fill the remaining personas after responding. WithoutCancel keeps the
	// work alive past this request.
	bg := context.WithoutCancel(r.Context())
	go h.orchestrator.RefreshRemaining(bg, persona)

	writeJSON(w, http.StatusOK, data)
}

// PostRefresh handles POST /conditions/refresh: an explicit trigger for the
// background fill. Idempotent; redundant triggers collapse into the run
// already in flight and a complete cache costs nothing.
func (h *Handler) PostRefresh(w http.ResponseWriter, r *http.Request) {
	skip := strings.TrimSpace(r.URL.Query().Get("persona"))
	if skip != "" && !h.validPersona(skip) {
		writeError(w, r, http.StatusBadRequest, "INVALID_PERSONA", "unknown persona: "+skip)
		return
	}

	bg := context.WithoutCancel(r.Context())
	go h.orchestrator.RefreshRemaining(bg, skip)

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// GetVariation handles GET /variation/{mode}/{persona}. Cache-only: never
// triggers generation.
func (h *Handler) GetVariation(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	modeStr := strings.TrimSpace(vars["mode"])
	persona := strings.TrimSpace(vars["persona"])

	if !models.ValidMode(modeStr) {
		writeError(w, r, http.StatusBadRequest, "INVALID_MODE", "unknown mode: "+modeStr)
		return
	}
	mode := models.Mode(modeStr)
	if !h.validPersona(persona) {
		writeError(w, r, http.StatusBadRequest, "INVALID_PERSONA", "unknown persona: "+persona)
		return
	}

	line := h.orchestrator.RandomVariation(mode, persona)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"mode":      mode,
		"persona":   persona,
		"variation": line,
	})
}

// GetRecommendations handles GET /recommendations. Foil setup advice from the
// current or last-known SUP rating.
func (h *Handler) GetRecommendations(w http.ResponseWriter, r *http.Request) {
	foil, ratings, ok := h.orchestrator.Recommendations(r.Context())
	if !ok {
		writeError(w, r, http.StatusServiceUnavailable, "NO_DATA", "no reading available yet")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"foil":    foil,
		"ratings": ratings,
	})
}

func (h *Handler) validPersona(persona string) bool {
	for _, p := range h.personas {
		if p == persona {
			return true
		}
	}
	return false
}

// healthResult holds the computed health status and metadata for logging.
type healthResult struct {
	status     string
	statusCode int
	reason     string
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	result := h.computeHealthStatus()

	h.healthStatusMu.Lock()
	prev := h.healthStatusPrev
	if prev != "" && prev != result.status {
		h.logger.Info("health status transition",
			zap.String("previous_status", prev),
			zap.String("current_status", result.status),
			zap.String("reason", result.reason))
	}
	h.healthStatusPrev = result.status
	h.healthStatusMu.Unlock()

	checks := make(map[string]string)
	if h.orchestrator.Offline() {
		checks["sensor"] = "offline"
	} else {
		checks["sensor"] = "online"
	}
	if h.healthConfig != nil && h.healthConfig.PoolPing != nil {
		if h.healthConfig.PoolPing() == nil {
			checks["offlinePool"] = "healthy"
		} else {
			checks["offlinePool"] = "unhealthy"
		}
	}
	resp := map[string]interface{}{
		"status":    result.status,
		"service":   "canifuckingdownwindtoday",
		"version":   "dev",
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(result.statusCode)
	_ = json.NewEncoder(w).Encode(resp)
}

// computeHealthStatus evaluates conditions in priority order:
// shutting-down > offline sensor > upstream error-rate breach > healthy.
// The service keeps serving degraded data either way; the 503 is for
// monitors, not for shedding traffic.
func (h *Handler) computeHealthStatus() healthResult {
	if lifecycle.IsShuttingDown() {
		return healthResult{"shutting-down", http.StatusServiceUnavailable, "signal"}
	}
	if h.orchestrator.Offline() {
		return healthResult{"degraded", http.StatusServiceUnavailable, "sensor_offline"}
	}
	if h.healthConfig != nil && h.healthConfig.DegradedWindow > 0 && h.healthConfig.DegradedErrorPct > 0 {
		errors, total := traffic.ErrorRate(h.healthConfig.DegradedWindow)
		if total > 0 {
			pct := float64(errors) * 100 / float64(total)
			if pct >= float64(h.healthConfig.DegradedErrorPct) {
				return healthResult{"degraded", http.StatusServiceUnavailable, "error_rate_breach"}
			}
		}
	}
	return healthResult{"healthy", http.StatusOK, ""}
}

// writeJSON writes a JSON response with the specified HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes an error response in the standard error format with code,
// message, and requestId (correlation ID) if available in request context.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	corrID := ""
	if v := r.Context().Value("correlation_id"); v != nil {
		corrID = v.(string)
	}
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":      code,
			"message":   message,
			"requestId": corrID,
		},
	})
}
