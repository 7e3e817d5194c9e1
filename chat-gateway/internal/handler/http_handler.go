package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/weiawesome/wes-io-chat/chat-gateway/internal/hub"
	"github.com/weiawesome/wes-io-chat/chat-gateway/internal/presence"
	"github.com/weiawesome/wes-io-chat/pkg/log"
)

// Checker reports whether a dependency is reachable.
type Checker func(ctx context.Context) error

// HTTPHandler handles presence lookups and health checks.
type HTTPHandler struct {
	directory presence.Directory
	hub       *hub.Hub
	workerID  string
	checks    map[string]Checker
}

func NewHTTPHandler(dir presence.Directory, h *hub.Hub, workerID string, checks map[string]Checker) *HTTPHandler {
	return &HTTPHandler{
		directory: dir,
		hub:       h,
		workerID:  workerID,
		checks:    checks,
	}
}

type healthResponse struct {
	Status   string            `json:"status"`
	WorkerID string            `json:"worker_id"`
	Sessions int               `json:"sessions"`
	Checks   map[string]string `json:"checks,omitempty"`
}

func (h *HTTPHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/v1/presence/{user_id}", h.GetPresence).Methods(http.MethodGet)
	r.HandleFunc("/health", h.HealthCheck).Methods(http.MethodGet)
}

// GetPresence handles GET /api/v1/presence/{user_id}
func (h *HTTPHandler) GetPresence(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["user_id"]
	if userID == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}

	p, err := presence.Lookup(r.Context(), h.directory, userID)
	if errors.Is(err, presence.ErrNotFound) {
		http.Error(w, "user is offline", http.StatusNotFound)
		return
	}
	if err != nil {
		l := log.Ctx(r.Context())
		l.Error().Err(err).Str(log.FieldUserID, userID).Msg("presence lookup failed")
		http.Error(w, "presence directory unavailable", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(p)
}

// HealthCheck handles GET /health. Failing dependencies mark the status
// degraded; the response code stays 200.
func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:   "ok",
		WorkerID: h.workerID,
		Sessions: h.hub.ClientCount(),
	}

	if len(h.checks) > 0 {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		resp.Checks = make(map[string]string, len(h.checks))
		for name, check := range h.checks {
			if err := check(ctx); err != nil {
				resp.Checks[name] = err.Error()
				resp.Status = "degraded"
				continue
			}
			resp.Checks[name] = "ok"
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
