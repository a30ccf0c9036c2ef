package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/dartslive/go/internal/live/outbox"
)

// WebSocketHandler handles WebSocket upgrade requests
type WebSocketHandler struct {
	connectionManager *ConnectionManager
	handler           MessageHandler
	counters          *outbox.Counters
}

// NewWebSocketHandler creates a new WebSocket handler. counters may be nil.
func NewWebSocketHandler(cm *ConnectionManager, handler MessageHandler, counters *outbox.Counters) *WebSocketHandler {
	return &WebSocketHandler{
		connectionManager: cm,
		handler:           handler,
		counters:          counters,
	}
}

// HandleConnection upgrades the request. Rooms are joined afterwards with
// join-tournament and join-match events.
func (h *WebSocketHandler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	if _, err := h.connectionManager.UpgradeConnection(w, r, h.handler); err != nil {
		// Upgrade has already written the HTTP error response.
		log.Error().
			Err(err).
			Str("remote_addr", r.RemoteAddr).
			Msg("failed to upgrade WebSocket connection")
	}
}

type statsResponse struct {
	ConnectionStats
	Outbox *outbox.CounterSnapshot `json:"outbox,omitempty"`
}

// HandleConnectionStats returns statistics about active connections
func (h *WebSocketHandler) HandleConnectionStats(w http.ResponseWriter, r *http.Request) {
	resp := statsResponse{ConnectionStats: h.connectionManager.GetConnectionStats()}
	if h.counters != nil {
		snap := h.counters.Snapshot()
		resp.Outbox = &snap
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Error().Err(err).Msg("failed to encode connection stats")
	}
}

// RegisterRoutes registers WebSocket routes with an HTTP mux
func (h *WebSocketHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws", h.HandleConnection)
	mux.HandleFunc("GET /ws/stats", h.HandleConnectionStats)
}
