package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/dartslive/go/internal/live/events"
	"github.com/mcdev12/dartslive/go/internal/live/matchstate"
)

// StateHandler serves read-only snapshots of the store for viewers that
// reconcile by polling.
type StateHandler struct {
	store *matchstate.Store
}

// NewStateHandler creates a new state handler
func NewStateHandler(store *matchstate.Store) *StateHandler {
	return &StateHandler{store: store}
}

// HandleLiveMatches handles GET /api/tournaments/{code}/live-matches
func (h *StateHandler) HandleLiveMatches(w http.ResponseWriter, r *http.Request) {
	code := r.PathValue("code")
	if code == "" {
		writeJSON(w, http.StatusBadRequest, events.LiveMatchesResponse{Error: "tournament code is required"})
		return
	}

	matches := h.store.List(code)
	log.Debug().
		Str("tournament_code", code).
		Int("matches", len(matches)).
		Msg("serving live matches")

	writeJSON(w, http.StatusOK, events.LiveMatchesResponse{Success: true, Matches: matches})
}

// HandleMatchState handles GET /api/matches/{id}/state
func (h *StateHandler) HandleMatchState(w http.ResponseWriter, r *http.Request) {
	matchID := r.PathValue("id")
	if matchID == "" {
		writeJSON(w, http.StatusBadRequest, events.MatchStateResponse{Error: "match id is required"})
		return
	}

	state, ok := h.store.Get(matchID)
	if !ok {
		writeJSON(w, http.StatusNotFound, events.MatchStateResponse{Error: "match not found"})
		return
	}
	writeJSON(w, http.StatusOK, events.MatchStateResponse{Success: true, State: &state})
}

// RegisterStateRoutes registers state-related HTTP routes
func (h *StateHandler) RegisterStateRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/tournaments/{code}/live-matches", h.HandleLiveMatches)
	mux.HandleFunc("GET /api/matches/{id}/state", h.HandleMatchState)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}
