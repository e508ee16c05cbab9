package gateway

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"
)

// WebSocketHandler handles WebSocket upgrade requests for race connections
type WebSocketHandler struct {
	connectionManager *ConnectionManager
	verifier          TokenVerifier
}

// NewWebSocketHandler creates a new WebSocket handler. A nil verifier treats
// every connection as a guest.
func NewWebSocketHandler(cm *ConnectionManager, verifier TokenVerifier) *WebSocketHandler {
	return &WebSocketHandler{
		connectionManager: cm,
		verifier:          verifier,
	}
}

// HandleRaceConnection upgrades the request. A bad token degrades to a guest
// connection instead of refusing it.
func (h *WebSocketHandler) HandleRaceConnection(w http.ResponseWriter, r *http.Request) {
	p := h.authenticate(r)

	// The upgrader has already written an HTTP error on failure.
	if err := h.connectionManager.UpgradeConnection(w, r, p); err != nil {
		log.Warn().Err(err).Str("remote_addr", r.RemoteAddr).Msg("failed to upgrade WebSocket connection")
	}
}

func (h *WebSocketHandler) authenticate(r *http.Request) Principal {
	token := tokenFromRequest(r)
	if token == "" || h.verifier == nil {
		return Principal{}
	}
	p, err := h.verifier.Verify(token)
	if err != nil {
		if errors.Is(err, ErrInvalidToken) {
			log.Debug().Err(err).Msg("handshake token rejected, continuing as guest")
		} else {
			log.Warn().Err(err).Msg("handshake token verification failed")
		}
		return Principal{}
	}
	return p
}

// HandleConnectionStats returns statistics about active connections
func (h *WebSocketHandler) HandleConnectionStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(h.connectionManager.GetConnectionStats()); err != nil {
		log.Error().Err(err).Msg("failed to encode connection stats")
	}
}

// RegisterRoutes registers WebSocket routes with an HTTP mux
func (h *WebSocketHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws/race", h.HandleRaceConnection)
	mux.HandleFunc("/ws/stats", h.HandleConnectionStats)
}
