package gateway

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/timeline/go/internal/models"
	"github.com/mcdev12/timeline/go/internal/room"
)

// RoomLookup checks that a room exists before a spectator subscribes to it.
type RoomLookup interface {
	GetRoom(ctx context.Context, roomID string) (*models.RoomState, error)
}

// WebSocketHandler handles WebSocket upgrade requests for room connections
type WebSocketHandler struct {
	connectionManager *ConnectionManager
	rooms             RoomLookup
}

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(cm *ConnectionManager, rooms RoomLookup) *WebSocketHandler {
	return &WebSocketHandler{
		connectionManager: cm,
		rooms:             rooms,
	}
}

// HandleRoomConnection upgrades the request. room_id is optional: clients that
// pass it receive room broadcasts before they join.
func (h *WebSocketHandler) HandleRoomConnection(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	roomID := r.URL.Query().Get("room_id")
	if roomID != "" {
		if _, err := h.rooms.GetRoom(r.Context(), roomID); err != nil {
			http.Error(w, err.Error(), room.HTTPStatus(err))
			return
		}
	}

	if err := h.connectionManager.UpgradeConnection(w, r, roomID); err != nil {
		// the upgrader has already written the error response
		log.Error().
			Err(err).
			Str("room_id", roomID).
			Msg("failed to upgrade WebSocket connection")
		return
	}
}

// HandleConnectionStats returns statistics about active connections
func (h *WebSocketHandler) HandleConnectionStats(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(h.connectionManager.GetConnectionStats()); err != nil {
		log.Error().Err(err).Msg("failed to write connection stats")
	}
}

// RegisterRoutes registers WebSocket routes
func (h *WebSocketHandler) RegisterRoutes(router *httprouter.Router) {
	router.GET("/ws/room", h.HandleRoomConnection)
	router.GET("/ws/stats", h.HandleConnectionStats)
}
