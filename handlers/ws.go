package handlers

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/CrowderSoup/boardsync/services"
)

// WSHandler upgrades connections and registers them with the hub
type WSHandler struct {
	hub      *services.Hub
	upgrader websocket.Upgrader
	log      zerolog.Logger
}

func NewWSHandler(hub *services.Hub, allowedOrigins []string, log zerolog.Logger) *WSHandler {
	return &WSHandler{
		hub: hub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return originAllowed(allowedOrigins, r.Header.Get("Origin"))
			},
		},
		log: log.With().Str("component", "ws").Logger(),
	}
}

// HandleWebSocket accepts ?clientId= and ?rooms=board:b1,card:c1. A missing
// clientId gets a fresh one, which then never matches a REST sender.
func (h *WSHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserID(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "user not found"})
		return
	}

	q := r.URL.Query()
	id := q.Get("clientId")
	if id == "" {
		id = uuid.NewString()
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := services.NewClient(h.hub, conn, userID, id)
	if rooms := q.Get("rooms"); rooms != "" {
		client.JoinOnRegister(strings.Split(rooms, ",")...)
	}
	h.hub.Register(client)

	go client.WritePump()
	go client.ReadPump()
}

func originAllowed(allowed []string, origin string) bool {
	if origin == "" {
		return true
	}
	for _, a := range allowed {
		if a == "*" || strings.EqualFold(a, origin) {
			return true
		}
	}
	return false
}
