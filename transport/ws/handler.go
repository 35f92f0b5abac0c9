package ws

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"chatd/services"
)

// Handler upgrades HTTP requests to websocket connections and hands each
// one a fresh session token. The token, not the username, is what the
// disconnect path keys on: a connection that never joins still disconnects
// cleanly.
type Handler struct {
	log       *slog.Logger
	hub       *Hub
	lifecycle services.ILifecycleService
	router    services.IMessageService
	history   services.IHistoryService
	upgrader  websocket.Upgrader
}

func NewHandler(log *slog.Logger, hub *Hub, lifecycle services.ILifecycleService,
	router services.IMessageService, history services.IHistoryService) *Handler {
	return &Handler{
		log:       log,
		hub:       hub,
		lifecycle: lifecycle,
		router:    router,
		history:   history,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The node trusts client-supplied identity; origin checking
			// belongs to whatever fronts it in a real deployment.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("Websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	client := &Client{
		log:          h.log,
		conn:         conn,
		hub:          h.hub,
		lifecycle:    h.lifecycle,
		router:       h.router,
		history:      h.history,
		send:         make(chan []byte, sendBufferSize),
		sessionToken: uuid.NewString(),
	}
	h.hub.register(client)
	h.log.Info("Websocket connected", "remote", r.RemoteAddr, "session", client.sessionToken)

	// The request context dies when ServeHTTP returns; the connection
	// outlives it, so the pumps run on their own context.
	go client.writePump()
	go client.readPump(context.Background())
}
