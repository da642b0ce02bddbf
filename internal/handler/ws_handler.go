package handler

import (
	"encoding/json"
	"log"
	"net/http"

	"orgo-sync-server/internal/websocket"
	"orgo-sync-server/pkg/jwt"

	"github.com/google/uuid"
	ws "github.com/gorilla/websocket"
)

// WebSocketHandler upgrades operator consoles onto the event feed.
// Session and conflict events for the caller's tenant arrive as they
// happen; the feed carries no sync commands.
type WebSocketHandler struct {
	manager   *websocket.Manager
	jwtSecret string
	upgrader  ws.Upgrader
}

func NewWebSocketHandler(manager *websocket.Manager, jwtSecret string) *WebSocketHandler {
	return &WebSocketHandler{
		manager:   manager,
		jwtSecret: jwtSecret,
		upgrader: ws.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

func (h *WebSocketHandler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = r.Header.Get("Authorization")
		if len(token) > 7 && token[:7] == "Bearer " {
			token = token[7:]
		}
	}

	if token == "" {
		log.Printf("[WebSocket] Missing authorization token")
		http.Error(w, "missing authorization token", http.StatusUnauthorized)
		return
	}

	claims, err := jwt.ValidateToken(token, h.jwtSecret)
	if err != nil {
		log.Printf("[WebSocket] Token validation failed: %v", err)
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[WebSocket] Failed to upgrade connection: %v", err)
		return
	}

	log.Printf("[WebSocket] Watcher connected for tenant: %s", claims.TenantID)

	clientID := uuid.New().String()
	client := websocket.NewClient(clientID, claims.TenantID, claims.Subject, conn, h.manager)

	h.manager.Register <- client

	go client.WritePump()
	go client.ReadPump()
}

// WebSocketMessageHandler answers the few inbound frames watchers send.
type WebSocketMessageHandler struct{}

func NewWebSocketMessageHandler() *WebSocketMessageHandler {
	return &WebSocketMessageHandler{}
}

func (h *WebSocketMessageHandler) HandleWebSocketMessage(client *websocket.Client, msg *websocket.Message) error {
	switch msg.Type {
	case websocket.TypePing:
		return h.handlePing(client)

	default:
		log.Printf("unknown message type: %s", msg.Type)
	}

	return nil
}

func (h *WebSocketMessageHandler) handlePing(client *websocket.Client) error {
	pongMsg, err := websocket.NewMessage(websocket.TypePong, nil)
	if err != nil {
		return err
	}

	pongBytes, _ := json.Marshal(pongMsg)
	client.Send <- pongBytes

	return nil
}
