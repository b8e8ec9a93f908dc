package handlers

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/jmoiron/sqlx"

	"schoolfund/internal/models"
	ws "schoolfund/internal/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type WebSocketHandler struct {
	DB  *sqlx.DB
	Hub *ws.Hub
}

func NewWebSocketHandler(db *sqlx.DB, hub *ws.Hub) *WebSocketHandler {
	return &WebSocketHandler{DB: db, Hub: hub}
}

// ServeWs attaches a dashboard overlay client, authenticated by its widget
// secret token rather than a JWT (the overlay runs in OBS/browser sources
// with no login session).
func (h *WebSocketHandler) ServeWs(c *gin.Context) {
	secretToken := c.Param("secretToken")

	var profile models.StaffProfile
	query := `SELECT id FROM staff_profiles WHERE widget_secret_token = $1`
	err := h.DB.Get(&profile, query, secretToken)
	if err != nil {
		log.Println("Invalid WebSocket secret token:", secretToken)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Println("Failed to upgrade to connection:", err)
		return
	}

	client := &ws.Client{
		Hub:     h.Hub,
		Conn:    conn,
		Send:    make(chan []byte, 256),
		StaffID: profile.ID,
	}

	client.Hub.Register <- client

	go h.writePump(client)
	go h.readPump(client)
}

func (h *WebSocketHandler) writePump(client *ws.Client) {
	defer func() {
		client.Conn.Close()
	}()

	for message := range client.Send {
		if err := client.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
			return
		}
	}

	client.Conn.WriteMessage(websocket.CloseMessage, []byte{})
}

func (h *WebSocketHandler) readPump(client *ws.Client) {
	defer func() {
		client.Hub.Unregister <- client
		client.Conn.Close()
	}()

	for {
		if _, _, err := client.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("readPump error: %v", err)
			}
			break
		}
	}
}
