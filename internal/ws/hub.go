package ws

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"message-sync/internal/models"
	"message-sync/internal/observability"
	"message-sync/internal/session"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Hub fans read-model updates out to subscribed UI clients. Every client
// receives every update; filtering is the UI's concern.
type Hub struct {
	mu       sync.Mutex
	clients  map[*websocket.Conn]ConnInfo
	snapshot func() models.StateSnapshot
	sess     session.Provider
	logger   zerolog.Logger
}

// NewHub creates an empty hub. Subscribers must present the session token
// before the connection is upgraded.
func NewHub(sess session.Provider, logger zerolog.Logger) *Hub {
	return &Hub{
		clients: make(map[*websocket.Conn]ConnInfo),
		sess:    sess,
		logger:  logger.With().Str("component", "ui-feed").Logger(),
	}
}

// SetSnapshotFunc registers the read-model source sent to clients on
// subscribe.
func (h *Hub) SetSnapshotFunc(fn func() models.StateSnapshot) {
	h.mu.Lock()
	h.snapshot = fn
	h.mu.Unlock()
}

// Broadcast sends an update event to every subscribed client. Writes that
// fail evict the client.
func (h *Hub) Broadcast(event models.UpdateEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn, info := range h.clients {
		if err := conn.WriteJSON(event); err != nil {
			h.logger.Warn().Err(err).Str("conn_id", info.ConnID).Msg("feed write failed")
			_ = conn.Close()
			delete(h.clients, conn)
			observability.DecWSActive()
			observability.IncWSEvent("ws_error")
		}
	}
}

// HandleFeed validates the session token, upgrades the connection, registers
// the client and pushes a full-state snapshot so the UI starts from a
// consistent view. Websocket clients cannot always set headers, so the token
// is accepted from the Authorization header or a token query parameter.
func (h *Hub) HandleFeed(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if header == "" {
		if q := c.Query("token"); q != "" {
			header = "Bearer " + q
		}
	}
	if !h.authorized(c, header) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	info := ConnInfo{
		ConnID:      uuid.NewString(),
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   observability.RequestIDFromRequest(c.Request),
		ConnectedAt: time.Now(),
	}

	h.mu.Lock()
	h.clients[conn] = info
	snapshot := h.snapshot
	h.mu.Unlock()

	observability.IncWSActive()
	observability.IncWSEvent("ws_connect")

	if snapshot != nil {
		state := snapshot()
		h.mu.Lock()
		if err := conn.WriteJSON(models.UpdateEvent{Type: models.UpdateSnapshot, Snapshot: &state}); err != nil {
			h.logger.Warn().Err(err).Str("conn_id", info.ConnID).Msg("snapshot write failed")
		}
		h.mu.Unlock()
	}

	// Drain the connection until the client goes away.
	go func() {
		defer func() {
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				observability.DecWSActive()
			}
			h.mu.Unlock()
			observability.IncWSEvent("ws_disconnect")
			_ = conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					h.logger.Debug().Err(err).Str("conn_id", info.ConnID).Msg("feed connection closed")
				}
				return
			}
		}
	}()
}

func (h *Hub) authorized(c *gin.Context, header string) bool {
	if h.sess == nil {
		return false
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return false
	}
	creds, err := h.sess.Credentials(c.Request.Context())
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(parts[1]), []byte(creds.Token)) == 1
}

// ClientCount reports the number of subscribed clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}
