package feed

import (
	"context"
	"net/http"
	"time"

	"leadflow/internal/common/logger"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// WSHandler streams snapshot frames to one websocket per operator session.
// Clients that reconnect simply get a fresh initial snapshot.
type WSHandler struct {
	hub      *Hub
	loc      *time.Location
	upgrader websocket.Upgrader
	logger   logger.Logger
}

// NewWSHandler allows any origin when allowedOrigins is empty.
func NewWSHandler(hub *Hub, loc *time.Location, allowedOrigins []string, log logger.Logger) *WSHandler {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}

	return &WSHandler{
		hub: hub,
		loc: loc,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				if len(allowed) == 0 {
					return true
				}
				return allowed[r.Header.Get("Origin")]
			},
		},
		logger: log.WithFields(map[string]interface{}{"component": "feed-ws"}),
	}
}

func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sessionID := uuid.New().String()
	log := h.logger.WithFields(map[string]interface{}{"sessionId": sessionID})

	sub, err := h.hub.Subscribe(r.Context())
	if err != nil {
		log.Warn("subscribe failed", map[string]interface{}{"error": err})
		http.Error(w, "live feed unavailable", http.StatusServiceUnavailable)
		return
	}
	defer sub.Unsubscribe()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("websocket upgrade failed", map[string]interface{}{"error": err})
		return
	}
	defer conn.Close()

	log.Info("live feed connected", map[string]interface{}{"remoteAddr": r.RemoteAddr})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.readPump(conn, cancel)

	if err := h.writeSnapshot(conn, sub.Snapshot()); err != nil {
		log.Warn("initial snapshot write failed", map[string]interface{}{"error": err})
		return
	}

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("live feed disconnected", nil)
			return

		case snap, ok := <-sub.Changes():
			if !ok {
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
				return
			}
			if err := h.writeSnapshot(conn, snap); err != nil {
				log.Warn("snapshot write failed", map[string]interface{}{"error": err})
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump drains client frames so control messages are processed, and
// cancels the session when the socket closes.
func (h *WSHandler) readPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	conn.SetReadLimit(4096)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *WSHandler) writeSnapshot(conn *websocket.Conn, snap Snapshot) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(NewSnapshotView(snap, h.loc))
}
