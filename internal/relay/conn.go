package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/zenro-academy/liveclass/internal/signaling"
)

const (
	maxFrameSize = 65536
	sendBuffer   = 256
	writeWait    = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // allow all origins in dev; restrict in production
	},
}

// Conn is one WebSocket connection in a room.
type Conn struct {
	ID       string
	Room     string
	JoinedAt time.Time
	hub      *Hub
	conn     *websocket.Conn
	send     chan []byte
	logger   *zap.Logger
}

// ServeWs handles the WebSocket upgrade and runs the connection loop.
func ServeWs(hub *Hub, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		roomName := c.Query("room")
		if roomName == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "room required"})
			return
		}

		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}

		conn := &Conn{
			ID:       uuid.New().String(),
			Room:     roomName,
			JoinedAt: time.Now(),
			hub:      hub,
			conn:     ws,
			send:     make(chan []byte, sendBuffer),
			logger:   logger.With(zap.String("room", roomName)),
		}
		hub.Register(conn)
		go conn.writePump()
		conn.readPump()
	}
}

func (c *Conn) readPump() {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxFrameSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
		return nil
	})

	for {
		msgType, frame, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("websocket read", zap.Error(err))
			}
			break
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
		if msgType != websocket.TextMessage {
			continue
		}

		var env signaling.Envelope
		if err := json.Unmarshal(frame, &env); err != nil || !env.Kind.Valid() {
			c.logger.Debug("drop invalid frame", zap.String("conn_id", c.ID))
			continue
		}
		c.hub.observe(c, env.From)

		ctx, cancel := context.WithTimeout(context.Background(), publishTTL)
		c.hub.Route(ctx, c.Room, frame)
		cancel()
	}
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(PingInterval * time.Second)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
