package relay

import (
	"encoding/json"

	"github.com/gin-gonic/gin"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"

	"github.com/zenro-academy/liveclass/internal/signaling"
	"github.com/zenro-academy/liveclass/pkg/response"
)

// ServerParticipant is the sender identity of envelopes injected over HTTP
// without an explicit from.
const ServerParticipant = "server"

// SignalRequest is the body for POST /signal.
type SignalRequest struct {
	ChannelName string          `json:"channelName" binding:"required"`
	EventName   string          `json:"eventName" binding:"required"`
	Data        json.RawMessage `json:"data"`
	From        string          `json:"from"`
	To          string          `json:"to"`
}

// Handler serves the relay HTTP endpoints.
type Handler struct {
	hub        *Hub
	iceServers []webrtc.ICEServer
	logger     *zap.Logger
}

// NewHandler creates a relay handler.
func NewHandler(hub *Hub, iceServers []webrtc.ICEServer, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{hub: hub, iceServers: iceServers, logger: logger}
}

// Signal handles POST /signal: injects one envelope into a room.
func (h *Handler) Signal(c *gin.Context) {
	var req SignalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	kind := signaling.Kind(req.EventName)
	if !kind.Valid() {
		response.BadRequest(c, "unknown event: "+req.EventName)
		return
	}
	from := req.From
	if from == "" {
		from = ServerParticipant
	}
	env := signaling.Envelope{Kind: kind, Payload: req.Data, From: from, To: req.To}
	frame, err := json.Marshal(env)
	if err != nil {
		response.BadRequest(c, "data must be a JSON value")
		return
	}
	h.hub.Route(c.Request.Context(), req.ChannelName, frame)
	h.logger.Debug("signal injected", zap.String("room", req.ChannelName), zap.String("kind", req.EventName))
	response.OK(c, gin.H{"message": "Signal sent"})
}

// Connections handles GET /rooms/:room/connections.
func (h *Handler) Connections(c *gin.Context) {
	roomName := c.Param("room")
	response.OK(c, gin.H{"room": roomName, "connections": h.hub.ConnectionCount(roomName)})
}

// ICEServers handles GET /ice-servers.
func (h *Handler) ICEServers(c *gin.Context) {
	response.OK(c, gin.H{"ice_servers": h.iceServers})
}
