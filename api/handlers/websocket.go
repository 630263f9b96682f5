// Package handlers provides HTTP API request handlers.
package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/signaling-relay/backend/internal/ws"
	"github.com/sirupsen/logrus"
)

// WebSocketHandler exposes the relay's WebSocket endpoint.
type WebSocketHandler struct {
	wsHandler *ws.Handler
	log       logrus.FieldLogger
}

// NewWebSocketHandler creates a new WebSocketHandler.
func NewWebSocketHandler(wsHandler *ws.Handler, log logrus.FieldLogger) *WebSocketHandler {
	return &WebSocketHandler{
		wsHandler: wsHandler,
		log:       log,
	}
}

// Connect handles GET / and GET /ws - upgrades to a relay connection.
func (h *WebSocketHandler) Connect(c *gin.Context) {
	if err := h.wsHandler.HandleConnection(c.Writer, c.Request); err != nil {
		// The upgrader has already written the HTTP error response
		h.log.WithFields(logrus.Fields{
			"remote_addr": c.Request.RemoteAddr,
			"error":       err.Error(),
		}).Debug("websocket upgrade failed")
	}
}

// RegisterRoutes registers the WebSocket endpoints.
func (h *WebSocketHandler) RegisterRoutes(r gin.IRoutes) {
	r.GET("/", h.Connect)
	r.GET("/ws", h.Connect)
}
