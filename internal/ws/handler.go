package ws

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/signaling-relay/backend/internal/model"
	"github.com/sirupsen/logrus"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
)

// HandlerOptions configures per-connection limits.
type HandlerOptions struct {
	SendBuffer     int
	MaxMessageSize int64
}

// Handler upgrades HTTP requests to WebSocket connections and pumps
// messages between them and the Relay.
type Handler struct {
	relay    *Relay
	log      logrus.FieldLogger
	opts     HandlerOptions
	upgrader websocket.Upgrader
}

// NewHandler creates a new WebSocket handler.
func NewHandler(relay *Relay, log logrus.FieldLogger, opts HandlerOptions) *Handler {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 256
	}
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = 1 << 20
	}
	return &Handler{
		relay: relay,
		log:   log,
		opts:  opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Any origin may connect; the relay has no notion of identity.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// HandleConnection upgrades the request and registers the connection with
// the relay. On upgrade failure the upgrader has already replied to the
// client with an HTTP error.
func (h *Handler) HandleConnection(w http.ResponseWriter, r *http.Request) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	client := NewClient(conn, r.RemoteAddr, r.UserAgent(), h.opts.SendBuffer)
	h.relay.OnConnect(client)

	go h.writePump(client)
	go h.readPump(client)

	return nil
}

// readPump pumps messages from the WebSocket connection to the relay.
func (h *Handler) readPump(client *Client) {
	conn := client.Conn()
	defer conn.Close()

	conn.SetReadLimit(h.opts.MaxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			h.disconnect(client, err)
			return
		}

		if _, err := h.relay.OnMessage(client, message); err != nil {
			entry := h.log.WithFields(logrus.Fields{
				"peer_id": client.ID(),
				"error":   err.Error(),
			})
			if errors.Is(err, model.ErrMalformedMessage) {
				entry.Warn("dropping malformed message")
			} else {
				entry.Debug("dropping message")
			}
		}
	}
}

// disconnect classifies a read error as a clean close or a transport error.
func (h *Handler) disconnect(client *Client, err error) {
	if isCleanClose(err) || client.IsClosed() {
		h.relay.OnClose(client)
		return
	}

	h.log.WithFields(logrus.Fields{
		"peer_id": client.ID(),
		"error":   err.Error(),
	}).Warn("websocket error")
	h.relay.OnError(client, err)
}

func isCleanClose(err error) bool {
	var closeErr *websocket.CloseError
	if !errors.As(err, &closeErr) {
		return false
	}
	return !websocket.IsUnexpectedCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
	)
}

// writePump pumps messages from the client's send queue to the WebSocket connection.
func (h *Handler) writePump(client *Client) {
	conn := client.Conn()
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case message, ok := <-client.SendChan():
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The relay closed the queue
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}

			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

			// Drain whatever else is queued, one frame per message
			n := len(client.SendChan())
			for i := 0; i < n; i++ {
				queued, ok := <-client.SendChan()
				if !ok {
					conn.WriteMessage(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
					return
				}
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.TextMessage, queued); err != nil {
					return
				}
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
