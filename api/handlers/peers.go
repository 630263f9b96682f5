package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/signaling-relay/backend/internal/model"
	"github.com/signaling-relay/backend/internal/repository"
	"github.com/signaling-relay/backend/internal/ws"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// PeerHandler serves the live peer set and the connection audit log.
type PeerHandler struct {
	relay *ws.Relay
	repo  *repository.PeerRepository
}

// NewPeerHandler creates a new PeerHandler.
func NewPeerHandler(relay *ws.Relay, repo *repository.PeerRepository) *PeerHandler {
	return &PeerHandler{
		relay: relay,
		repo:  repo,
	}
}

// LivePeerResponse represents a connected peer in API responses.
type LivePeerResponse struct {
	ID                string `json:"id"`
	RemoteAddr        string `json:"remoteAddr"`
	UserAgent         string `json:"userAgent,omitempty"`
	MessagesReceived  int64  `json:"messagesReceived"`
	MessagesDelivered int64  `json:"messagesDelivered"`
	ConnectedAt       string `json:"connectedAt"`
	Duration          string `json:"duration"`
}

// PeerRecordResponse represents an audit record in API responses.
type PeerRecordResponse struct {
	ID                string `json:"id"`
	RemoteAddr        string `json:"remoteAddr"`
	UserAgent         string `json:"userAgent,omitempty"`
	Status            string `json:"status"`
	Reason            string `json:"reason,omitempty"`
	MessagesReceived  int64  `json:"messagesReceived"`
	MessagesDelivered int64  `json:"messagesDelivered"`
	ConnectedAt       string `json:"connectedAt"`
	DisconnectedAt    string `json:"disconnectedAt,omitempty"`
	Duration          string `json:"duration"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error details.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func toLivePeerResponse(c *ws.Client) *LivePeerResponse {
	return &LivePeerResponse{
		ID:                c.ID(),
		RemoteAddr:        c.RemoteAddr(),
		UserAgent:         c.UserAgent(),
		MessagesReceived:  c.MessagesReceived(),
		MessagesDelivered: c.MessagesDelivered(),
		ConnectedAt:       c.ConnectedAt().Format(time.RFC3339),
		Duration:          formatDuration(time.Since(c.ConnectedAt())),
	}
}

func toPeerRecordResponse(p *model.PeerRecord) *PeerRecordResponse {
	resp := &PeerRecordResponse{
		ID:                p.ID,
		RemoteAddr:        p.RemoteAddr,
		UserAgent:         p.UserAgent,
		Status:            string(p.Status),
		Reason:            string(p.Reason),
		MessagesReceived:  p.MessagesReceived,
		MessagesDelivered: p.MessagesDelivered,
		ConnectedAt:       p.ConnectedAt.Format(time.RFC3339),
		Duration:          formatDuration(p.Duration()),
	}
	if p.DisconnectedAt != nil {
		resp.DisconnectedAt = p.DisconnectedAt.Format(time.RFC3339)
	}
	return resp
}

// formatDuration formats a duration rounded to the second.
func formatDuration(d time.Duration) string {
	return d.Round(time.Second).String()
}

// sendError sends an error response with the appropriate status code.
func sendError(c *gin.Context, statusCode int, code, message string) {
	c.JSON(statusCode, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// List handles GET /api/peers - lists the connections currently in the peer set.
func (h *PeerHandler) List(c *gin.Context) {
	peers := h.relay.Peers()

	response := make([]*LivePeerResponse, len(peers))
	for i, p := range peers {
		response[i] = toLivePeerResponse(p)
	}

	c.JSON(http.StatusOK, response)
}

// History handles GET /api/peers/history - lists recent audit records.
func (h *PeerHandler) History(c *gin.Context) {
	limit := defaultHistoryLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "limit must be a positive integer")
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	records, err := h.repo.ListRecent(c.Request.Context(), limit)
	if err != nil {
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list peers: "+err.Error())
		return
	}

	response := make([]*PeerRecordResponse, len(records))
	for i, rec := range records {
		response[i] = toPeerRecordResponse(rec)
	}

	c.JSON(http.StatusOK, response)
}

// Get handles GET /api/peers/:id - gets one audit record.
func (h *PeerHandler) Get(c *gin.Context) {
	peerID := c.Param("id")

	rec, err := h.repo.GetByID(c.Request.Context(), peerID)
	if err != nil {
		if errors.Is(err, model.ErrPeerNotFound) {
			sendError(c, http.StatusNotFound, "PEER_NOT_FOUND", "Peer "+peerID+" not found")
			return
		}
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to get peer: "+err.Error())
		return
	}

	c.JSON(http.StatusOK, toPeerRecordResponse(rec))
}

// RegisterRoutes registers the peer handler routes on a Gin router group.
func (h *PeerHandler) RegisterRoutes(rg *gin.RouterGroup) {
	peers := rg.Group("/peers")
	{
		peers.GET("", h.List)
		peers.GET("/history", h.History)
		peers.GET("/:id", h.Get)
	}
}
