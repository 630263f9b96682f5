package ws

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/signaling-relay/backend/internal/metrics"
	"github.com/signaling-relay/backend/internal/model"
	"github.com/signaling-relay/backend/internal/repository"
	"github.com/sirupsen/logrus"
)

const (
	defaultAuditQueueSize = 1024
	auditWriteTimeout     = 5 * time.Second
)

// ServiceConfig holds the collaborators of a Service. Repository and
// Metrics are optional.
type ServiceConfig struct {
	Repository     *repository.PeerRepository
	Metrics        *metrics.Collector
	Logger         logrus.FieldLogger
	SendBuffer     int
	MaxMessageSize int64
	AuditQueueSize int
}

// Service wires the Relay to logging, metrics and the connection audit log.
// It is the Relay's Observer.
type Service struct {
	relay   *Relay
	handler *Handler
	repo    *repository.PeerRepository
	metrics *metrics.Collector
	log     logrus.FieldLogger

	audit     chan auditEvent
	auditDone chan struct{}

	mu     sync.Mutex
	closed bool
}

type auditEvent struct {
	connect    *model.PeerRecord
	disconnect *disconnectEvent
}

type disconnectEvent struct {
	id        string
	reason    model.DisconnectReason
	at        time.Time
	received  int64
	delivered int64
}

// NewService creates a Service and starts its audit writer when a
// repository is configured.
func NewService(cfg ServiceConfig) *Service {
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	if cfg.AuditQueueSize <= 0 {
		cfg.AuditQueueSize = defaultAuditQueueSize
	}

	s := &Service{
		repo:    cfg.Repository,
		metrics: cfg.Metrics,
		log:     cfg.Logger,
	}
	s.relay = NewRelay(s)
	s.handler = NewHandler(s.relay, cfg.Logger, HandlerOptions{
		SendBuffer:     cfg.SendBuffer,
		MaxMessageSize: cfg.MaxMessageSize,
	})

	if s.repo != nil {
		s.audit = make(chan auditEvent, cfg.AuditQueueSize)
		s.auditDone = make(chan struct{})
		go s.runAudit()
	}

	return s
}

// Relay returns the relay.
func (s *Service) Relay() *Relay {
	return s.relay
}

// Handler returns the WebSocket handler.
func (s *Service) Handler() *Handler {
	return s.handler
}

// Close disconnects every peer and flushes pending audit writes.
func (s *Service) Close() {
	s.relay.Close()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	if s.audit != nil {
		close(s.audit)
	}
	s.mu.Unlock()

	if s.auditDone != nil {
		<-s.auditDone
	}
}

// PeerConnected implements Observer.
func (s *Service) PeerConnected(c *Client) {
	s.log.WithFields(logrus.Fields{
		"peer_id":     c.ID(),
		"remote_addr": c.RemoteAddr(),
	}).Info("new client connected")

	if s.metrics != nil {
		s.metrics.Connections.Inc()
		s.metrics.ConnectedPeers.Inc()
	}

	s.enqueue(auditEvent{connect: &model.PeerRecord{
		ID:          c.ID(),
		RemoteAddr:  c.RemoteAddr(),
		UserAgent:   c.UserAgent(),
		Status:      model.PeerStatusConnected,
		ConnectedAt: c.ConnectedAt(),
	}})
}

// PeerDisconnected implements Observer.
func (s *Service) PeerDisconnected(c *Client, reason model.DisconnectReason) {
	s.log.WithFields(logrus.Fields{
		"peer_id":     c.ID(),
		"remote_addr": c.RemoteAddr(),
		"reason":      reason,
	}).Info("client disconnected")

	if s.metrics != nil {
		s.metrics.ConnectedPeers.Dec()
		s.metrics.Disconnections.WithLabelValues(string(reason)).Inc()
	}

	s.enqueue(auditEvent{disconnect: &disconnectEvent{
		id:        c.ID(),
		reason:    reason,
		at:        time.Now(),
		received:  c.MessagesReceived(),
		delivered: c.MessagesDelivered(),
	}})
}

// MessageRelayed implements Observer.
func (s *Service) MessageRelayed(sender *Client, result FanoutResult) {
	s.log.WithFields(logrus.Fields{
		"peer_id":   sender.ID(),
		"delivered": result.Delivered,
		"failed":    result.Failed,
		"end":       result.Ended,
	}).Debug("message relayed")

	if s.metrics != nil {
		s.metrics.MessagesReceived.Inc()
		s.metrics.MessagesDelivered.Add(float64(result.Delivered))
		s.metrics.SendFailures.Add(float64(result.Failed))
	}
}

// MessageDropped implements Observer.
func (s *Service) MessageDropped(sender *Client, err error) {
	if s.metrics != nil {
		s.metrics.MessagesDropped.WithLabelValues(dropReason(err)).Inc()
	}
}

func dropReason(err error) string {
	switch {
	case errors.Is(err, model.ErrMalformedMessage):
		return "malformed"
	case errors.Is(err, model.ErrPeerNotConnected):
		return "not_connected"
	default:
		return "other"
	}
}

// enqueue hands an event to the audit writer without blocking the relay.
func (s *Service) enqueue(ev auditEvent) {
	if s.audit == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	select {
	case s.audit <- ev:
	default:
		s.log.Warn("audit queue full, dropping peer event")
	}
}

// runAudit applies audit events in order on a single goroutine.
func (s *Service) runAudit() {
	defer close(s.auditDone)

	for ev := range s.audit {
		ctx, cancel := context.WithTimeout(context.Background(), auditWriteTimeout)
		var err error
		switch {
		case ev.connect != nil:
			err = s.repo.Create(ctx, ev.connect)
		case ev.disconnect != nil:
			d := ev.disconnect
			err = s.repo.MarkDisconnected(ctx, d.id, d.reason, d.at, d.received, d.delivered)
		}
		cancel()

		if err != nil {
			s.log.WithError(err).Error("failed to write peer audit record")
		}
	}
}
