package model

import "time"

// PeerStatus represents the lifecycle state of a relay connection.
type PeerStatus string

const (
	PeerStatusConnected    PeerStatus = "connected"
	PeerStatusDisconnected PeerStatus = "disconnected"
)

// DisconnectReason records why a connection left the peer set.
type DisconnectReason string

const (
	// DisconnectClosed is a clean close from either side.
	DisconnectClosed DisconnectReason = "closed"
	// DisconnectError is a transport error; membership-wise identical to a close.
	DisconnectError DisconnectReason = "error"
	// DisconnectEnd is a self-initiated removal via the end flag.
	DisconnectEnd DisconnectReason = "end"
	// DisconnectShutdown means the relay itself is stopping.
	DisconnectShutdown DisconnectReason = "shutdown"
	// DisconnectStale marks records left open by a previous process.
	DisconnectStale DisconnectReason = "stale"
)

// PeerRecord is the audit log entry for one connection. Message bodies are
// never recorded, only counters.
type PeerRecord struct {
	ID                string           `json:"id"`
	RemoteAddr        string           `json:"remoteAddr"`
	UserAgent         string           `json:"userAgent,omitempty"`
	Status            PeerStatus       `json:"status"`
	Reason            DisconnectReason `json:"reason,omitempty"`
	MessagesReceived  int64            `json:"messagesReceived"`
	MessagesDelivered int64            `json:"messagesDelivered"`
	ConnectedAt       time.Time        `json:"connectedAt"`
	DisconnectedAt    *time.Time       `json:"disconnectedAt,omitempty"`
}

// Duration returns how long the connection lasted, or has lasted so far.
func (p *PeerRecord) Duration() time.Duration {
	if p.DisconnectedAt != nil {
		return p.DisconnectedAt.Sub(p.ConnectedAt)
	}
	return time.Since(p.ConnectedAt)
}
