package ws

import (
	"sync"

	"github.com/signaling-relay/backend/internal/model"
)

// FanoutResult summarizes one OnMessage call.
type FanoutResult struct {
	// Delivered is the number of peers the message was queued for.
	Delivered int
	// Failed is the number of peers that could not accept the message.
	Failed int
	// Ended is true when the message carried a truthy end flag and the
	// sender was removed.
	Ended bool
}

// Observer receives relay events. Methods are called with the relay lock
// held, so implementations must not block or call back into the Relay.
type Observer interface {
	PeerConnected(c *Client)
	PeerDisconnected(c *Client, reason model.DisconnectReason)
	MessageRelayed(sender *Client, result FanoutResult)
	MessageDropped(sender *Client, err error)
}

type nopObserver struct{}

func (nopObserver) PeerConnected(*Client)                            {}
func (nopObserver) PeerDisconnected(*Client, model.DisconnectReason) {}
func (nopObserver) MessageRelayed(*Client, FanoutResult)             {}
func (nopObserver) MessageDropped(*Client, error)                    {}

// Relay owns the peer set and rebroadcasts every message to all peers
// except its sender.
type Relay struct {
	mu       sync.Mutex
	peers    []*Client
	observer Observer
	closed   bool
}

// NewRelay creates a Relay. A nil observer is allowed.
func NewRelay(observer Observer) *Relay {
	if observer == nil {
		observer = nopObserver{}
	}
	return &Relay{observer: observer}
}

// OnConnect adds a client to the peer set. Registering the same client
// twice is a no-op. After Close the client is closed instead of added.
func (r *Relay) OnConnect(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		c.Close()
		return
	}
	if r.indexLocked(c) >= 0 {
		return
	}
	r.peers = append(r.peers, c)
	r.observer.PeerConnected(c)
}

// OnMessage parses raw and queues it for every open peer other than the
// sender, in connection order. Malformed payloads and messages from
// senders no longer in the peer set are dropped and reported through the
// returned error; the sender's connection is left alone. A truthy end flag
// removes and closes the sender once the fanout has completed.
func (r *Relay) OnMessage(sender *Client, raw []byte) (FanoutResult, error) {
	msg, err := model.ParseMessage(raw)
	if err == nil {
		raw, err = msg.Marshal()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err != nil {
		r.observer.MessageDropped(sender, err)
		return FanoutResult{}, err
	}

	if r.indexLocked(sender) < 0 {
		r.observer.MessageDropped(sender, model.ErrPeerNotConnected)
		return FanoutResult{}, model.ErrPeerNotConnected
	}

	sender.received.Add(1)

	var result FanoutResult
	for _, peer := range r.peers {
		if peer == sender {
			continue
		}
		if err := peer.Send(raw); err != nil {
			result.Failed++
			continue
		}
		result.Delivered++
	}

	if msg.End() {
		result.Ended = true
	}
	r.observer.MessageRelayed(sender, result)

	if result.Ended {
		r.removeLocked(sender, model.DisconnectEnd)
	}

	return result, nil
}

// OnClose removes a client from the peer set. Removing a client that is
// not present is a no-op.
func (r *Relay) OnClose(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(c, model.DisconnectClosed)
}

// OnError handles a transport error. Membership-wise it is identical to
// OnClose; only the reported reason differs.
func (r *Relay) OnError(c *Client, _ error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(c, model.DisconnectError)
}

// Contains reports whether c is currently in the peer set.
func (r *Relay) Contains(c *Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.indexLocked(c) >= 0
}

// Len returns the size of the peer set.
func (r *Relay) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.peers)
}

// Peers returns a snapshot of the peer set in connection order.
func (r *Relay) Peers() []*Client {
	r.mu.Lock()
	defer r.mu.Unlock()

	peers := make([]*Client, len(r.peers))
	copy(peers, r.peers)
	return peers
}

// Close removes and closes every peer. Clients connecting afterwards are
// closed without joining.
func (r *Relay) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closed = true
	for len(r.peers) > 0 {
		r.removeLocked(r.peers[0], model.DisconnectShutdown)
	}
}

func (r *Relay) indexLocked(c *Client) int {
	for i, peer := range r.peers {
		if peer == c {
			return i
		}
	}
	return -1
}

// removeLocked drops c from the peer set and closes its send queue. The
// observer hears about each client at most once.
func (r *Relay) removeLocked(c *Client, reason model.DisconnectReason) {
	i := r.indexLocked(c)
	c.Close()
	if i < 0 {
		return
	}

	r.peers = append(r.peers[:i], r.peers[i+1:]...)
	r.observer.PeerDisconnected(c, reason)
}
