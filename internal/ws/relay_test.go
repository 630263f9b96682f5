package ws

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/signaling-relay/backend/internal/model"
)

// recordingObserver captures relay events for assertions.
type recordingObserver struct {
	mu           sync.Mutex
	connected    []*Client
	disconnected map[*Client][]model.DisconnectReason
	relayed      []FanoutResult
	dropped      []error
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{disconnected: make(map[*Client][]model.DisconnectReason)}
}

func (o *recordingObserver) PeerConnected(c *Client) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.connected = append(o.connected, c)
}

func (o *recordingObserver) PeerDisconnected(c *Client, reason model.DisconnectReason) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.disconnected[c] = append(o.disconnected[c], reason)
}

func (o *recordingObserver) MessageRelayed(_ *Client, result FanoutResult) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.relayed = append(o.relayed, result)
}

func (o *recordingObserver) MessageDropped(_ *Client, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.dropped = append(o.dropped, err)
}

func newTestClient(bufferSize int) *Client {
	return NewClient(nil, "127.0.0.1:0", "test", bufferSize)
}

// receiveWithTimeout returns the next queued message, or nil on timeout.
func receiveWithTimeout(t *testing.T, client *Client, timeout time.Duration) []byte {
	t.Helper()
	select {
	case data, ok := <-client.SendChan():
		if !ok {
			return nil
		}
		return data
	case <-time.After(timeout):
		return nil
	}
}

// assertNothingQueued fails if client has a pending message.
func assertNothingQueued(t *testing.T, name string, client *Client) {
	t.Helper()
	select {
	case data, ok := <-client.SendChan():
		if ok {
			t.Errorf("%s should not have received anything, got %s", name, data)
		}
	default:
	}
}

func TestRelayScenario(t *testing.T) {
	relay := NewRelay(nil)
	a, b, c := newTestClient(8), newTestClient(8), newTestClient(8)
	relay.OnConnect(a)
	relay.OnConnect(b)
	relay.OnConnect(c)

	// A says hi: B and C receive it, A does not
	result, err := relay.OnMessage(a, []byte(`{"text":"hi"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Delivered != 2 || result.Failed != 0 || result.Ended {
		t.Errorf("unexpected result: %+v", result)
	}
	for name, client := range map[string]*Client{"B": b, "C": c} {
		if got := receiveWithTimeout(t, client, 100*time.Millisecond); string(got) != `{"text":"hi"}` {
			t.Errorf("%s received %q", name, got)
		}
	}
	assertNothingQueued(t, "A", a)

	// B ends: A and C receive the end message, B leaves the peer set
	result, err = relay.OnMessage(b, []byte(`{"end": true}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Delivered != 2 || !result.Ended {
		t.Errorf("unexpected result: %+v", result)
	}
	for name, client := range map[string]*Client{"A": a, "C": c} {
		if got := receiveWithTimeout(t, client, 100*time.Millisecond); string(got) != `{"end":true}` {
			t.Errorf("%s received %q", name, got)
		}
	}
	if relay.Contains(b) {
		t.Error("B should have been removed after end")
	}
	if !b.IsClosed() {
		t.Error("B should be closed after end")
	}

	// A says bye: only C receives it
	result, err = relay.OnMessage(a, []byte(`{"text":"bye"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Delivered != 1 {
		t.Errorf("expected 1 delivery, got %+v", result)
	}
	if got := receiveWithTimeout(t, c, 100*time.Millisecond); string(got) != `{"text":"bye"}` {
		t.Errorf("C received %q", got)
	}
	assertNothingQueued(t, "A", a)
	assertNothingQueued(t, "B", b)
}

func TestRelayOnClose_Idempotent(t *testing.T) {
	observer := newRecordingObserver()
	relay := NewRelay(observer)
	a, b := newTestClient(1), newTestClient(1)
	relay.OnConnect(a)
	relay.OnConnect(b)

	relay.OnClose(a)
	relay.OnClose(a)
	relay.OnError(a, errors.New("reset"))

	if relay.Len() != 1 || relay.Contains(a) {
		t.Errorf("expected only B in the peer set, got %d peers", relay.Len())
	}
	if got := observer.disconnected[a]; len(got) != 1 || got[0] != model.DisconnectClosed {
		t.Errorf("expected a single closed disconnect, got %v", got)
	}

	// Never-registered clients are a no-op too
	relay.OnClose(newTestClient(1))
	if relay.Len() != 1 {
		t.Errorf("expected 1 peer, got %d", relay.Len())
	}
}

func TestRelayOnError_RemovesPeer(t *testing.T) {
	observer := newRecordingObserver()
	relay := NewRelay(observer)
	a, b := newTestClient(4), newTestClient(4)
	relay.OnConnect(a)
	relay.OnConnect(b)

	relay.OnError(a, errors.New("connection reset"))

	if relay.Contains(a) {
		t.Error("A should be removed after a transport error")
	}
	if got := observer.disconnected[a]; len(got) != 1 || got[0] != model.DisconnectError {
		t.Errorf("expected an error disconnect, got %v", got)
	}

	if _, err := relay.OnMessage(b, []byte(`{"x":1}`)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertNothingQueued(t, "A", a)
}

func TestRelayOnConnect_Duplicate(t *testing.T) {
	observer := newRecordingObserver()
	relay := NewRelay(observer)
	a, b := newTestClient(4), newTestClient(4)

	relay.OnConnect(a)
	relay.OnConnect(a)
	relay.OnConnect(b)

	if relay.Len() != 2 {
		t.Errorf("expected 2 peers, got %d", relay.Len())
	}
	if len(observer.connected) != 2 {
		t.Errorf("expected 2 connect events, got %d", len(observer.connected))
	}

	// B must receive exactly one copy
	relay.OnMessage(a, []byte(`{"n":1}`))
	if receiveWithTimeout(t, b, 100*time.Millisecond) == nil {
		t.Fatal("B did not receive the message")
	}
	assertNothingQueued(t, "B", b)
}

func TestRelayOnMessage_Malformed(t *testing.T) {
	observer := newRecordingObserver()
	relay := NewRelay(observer)
	a, b := newTestClient(4), newTestClient(4)
	relay.OnConnect(a)
	relay.OnConnect(b)

	for _, raw := range []string{`not json`, `[1,2]`, `null`, `{"end":true`} {
		_, err := relay.OnMessage(a, []byte(raw))
		if !errors.Is(err, model.ErrMalformedMessage) {
			t.Errorf("expected ErrMalformedMessage for %q, got %v", raw, err)
		}
	}

	// Dropped, not disconnected
	if !relay.Contains(a) || a.IsClosed() {
		t.Error("sender of a malformed message must stay connected")
	}
	assertNothingQueued(t, "B", b)
	if len(observer.dropped) != 4 {
		t.Errorf("expected 4 drops, got %d", len(observer.dropped))
	}

	// The connection still works afterwards
	if _, err := relay.OnMessage(a, []byte(`{"ok":true}`)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if receiveWithTimeout(t, b, 100*time.Millisecond) == nil {
		t.Error("B should receive the next well-formed message")
	}
}

func TestRelayOnMessage_AfterEnd(t *testing.T) {
	relay := NewRelay(nil)
	a, b := newTestClient(4), newTestClient(4)
	relay.OnConnect(a)
	relay.OnConnect(b)

	if _, err := relay.OnMessage(a, []byte(`{"end":1}`)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	receiveWithTimeout(t, b, 100*time.Millisecond)

	_, err := relay.OnMessage(a, []byte(`{"text":"still here?"}`))
	if !errors.Is(err, model.ErrPeerNotConnected) {
		t.Errorf("expected ErrPeerNotConnected, got %v", err)
	}
	assertNothingQueued(t, "B", b)
}

func TestRelayOnMessage_EndWithoutPeers(t *testing.T) {
	relay := NewRelay(nil)
	a := newTestClient(4)
	relay.OnConnect(a)

	result, err := relay.OnMessage(a, []byte(`{"end":true}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Delivered != 0 || !result.Ended {
		t.Errorf("unexpected result: %+v", result)
	}
	if relay.Len() != 0 {
		t.Errorf("expected empty peer set, got %d", relay.Len())
	}
}

func TestRelayOnMessage_FullQueueSkipsFrame(t *testing.T) {
	observer := newRecordingObserver()
	relay := NewRelay(observer)
	sender, slow, fast := newTestClient(4), newTestClient(1), newTestClient(4)
	relay.OnConnect(sender)
	relay.OnConnect(slow)
	relay.OnConnect(fast)

	// Fills slow's queue
	relay.OnMessage(sender, []byte(`{"seq":1}`))
	// No room for this one at slow
	result, err := relay.OnMessage(sender, []byte(`{"seq":2}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Delivered != 1 || result.Failed != 1 {
		t.Errorf("unexpected result: %+v", result)
	}

	if !relay.Contains(slow) || slow.IsClosed() {
		t.Error("a full queue must not disconnect the peer")
	}
	if got := observer.disconnected[slow]; len(got) != 0 {
		t.Errorf("expected no disconnect, got %v", got)
	}

	for _, want := range []string{`{"seq":1}`, `{"seq":2}`} {
		if got := receiveWithTimeout(t, fast, 100*time.Millisecond); string(got) != want {
			t.Errorf("fast peer expected %s, got %q", want, got)
		}
	}

	// Once drained, slow receives again; the skipped frame is gone
	if got := receiveWithTimeout(t, slow, 100*time.Millisecond); string(got) != `{"seq":1}` {
		t.Errorf("slow peer expected seq 1, got %q", got)
	}
	relay.OnMessage(sender, []byte(`{"seq":3}`))
	if got := receiveWithTimeout(t, slow, 100*time.Millisecond); string(got) != `{"seq":3}` {
		t.Errorf("slow peer expected seq 3, got %q", got)
	}
}

func TestRelayOnMessage_Counters(t *testing.T) {
	relay := NewRelay(nil)
	a, b := newTestClient(8), newTestClient(8)
	relay.OnConnect(a)
	relay.OnConnect(b)

	relay.OnMessage(a, []byte(`{"n":1}`))
	relay.OnMessage(a, []byte(`{"n":2}`))
	relay.OnMessage(b, []byte(`{"n":3}`))
	relay.OnMessage(a, []byte(`garbage`))

	if a.MessagesReceived() != 2 || a.MessagesDelivered() != 1 {
		t.Errorf("A counters: received=%d delivered=%d", a.MessagesReceived(), a.MessagesDelivered())
	}
	if b.MessagesReceived() != 1 || b.MessagesDelivered() != 2 {
		t.Errorf("B counters: received=%d delivered=%d", b.MessagesReceived(), b.MessagesDelivered())
	}
}

func TestRelayClose(t *testing.T) {
	observer := newRecordingObserver()
	relay := NewRelay(observer)
	clients := []*Client{newTestClient(1), newTestClient(1), newTestClient(1)}
	for _, c := range clients {
		relay.OnConnect(c)
	}

	relay.Close()

	if relay.Len() != 0 {
		t.Errorf("expected empty peer set, got %d", relay.Len())
	}
	for i, c := range clients {
		if !c.IsClosed() {
			t.Errorf("client %d should be closed", i)
		}
		if got := observer.disconnected[c]; len(got) != 1 || got[0] != model.DisconnectShutdown {
			t.Errorf("client %d: expected shutdown disconnect, got %v", i, got)
		}
	}
}

func TestRelayOnConnect_AfterClose(t *testing.T) {
	observer := newRecordingObserver()
	relay := NewRelay(observer)
	relay.Close()

	late := newTestClient(1)
	relay.OnConnect(late)

	if relay.Len() != 0 || relay.Contains(late) {
		t.Error("a closed relay must not accept new peers")
	}
	if !late.IsClosed() {
		t.Error("a client connecting after close should be closed")
	}
	if len(observer.connected) != 0 {
		t.Errorf("expected no connect events, got %d", len(observer.connected))
	}
}

func TestRelayPeers_InsertionOrder(t *testing.T) {
	relay := NewRelay(nil)
	clients := []*Client{newTestClient(1), newTestClient(1), newTestClient(1), newTestClient(1)}
	for _, c := range clients {
		relay.OnConnect(c)
	}
	relay.OnClose(clients[1])

	peers := relay.Peers()
	want := []*Client{clients[0], clients[2], clients[3]}
	if len(peers) != len(want) {
		t.Fatalf("expected %d peers, got %d", len(want), len(peers))
	}
	for i := range want {
		if peers[i] != want[i] {
			t.Errorf("peer %d out of order", i)
		}
	}
}

func TestClientSend(t *testing.T) {
	client := newTestClient(1)

	if err := client.Send([]byte("one")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := client.Send([]byte("two")); !errors.Is(err, model.ErrSendBufferFull) {
		t.Errorf("expected ErrSendBufferFull, got %v", err)
	}
	if client.IsClosed() {
		t.Error("a full buffer must not close the client")
	}
	if client.MessagesDelivered() != 1 {
		t.Errorf("expected 1 delivered, got %d", client.MessagesDelivered())
	}

	client.Close()
	if err := client.Send([]byte("three")); !errors.Is(err, model.ErrPeerClosed) {
		t.Errorf("expected ErrPeerClosed, got %v", err)
	}

	// Close twice must not panic
	client.Close()
	client.Close()
}
