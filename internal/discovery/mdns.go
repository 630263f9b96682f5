// Package discovery advertises and finds relays on the local network via mDNS.
package discovery

import (
	"fmt"
	"net"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/betamos/zeroconf"
)

const (
	ServiceType = "_wsrelay._tcp"
	// WebSocketPath is published in the TXT record so browsers can build a URL.
	WebSocketPath = "/ws"
)

// Relay is a relay instance found on the local network.
type Relay struct {
	Name string
	Addr string
	Port int
}

// URL returns the WebSocket URL of the relay.
func (r Relay) URL() string {
	return "ws://" + r.Addr + WebSocketPath
}

// Advertiser publishes this relay under ServiceType until closed.
type Advertiser struct {
	client *zeroconf.Client
	name   string
	port   int
}

// Advertise publishes the relay listening on port under the given instance name.
func Advertise(name string, port int) (*Advertiser, error) {
	if err := validatePort(port); err != nil {
		return nil, err
	}
	if name == "" {
		return nil, fmt.Errorf("service name is required")
	}

	svc := zeroconf.NewService(zeroconf.NewType(ServiceType), name, uint16(port))
	svc.Text = []string{"path=" + WebSocketPath}

	client, err := zeroconf.New().
		Publish(svc).
		Open()
	if err != nil {
		return nil, fmt.Errorf("zeroconf: %w", err)
	}

	return &Advertiser{
		client: client,
		name:   name,
		port:   port,
	}, nil
}

// Name returns the advertised instance name.
func (a *Advertiser) Name() string {
	return a.name
}

// Port returns the advertised port.
func (a *Advertiser) Port() int {
	return a.port
}

// Close withdraws the advertisement.
func (a *Advertiser) Close() error {
	if a.client != nil {
		return a.client.Close()
	}
	return nil
}

// relaySet tracks the relays currently announced, keyed by instance name.
type relaySet struct {
	mu    sync.Mutex
	found map[string]Relay
}

func newRelaySet() *relaySet {
	return &relaySet{found: make(map[string]Relay)}
}

// apply records an announcement, or forgets the instance when removed is
// true. Announcements without a usable address are ignored.
func (s *relaySet) apply(removed bool, name string, relay Relay, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if removed {
		delete(s.found, name)
		return
	}
	if ok {
		s.found[relay.Name] = relay
	}
}

// list returns the known relays sorted by name.
func (s *relaySet) list() []Relay {
	s.mu.Lock()
	defer s.mu.Unlock()

	relays := make([]Relay, 0, len(s.found))
	for _, r := range s.found {
		relays = append(relays, r)
	}
	sort.Slice(relays, func(i, j int) bool { return relays[i].Name < relays[j].Name })
	return relays
}

// Browse collects relays announced on the local network for the given
// duration. Relays withdrawn during the window are not returned. Results
// are sorted by name.
func Browse(timeout time.Duration) ([]Relay, error) {
	set := newRelaySet()

	client, err := zeroconf.New().
		Browse(func(e zeroconf.Event) {
			relay, ok := relayFromEvent(e)
			set.apply(e.Op == zeroconf.OpRemoved, e.Name, relay, ok)
		}, zeroconf.NewType(ServiceType)).
		Open()
	if err != nil {
		return nil, fmt.Errorf("zeroconf: %w", err)
	}

	time.Sleep(timeout)
	if err := client.Close(); err != nil {
		return nil, fmt.Errorf("zeroconf: %w", err)
	}

	return set.list(), nil
}

// relayFromEvent picks an IPv4 address when one is announced.
func relayFromEvent(e zeroconf.Event) (Relay, bool) {
	var chosen string
	for _, a := range e.Addrs {
		if !a.IsValid() {
			continue
		}
		if a.Is4() {
			chosen = a.String()
			break
		}
		if chosen == "" {
			chosen = a.String()
		}
	}
	if chosen == "" {
		return Relay{}, false
	}

	return Relay{
		Name: e.Name,
		Addr: net.JoinHostPort(chosen, strconv.Itoa(int(e.Port))),
		Port: int(e.Port),
	}, true
}

func validatePort(port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("invalid port %d", port)
	}
	return nil
}
